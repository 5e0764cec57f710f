package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ironsheep/pdf-tools-mcp/internal/imaging"
	"github.com/ironsheep/pdf-tools-mcp/internal/source"
)

// ToolName identifies a tool in the catalog.
type ToolName string

const (
	ToolImportDocument     ToolName = "import_document"
	ToolCloseDocument      ToolName = "close_document"
	ToolListDocuments      ToolName = "list_documents"
	ToolGetDocumentInfo    ToolName = "get_document_info"
	ToolGetPageCount       ToolName = "get_page_count"
	ToolGetMetadata        ToolName = "get_metadata"
	ToolGetOutlines        ToolName = "get_outlines"
	ToolGetPageBounds      ToolName = "get_page_bounds"
	ToolGetPageText        ToolName = "get_page_text"
	ToolGetPageTextBlocks  ToolName = "get_page_text_blocks"
	ToolGetPageLinks       ToolName = "get_page_links"
	ToolSearchPage         ToolName = "search_page"
	ToolRenderPage         ToolName = "render_page"
	ToolOCRPage            ToolName = "ocr_page"
	ToolOneshotBookmarks   ToolName = "oneshot_get_bookmarks"
	ToolOneshotGetPageText ToolName = "oneshot_get_page_text"
)

// Mode says whether a tool works on a stored document or opens its own.
type Mode int

const (
	ModeStateful Mode = iota
	ModeOneshot
)

func (m Mode) String() string {
	if m == ModeOneshot {
		return "oneshot"
	}
	return "stateful"
}

// Tool represents an MCP tool definition
type Tool struct {
	Name        ToolName        `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Argument shapes. Optional fields carry omitempty so the reflected schema
// leaves them out of "required".

type importDocumentParams struct {
	Source   source.Source `json:"source" jsonschema_description:"Where to read the document from: {\"path\": ...} or {\"base64\": ..., \"filename\": ...}"`
	Password *string       `json:"password,omitempty" jsonschema_description:"Password for encrypted documents"`
}

type documentParams struct {
	DocumentID string `json:"document_id" jsonschema_description:"Id returned by import_document"`
}

type noParams struct{}

type pageParams struct {
	DocumentID string `json:"document_id" jsonschema_description:"Id returned by import_document"`
	Page       int    `json:"page" jsonschema_description:"Zero-based page index"`
}

type pageTextParams struct {
	DocumentID string `json:"document_id" jsonschema_description:"Id returned by import_document"`
	Page       int    `json:"page" jsonschema_description:"Zero-based page index"`
	Format     string `json:"format,omitempty" jsonschema:"default=plain" jsonschema_description:"Output format: plain, html, json or xml"`
}

type searchPageParams struct {
	DocumentID string `json:"document_id" jsonschema_description:"Id returned by import_document"`
	Page       int    `json:"page" jsonschema_description:"Zero-based page index"`
	Query      string `json:"query" jsonschema_description:"Text to find, matched case-insensitively within a line"`
}

type renderPageParams struct {
	DocumentID string   `json:"document_id" jsonschema_description:"Id returned by import_document"`
	Page       int      `json:"page" jsonschema_description:"Zero-based page index"`
	Scale      *float64 `json:"scale,omitempty" jsonschema:"default=1" jsonschema_description:"Zoom factor; 1.0 renders at 72 DPI"`
	Format     string   `json:"format,omitempty" jsonschema:"default=png" jsonschema_description:"Image format; only png is supported"`

	Clip       *imaging.PageRegion `json:"clip,omitempty" jsonschema_description:"Region of the page to return, in points with a top-left origin"`
	Grid       float64             `json:"grid,omitempty" jsonschema_description:"Overlay a coordinate grid with lines every N points; 0 disables it"`
	GridLabels bool                `json:"grid_labels,omitempty" jsonschema_description:"Label grid intersections with their page coordinates"`
}

type ocrPageParams struct {
	DocumentID string   `json:"document_id" jsonschema_description:"Id returned by import_document"`
	Page       int      `json:"page" jsonschema_description:"Zero-based page index"`
	Scale      *float64 `json:"scale,omitempty" jsonschema:"default=2" jsonschema_description:"Zoom factor used to rasterize the page before recognition"`
	Language   string   `json:"language,omitempty" jsonschema_description:"Tesseract language code such as eng or deu+eng"`
}

type oneshotParams struct {
	Source   source.Source `json:"source" jsonschema_description:"Where to read the document from: {\"path\": ...} or {\"base64\": ..., \"filename\": ...}"`
	Password *string       `json:"password,omitempty" jsonschema_description:"Password for encrypted documents"`
}

type oneshotPageTextParams struct {
	Source   source.Source `json:"source" jsonschema_description:"Where to read the document from: {\"path\": ...} or {\"base64\": ..., \"filename\": ...}"`
	Password *string       `json:"password,omitempty" jsonschema_description:"Password for encrypted documents"`
	Page     int           `json:"page" jsonschema_description:"Zero-based page index"`
	Format   string        `json:"format,omitempty" jsonschema:"default=plain" jsonschema_description:"Output format: plain, html, json or xml"`
}

// toolSpec is one catalog entry before its schema is reflected.
type toolSpec struct {
	name        ToolName
	mode        Mode
	description string
	params      interface{}
}

var toolSpecs = []toolSpec{
	// Session lifecycle
	{ToolImportDocument, ModeStateful,
		"Open a document from a file path or inline base64 payload and keep it open. Returns a document_id for the other stateful tools.",
		&importDocumentParams{}},
	{ToolCloseDocument, ModeStateful,
		"Close a document opened with import_document. The id is invalid afterwards.",
		&documentParams{}},
	{ToolListDocuments, ModeStateful,
		"List the currently open documents with their page counts and ages.",
		&noParams{}},
	{ToolGetDocumentInfo, ModeStateful,
		"Describe an open document without counting as a use of it.",
		&documentParams{}},

	// Document-level queries
	{ToolGetPageCount, ModeStateful,
		"Get the number of pages of an open document.",
		&documentParams{}},
	{ToolGetMetadata, ModeStateful,
		"Get the document information dictionary (title, author, dates...). Empty fields are omitted.",
		&documentParams{}},
	{ToolGetOutlines, ModeStateful,
		"Get the outline (table of contents) as a tree.",
		&documentParams{}},

	// Page-level queries
	{ToolGetPageBounds, ModeStateful,
		"Get the size of a page in points.",
		&pageParams{}},
	{ToolGetPageText, ModeStateful,
		"Extract the text of a page as plain text or as the engine's html, json or xml serialization.",
		&pageTextParams{}},
	{ToolGetPageTextBlocks, ModeStateful,
		"Extract the text of a page grouped into blocks and lines with bounding boxes.",
		&pageParams{}},
	{ToolGetPageLinks, ModeStateful,
		"List the links on a page.",
		&pageParams{}},
	{ToolSearchPage, ModeStateful,
		"Find occurrences of text on a page. Returns at most 100 hit quads.",
		&searchPageParams{}},
	{ToolRenderPage, ModeStateful,
		"Render a page to a base64-encoded PNG image. Optionally clip to a region and overlay a coordinate grid in page points.",
		&renderPageParams{}},
	{ToolOCRPage, ModeStateful,
		"Render a page and read its text with OCR. Use this for scanned pages that carry no text layer.",
		&ocrPageParams{}},

	// Oneshot
	{ToolOneshotBookmarks, ModeOneshot,
		"Open a document, return its bookmarks as a flat list with nesting levels, and close it again.",
		&oneshotParams{}},
	{ToolOneshotGetPageText, ModeOneshot,
		"Open a document, extract the text of one page, and close it again.",
		&oneshotPageTextParams{}},
}

// catalogEntry is a tool with its reflected and compiled input schema.
type catalogEntry struct {
	Tool
	mode   Mode
	schema *validator.Schema
}

type catalog struct {
	entries []*catalogEntry
	byName  map[ToolName]*catalogEntry
}

func (c *catalog) lookup(name ToolName) (*catalogEntry, bool) {
	e, ok := c.byName[name]
	return e, ok
}

func (c *catalog) tools() []Tool {
	out := make([]Tool, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Tool)
	}
	return out
}

// reflectInputSchema reflects a params struct into an inline object schema.
func reflectInputSchema(params interface{}) ([]byte, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	s := r.Reflect(params)
	s.Version = ""
	if s.Properties == nil {
		s.Properties = jsonschema.NewProperties()
	}
	return json.Marshal(s)
}

func buildCatalog() (*catalog, error) {
	c := &catalog{byName: make(map[ToolName]*catalogEntry, len(toolSpecs))}
	for _, spec := range toolSpecs {
		raw, err := reflectInputSchema(spec.params)
		if err != nil {
			return nil, fmt.Errorf("reflecting schema for %s: %w", spec.name, err)
		}

		url := string(spec.name) + ".json"
		compiler := validator.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("loading schema for %s: %w", spec.name, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", spec.name, err)
		}

		e := &catalogEntry{
			Tool:   Tool{Name: spec.name, Description: spec.description, InputSchema: raw},
			mode:   spec.mode,
			schema: compiled,
		}
		c.entries = append(c.entries, e)
		c.byName[spec.name] = e
	}
	return c, nil
}

var loadCatalog = sync.OnceValues(buildCatalog)

// GetToolDefinitions returns all available tools
func GetToolDefinitions() ([]Tool, error) {
	c, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	return c.tools(), nil
}

// validate checks raw arguments against the tool's schema. Missing
// arguments are treated as an empty object.
func (e *catalogEntry) validate(args json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}
	var doc interface{}
	if err := json.Unmarshal(args, &doc); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("arguments do not match the input schema of %s: %w", e.Name, err)
	}
	return args, nil
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": s.catalog.tools(),
		},
	}
}
