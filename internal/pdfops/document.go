package pdfops

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/ironsheep/pdf-tools-mcp/internal/engine"
)

// Rasterize renders page at scale. The scale is validated by the caller
// with ValidateScale.
func Rasterize(doc engine.Document, pageCount, page int, scale float64) (*image.RGBA, error) {
	p, err := loadPage(doc, pageCount, page)
	if err != nil {
		return nil, err
	}
	img, err := p.Pixmap(scale)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return img, nil
}

// OutlineEntry is a node of the document outline.
type OutlineEntry struct {
	Title    string         `json:"title"`
	Page     *int           `json:"page,omitempty"`
	URI      *string        `json:"uri,omitempty"`
	Children []OutlineEntry `json:"children"`
}

type OutlinesResult struct {
	Outlines []OutlineEntry `json:"outlines"`
}

func Outlines(doc engine.Document) (*OutlinesResult, error) {
	raw, err := doc.Outlines()
	if err != nil {
		return nil, fmt.Errorf("outlines: %w", err)
	}
	return &OutlinesResult{Outlines: convertOutlines(raw)}, nil
}

func convertOutlines(raw []engine.Outline) []OutlineEntry {
	out := make([]OutlineEntry, 0, len(raw))
	for _, o := range raw {
		entry := OutlineEntry{
			Title:    o.Title,
			Children: convertOutlines(o.Children),
		}
		if o.Page >= 0 {
			page := o.Page
			entry.Page = &page
		}
		if isExternalURI(o.URI) {
			uri := o.URI
			entry.URI = &uri
		}
		out = append(out, entry)
	}
	return out
}

// isExternalURI reports whether uri points outside the document. Only
// web and mail links are reported.
func isExternalURI(uri string) bool {
	return strings.HasPrefix(uri, "http://") ||
		strings.HasPrefix(uri, "https://") ||
		strings.HasPrefix(uri, "mailto:")
}

// Bookmark is a flattened outline entry.
type Bookmark struct {
	Title string `json:"title"`
	Page  *int   `json:"page,omitempty"`
	Level int    `json:"level"`
}

// FlattenBookmarks walks the outline tree in preorder. Roots have level 0.
func FlattenBookmarks(entries []OutlineEntry) []Bookmark {
	out := []Bookmark{}
	var walk func(entries []OutlineEntry, level int)
	walk = func(entries []OutlineEntry, level int) {
		for _, e := range entries {
			out = append(out, Bookmark{Title: e.Title, Page: e.Page, Level: level})
			walk(e.Children, level+1)
		}
	}
	walk(entries, 0)
	return out
}

// MetadataResult holds the non-empty document information fields.
type MetadataResult struct {
	Title            *string `json:"title,omitempty"`
	Author           *string `json:"author,omitempty"`
	Subject          *string `json:"subject,omitempty"`
	Keywords         *string `json:"keywords,omitempty"`
	Creator          *string `json:"creator,omitempty"`
	Producer         *string `json:"producer,omitempty"`
	CreationDate     *string `json:"creation_date,omitempty"`
	ModificationDate *string `json:"modification_date,omitempty"`
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Metadata(doc engine.Document) (*MetadataResult, error) {
	md, err := doc.Metadata()
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return &MetadataResult{
		Title:            nonEmpty(md.Title),
		Author:           nonEmpty(md.Author),
		Subject:          nonEmpty(md.Subject),
		Keywords:         nonEmpty(md.Keywords),
		Creator:          nonEmpty(md.Creator),
		Producer:         nonEmpty(md.Producer),
		CreationDate:     nonEmpty(md.CreationDate),
		ModificationDate: nonEmpty(md.ModificationDate),
	}, nil
}

type BlockBounds struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func toBlockBounds(r engine.Rect) BlockBounds {
	return BlockBounds{X0: r.X0, Y0: r.Y0, X1: r.X1, Y1: r.Y1}
}

type TextLine struct {
	Bounds BlockBounds `json:"bounds"`
	Text   string      `json:"text"`
}

type TextBlock struct {
	Bounds BlockBounds `json:"bounds"`
	Lines  []TextLine  `json:"lines"`
}

type TextBlocksResult struct {
	Blocks []TextBlock `json:"blocks"`
}

// TextBlocks returns the block and line layout of page.
func TextBlocks(doc engine.Document, pageCount, page int) (*TextBlocksResult, error) {
	p, err := loadPage(doc, pageCount, page)
	if err != nil {
		return nil, err
	}
	tp, err := p.TextPage()
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}

	blocks := make([]TextBlock, 0, len(tp.Blocks))
	for _, b := range tp.Blocks {
		tb := TextBlock{Bounds: toBlockBounds(b.Bounds), Lines: make([]TextLine, 0, len(b.Lines))}
		for _, l := range b.Lines {
			tb.Lines = append(tb.Lines, TextLine{Bounds: toBlockBounds(l.Bounds), Text: l.Text()})
		}
		blocks = append(blocks, tb)
	}
	return &TextBlocksResult{Blocks: blocks}, nil
}

type LinkEntry struct {
	URI        string `json:"uri"`
	TargetPage *int   `json:"target_page,omitempty"`
}

type LinksResult struct {
	Links []LinkEntry `json:"links"`
}

// Links returns the links of page. Internal "#page=N" targets (1-based)
// are resolved to a 0-based target page.
func Links(doc engine.Document, pageCount, page int) (*LinksResult, error) {
	p, err := loadPage(doc, pageCount, page)
	if err != nil {
		return nil, err
	}
	raw, err := p.Links()
	if err != nil {
		return nil, fmt.Errorf("links: %w", err)
	}

	links := make([]LinkEntry, 0, len(raw))
	for _, l := range raw {
		links = append(links, LinkEntry{URI: l.URI, TargetPage: internalTarget(l.URI)})
	}
	return &LinksResult{Links: links}, nil
}

func internalTarget(uri string) *int {
	frag, ok := strings.CutPrefix(uri, "#page=")
	if !ok {
		return nil
	}
	if i := strings.IndexAny(frag, "&,"); i >= 0 {
		frag = frag[:i]
	}
	n, err := strconv.Atoi(frag)
	if err != nil || n < 1 {
		return nil
	}
	n--
	return &n
}
