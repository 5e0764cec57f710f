package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/pdf-tools-mcp/internal/engine"
	"github.com/ironsheep/pdf-tools-mcp/internal/imaging"
	"github.com/ironsheep/pdf-tools-mcp/internal/metrics"
	"github.com/ironsheep/pdf-tools-mcp/internal/ocr"
	"github.com/ironsheep/pdf-tools-mcp/internal/pdferr"
	"github.com/ironsheep/pdf-tools-mcp/internal/pdfops"
	"github.com/ironsheep/pdf-tools-mcp/internal/session"
	"github.com/ironsheep/pdf-tools-mcp/internal/source"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "import_document", "render_page").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the body of a tools/call response. Domain failures set
// IsError and carry the error description as text.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// argumentError marks arguments that passed the schema but could not be
// decoded into the tool's params struct.
type argumentError struct{ err error }

func (e *argumentError) Error() string { return e.err.Error() }
func (e *argumentError) Unwrap() error { return e.err }

func decodeArgs(args json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(args, v); err != nil {
		return &argumentError{err: err}
	}
	return nil
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}],
//	  "isError": false
//	}
//
// Unknown tools and malformed arguments are JSON-RPC errors with code -32602.
// Everything else, including domain failures, is a tool result.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.metrics.ProtocolError()
		return s.errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}

	result, rpcErr := s.Dispatch(ctx, params.Name, params.Arguments)
	if rpcErr != nil {
		s.metrics.ProtocolError()
		return &MCPResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &MCPResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// Dispatch runs the named tool. It returns a protocol error only for an
// unknown tool or arguments that do not fit the tool's input schema.
func (s *Server) Dispatch(ctx context.Context, name string, args json.RawMessage) (*ToolResult, *MCPError) {
	start := time.Now()

	entry, ok := s.catalog.lookup(ToolName(name))
	if !ok {
		s.log.WithField("tool", name).Warn("unknown tool")
		s.metrics.ObserveToolCall("unknown", metrics.OutcomeBadRequest, time.Since(start))
		return nil, &MCPError{Code: codeInvalidParams, Message: "Invalid params", Data: fmt.Sprintf("unknown tool: %s", name)}
	}

	log := s.log.WithFields(logrus.Fields{"tool": entry.Name, "mode": entry.mode})

	args, err := entry.validate(args)
	if err != nil {
		log.WithError(err).Warn("rejected tool arguments")
		s.metrics.ObserveToolCall(string(entry.Name), metrics.OutcomeBadRequest, time.Since(start))
		return nil, &MCPError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}

	value, err := s.safeExecute(ctx, entry.Name, args)

	var argErr *argumentError
	if errors.As(err, &argErr) {
		log.WithError(err).Warn("rejected tool arguments")
		s.metrics.ObserveToolCall(string(entry.Name), metrics.OutcomeBadRequest, time.Since(start))
		return nil, &MCPError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}

	var result *ToolResult
	outcome := metrics.OutcomeOK
	if err == nil {
		text, merr := marshalResult(value)
		if merr != nil {
			err = pdferr.WrapInternal(merr)
		} else {
			result = &ToolResult{Content: []Content{{Type: "text", Text: text}}}
		}
	}
	if err != nil {
		outcome = metrics.OutcomeToolError
		if kind, _ := pdferr.KindOf(err); kind == pdferr.KindInternal {
			outcome = metrics.OutcomeInternalErr
			log.WithError(err).Error("tool failed")
		}
		result = &ToolResult{Content: []Content{{Type: "text", Text: err.Error()}}, IsError: true}
	}

	elapsed := time.Since(start)
	s.metrics.ObserveToolCall(string(entry.Name), outcome, elapsed)
	log.WithFields(logrus.Fields{"outcome": outcome, "duration": elapsed}).Debug("tool call")
	return result, nil
}

// safeExecute turns a panic outside the store lock into an internal error.
func (s *Server) safeExecute(ctx context.Context, name ToolName, args json.RawMessage) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("tool", name).WithField("panic", r).Error("tool panicked")
			value, err = nil, pdferr.Internal("%s panicked: %v", name, r)
		}
	}()
	return s.executeTool(ctx, name, args)
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name ToolName, args json.RawMessage) (interface{}, error) {
	switch name {
	// Session lifecycle
	case ToolImportDocument:
		return s.handleImportDocument(ctx, args)
	case ToolCloseDocument:
		return s.handleCloseDocument(args)
	case ToolListDocuments:
		return s.handleListDocuments()
	case ToolGetDocumentInfo:
		return s.handleGetDocumentInfo(args)

	// Document-level queries
	case ToolGetPageCount:
		return s.handleGetPageCount(args)
	case ToolGetMetadata:
		return s.handleGetMetadata(args)
	case ToolGetOutlines:
		return s.handleGetOutlines(args)

	// Page-level queries
	case ToolGetPageBounds:
		return s.handleGetPageBounds(args)
	case ToolGetPageText:
		return s.handleGetPageText(args)
	case ToolGetPageTextBlocks:
		return s.handleGetPageTextBlocks(args)
	case ToolGetPageLinks:
		return s.handleGetPageLinks(args)
	case ToolSearchPage:
		return s.handleSearchPage(args)
	case ToolRenderPage:
		return s.handleRenderPage(args)
	case ToolOCRPage:
		return s.handleOCRPage(args)

	// Oneshot
	case ToolOneshotBookmarks:
		return s.handleOneshotBookmarks(ctx, args)
	case ToolOneshotGetPageText:
		return s.handleOneshotGetPageText(ctx, args)

	default:
		return nil, pdferr.Internal("tool %s has no handler", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// marshalResult converts a tool result to pretty-printed JSON text.
func marshalResult(v interface{}) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// === Session lifecycle ===

type importDocumentResult struct {
	DocumentID string `json:"document_id"`
	PageCount  int    `json:"page_count"`
}

func (s *Server) handleImportDocument(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a importDocumentParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	info, err := s.store.Open(func() (engine.Document, error) {
		return s.resolver.Open(ctx, a.Source, a.Password)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"document_id": info.ID,
		"source":      a.Source.Describe(),
		"pages":       info.PageCount,
	}).Info("document imported")
	return &importDocumentResult{DocumentID: info.ID, PageCount: info.PageCount}, nil
}

type closeDocumentResult struct {
	Success bool `json:"success"`
}

func (s *Server) handleCloseDocument(args json.RawMessage) (interface{}, error) {
	var a documentParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.store.Remove(a.DocumentID); err != nil {
		return nil, err
	}
	return &closeDocumentResult{Success: true}, nil
}

type documentSummary struct {
	DocumentID string `json:"document_id"`
	PageCount  int    `json:"page_count"`
	AgeSeconds uint64 `json:"age_seconds"`
}

// wholeSeconds truncates d to whole seconds; a negative duration (clock
// stepped back) reads as zero.
func wholeSeconds(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

type listDocumentsResult struct {
	Documents []documentSummary `json:"documents"`
}

func (s *Server) handleListDocuments() (interface{}, error) {
	infos, err := s.store.List()
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})

	now := s.store.Now()
	docs := make([]documentSummary, 0, len(infos))
	for _, info := range infos {
		docs = append(docs, documentSummary{
			DocumentID: info.ID,
			PageCount:  info.PageCount,
			AgeSeconds: wholeSeconds(info.Age(now)),
		})
	}
	return &listDocumentsResult{Documents: docs}, nil
}

type documentInfoResult struct {
	DocumentID  string `json:"document_id"`
	PageCount   int    `json:"page_count"`
	IsPDF       bool   `json:"is_pdf"`
	AgeSeconds  uint64 `json:"age_seconds"`
	IdleSeconds uint64 `json:"idle_seconds"`
}

func (s *Server) handleGetDocumentInfo(args json.RawMessage) (interface{}, error) {
	var a documentParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	info, err := s.store.Info(a.DocumentID)
	if err != nil {
		return nil, err
	}
	now := s.store.Now()
	return &documentInfoResult{
		DocumentID:  info.ID,
		PageCount:   info.PageCount,
		IsPDF:       info.IsPDF,
		AgeSeconds:  wholeSeconds(info.Age(now)),
		IdleSeconds: wholeSeconds(info.Idle(now)),
	}, nil
}

// === Document-level queries ===

type pageCountResult struct {
	PageCount int `json:"page_count"`
}

func (s *Server) handleGetPageCount(args json.RawMessage) (interface{}, error) {
	var a documentParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	info, err := s.store.Info(a.DocumentID)
	if err != nil {
		return nil, err
	}
	return &pageCountResult{PageCount: info.PageCount}, nil
}

func (s *Server) handleGetMetadata(args json.RawMessage) (interface{}, error) {
	var a documentParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return session.With(s.store, a.DocumentID, func(doc engine.Document, _ session.Info) (*pdfops.MetadataResult, error) {
		return pdfops.Metadata(doc)
	})
}

func (s *Server) handleGetOutlines(args json.RawMessage) (interface{}, error) {
	var a documentParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return session.With(s.store, a.DocumentID, func(doc engine.Document, _ session.Info) (*pdfops.OutlinesResult, error) {
		return pdfops.Outlines(doc)
	})
}

// === Page-level queries ===

func (s *Server) handleGetPageBounds(args json.RawMessage) (interface{}, error) {
	var a pageParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return session.With(s.store, a.DocumentID, func(doc engine.Document, info session.Info) (*pdfops.BoundsResult, error) {
		return pdfops.Bounds(doc, info.PageCount, a.Page)
	})
}

func (s *Server) handleGetPageText(args json.RawMessage) (interface{}, error) {
	var a pageTextParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return session.With(s.store, a.DocumentID, func(doc engine.Document, info session.Info) (*pdfops.TextResult, error) {
		if err := pdfops.ValidatePage(a.Page, info.PageCount); err != nil {
			return nil, err
		}
		format, err := pdfops.ParseTextFormat(a.Format)
		if err != nil {
			return nil, err
		}
		return pdfops.Text(doc, info.PageCount, a.Page, format)
	})
}

func (s *Server) handleGetPageTextBlocks(args json.RawMessage) (interface{}, error) {
	var a pageParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return session.With(s.store, a.DocumentID, func(doc engine.Document, info session.Info) (*pdfops.TextBlocksResult, error) {
		return pdfops.TextBlocks(doc, info.PageCount, a.Page)
	})
}

func (s *Server) handleGetPageLinks(args json.RawMessage) (interface{}, error) {
	var a pageParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return session.With(s.store, a.DocumentID, func(doc engine.Document, info session.Info) (*pdfops.LinksResult, error) {
		return pdfops.Links(doc, info.PageCount, a.Page)
	})
}

func (s *Server) handleSearchPage(args json.RawMessage) (interface{}, error) {
	var a searchPageParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return session.With(s.store, a.DocumentID, func(doc engine.Document, info session.Info) (*pdfops.SearchResult, error) {
		return pdfops.Search(doc, info.PageCount, a.Page, a.Query)
	})
}

// renderKey validates the render options of a and returns the cache key
// they produce.
func (s *Server) renderKey(a *renderPageParams) (imaging.RenderKey, error) {
	if a.Format != "" && a.Format != imaging.FormatPNG {
		return imaging.RenderKey{}, pdferr.InvalidImageFormat(a.Format)
	}
	scale := pdfops.DefaultScale
	if a.Scale != nil {
		scale = *a.Scale
	}
	if err := pdfops.ValidateScale(scale, s.maxRenderScale); err != nil {
		return imaging.RenderKey{}, err
	}
	if math.IsNaN(a.Grid) || math.IsInf(a.Grid, 0) || a.Grid < 0 {
		return imaging.RenderKey{}, pdferr.InvalidArgument("grid spacing must be a non-negative number, got %g", a.Grid)
	}

	key := imaging.RenderKey{DocumentID: a.DocumentID, Page: a.Page, Scale: scale, Grid: a.Grid, GridLabels: a.GridLabels && a.Grid > 0}
	if a.Clip != nil {
		if err := a.Clip.Validate(); err != nil {
			return imaging.RenderKey{}, pdferr.InvalidArgument("%v", err)
		}
		key.Clip = a.Clip.Pixels(scale)
	}
	return key, nil
}

func (s *Server) handleRenderPage(args json.RawMessage) (interface{}, error) {
	var a renderPageParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	var (
		key    imaging.RenderKey
		cached *imaging.Rendered
	)
	// The raster is produced under the lock; overlays and encoding happen
	// after it.
	img, err := session.With(s.store, a.DocumentID, func(doc engine.Document, info session.Info) (*image.RGBA, error) {
		if err := pdfops.ValidatePage(a.Page, info.PageCount); err != nil {
			return nil, err
		}
		var err error
		if key, err = s.renderKey(&a); err != nil {
			return nil, err
		}
		if r, ok := s.cache.Get(key); ok {
			cached = r
			return nil, nil
		}
		return pdfops.Rasterize(doc, info.PageCount, a.Page, key.Scale)
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.metrics.RenderCacheLookup(cached != nil)
	}
	if cached != nil {
		return cached, nil
	}

	var out image.Image = img
	if key.Grid > 0 {
		// The grid goes on the full page so lines stay aligned to page points.
		out, err = imaging.DrawGrid(out, imaging.GridOptions{Spacing: key.Grid, Scale: key.Scale, Labels: key.GridLabels})
		if err != nil {
			return nil, pdferr.WrapInternal(err)
		}
	}
	if a.Clip != nil {
		out, err = imaging.Clip(out, key.Clip)
		if err != nil {
			return nil, pdferr.InvalidArgument("%v", err)
		}
	}

	rendered, err := imaging.EncodePNG(out, s.background)
	if err != nil {
		return nil, pdferr.WrapInternal(err)
	}
	if s.cache != nil {
		// A document closed while encoding has already been forgotten.
		_ = s.store.IfOpen(key.DocumentID, func(session.Info) {
			s.cache.Add(key, rendered)
		})
	}
	return rendered, nil
}

type ocrPageResult struct {
	Text   string     `json:"text"`
	Words  []ocr.Word `json:"words"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
}

// DefaultOCRScale rasterizes pages at 144 DPI for recognition.
const DefaultOCRScale = 2.0

func (s *Server) handleOCRPage(args json.RawMessage) (interface{}, error) {
	var a ocrPageParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	scale := DefaultOCRScale
	if a.Scale != nil {
		scale = *a.Scale
	}

	img, err := session.With(s.store, a.DocumentID, func(doc engine.Document, info session.Info) (*image.RGBA, error) {
		if err := pdfops.ValidatePage(a.Page, info.PageCount); err != nil {
			return nil, err
		}
		if err := pdfops.ValidateScale(scale, s.maxRenderScale); err != nil {
			return nil, err
		}
		return pdfops.Rasterize(doc, info.PageCount, a.Page, scale)
	})
	if err != nil {
		return nil, err
	}

	opts := s.ocr
	if a.Language != "" {
		opts.Language = a.Language
	}
	res, err := s.recognize(img, opts)
	if err != nil {
		return nil, pdferr.WrapInternal(err)
	}
	return &ocrPageResult{
		Text:   res.Text,
		Words:  res.Words,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}, nil
}

// === Oneshot ===

// withTransient opens src under the store lock, runs fn, and closes the
// handle before the lock is released. No session record is created.
func (s *Server) withTransient(ctx context.Context, src source.Source, password *string, fn func(doc engine.Document, pageCount int) error) error {
	return s.store.Confine(func() error {
		doc, err := s.resolver.Open(ctx, src, password)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := doc.Close(); cerr != nil {
				s.log.WithError(cerr).WithField("source", src.Describe()).Warn("failed to close transient document")
			}
		}()

		n, err := doc.PageCount()
		if err != nil {
			return fmt.Errorf("page count: %w", err)
		}
		return fn(doc, n)
	})
}

type bookmarksResult struct {
	Bookmarks []pdfops.Bookmark `json:"bookmarks"`
	PageCount int               `json:"page_count"`
}

func (s *Server) handleOneshotBookmarks(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a oneshotParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	var out *bookmarksResult
	err := s.withTransient(ctx, a.Source, a.Password, func(doc engine.Document, pageCount int) error {
		outlines, err := pdfops.Outlines(doc)
		if err != nil {
			return err
		}
		out = &bookmarksResult{
			Bookmarks: pdfops.FlattenBookmarks(outlines.Outlines),
			PageCount: pageCount,
		}
		return nil
	})
	return out, err
}

type oneshotTextResult struct {
	Text      string            `json:"text"`
	Format    pdfops.TextFormat `json:"format"`
	PageCount int               `json:"page_count"`
}

func (s *Server) handleOneshotGetPageText(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a oneshotPageTextParams
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	format, err := pdfops.ParseTextFormat(a.Format)
	if err != nil {
		return nil, err
	}
	var out *oneshotTextResult
	err = s.withTransient(ctx, a.Source, a.Password, func(doc engine.Document, pageCount int) error {
		text, err := pdfops.Text(doc, pageCount, a.Page, format)
		if err != nil {
			return err
		}
		out = &oneshotTextResult{Text: text.Text, Format: text.Format, PageCount: pageCount}
		return nil
	})
	return out, err
}
