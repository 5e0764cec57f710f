package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/pdf-tools-mcp/internal/ocr"
	"github.com/ironsheep/pdf-tools-mcp/internal/pdfops"
)

// callTool dispatches a tool call and fails the test on a protocol error.
func callTool(t *testing.T, s *Server, name string, args interface{}) *ToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("failed to marshal arguments: %v", err)
	}
	res, rpcErr := s.Dispatch(context.Background(), name, raw)
	if rpcErr != nil {
		t.Fatalf("%s: unexpected protocol error %d: %v", name, rpcErr.Code, rpcErr.Data)
	}
	if res == nil || len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("%s: malformed result %+v", name, res)
	}
	return res
}

// decodeResult unmarshals a successful tool result into v.
func decodeResult(t *testing.T, res *ToolResult, v interface{}) {
	t.Helper()
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", res.Content[0].Text)
	}
	if err := json.Unmarshal([]byte(res.Content[0].Text), v); err != nil {
		t.Fatalf("failed to decode result %q: %v", res.Content[0].Text, err)
	}
}

// expectToolError asserts a failed tool result mentioning want.
func expectToolError(t *testing.T, res *ToolResult, want string) {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected tool error containing %q, got success: %s", want, res.Content[0].Text)
	}
	if !strings.Contains(res.Content[0].Text, want) {
		t.Errorf("error %q does not contain %q", res.Content[0].Text, want)
	}
}

func importDoc(t *testing.T, s *Server, path string) (string, int) {
	t.Helper()
	var out importDocumentResult
	decodeResult(t, callTool(t, s, "import_document", map[string]interface{}{
		"source": map[string]interface{}{"path": path},
	}), &out)
	if out.DocumentID == "" {
		t.Fatal("import_document returned an empty id")
	}
	return out.DocumentID, out.PageCount
}

func TestImportDocument(t *testing.T) {
	env := newTestEnv(t)

	id, pages := importDoc(t, env.srv, "/docs/three.pdf")
	if pages != 3 {
		t.Errorf("page_count = %d, want 3", pages)
	}

	var count pageCountResult
	decodeResult(t, callTool(t, env.srv, "get_page_count", map[string]interface{}{"document_id": id}), &count)
	if count.PageCount != pages {
		t.Errorf("get_page_count = %d, import reported %d", count.PageCount, pages)
	}

	var info documentInfoResult
	decodeResult(t, callTool(t, env.srv, "get_document_info", map[string]interface{}{"document_id": id}), &info)
	if info.PageCount != pages || info.DocumentID != id || !info.IsPDF {
		t.Errorf("get_document_info = %+v", info)
	}
}

func TestImportDocument_InlinePayload(t *testing.T) {
	env := newTestEnv(t)

	encoded := base64.StdEncoding.EncodeToString([]byte(testPayload))
	var out importDocumentResult
	decodeResult(t, callTool(t, env.srv, "import_document", map[string]interface{}{
		"source": map[string]interface{}{"base64": encoded, "filename": "report.pdf"},
	}), &out)
	if out.PageCount != 2 {
		t.Errorf("page_count = %d, want 2", out.PageCount)
	}

	res := callTool(t, env.srv, "import_document", map[string]interface{}{
		"source": map[string]interface{}{"base64": "!!not base64!!"},
	})
	expectToolError(t, res, "base64 decode error")
}

func TestImportDocument_UniqueIDs(t *testing.T) {
	env := newTestEnv(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, _ := importDoc(t, env.srv, "/docs/one.pdf")
		if seen[id] {
			t.Fatalf("duplicate document id %s", id)
		}
		seen[id] = true
	}
}

func TestImportDocument_Passwords(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		password interface{}
		wantErr  string
	}{
		{"missing", nil, "password required"},
		{"wrong", "nope", "invalid password"},
		{"right", "secret", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]interface{}{"source": map[string]interface{}{"path": "/docs/locked.pdf"}}
			if tt.password != nil {
				args["password"] = tt.password
			}
			res := callTool(t, env.srv, "import_document", args)
			if tt.wantErr != "" {
				expectToolError(t, res, tt.wantErr)
				return
			}
			var out importDocumentResult
			decodeResult(t, res, &out)
			if out.PageCount != 2 {
				t.Errorf("page_count = %d, want 2", out.PageCount)
			}
		})
	}

	// Rejected handles are closed; only the accepted one is still open.
	if live := env.eng.Live(); live != 1 {
		t.Errorf("live handles = %d, want 1", live)
	}
}

func TestImportDocument_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	res := callTool(t, env.srv, "import_document", map[string]interface{}{
		"source": map[string]interface{}{"path": "/docs/missing.pdf"},
	})
	expectToolError(t, res, "missing.pdf")
}

func TestCloseDocument(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/three.pdf")

	var closed closeDocumentResult
	decodeResult(t, callTool(t, env.srv, "close_document", map[string]interface{}{"document_id": id}), &closed)
	if !closed.Success {
		t.Error("close_document did not report success")
	}

	// Every stateful operation on the closed id fails DocumentNotFound.
	calls := []struct {
		name string
		args map[string]interface{}
	}{
		{"close_document", map[string]interface{}{"document_id": id}},
		{"get_page_count", map[string]interface{}{"document_id": id}},
		{"get_document_info", map[string]interface{}{"document_id": id}},
		{"get_metadata", map[string]interface{}{"document_id": id}},
		{"get_outlines", map[string]interface{}{"document_id": id}},
		{"get_page_bounds", map[string]interface{}{"document_id": id, "page": 0}},
		{"get_page_text", map[string]interface{}{"document_id": id, "page": 0}},
		{"search_page", map[string]interface{}{"document_id": id, "page": 0, "query": "Page"}},
		{"render_page", map[string]interface{}{"document_id": id, "page": 0}},
	}
	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			expectToolError(t, callTool(t, env.srv, c.name, c.args), "document not found: "+id)
		})
	}

	if live := env.eng.Live(); live != 0 {
		t.Errorf("live handles = %d, want 0", live)
	}
	env.assertNoViolations(t)
}

func TestCloseDocument_Racing(t *testing.T) {
	env := newTestEnv(t)

	for round := 0; round < 10; round++ {
		id, _ := importDoc(t, env.srv, "/docs/three.pdf")

		var (
			mu        sync.Mutex
			successes int
			notFound  int
		)
		var g errgroup.Group
		for i := 0; i < 2; i++ {
			g.Go(func() error {
				raw, _ := json.Marshal(map[string]interface{}{"document_id": id})
				res, rpcErr := env.srv.Dispatch(context.Background(), "close_document", raw)
				if rpcErr != nil {
					return errors.New(rpcErr.Message)
				}
				mu.Lock()
				defer mu.Unlock()
				switch {
				case !res.IsError && strings.Contains(res.Content[0].Text, `"success": true`):
					successes++
				case res.IsError && strings.Contains(res.Content[0].Text, "document not found"):
					notFound++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if successes != 1 || notFound != 1 {
			t.Fatalf("round %d: %d successes and %d not-found, want 1 and 1", round, successes, notFound)
		}
	}

	if env.eng.Opened() != env.eng.Closed() {
		t.Errorf("opened %d handles but closed %d", env.eng.Opened(), env.eng.Closed())
	}
	env.assertNoViolations(t)
}

func TestListDocuments(t *testing.T) {
	env := newTestEnv(t)

	var want []string
	for _, path := range []string{"/docs/one.pdf", "/docs/three.pdf", "/docs/rich.pdf"} {
		id, _ := importDoc(t, env.srv, path)
		want = append(want, id)
	}
	closeID := want[1]
	decodeResult(t, callTool(t, env.srv, "close_document", map[string]interface{}{"document_id": closeID}), &closeDocumentResult{})
	want = append(want[:1], want[2:]...)

	// Oneshot calls never allocate ids.
	decodeResult(t, callTool(t, env.srv, "oneshot_get_bookmarks", map[string]interface{}{
		"source": map[string]interface{}{"path": "/docs/rich.pdf"},
	}), &bookmarksResult{})

	var list listDocumentsResult
	decodeResult(t, callTool(t, env.srv, "list_documents", map[string]interface{}{}), &list)

	var got []string
	for _, d := range list.Documents {
		got = append(got, d.DocumentID)
	}
	sort.Strings(got)
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("list_documents = %v, want %v", got, want)
	}
}

func TestListDocuments_NoArguments(t *testing.T) {
	env := newTestEnv(t)
	res, rpcErr := env.srv.Dispatch(context.Background(), "list_documents", nil)
	if rpcErr != nil {
		t.Fatalf("unexpected protocol error: %+v", rpcErr)
	}
	var list listDocumentsResult
	decodeResult(t, res, &list)
	if len(list.Documents) != 0 {
		t.Errorf("expected no documents, got %v", list.Documents)
	}
}

func TestPageNumberValidation(t *testing.T) {
	env := newTestEnv(t)
	id, n := importDoc(t, env.srv, "/docs/three.pdf")

	tools := []string{"get_page_bounds", "get_page_text", "get_page_text_blocks", "get_page_links", "render_page", "search_page"}
	for _, tool := range tools {
		for _, page := range []int{-1, n} {
			args := map[string]interface{}{"document_id": id, "page": page}
			if tool == "search_page" {
				args["query"] = "Page"
			}
			res := callTool(t, env.srv, tool, args)
			expectToolError(t, res, "invalid page number")
			expectToolError(t, res, "valid range: 0-2")
		}

		args := map[string]interface{}{"document_id": id, "page": n - 1}
		if tool == "search_page" {
			args["query"] = "Page"
		}
		if res := callTool(t, env.srv, tool, args); res.IsError {
			t.Errorf("%s on the last page failed: %s", tool, res.Content[0].Text)
		}
	}
}

func TestGetPageBounds(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/three.pdf")

	var bounds struct {
		Width, Height, X0, Y0 float64
	}
	decodeResult(t, callTool(t, env.srv, "get_page_bounds", map[string]interface{}{"document_id": id, "page": 1}), &bounds)
	if bounds.Width != 612 || bounds.Height != 792 {
		t.Errorf("bounds = %+v, want 612x792", bounds)
	}
}

func TestGetPageText(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/three.pdf")

	tests := []struct {
		format     string
		wantFormat string
		contains   string
	}{
		{"", "plain", "Page 2\n"},
		{"plain", "plain", "Page 2\n"},
		{"html", "html", "Page"},
		{"json", "json", `"blocks"`},
		{"xml", "xml", "<page"},
	}

	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			args := map[string]interface{}{"document_id": id, "page": 1}
			if tt.format != "" {
				args["format"] = tt.format
			}
			var out struct {
				Text   string `json:"text"`
				Format string `json:"format"`
			}
			decodeResult(t, callTool(t, env.srv, "get_page_text", args), &out)
			if out.Format != tt.wantFormat {
				t.Errorf("format = %q, want %q", out.Format, tt.wantFormat)
			}
			if !strings.Contains(out.Text, tt.contains) {
				t.Errorf("text %q does not contain %q", out.Text, tt.contains)
			}
		})
	}
}

func TestGetPageText_BogusFormat(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/three.pdf")

	res := callTool(t, env.srv, "get_page_text", map[string]interface{}{"document_id": id, "page": 0, "format": "bogus"})
	expectToolError(t, res, "invalid text format: bogus")
}

func TestGetPageTextBlocks(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/rich.pdf")

	var out struct {
		Blocks []struct {
			Lines []struct {
				Text string `json:"text"`
			} `json:"lines"`
		} `json:"blocks"`
	}
	decodeResult(t, callTool(t, env.srv, "get_page_text_blocks", map[string]interface{}{"document_id": id, "page": 0}), &out)
	if len(out.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(out.Blocks))
	}
	if len(out.Blocks[0].Lines) != 2 || out.Blocks[0].Lines[0].Text != "Quarterly report" {
		t.Errorf("first block = %+v", out.Blocks[0])
	}
}

func TestGetPageLinks(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/rich.pdf")

	var out struct {
		Links []struct {
			URI        string `json:"uri"`
			TargetPage *int   `json:"target_page"`
		} `json:"links"`
	}
	decodeResult(t, callTool(t, env.srv, "get_page_links", map[string]interface{}{"document_id": id, "page": 0}), &out)
	if len(out.Links) != 2 {
		t.Fatalf("got %d links, want 2", len(out.Links))
	}
	if out.Links[0].TargetPage != nil {
		t.Errorf("external link has target page %d", *out.Links[0].TargetPage)
	}
	if out.Links[1].TargetPage == nil || *out.Links[1].TargetPage != 1 {
		t.Errorf("internal link target = %v, want 1", out.Links[1].TargetPage)
	}
}

func TestGetMetadataAndOutlines(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/rich.pdf")

	res := callTool(t, env.srv, "get_metadata", map[string]interface{}{"document_id": id})
	var meta map[string]interface{}
	decodeResult(t, res, &meta)
	if meta["title"] != "Q3 Report" || meta["author"] != "Finance" {
		t.Errorf("metadata = %v", meta)
	}
	if _, ok := meta["subject"]; ok {
		t.Error("empty subject should be absent")
	}

	var outlines struct {
		Outlines []struct {
			Title    string  `json:"title"`
			Page     *int    `json:"page"`
			URI      *string `json:"uri"`
			Children []struct {
				Title string `json:"title"`
			} `json:"children"`
		} `json:"outlines"`
	}
	decodeResult(t, callTool(t, env.srv, "get_outlines", map[string]interface{}{"document_id": id}), &outlines)
	if len(outlines.Outlines) != 3 {
		t.Fatalf("got %d top-level entries, want 3", len(outlines.Outlines))
	}
	if len(outlines.Outlines[0].Children) != 1 || outlines.Outlines[0].Children[0].Title != "Revenue" {
		t.Errorf("children = %+v", outlines.Outlines[0].Children)
	}
	if web := outlines.Outlines[2]; web.Page != nil || web.URI == nil || *web.URI != "https://example.com" {
		t.Errorf("web entry = %+v", web)
	}
}

func TestSearchPage(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/rich.pdf")

	var out struct {
		Hits []struct {
			UL, UR, LL, LR struct{ X, Y float64 }
		} `json:"hits"`
	}
	decodeResult(t, callTool(t, env.srv, "search_page", map[string]interface{}{"document_id": id, "page": 0, "query": "revenue"}), &out)
	if len(out.Hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(out.Hits))
	}
	for _, h := range out.Hits {
		if h.UR.X <= h.UL.X || h.LL.Y <= h.UL.Y {
			t.Errorf("degenerate quad %+v", h)
		}
	}

	decodeResult(t, callTool(t, env.srv, "search_page", map[string]interface{}{"document_id": id, "page": 1, "query": "revenue"}), &out)
	if len(out.Hits) != 0 {
		t.Errorf("expected no hits on page 1, got %d", len(out.Hits))
	}
}

func decodeRendered(t *testing.T, res *ToolResult) (width, height int, png []byte) {
	t.Helper()
	var out struct {
		Image  string `json:"image"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Format string `json:"format"`
	}
	decodeResult(t, res, &out)
	if out.Format != "png" {
		t.Errorf("format = %q, want png", out.Format)
	}
	data, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		t.Fatalf("image is not base64: %v", err)
	}
	return out.Width, out.Height, data
}

func TestRenderPage(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/three.pdf")

	w1, h1, png1 := decodeRendered(t, callTool(t, env.srv, "render_page", map[string]interface{}{"document_id": id, "page": 0}))
	w2, h2, _ := decodeRendered(t, callTool(t, env.srv, "render_page", map[string]interface{}{"document_id": id, "page": 0, "scale": 2.0}))

	if w1 != 612 || h1 != 792 {
		t.Errorf("scale 1 size = %dx%d, want 612x792", w1, h1)
	}
	if w2 != 2*w1 || h2 != 2*h1 {
		t.Errorf("scale 2 size = %dx%d, want %dx%d", w2, h2, 2*w1, 2*h1)
	}
	if !bytes.HasPrefix(png1, []byte{0x89, 'P', 'N', 'G'}) {
		t.Errorf("image does not start with the PNG signature: % x", png1[:4])
	}
}

func TestRenderPage_InvalidInput(t *testing.T) {
	env := newTestEnv(t, WithMaxRenderScale(4))
	id, _ := importDoc(t, env.srv, "/docs/three.pdf")

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"zero scale", map[string]interface{}{"document_id": id, "page": 0, "scale": 0}, "invalid scale"},
		{"negative scale", map[string]interface{}{"document_id": id, "page": 0, "scale": -1.5}, "invalid scale"},
		{"huge scale", map[string]interface{}{"document_id": id, "page": 0, "scale": 8}, "exceeds the maximum"},
		{"jpeg", map[string]interface{}{"document_id": id, "page": 0, "format": "jpeg"}, "invalid image format: jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectToolError(t, callTool(t, env.srv, "render_page", tt.args), tt.want)
		})
	}
}

func TestRenderPage_Cache(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/three.pdf")

	args := map[string]interface{}{"document_id": id, "page": 2, "scale": 0.5}
	first := callTool(t, env.srv, "render_page", args)
	second := callTool(t, env.srv, "render_page", args)
	if first.Content[0].Text != second.Content[0].Text {
		t.Error("cached render differs from the first render")
	}
	if env.cache.Len() != 1 {
		t.Errorf("cache holds %d entries, want 1", env.cache.Len())
	}

	decodeResult(t, callTool(t, env.srv, "close_document", map[string]interface{}{"document_id": id}), &closeDocumentResult{})
	if env.cache.Len() != 0 {
		t.Errorf("cache holds %d entries after close, want 0", env.cache.Len())
	}
}

func TestRenderPage_Clip(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/three.pdf")

	clip := map[string]float64{"x0": 100, "y0": 200, "x1": 300, "y1": 250}
	w1, h1, _ := decodeRendered(t, callTool(t, env.srv, "render_page", map[string]interface{}{"document_id": id, "page": 0, "clip": clip}))
	w2, h2, _ := decodeRendered(t, callTool(t, env.srv, "render_page", map[string]interface{}{"document_id": id, "page": 0, "clip": clip, "scale": 2}))

	if w1 != 200 || h1 != 50 {
		t.Errorf("scale 1 clip = %dx%d, want 200x50", w1, h1)
	}
	if w2 != 400 || h2 != 100 {
		t.Errorf("scale 2 clip = %dx%d, want 400x100", w2, h2)
	}

	// A region hanging off the page is trimmed to it.
	w3, h3, _ := decodeRendered(t, callTool(t, env.srv, "render_page", map[string]interface{}{
		"document_id": id, "page": 0,
		"clip": map[string]float64{"x0": 512, "y0": 692, "x1": 900, "y1": 900},
	}))
	if w3 != 100 || h3 != 100 {
		t.Errorf("trimmed clip = %dx%d, want 100x100", w3, h3)
	}

	if env.cache.Len() != 3 {
		t.Errorf("cache holds %d entries, want one per distinct clip", env.cache.Len())
	}
}

func TestRenderPage_Grid(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/one.pdf")

	_, _, data := decodeRendered(t, callTool(t, env.srv, "render_page", map[string]interface{}{"document_id": id, "page": 0, "grid": 50}))
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode failed: %v", err)
	}

	// The fake page is white; grid lines blend red into it.
	if r, g, b, _ := img.At(50, 10).RGBA(); r>>8 != 255 || g>>8 > 200 || b>>8 > 200 {
		t.Errorf("pixel on the grid line = (%d,%d,%d), want red-tinted", r>>8, g>>8, b>>8)
	}
	if r, g, b, _ := img.At(25, 10).RGBA(); r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Errorf("pixel off the grid = (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}
}

func TestRenderPage_InvalidOverlay(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/one.pdf")

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"inverted clip", map[string]interface{}{"document_id": id, "page": 0, "clip": map[string]float64{"x0": 300, "y0": 0, "x1": 100, "y1": 50}}, "invalid clip region"},
		{"clip off page", map[string]interface{}{"document_id": id, "page": 0, "clip": map[string]float64{"x0": 700, "y0": 0, "x1": 800, "y1": 50}}, "outside the page"},
		{"negative grid", map[string]interface{}{"document_id": id, "page": 0, "grid": -10}, "grid spacing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectToolError(t, callTool(t, env.srv, "render_page", tt.args), tt.want)
		})
	}
}

func TestOCRPage(t *testing.T) {
	env := newTestEnv(t, WithOCROptions(ocr.Options{Language: "deu"}))

	var gotLang string
	var gotSize image.Point
	env.srv.recognize = func(img image.Image, opts ocr.Options) (*ocr.Result, error) {
		gotLang = opts.Language
		gotSize = img.Bounds().Size()
		return &ocr.Result{
			Text:  "Page 1\n",
			Words: []ocr.Word{{Text: "Page", Confidence: 0.97, Bounds: ocr.Bounds{X: 144, Y: 120, Width: 80, Height: 24}}},
		}, nil
	}

	id, _ := importDoc(t, env.srv, "/docs/one.pdf")

	var out ocrPageResult
	decodeResult(t, callTool(t, env.srv, "ocr_page", map[string]interface{}{"document_id": id, "page": 0}), &out)
	if gotLang != "deu" {
		t.Errorf("language = %q, want the configured default", gotLang)
	}
	if gotSize != (image.Point{X: 1224, Y: 1584}) || out.Width != 1224 || out.Height != 1584 {
		t.Errorf("raster = %v (%dx%d), want the page at scale 2", gotSize, out.Width, out.Height)
	}
	if out.Text != "Page 1\n" || len(out.Words) != 1 {
		t.Errorf("result = %+v", out)
	}

	decodeResult(t, callTool(t, env.srv, "ocr_page", map[string]interface{}{"document_id": id, "page": 0, "language": "eng", "scale": 1}), &out)
	if gotLang != "eng" || out.Width != 612 {
		t.Errorf("language = %q width = %d, want eng and 612", gotLang, out.Width)
	}

	expectToolError(t, callTool(t, env.srv, "ocr_page", map[string]interface{}{"document_id": id, "page": 1}), "invalid page number")
}

func TestOCRPage_RecognizerFailure(t *testing.T) {
	env := newTestEnv(t)
	env.srv.recognize = func(image.Image, ocr.Options) (*ocr.Result, error) {
		return nil, errors.New("tesseract: language data missing")
	}
	id, _ := importDoc(t, env.srv, "/docs/one.pdf")

	res := callTool(t, env.srv, "ocr_page", map[string]interface{}{"document_id": id, "page": 0})
	expectToolError(t, res, "internal error: tesseract: language data missing")
}

func TestOneshotGetBookmarks(t *testing.T) {
	env := newTestEnv(t)

	var out struct {
		Bookmarks []struct {
			Title string `json:"title"`
			Page  *int   `json:"page"`
			Level int    `json:"level"`
		} `json:"bookmarks"`
		PageCount int `json:"page_count"`
	}
	decodeResult(t, callTool(t, env.srv, "oneshot_get_bookmarks", map[string]interface{}{
		"source": map[string]interface{}{"path": "/docs/rich.pdf"},
	}), &out)

	if out.PageCount != 2 {
		t.Errorf("page_count = %d, want 2", out.PageCount)
	}
	wantTitles := []string{"Summary", "Revenue", "Appendix", "Website"}
	wantLevels := []int{0, 1, 0, 0}
	if len(out.Bookmarks) != len(wantTitles) {
		t.Fatalf("got %d bookmarks, want %d", len(out.Bookmarks), len(wantTitles))
	}
	for i, b := range out.Bookmarks {
		if b.Title != wantTitles[i] || b.Level != wantLevels[i] {
			t.Errorf("bookmark %d = %+v, want %s at level %d", i, b, wantTitles[i], wantLevels[i])
		}
	}
	if out.Bookmarks[3].Page != nil {
		t.Error("web bookmark should have no page")
	}

	if n, _ := env.store.Len(); n != 0 {
		t.Errorf("store holds %d documents after a oneshot call, want 0", n)
	}
	if live := env.eng.Live(); live != 0 {
		t.Errorf("live handles = %d after a oneshot call, want 0", live)
	}
}

func TestOneshotGetPageText(t *testing.T) {
	env := newTestEnv(t)

	var out oneshotTextResult
	decodeResult(t, callTool(t, env.srv, "oneshot_get_page_text", map[string]interface{}{
		"source":   map[string]interface{}{"path": "/docs/locked.pdf"},
		"password": "secret",
		"page":     1,
	}), &out)
	if out.Text != "Page 2\n\n" || out.Format != "plain" || out.PageCount != 2 {
		t.Errorf("result = %+v", out)
	}

	res := callTool(t, env.srv, "oneshot_get_page_text", map[string]interface{}{
		"source": map[string]interface{}{"path": "/docs/locked.pdf"},
		"page":   0,
	})
	expectToolError(t, res, "password required")

	res = callTool(t, env.srv, "oneshot_get_page_text", map[string]interface{}{
		"source": map[string]interface{}{"path": "/docs/one.pdf"},
		"page":   5,
	})
	expectToolError(t, res, "invalid page number: 5")

	if live := env.eng.Live(); live != 0 {
		t.Errorf("live handles = %d, want 0", live)
	}
}

func TestPoisonedStore(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/panics.pdf")

	res := callTool(t, env.srv, "get_page_text", map[string]interface{}{"document_id": id, "page": 0})
	expectToolError(t, res, "internal error")

	// Every later call degrades to an internal error.
	expectToolError(t, callTool(t, env.srv, "list_documents", map[string]interface{}{}), "internal error")
	expectToolError(t, callTool(t, env.srv, "import_document", map[string]interface{}{
		"source": map[string]interface{}{"path": "/docs/one.pdf"},
	}), "internal error")
}

func TestDispatch_ProtocolErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"unknown tool", "image_crop", `{}`},
		{"missing document_id", "get_page_count", `{}`},
		{"wrong type", "get_page_bounds", `{"document_id":"x","page":"one"}`},
		{"fractional page", "get_page_bounds", `{"document_id":"x","page":1.5}`},
		{"unknown field", "get_page_count", `{"document_id":"x","extra":true}`},
		{"source with both shapes", "import_document", `{"source":{"path":"/a.pdf","base64":"AAAA"}}`},
		{"source without shape", "import_document", `{"source":{}}`},
		{"not an object", "list_documents", `[1]`},
		{"invalid json", "list_documents", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, rpcErr := env.srv.Dispatch(context.Background(), tt.tool, json.RawMessage(tt.args))
			if rpcErr == nil {
				t.Fatalf("expected protocol error, got result %+v", res)
			}
			if rpcErr.Code != -32602 {
				t.Errorf("code = %d, want -32602", rpcErr.Code)
			}
		})
	}
}

func TestDispatch_DomainErrorsAreResults(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/one.pdf")

	// Values the schema accepts but the tool rejects are never protocol errors.
	tests := []struct {
		tool string
		args string
		want string
	}{
		{"get_page_count", `{"document_id":"nope"}`, "document not found: nope"},
		{"get_page_text", `{"document_id":"` + id + `","page":0,"format":"pdf"}`, "invalid text format: pdf"},
		{"render_page", `{"document_id":"` + id + `","page":0,"scale":-2}`, "invalid scale"},
		{"render_page", `{"document_id":"` + id + `","page":0,"format":"gif"}`, "invalid image format: gif"},
		{"ocr_page", `{"document_id":"` + id + `","page":0,"scale":0}`, "invalid scale"},
	}
	for _, tt := range tests {
		res, rpcErr := env.srv.Dispatch(context.Background(), tt.tool, json.RawMessage(tt.args))
		if rpcErr != nil {
			t.Errorf("%s: unexpected protocol error %+v", tt.tool, rpcErr)
			continue
		}
		expectToolError(t, res, tt.want)
	}
}

func TestUnknownDocument_ReportedBeforeBadArguments(t *testing.T) {
	env := newTestEnv(t)
	closed, _ := importDoc(t, env.srv, "/docs/one.pdf")
	decodeResult(t, callTool(t, env.srv, "close_document", map[string]interface{}{"document_id": closed}), &closeDocumentResult{})

	bad := []struct {
		tool string
		args map[string]interface{}
	}{
		{"get_page_text", map[string]interface{}{"page": 0, "format": "bogus"}},
		{"get_page_text", map[string]interface{}{"page": 99, "format": "bogus"}},
		{"render_page", map[string]interface{}{"page": 0, "format": "gif"}},
		{"render_page", map[string]interface{}{"page": 0, "scale": -1}},
		{"render_page", map[string]interface{}{"page": 0, "grid": -5}},
		{"render_page", map[string]interface{}{"page": 0, "clip": map[string]float64{"x0": 9, "y0": 0, "x1": 1, "y1": 1}}},
		{"ocr_page", map[string]interface{}{"page": 0, "scale": 0}},
	}
	for _, id := range []string{"never-issued", closed} {
		for _, tt := range bad {
			args := map[string]interface{}{"document_id": id}
			for k, v := range tt.args {
				args[k] = v
			}
			expectToolError(t, callTool(t, env.srv, tt.tool, args), "document not found: "+id)
		}
	}
}

func TestGetPageText_BadFormatStillTouches(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/one.pdf")

	env.clock.Advance(time.Minute)
	expectToolError(t, callTool(t, env.srv, "get_page_text", map[string]interface{}{"document_id": id, "page": 0, "format": "bogus"}), "invalid text format")

	var info documentInfoResult
	decodeResult(t, callTool(t, env.srv, "get_document_info", map[string]interface{}{"document_id": id}), &info)
	if info.IdleSeconds != 0 || info.AgeSeconds != 60 {
		t.Errorf("age/idle = %d/%d, want 60/0", info.AgeSeconds, info.IdleSeconds)
	}
}

func TestGetPageCount_DoesNotTouch(t *testing.T) {
	env := newTestEnv(t)
	id, _ := importDoc(t, env.srv, "/docs/three.pdf")

	env.clock.Advance(30 * time.Second)
	var count pageCountResult
	decodeResult(t, callTool(t, env.srv, "get_page_count", map[string]interface{}{"document_id": id}), &count)
	if count.PageCount != 3 {
		t.Errorf("page_count = %d, want 3", count.PageCount)
	}

	var info documentInfoResult
	decodeResult(t, callTool(t, env.srv, "get_document_info", map[string]interface{}{"document_id": id}), &info)
	if info.IdleSeconds != 30 {
		t.Errorf("idle_seconds = %d after get_page_count, want 30", info.IdleSeconds)
	}

	decodeResult(t, callTool(t, env.srv, "get_page_bounds", map[string]interface{}{"document_id": id, "page": 0}), &pdfops.BoundsResult{})
	decodeResult(t, callTool(t, env.srv, "get_document_info", map[string]interface{}{"document_id": id}), &info)
	if info.IdleSeconds != 0 {
		t.Errorf("idle_seconds = %d after get_page_bounds, want 0", info.IdleSeconds)
	}
}

func TestListDocuments_AgeInWholeSeconds(t *testing.T) {
	env := newTestEnv(t)
	importDoc(t, env.srv, "/docs/one.pdf")
	env.clock.Advance(2500 * time.Millisecond)

	res := callTool(t, env.srv, "list_documents", map[string]interface{}{})
	if res.IsError {
		t.Fatalf("list_documents failed: %s", res.Content[0].Text)
	}
	if !strings.Contains(res.Content[0].Text, `"age_seconds": 2`) || strings.Contains(res.Content[0].Text, "2.5") {
		t.Errorf("age_seconds is not a whole number of seconds:\n%s", res.Content[0].Text)
	}
}

func TestRenderPage_CloseDuringRenderLeavesNoCacheEntry(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 20; i++ {
		id, _ := importDoc(t, env.srv, "/docs/one.pdf")

		var g errgroup.Group
		g.Go(func() error {
			// Either renders or finds the document already closed.
			args := json.RawMessage(`{"document_id":"` + id + `","page":0,"scale":0.5}`)
			if _, rpcErr := env.srv.Dispatch(context.Background(), "render_page", args); rpcErr != nil {
				return fmt.Errorf("render_page: %s", rpcErr.Message)
			}
			return nil
		})
		g.Go(func() error {
			args := json.RawMessage(`{"document_id":"` + id + `"}`)
			res, rpcErr := env.srv.Dispatch(context.Background(), "close_document", args)
			if rpcErr != nil || res.IsError {
				return fmt.Errorf("close_document failed")
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
	}

	if n := env.cache.Len(); n != 0 {
		t.Errorf("cache holds %d renders of closed documents", n)
	}
	env.assertNoViolations(t)
}
