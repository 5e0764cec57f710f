// Package enginetest provides a scripted in-memory engine for tests.
//
// Documents are registered up front under a path and/or an inline payload.
// Every handle records misuse that would be a bug against a real engine:
// two goroutines inside the same document at once, use after Close, and
// double Close. Tests assert Violations() is empty.
package enginetest

import (
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ironsheep/pdf-tools-mcp/internal/engine"
)

// PageSpec describes one page of a fake document.
type PageSpec struct {
	Width, Height float64

	// Blocks holds the text of the page: each block is a list of lines.
	Blocks [][]string

	Links []engine.Link
}

// DocSpec describes a fake document.
type DocSpec struct {
	Pages    []PageSpec
	Password string
	Metadata engine.Metadata
	Outlines []engine.Outline
	NotPDF   bool

	// PageCountErr, when set, is returned by PageCount.
	PageCountErr error

	// PanicOnText makes Page.TextPage panic.
	PanicOnText bool

	// Delay is slept inside every page call, widening race windows.
	Delay time.Duration
}

// Letter returns a DocSpec of n US-letter pages, each with one line of text
// "Page <i>".
func Letter(n int) DocSpec {
	spec := DocSpec{}
	for i := 0; i < n; i++ {
		spec.Pages = append(spec.Pages, PageSpec{
			Width:  612,
			Height: 792,
			Blocks: [][]string{{fmt.Sprintf("Page %d", i+1)}},
		})
	}
	return spec
}

// Engine is a fake engine.Engine.
type Engine struct {
	mu         sync.Mutex
	byPath     map[string]DocSpec
	byPayload  map[string]DocSpec
	opened     int
	closed     int
	violations []string
}

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{
		byPath:    make(map[string]DocSpec),
		byPayload: make(map[string]DocSpec),
	}
}

// AddFile registers spec under path.
func (e *Engine) AddFile(path string, spec DocSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byPath[path] = spec
}

// AddPayload registers spec under the raw bytes payload.
func (e *Engine) AddPayload(payload []byte, spec DocSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byPayload[string(payload)] = spec
}

func (e *Engine) OpenFile(path string) (engine.Document, error) {
	e.mu.Lock()
	spec, ok := e.byPath[path]
	e.mu.Unlock()
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return e.newDoc(spec, path), nil
}

func (e *Engine) OpenBytes(data []byte, magic string) (engine.Document, error) {
	e.mu.Lock()
	spec, ok := e.byPayload[string(data)]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("enginetest: cannot open document (%s)", magic)
	}
	return e.newDoc(spec, magic), nil
}

func (e *Engine) newDoc(spec DocSpec, name string) *Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened++
	return &Document{eng: e, spec: spec, name: name, locked: spec.Password != ""}
}

// Opened returns the number of documents opened so far.
func (e *Engine) Opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// Closed returns the number of documents closed so far.
func (e *Engine) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Live returns the number of open, unclosed documents.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened - e.closed
}

// Violations returns the recorded misuse, if any.
func (e *Engine) Violations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.violations...)
}

func (e *Engine) violate(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.violations = append(e.violations, fmt.Sprintf(format, args...))
}

// Document is a fake engine.Document.
type Document struct {
	eng    *Engine
	spec   DocSpec
	name   string
	locked bool
	closed atomic.Bool
	active atomic.Int32
}

// enter marks the start of a call into d; the returned func marks its end.
func (d *Document) enter(op string) func() {
	if d.closed.Load() {
		d.eng.violate("%s: %s after close", d.name, op)
	}
	if d.active.Add(1) > 1 {
		d.eng.violate("%s: concurrent %s", d.name, op)
	}
	return func() { d.active.Add(-1) }
}

func (d *Document) NeedsPassword() bool {
	defer d.enter("NeedsPassword")()
	return d.locked
}

func (d *Document) Authenticate(password string) (bool, error) {
	defer d.enter("Authenticate")()
	if !d.locked {
		return true, nil
	}
	if password != d.spec.Password {
		return false, nil
	}
	d.locked = false
	return true, nil
}

func (d *Document) IsPDF() bool {
	defer d.enter("IsPDF")()
	return !d.spec.NotPDF
}

func (d *Document) PageCount() (int, error) {
	defer d.enter("PageCount")()
	if d.spec.PageCountErr != nil {
		return 0, d.spec.PageCountErr
	}
	return len(d.spec.Pages), nil
}

func (d *Document) Metadata() (engine.Metadata, error) {
	defer d.enter("Metadata")()
	return d.spec.Metadata, nil
}

func (d *Document) Outlines() ([]engine.Outline, error) {
	defer d.enter("Outlines")()
	return d.spec.Outlines, nil
}

func (d *Document) LoadPage(n int) (engine.Page, error) {
	defer d.enter("LoadPage")()
	if n < 0 || n >= len(d.spec.Pages) {
		return nil, fmt.Errorf("enginetest: page %d out of range", n)
	}
	return &Page{doc: d, n: n, spec: d.spec.Pages[n]}, nil
}

func (d *Document) Close() error {
	if d.closed.Swap(true) {
		d.eng.violate("%s: double close", d.name)
		return nil
	}
	d.eng.mu.Lock()
	d.eng.closed++
	d.eng.mu.Unlock()
	return nil
}

// Page is a fake engine.Page.
type Page struct {
	doc  *Document
	n    int
	spec PageSpec
}

func (p *Page) call(op string) func() {
	exit := p.doc.enter(op)
	if p.doc.spec.Delay > 0 {
		time.Sleep(p.doc.spec.Delay)
	}
	return exit
}

func (p *Page) Bounds() (engine.Rect, error) {
	defer p.call("Bounds")()
	return engine.Rect{X1: p.spec.Width, Y1: p.spec.Height}, nil
}

func (p *Page) TextPage() (*engine.TextPage, error) {
	defer p.call("TextPage")()
	if p.doc.spec.PanicOnText {
		panic("enginetest: text extraction blew up")
	}
	return p.textPage(), nil
}

// textPage lays out the scripted lines as 12pt glyphs, 6pt wide, starting at
// (72, 72) with 14pt leading and an extra 14pt between blocks.
func (p *Page) textPage() *engine.TextPage {
	var glyphs []engine.Glyph
	y := 72.0
	for _, block := range p.spec.Blocks {
		for _, line := range block {
			x := 72.0
			for _, word := range strings.Fields(line) {
				glyphs = append(glyphs, engine.Glyph{
					Text:    word,
					Origin:  engine.Point{X: x, Y: y},
					Advance: float64(len([]rune(word))) * 6,
					Size:    12,
					Font:    "Helvetica",
				})
				x += float64(len([]rune(word))+1) * 6
			}
			y += 14
		}
		y += 14
	}
	return engine.Layout(engine.Rect{X1: p.spec.Width, Y1: p.spec.Height}, glyphs)
}

func (p *Page) Search(needle string, maxHits int) ([]engine.Quad, error) {
	defer p.call("Search")()
	return p.textPage().Search(needle, maxHits), nil
}

// Pixmap returns a white raster of the page size, rounded up to whole
// pixels, times scale. Doubling the scale doubles both dimensions, as with
// the MuPDF engine.
func (p *Page) Pixmap(scale float64) (*image.RGBA, error) {
	defer p.call("Pixmap")()
	w := int(math.Round(scale * math.Ceil(p.spec.Width-0.001)))
	h := int(math.Round(scale * math.Ceil(p.spec.Height-0.001)))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	// Mark the top-left pixel so callers can tell pages apart from blank.
	if w > 0 && h > 0 {
		img.Set(0, 0, color.RGBA{0, 0, 0, 0xff})
	}
	return img, nil
}

func (p *Page) Links() ([]engine.Link, error) {
	defer p.call("Links")()
	return p.spec.Links, nil
}
