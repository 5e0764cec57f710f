package mupdf

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/ironsheep/pdf-tools-mcp/internal/engine"
)

// glyphSource reads positioned glyphs out of PDF content streams. MuPDF's
// structured-text API is not exposed by go-fitz, so text and search run on
// this parser instead.
type glyphSource struct {
	data   []byte
	reader *pdf.Reader
	err    error
}

func newGlyphSource(data []byte) *glyphSource {
	return &glyphSource{data: data}
}

func (g *glyphSource) open() (r *pdf.Reader, err error) {
	if g.reader != nil || g.err != nil {
		return g.reader, g.err
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("failed to parse document: %v", rec)
		}
		g.reader, g.err = r, err
	}()
	r, err = pdf.NewReader(bytes.NewReader(g.data), int64(len(g.data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return r, nil
}

// pageBox returns the visible box of page n (0-based) in PDF user space
// (y up): the CropBox clipped to the MediaBox, both possibly inherited from
// the page tree. rotate is the page's /Rotate in degrees, normalized to
// 0, 90, 180 or 270.
func (g *glyphSource) pageBox(n int) (box engine.Rect, rotate int, err error) {
	r, err := g.open()
	if err != nil {
		return engine.Rect{}, 0, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			box, rotate, err = engine.Rect{}, 0, fmt.Errorf("failed to read page %d box: %v", n, rec)
		}
	}()

	p, err := pageAt(r, n)
	if err != nil {
		return engine.Rect{}, 0, err
	}
	box, ok := rectValue(inherited(p.V, "MediaBox"))
	if !ok {
		return engine.Rect{}, 0, fmt.Errorf("page %d has no MediaBox", n)
	}
	if crop, ok := rectValue(inherited(p.V, "CropBox")); ok {
		if clipped := intersect(box, crop); !clipped.IsEmpty() {
			box = clipped
		}
	}

	rotate = int(inherited(p.V, "Rotate").Int64() % 360)
	if rotate < 0 {
		rotate += 360
	}
	rotate -= rotate % 90
	return box, rotate, nil
}

// page returns the glyphs of page n (0-based), relative to the top-left
// corner of box.
func (g *glyphSource) page(n int, box engine.Rect) (glyphs []engine.Glyph, err error) {
	r, err := g.open()
	if err != nil {
		return nil, err
	}

	// The parser panics on malformed content streams.
	defer func() {
		if rec := recover(); rec != nil {
			glyphs, err = nil, fmt.Errorf("failed to extract text from page %d: %v", n, rec)
		}
	}()

	p, err := pageAt(r, n)
	if err != nil {
		return nil, err
	}
	content := p.Content()
	glyphs = make([]engine.Glyph, 0, len(content.Text))
	for _, t := range content.Text {
		glyphs = append(glyphs, engine.Glyph{
			Text: t.S,
			Origin: engine.Point{
				X: t.X - box.X0,
				Y: box.Y1 - t.Y,
			},
			Advance: t.W,
			Size:    t.FontSize,
			Font:    t.Font,
		})
	}
	return glyphs, nil
}

func pageAt(r *pdf.Reader, n int) (pdf.Page, error) {
	if n < 0 || n+1 > r.NumPage() {
		return pdf.Page{}, fmt.Errorf("page %d not found in content streams", n)
	}
	p := r.Page(n + 1)
	if p.V.IsNull() {
		return pdf.Page{}, fmt.Errorf("page %d not found in content streams", n)
	}
	return p, nil
}

// inherited looks key up on a page and then on its ancestors in the page
// tree.
func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; depth < 64 && v.Kind() == pdf.Dict; depth++ {
		if x := v.Key(key); !x.IsNull() {
			return x
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

// rectValue reads a PDF rectangle array, normalizing swapped corners.
func rectValue(v pdf.Value) (engine.Rect, bool) {
	if v.Kind() != pdf.Array || v.Len() != 4 {
		return engine.Rect{}, false
	}
	x0, y0 := v.Index(0).Float64(), v.Index(1).Float64()
	x1, y1 := v.Index(2).Float64(), v.Index(3).Float64()
	r := engine.Rect{X0: min(x0, x1), Y0: min(y0, y1), X1: max(x0, x1), Y1: max(y0, y1)}
	return r, !r.IsEmpty()
}

func intersect(a, b engine.Rect) engine.Rect {
	return engine.Rect{X0: max(a.X0, b.X0), Y0: max(a.Y0, b.Y0), X1: min(a.X1, b.X1), Y1: min(a.Y1, b.Y1)}
}
