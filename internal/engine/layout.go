package engine

import (
	"math"
	"unicode"
)

// Glyph is a positioned glyph as emitted by a content-stream interpreter,
// already converted to page space. Origin is on the baseline.
type Glyph struct {
	Text    string
	Origin  Point
	Advance float64
	Size    float64
	Font    string
}

// Heuristics are expressed as fractions of the font size.
const (
	ascent       = 0.8
	descent      = 0.2
	baselineSlop = 0.5
	spaceGap     = 0.2
	blockGap     = 1.6
)

// Layout groups glyphs, in content-stream order, into lines and blocks.
//
// A new line starts when the baseline moves by more than half the font size
// or the pen jumps back to the left; a new block starts when the baseline
// moves up or skips down by more than blockGap line heights. A space is
// synthesized between glyphs separated by a visible gap.
func Layout(bounds Rect, glyphs []Glyph) *TextPage {
	tp := &TextPage{Bounds: bounds}

	var (
		blk      *Block
		ln       *Line
		penX     float64
		baseline float64
		size     float64
	)

	flushLine := func() {
		if ln != nil && len(ln.Chars) > 0 {
			trimTrailingSpace(ln)
			blk.Lines = append(blk.Lines, *ln)
			blk.Bounds = blk.Bounds.Union(ln.Bounds)
		}
		ln = nil
	}
	flushBlock := func() {
		flushLine()
		if blk != nil && len(blk.Lines) > 0 {
			tp.Blocks = append(tp.Blocks, *blk)
		}
		blk = nil
	}

	for _, g := range glyphs {
		if g.Text == "" {
			continue
		}
		gs := g.Size
		if gs <= 0 {
			gs = 1
		}

		if ln != nil {
			dy := g.Origin.Y - baseline
			ref := math.Max(size, gs)
			switch {
			case dy < -ref*baselineSlop || dy > ref*blockGap:
				flushBlock()
			case math.Abs(dy) > ref*baselineSlop || g.Origin.X < penX-ref:
				flushLine()
			case g.Origin.X-penX > ref*spaceGap && !isSpace(g.Text) && !endsWithSpace(ln):
				appendRune(ln, ' ', Point{penX, baseline}, g.Origin.X-penX, size, g.Font)
			}
		}
		if blk == nil {
			blk = &Block{}
		}
		if ln == nil {
			ln = &Line{}
			baseline = g.Origin.Y
			size = gs
		}

		runes := []rune(g.Text)
		adv := g.Advance / float64(len(runes))
		x := g.Origin.X
		for _, r := range runes {
			appendRune(ln, r, Point{x, g.Origin.Y}, adv, gs, g.Font)
			x += adv
		}
		penX = g.Origin.X + g.Advance
	}
	flushBlock()

	return tp
}

func appendRune(ln *Line, r rune, origin Point, advance, size float64, font string) {
	top := origin.Y - size*ascent
	bottom := origin.Y + size*descent
	q := Quad{
		UL: Point{origin.X, top},
		UR: Point{origin.X + advance, top},
		LL: Point{origin.X, bottom},
		LR: Point{origin.X + advance, bottom},
	}
	ln.Chars = append(ln.Chars, Char{Rune: r, Quad: q, Origin: origin, Size: size, Font: font})
	ln.Bounds = ln.Bounds.Union(Rect{X0: q.UL.X, Y0: top, X1: math.Max(q.UR.X, q.UL.X+0.01), Y1: bottom})
}

func trimTrailingSpace(ln *Line) {
	for len(ln.Chars) > 1 && unicode.IsSpace(ln.Chars[len(ln.Chars)-1].Rune) {
		ln.Chars = ln.Chars[:len(ln.Chars)-1]
	}
}

func isSpace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func endsWithSpace(ln *Line) bool {
	return len(ln.Chars) > 0 && unicode.IsSpace(ln.Chars[len(ln.Chars)-1].Rune)
}
