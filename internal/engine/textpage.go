package engine

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"strings"
)

// TextPage is the structured text of one page: blocks of lines of glyphs,
// in reading order.
type TextPage struct {
	Bounds Rect
	Blocks []Block
}

// Block is a group of lines that belong together, such as a paragraph.
type Block struct {
	Bounds Rect
	Lines  []Line
}

// Line is a run of glyphs sharing a baseline.
type Line struct {
	Bounds Rect
	Chars  []Char
}

// Char is a single glyph.
type Char struct {
	Rune   rune
	Quad   Quad
	Origin Point
	Size   float64
	Font   string
}

// Text returns the glyphs of the line as a string.
func (l Line) Text() string {
	var sb strings.Builder
	for _, c := range l.Chars {
		sb.WriteRune(c.Rune)
	}
	return sb.String()
}

// font returns the font name and size of the first glyph of l.
func (l Line) font() (string, float64) {
	if len(l.Chars) == 0 {
		return "", 0
	}
	return l.Chars[0].Font, l.Chars[0].Size
}

// HTML serializes the page as absolutely positioned paragraphs, one per
// line, grouped by block.
func (tp *TextPage) HTML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<div id=\"page0\" style=\"width:%.1fpt;height:%.1fpt\">\n",
		tp.Bounds.Width(), tp.Bounds.Height())
	for _, blk := range tp.Blocks {
		b.WriteString("<div class=\"block\">\n")
		for _, ln := range blk.Lines {
			font, size := ln.font()
			fmt.Fprintf(&b, "<p style=\"top:%.1fpt;left:%.1fpt;line-height:%.1fpt\">",
				ln.Bounds.Y0, ln.Bounds.X0, size)
			fmt.Fprintf(&b, "<span style=\"font-family:%s;font-size:%.1fpt\">%s</span></p>\n",
				html.EscapeString(cssFontFamily(font)), size, html.EscapeString(ln.Text()))
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>\n")
	return b.String()
}

func cssFontFamily(font string) string {
	if font == "" {
		return "serif"
	}
	// Subset fonts carry a "ABCDEF+" prefix.
	if i := strings.IndexByte(font, '+'); i == 6 {
		font = font[i+1:]
	}
	return font
}

type jsonBBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func bbox(r Rect) jsonBBox {
	return jsonBBox{X: r.X0, Y: r.Y0, W: r.Width(), H: r.Height()}
}

type jsonFont struct {
	Name string  `json:"name"`
	Size float64 `json:"size"`
}

type jsonLine struct {
	WMode int      `json:"wmode"`
	BBox  jsonBBox `json:"bbox"`
	Font  jsonFont `json:"font"`
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	Text  string   `json:"text"`
}

type jsonBlock struct {
	Type  string     `json:"type"`
	BBox  jsonBBox   `json:"bbox"`
	Lines []jsonLine `json:"lines"`
}

type jsonPage struct {
	Blocks []jsonBlock `json:"blocks"`
}

// JSON serializes the page as {"blocks":[{"type","bbox","lines":[...]}]}.
func (tp *TextPage) JSON() (string, error) {
	page := jsonPage{Blocks: make([]jsonBlock, 0, len(tp.Blocks))}
	for _, blk := range tp.Blocks {
		jb := jsonBlock{Type: "text", BBox: bbox(blk.Bounds), Lines: make([]jsonLine, 0, len(blk.Lines))}
		for _, ln := range blk.Lines {
			font, size := ln.font()
			jl := jsonLine{
				BBox: bbox(ln.Bounds),
				Font: jsonFont{Name: font, Size: size},
				Text: ln.Text(),
			}
			if len(ln.Chars) > 0 {
				jl.X, jl.Y = ln.Chars[0].Origin.X, ln.Chars[0].Origin.Y
			}
			jb.Lines = append(jb.Lines, jl)
		}
		page.Blocks = append(page.Blocks, jb)
	}

	data, err := json.Marshal(page)
	if err != nil {
		return "", fmt.Errorf("failed to encode text page: %w", err)
	}
	return string(data), nil
}

type xmlChar struct {
	Quad string `xml:"quad,attr"`
	X    string `xml:"x,attr"`
	Y    string `xml:"y,attr"`
	C    string `xml:"c,attr"`
}

type xmlFont struct {
	Name  string    `xml:"name,attr"`
	Size  string    `xml:"size,attr"`
	Chars []xmlChar `xml:"char"`
}

type xmlLine struct {
	BBox  string    `xml:"bbox,attr"`
	WMode int       `xml:"wmode,attr"`
	Fonts []xmlFont `xml:"font"`
}

type xmlBlock struct {
	BBox  string    `xml:"bbox,attr"`
	Lines []xmlLine `xml:"line"`
}

type xmlPage struct {
	XMLName xml.Name   `xml:"page"`
	ID      string     `xml:"id,attr"`
	Width   string     `xml:"width,attr"`
	Height  string     `xml:"height,attr"`
	Blocks  []xmlBlock `xml:"block"`
}

func fmtNum(f float64) string { return fmt.Sprintf("%g", f) }

func fmtRect(r Rect) string {
	return fmt.Sprintf("%g %g %g %g", r.X0, r.Y0, r.X1, r.Y1)
}

func fmtQuad(q Quad) string {
	return fmt.Sprintf("%g %g %g %g %g %g %g %g",
		q.UL.X, q.UL.Y, q.UR.X, q.UR.Y, q.LL.X, q.LL.Y, q.LR.X, q.LR.Y)
}

// XML serializes the page down to individual glyphs, with consecutive
// glyphs of the same font and size sharing a <font> element.
func (tp *TextPage) XML() (string, error) {
	page := xmlPage{
		ID:     "page0",
		Width:  fmtNum(tp.Bounds.Width()),
		Height: fmtNum(tp.Bounds.Height()),
	}
	for _, blk := range tp.Blocks {
		xb := xmlBlock{BBox: fmtRect(blk.Bounds)}
		for _, ln := range blk.Lines {
			xl := xmlLine{BBox: fmtRect(ln.Bounds)}
			for _, c := range ln.Chars {
				n := len(xl.Fonts)
				if n == 0 || xl.Fonts[n-1].Name != c.Font || xl.Fonts[n-1].Size != fmtNum(c.Size) {
					xl.Fonts = append(xl.Fonts, xmlFont{Name: c.Font, Size: fmtNum(c.Size)})
					n++
				}
				xl.Fonts[n-1].Chars = append(xl.Fonts[n-1].Chars, xmlChar{
					Quad: fmtQuad(c.Quad),
					X:    fmtNum(c.Origin.X),
					Y:    fmtNum(c.Origin.Y),
					C:    string(c.Rune),
				})
			}
			xb.Lines = append(xb.Lines, xl)
		}
		page.Blocks = append(page.Blocks, xb)
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", " ")
	if err := enc.Encode(page); err != nil {
		return "", fmt.Errorf("failed to encode text page: %w", err)
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}
