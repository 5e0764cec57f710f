package pdfops

import (
	"fmt"
	"math"
	"strings"

	"github.com/ironsheep/pdf-tools-mcp/internal/engine"
	"github.com/ironsheep/pdf-tools-mcp/internal/pdferr"
)

// MaxSearchHits caps the number of quads returned by Search.
const MaxSearchHits = 100

// DefaultScale renders at 72 DPI.
const DefaultScale = 1.0

// ValidatePage checks that page is a valid 0-based index into a document
// of total pages.
func ValidatePage(page, total int) error {
	if page < 0 || page >= total {
		return pdferr.InvalidPageNumber(page, total)
	}
	return nil
}

// loadPage validates page against the cached page count before touching
// the engine.
func loadPage(doc engine.Document, pageCount, page int) (engine.Page, error) {
	if err := ValidatePage(page, pageCount); err != nil {
		return nil, err
	}
	p, err := doc.LoadPage(page)
	if err != nil {
		return nil, fmt.Errorf("load page %d: %w", page, err)
	}
	return p, nil
}

// BoundsResult is the page rectangle in points.
type BoundsResult struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
}

func Bounds(doc engine.Document, pageCount, page int) (*BoundsResult, error) {
	p, err := loadPage(doc, pageCount, page)
	if err != nil {
		return nil, err
	}
	r, err := p.Bounds()
	if err != nil {
		return nil, fmt.Errorf("page bounds: %w", err)
	}
	return &BoundsResult{Width: r.Width(), Height: r.Height(), X0: r.X0, Y0: r.Y0}, nil
}

// TextFormat selects the serialization of extracted text.
type TextFormat string

const (
	FormatPlain TextFormat = "plain"
	FormatHTML  TextFormat = "html"
	FormatJSON  TextFormat = "json"
	FormatXML   TextFormat = "xml"
)

// ParseTextFormat validates a text format name. The empty string selects
// plain.
func ParseTextFormat(s string) (TextFormat, error) {
	switch TextFormat(s) {
	case "", FormatPlain:
		return FormatPlain, nil
	case FormatHTML, FormatJSON, FormatXML:
		return TextFormat(s), nil
	default:
		return "", pdferr.InvalidTextFormat(s)
	}
}

type TextResult struct {
	Text   string     `json:"text"`
	Format TextFormat `json:"format"`
}

// Text extracts the text of page in format. The format is validated by
// the caller with ParseTextFormat.
func Text(doc engine.Document, pageCount, page int, format TextFormat) (*TextResult, error) {
	p, err := loadPage(doc, pageCount, page)
	if err != nil {
		return nil, err
	}
	tp, err := p.TextPage()
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}

	var text string
	switch format {
	case FormatHTML:
		text = tp.HTML()
	case FormatJSON:
		text, err = tp.JSON()
	case FormatXML:
		text, err = tp.XML()
	default:
		text = PlainText(tp)
	}
	if err != nil {
		return nil, err
	}
	return &TextResult{Text: text, Format: format}, nil
}

// PlainText concatenates the glyphs of every line, ending each line with a
// newline and each block with one more.
func PlainText(tp *engine.TextPage) string {
	var sb strings.Builder
	for _, blk := range tp.Blocks {
		for _, ln := range blk.Lines {
			for _, c := range ln.Chars {
				sb.WriteRune(c.Rune)
			}
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Quad struct {
	UL Point `json:"ul"`
	UR Point `json:"ur"`
	LL Point `json:"ll"`
	LR Point `json:"lr"`
}

func toPoint(p engine.Point) Point { return Point{X: p.X, Y: p.Y} }

func toQuad(q engine.Quad) Quad {
	return Quad{UL: toPoint(q.UL), UR: toPoint(q.UR), LL: toPoint(q.LL), LR: toPoint(q.LR)}
}

type SearchResult struct {
	Hits []Quad `json:"hits"`
}

// Search returns the quads of up to MaxSearchHits matches of query.
func Search(doc engine.Document, pageCount, page int, query string) (*SearchResult, error) {
	p, err := loadPage(doc, pageCount, page)
	if err != nil {
		return nil, err
	}
	quads, err := p.Search(query, MaxSearchHits)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(quads) > MaxSearchHits {
		quads = quads[:MaxSearchHits]
	}

	hits := make([]Quad, 0, len(quads))
	for _, q := range quads {
		hits = append(hits, toQuad(q))
	}
	return &SearchResult{Hits: hits}, nil
}

// ValidateScale rejects non-finite, non-positive and excessive render
// scales. maxScale <= 0 disables the upper bound.
func ValidateScale(scale, maxScale float64) error {
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return pdferr.InvalidScale(scale)
	}
	if maxScale > 0 && scale > maxScale {
		return pdferr.InvalidArgument("scale %g exceeds the maximum of %g", scale, maxScale)
	}
	return nil
}
