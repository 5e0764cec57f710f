package engine

import (
	"image"
)

// Engine opens documents. Implementations must be safe to call from one
// goroutine at a time; callers serialize access through the session store.
type Engine interface {
	// OpenFile opens the document at path. The format is detected from the
	// file contents and extension.
	OpenFile(path string) (Document, error)

	// OpenBytes opens an in-memory document. magic is a MIME type or a
	// filename whose extension selects the format; "application/pdf" when
	// the caller has no better hint.
	OpenBytes(data []byte, magic string) (Document, error)
}

// Document is an open document handle. A Document is not safe for
// concurrent use and must be closed exactly once.
type Document interface {
	// NeedsPassword reports whether the document is encrypted and has not
	// been authenticated yet.
	NeedsPassword() bool

	// Authenticate tries password. It returns false with a nil error when
	// the password is rejected.
	Authenticate(password string) (bool, error)

	// IsPDF reports whether the underlying format is PDF.
	IsPDF() bool

	PageCount() (int, error)
	Metadata() (Metadata, error)
	Outlines() ([]Outline, error)

	// LoadPage returns page n (0-based). Pages borrow the document and must
	// not be used after it is closed.
	LoadPage(n int) (Page, error)

	Close() error
}

// Page is a single page of a Document.
type Page interface {
	Bounds() (Rect, error)

	// TextPage extracts the structured glyph stream of the page.
	TextPage() (*TextPage, error)

	// Search returns up to maxHits quads covering case-insensitive matches
	// of needle, in reading order.
	Search(needle string, maxHits int) ([]Quad, error)

	// Pixmap rasterizes the page. scale 1.0 corresponds to 72 DPI.
	Pixmap(scale float64) (*image.RGBA, error)

	// Links returns the link annotations of the page.
	Links() ([]Link, error)
}

// Point is a position in page space: origin at the top-left, y grows down.
type Point struct {
	X float64
	Y float64
}

// Rect is an axis-aligned rectangle in page space.
type Rect struct {
	X0, Y0 float64
	X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// IsEmpty reports whether r encloses no area.
func (r Rect) IsEmpty() bool { return r.X0 >= r.X1 || r.Y0 >= r.Y1 }

// Union returns the smallest rectangle containing r and o. An empty
// receiver yields o.
func (r Rect) Union(o Rect) Rect {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	return Rect{
		X0: min(r.X0, o.X0),
		Y0: min(r.Y0, o.Y0),
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
	}
}

// Quad is a possibly rotated quadrilateral: upper-left, upper-right,
// lower-left and lower-right corners.
type Quad struct {
	UL, UR Point
	LL, LR Point
}

// Rect returns the bounding box of q.
func (q Quad) Rect() Rect {
	return Rect{
		X0: min(q.UL.X, q.LL.X, q.UR.X, q.LR.X),
		Y0: min(q.UL.Y, q.UR.Y, q.LL.Y, q.LR.Y),
		X1: max(q.UL.X, q.LL.X, q.UR.X, q.LR.X),
		Y1: max(q.UL.Y, q.UR.Y, q.LL.Y, q.LR.Y),
	}
}

// QuadFromRect returns the axis-aligned quad of r.
func QuadFromRect(r Rect) Quad {
	return Quad{
		UL: Point{r.X0, r.Y0},
		UR: Point{r.X1, r.Y0},
		LL: Point{r.X0, r.Y1},
		LR: Point{r.X1, r.Y1},
	}
}

// Outline is a node of the document outline (table of contents).
type Outline struct {
	Title string

	// URI is the raw link target; internal destinations usually look like
	// "#page=3".
	URI string

	// Page is the resolved 0-based destination page, or -1 when the entry
	// has no in-document destination.
	Page int

	Children []Outline
}

// Metadata holds the document information dictionary. Missing values are
// empty strings.
type Metadata struct {
	Title            string
	Author           string
	Subject          string
	Keywords         string
	Creator          string
	Producer         string
	CreationDate     string
	ModificationDate string
}

// Link is a link annotation on a page.
type Link struct {
	URI string
}
