package mupdf

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"

	"github.com/ironsheep/pdf-tools-mcp/internal/engine"
	"github.com/ironsheep/pdf-tools-mcp/internal/pdferr"
)

// Engine opens documents with MuPDF.
type Engine struct{}

// New returns a MuPDF-backed engine.
func New() *Engine {
	return &Engine{}
}

// OpenFile reads the file at path and opens it. PDFs are opened from
// memory so the glyph layer and decryption can reuse the bytes; other
// formats are handed to MuPDF by path so it can pick a handler from the
// extension.
func (e *Engine) OpenFile(path string) (engine.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if isPDF(data) {
		return openPDF(data)
	}

	fd, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	return &Document{doc: fd}, nil
}

// OpenBytes opens an in-memory document. magic selects the format when the
// payload is not a PDF.
func (e *Engine) OpenBytes(data []byte, magic string) (engine.Document, error) {
	if isPDF(data) {
		return openPDF(data)
	}
	if isPDFMagic(magic) {
		return nil, fmt.Errorf("failed to open document: no PDF header found")
	}

	// MuPDF only sniffs in-memory documents as PDF, so other formats go
	// through a temporary file whose extension selects the handler.
	f, err := os.CreateTemp("", "pdf-mcp-*"+extensionFor(magic))
	if err != nil {
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}

	fd, err := fitz.New(f.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	return &Document{doc: fd}, nil
}

func openPDF(data []byte) (*Document, error) {
	fd, err := fitz.NewFromMemory(data)
	if errors.Is(err, fitz.ErrNeedsPassword) {
		if fd != nil {
			fd.Close()
		}
		return &Document{data: data, pdf: true, locked: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	return &Document{doc: fd, data: data, pdf: true}, nil
}

func isPDF(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

func isPDFMagic(magic string) bool {
	m := strings.ToLower(magic)
	return m == "" || m == "application/pdf" || strings.HasSuffix(m, ".pdf")
}

var mimeExtensions = map[string]string{
	"application/epub+zip":           ".epub",
	"application/oxps":               ".oxps",
	"application/vnd.ms-xpsdocument": ".xps",
	"application/x-cbz":              ".cbz",
	"application/x-fictionbook":      ".fb2",
	"application/x-mobipocket-ebook": ".mobi",
	"image/svg+xml":                  ".svg",
	"image/png":                      ".png",
	"image/jpeg":                     ".jpg",
	"image/tiff":                     ".tiff",
	"text/plain":                     ".txt",
}

// extensionFor maps a MIME type or filename hint to a file extension.
func extensionFor(magic string) string {
	m := strings.ToLower(strings.TrimSpace(magic))
	if ext, ok := mimeExtensions[m]; ok {
		return ext
	}
	return filepath.Ext(m)
}

// Document is a MuPDF document handle.
type Document struct {
	doc *fitz.Document

	// data holds the PDF bytes (decrypted once authenticated); nil for
	// other formats.
	data   []byte
	pdf    bool
	locked bool

	glyphs *glyphSource
}

func (d *Document) NeedsPassword() bool { return d.locked }

// Authenticate decrypts the document with password and reopens it.
func (d *Document) Authenticate(password string) (bool, error) {
	if !d.locked {
		return true, nil
	}

	plain, err := decrypt(d.data, password)
	if errors.Is(err, errWrongPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	fd, err := fitz.NewFromMemory(plain)
	if errors.Is(err, fitz.ErrNeedsPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to reopen decrypted document: %w", err)
	}

	d.doc = fd
	d.data = plain
	d.glyphs = nil
	d.locked = false
	return true, nil
}

func (d *Document) IsPDF() bool { return d.pdf }

func (d *Document) glyphSource() *glyphSource {
	if d.glyphs == nil {
		d.glyphs = newGlyphSource(d.data)
	}
	return d.glyphs
}

func (d *Document) handle() (*fitz.Document, error) {
	if d.locked {
		return nil, pdferr.PasswordRequired()
	}
	if d.doc == nil {
		return nil, pdferr.Internal("document is closed")
	}
	return d.doc, nil
}

func (d *Document) PageCount() (int, error) {
	fd, err := d.handle()
	if err != nil {
		return 0, err
	}
	return fd.NumPage(), nil
}

func (d *Document) Metadata() (engine.Metadata, error) {
	fd, err := d.handle()
	if err != nil {
		return engine.Metadata{}, err
	}
	m := fd.Metadata()
	return engine.Metadata{
		Title:            m["title"],
		Author:           m["author"],
		Subject:          m["subject"],
		Keywords:         m["keywords"],
		Creator:          m["creator"],
		Producer:         m["producer"],
		CreationDate:     m["creationDate"],
		ModificationDate: m["modDate"],
	}, nil
}

// Outlines rebuilds the outline tree from MuPDF's flattened, level-tagged
// table of contents.
func (d *Document) Outlines() ([]engine.Outline, error) {
	fd, err := d.handle()
	if err != nil {
		return nil, err
	}
	toc, err := fd.ToC()
	if errors.Is(err, fitz.ErrLoadOutline) {
		return []engine.Outline{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load outline: %w", err)
	}

	flat := make([]flatOutline, 0, len(toc))
	for _, o := range toc {
		page := o.Page
		if page < 0 {
			page = -1
		}
		flat = append(flat, flatOutline{
			level: o.Level,
			node:  engine.Outline{Title: o.Title, URI: o.URI, Page: page},
		})
	}
	return buildOutlineTree(flat), nil
}

type flatOutline struct {
	level int
	node  engine.Outline
}

// buildOutlineTree nests a preorder list of entries by level. An entry
// becomes a child of the nearest preceding entry with a smaller level.
func buildOutlineTree(flat []flatOutline) []engine.Outline {
	var build func(i, parentLevel int) ([]engine.Outline, int)
	build = func(i, parentLevel int) ([]engine.Outline, int) {
		nodes := []engine.Outline{}
		for i < len(flat) && flat[i].level > parentLevel {
			node := flat[i].node
			level := flat[i].level
			node.Children, i = build(i+1, level)
			nodes = append(nodes, node)
		}
		return nodes, i
	}

	if len(flat) == 0 {
		return []engine.Outline{}
	}
	minLevel := flat[0].level
	for _, f := range flat {
		minLevel = min(minLevel, f.level)
	}
	tree, _ := build(0, minLevel-1)
	return tree
}

func (d *Document) LoadPage(n int) (engine.Page, error) {
	fd, err := d.handle()
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= fd.NumPage() {
		return nil, fmt.Errorf("page %d: %w", n, fitz.ErrPageMissing)
	}
	return &Page{doc: d, n: n}, nil
}

func (d *Document) Close() error {
	d.glyphs = nil
	d.data = nil
	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}

// Page is a page of a MuPDF document.
type Page struct {
	doc *Document
	n   int
}

// Bounds returns the page size in points with the origin at the top-left
// corner, as MuPDF lays pages out. For PDFs the size comes from the page's
// CropBox (clipped to its MediaBox) and keeps its fractional part; MuPDF's
// own bounds are only reported in whole points.
func (p *Page) Bounds() (engine.Rect, error) {
	fd, err := p.doc.handle()
	if err != nil {
		return engine.Rect{}, err
	}
	if p.doc.pdf {
		box, rotate, err := p.doc.glyphSource().pageBox(p.n)
		if err == nil {
			w, h := box.Width(), box.Height()
			if rotate == 90 || rotate == 270 {
				w, h = h, w
			}
			return engine.Rect{X0: 0, Y0: 0, X1: w, Y1: h}, nil
		}
		// MuPDF repairs files the glyph parser cannot read.
	}
	r, err := fd.Bound(p.n)
	if err != nil {
		return engine.Rect{}, fmt.Errorf("failed to get page bounds: %w", err)
	}
	return engine.Rect{
		X0: float64(r.Min.X),
		Y0: float64(r.Min.Y),
		X1: float64(r.Max.X),
		Y1: float64(r.Max.Y),
	}, nil
}

// TextPage extracts the page's glyphs from the PDF content stream.
func (p *Page) TextPage() (*engine.TextPage, error) {
	if !p.doc.pdf {
		return nil, pdferr.NotAPdf()
	}
	bounds, err := p.Bounds()
	if err != nil {
		return nil, err
	}
	src := p.doc.glyphSource()
	box, _, err := src.pageBox(p.n)
	if err != nil {
		box = engine.Rect{X1: bounds.Width(), Y1: bounds.Height()}
	}
	glyphs, err := src.page(p.n, box)
	if err != nil {
		return nil, err
	}
	return engine.Layout(bounds, glyphs), nil
}

func (p *Page) Search(needle string, maxHits int) ([]engine.Quad, error) {
	tp, err := p.TextPage()
	if err != nil {
		return nil, err
	}
	return tp.Search(needle, maxHits), nil
}

// Pixmap renders the page at 72*scale DPI. The raster is
// round(scale * w) by round(scale * h) pixels, where w and h are the page
// size rounded up to whole pixels at scale 1, so doubling the scale always
// doubles both dimensions.
func (p *Page) Pixmap(scale float64) (*image.RGBA, error) {
	fd, err := p.doc.handle()
	if err != nil {
		return nil, err
	}
	bounds, err := p.Bounds()
	if err != nil {
		return nil, err
	}
	img, err := fd.ImageDPI(p.n, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}

	want := rasterSize(bounds, scale)
	if img.Bounds().Size() == want {
		return img, nil
	}
	// MuPDF rounds each edge outward at the target DPI, which can be a
	// pixel off the scaled base size.
	resized := imaging.Resize(img, want.X, want.Y, imaging.Lanczos)
	out := image.NewRGBA(image.Rect(0, 0, want.X, want.Y))
	draw.Draw(out, out.Bounds(), resized, resized.Bounds().Min, draw.Src)
	return out, nil
}

// rasterSize is the pixel size of a page with bounds rendered at scale.
func rasterSize(bounds engine.Rect, scale float64) image.Point {
	// Same rounding as MuPDF's fz_round_rect at 72 DPI.
	baseW := math.Ceil(bounds.Width() - 0.001)
	baseH := math.Ceil(bounds.Height() - 0.001)
	return image.Pt(
		max(1, int(math.Round(scale*baseW))),
		max(1, int(math.Round(scale*baseH))),
	)
}

func (p *Page) Links() ([]engine.Link, error) {
	fd, err := p.doc.handle()
	if err != nil {
		return nil, err
	}
	links, err := fd.Links(p.n)
	if err != nil {
		return nil, fmt.Errorf("failed to load links: %w", err)
	}
	out := make([]engine.Link, 0, len(links))
	for _, l := range links {
		out = append(out, engine.Link{URI: l.URI})
	}
	return out, nil
}
