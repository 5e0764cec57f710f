// Package engine defines the document-engine boundary used by the PDF tools.
//
// The tools never talk to a rendering library directly. They see three
// interfaces:
//
//   - Engine opens documents from a path or from memory.
//   - Document is an open handle: password state, page count, metadata,
//     outline and page access.
//   - Page exposes bounds, structured text, search, rasterization and links.
//
// The production implementation lives in the mupdf subpackage. Tests use
// the scripted fake in enginetest.
//
// # Coordinates
//
// All geometry is in page space, in points (1/72 inch), with the origin at
// the top-left corner of the page and y growing downward. A Quad carries
// four corners so rotated text can be described; for horizontal text it is
// the glyph box.
//
// # Structured text
//
// TextPage is the engine-neutral model of a page's text: blocks of lines of
// glyphs in reading order. Backends that only expose positioned glyphs build
// it with Layout. TextPage also carries the HTML, JSON and XML
// serializations and the case-insensitive page search, so every backend
// produces the same shapes.
//
// # Thread safety
//
// Documents and pages are not safe for concurrent use. Callers are expected
// to confine every handle to a single critical section at a time; the
// session package provides that guarantee.
package engine
