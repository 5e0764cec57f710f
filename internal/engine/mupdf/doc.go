// Package mupdf implements the engine interfaces on top of MuPDF.
//
// Rasterization, page bounds, outlines, metadata and links come from
// MuPDF through go-fitz. Two gaps in go-fitz are filled by pure-Go
// libraries:
//
//   - go-fitz cannot authenticate an encrypted PDF, so a locked document is
//     decrypted with pdfcpu using the supplied password and reopened.
//   - go-fitz does not expose MuPDF's structured text, so glyph positions
//     for text extraction and search come from ledongthuc/pdf and are laid
//     out with engine.Layout. This path is PDF-only; other formats report
//     pdferr.KindNotAPdf for text operations.
//   - go-fitz reports page bounds in whole points, so PDF page sizes are
//     read from the page's CropBox and MediaBox with ledongthuc/pdf.
//     Rasters are sized from those bounds and resized by a pixel where
//     MuPDF's rounding disagrees.
//
// Non-PDF formats (EPUB, XPS, CBZ, FB2, images) are opened by MuPDF from a
// temporary file whose extension is derived from the caller's format hint.
package mupdf
