// Package ocr provides Optical Character Recognition (OCR) for rendered pages
// using Tesseract.
//
// This package wraps the Tesseract OCR engine (via gosseract/v2) to read text
// from page rasters, which is the only way to get text out of scanned PDFs
// whose pages carry no glyphs. Rasters are preprocessed with bild (grayscale
// and a contrast stretch) before recognition.
//
// # Prerequisites
//
// Tesseract and its development headers must be installed on the system:
//   - Ubuntu/Debian: apt-get install libtesseract-dev tesseract-ocr
//   - macOS: brew install tesseract
//
// Language data files are required for each language:
//   - Ubuntu/Debian: apt-get install tesseract-ocr-eng (for English)
//   - Other languages: tesseract-ocr-<lang> packages
//
// A custom tessdata directory can be supplied through Options.TessdataPrefix.
//
// # Supported Languages
//
// The default language is English ("eng"). Other languages can be specified
// using their Tesseract language codes:
//   - "eng" - English
//   - "deu" - German
//   - "fra" - French
//   - "eng+deu" - several languages at once
//
// # Coordinates
//
// Word bounds are in the pixel space of the raster that was recognized. For
// a page rendered at scale s, divide by s to get page points.
//
// # Error Handling
//
// Recognize returns errors for:
//   - Unsupported language codes
//   - Tesseract initialization failures
//   - Image encoding failures
//
// If bounding box extraction fails (e.g., Tesseract version mismatch),
// Recognize still returns the extracted text with an empty Words slice.
package ocr
