package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/otiai10/gosseract/v2"
)

// DefaultLanguage is the Tesseract language used when none is configured.
const DefaultLanguage = "eng"

// Bounds represents a rectangular bounding box in pixel coordinates.
type Bounds struct {
	X1 int `json:"x1"` // Left edge
	Y1 int `json:"y1"` // Top edge
	X2 int `json:"x2"` // Right edge
	Y2 int `json:"y2"` // Bottom edge
}

// Word is a recognized word with its location and OCR confidence.
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Bounds     Bounds  `json:"bounds"`
}

// Result contains the complete results of text recognition on a raster.
type Result struct {
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// Options configures a recognition run.
type Options struct {
	// Language is a Tesseract language code such as "eng" or "deu+eng".
	Language string

	// TessdataPrefix overrides the directory holding *.traineddata files.
	TessdataPrefix string

	// MinConfidence drops words below this confidence (0.0-1.0).
	MinConfidence float64
}

// Preprocess prepares a page raster for recognition: it converts the image
// to grayscale and stretches the contrast, which helps Tesseract with the
// anti-aliased glyph edges typical of rendered pages.
func Preprocess(img image.Image) image.Image {
	gray := effect.Grayscale(img)
	return adjust.Contrast(gray, 0.3)
}

// Recognize performs OCR on img and returns the recognized text with
// word-level bounding boxes in img's pixel coordinates.
//
// Parameters:
//   - img: The raster to recognize, typically a rendered page.
//   - opts: Language, tessdata location and confidence filter.
//
// Returns:
//   - *Result: The full text and the words found.
//   - error: Non-nil if Tesseract cannot be initialized or recognition fails.
//
// If bounding box extraction fails, Recognize still returns the text with
// an empty Words slice.
//
// # Performance
//
// Recognition is slow compared to rendering. Callers should run it outside
// any lock that serializes document access.
func Recognize(img image.Image, opts Options) (*Result, error) {
	lang := opts.Language
	if lang == "" {
		lang = DefaultLanguage
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, Preprocess(img)); err != nil {
		return nil, fmt.Errorf("failed to encode image for OCR: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if opts.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(opts.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return &Result{Text: text, Words: []Word{}}, nil
	}

	offset := img.Bounds().Min
	return &Result{Text: text, Words: wordsFromBoxes(boxes, opts.MinConfidence, offset)}, nil
}

// wordsFromBoxes converts Tesseract boxes to words, dropping empty words
// and words below minConfidence, and shifting boxes by offset.
func wordsFromBoxes(boxes []gosseract.BoundingBox, minConfidence float64, offset image.Point) []Word {
	words := make([]Word, 0, len(boxes))
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		confidence := float64(box.Confidence) / 100.0
		if confidence < minConfidence {
			continue
		}
		words = append(words, Word{
			Text:       box.Word,
			Confidence: confidence,
			Bounds: Bounds{
				X1: box.Box.Min.X + offset.X,
				Y1: box.Box.Min.Y + offset.Y,
				X2: box.Box.Max.X + offset.X,
				Y2: box.Box.Max.Y + offset.Y,
			},
		})
	}
	return words
}

// Version returns the linked Tesseract version.
func Version() string {
	client := gosseract.NewClient()
	defer client.Close()
	return client.Version()
}
