package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// FormatPNG is the only raster encoding offered to clients.
const FormatPNG = "png"

// Rendered is an encoded page raster.
type Rendered struct {
	// Image is the base64-encoded PNG.
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// EncodePNG flattens img onto bg and encodes it as base64 PNG.
//
// Parameters:
//   - img: The page raster. Any alpha is composited onto bg.
//   - bg: The background colour; should be opaque.
//
// Returns:
//   - *Rendered: The encoded image with its pixel dimensions.
//   - error: Non-nil if img is empty or PNG encoding fails.
//
// # Output Format
//
// Because the flattened image is fully opaque, the PNG encoder writes an
// 8-bit RGB (truecolor) image with no alpha channel.
func EncodePNG(img image.Image, bg color.Color) (*Rendered, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("cannot encode empty image")
	}

	flat := imaging.New(b.Dx(), b.Dy(), bg)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode page image: %w", err)
	}

	return &Rendered{
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: FormatPNG,
	}, nil
}
