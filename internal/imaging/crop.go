package imaging

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// PageRegion is a rectangle in page points, top-left origin.
type PageRegion struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Validate rejects non-finite and inverted regions.
func (r PageRegion) Validate() error {
	for _, v := range []float64{r.X0, r.Y0, r.X1, r.Y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("clip coordinates must be finite")
		}
	}
	if r.X0 >= r.X1 || r.Y0 >= r.Y1 {
		return fmt.Errorf("invalid clip region (%g,%g)-(%g,%g): x0 must be < x1 and y0 must be < y1",
			r.X0, r.Y0, r.X1, r.Y1)
	}
	return nil
}

// Pixels converts r to the pixel rectangle covering it in a raster
// rendered at scale. Partially covered pixels are included.
func (r PageRegion) Pixels(scale float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X0*scale)),
		int(math.Floor(r.Y0*scale)),
		int(math.Ceil(r.X1*scale)),
		int(math.Ceil(r.Y1*scale)),
	)
}

// Clip extracts the part of img inside rect. Parts of rect outside img are
// dropped; a rect that misses img entirely is an error.
//
// The returned image's bounds start at (0, 0).
func Clip(img image.Image, rect image.Rectangle) (image.Image, error) {
	bounds := img.Bounds()
	visible := rect.Intersect(bounds)
	if visible.Empty() {
		return nil, fmt.Errorf("clip region (%d,%d)-(%d,%d) lies outside the page (%d,%d)-(%d,%d)",
			rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y,
			bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	return imaging.Crop(img, visible), nil
}
