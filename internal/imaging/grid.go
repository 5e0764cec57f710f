package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// GridColor is the colour of grid lines: semi-transparent red.
var GridColor = color.NRGBA{R: 255, A: 128}

// GridOptions configures DrawGrid.
type GridOptions struct {
	// Spacing is the distance between grid lines in page points.
	Spacing float64

	// Scale is the render scale of the raster (pixels per point).
	Scale float64

	// Labels draws the page coordinates of each intersection.
	Labels bool
}

// DrawGrid overlays a coordinate grid on a page raster. Lines are placed
// every Spacing points of page space, so a client can read positions off
// the image in the same units that bounds, search hits and text blocks use.
//
// Parameters:
//   - img: The page raster, with (0,0) at the top-left corner of the page.
//   - opts: Spacing and render scale. Spacing must be positive.
//
// Returns:
//   - *image.NRGBA: A copy of img with the grid drawn on top.
//   - error: Non-nil if the spacing is not a positive finite number.
//
// # Labels
//
// With Labels set, each intersection is annotated "x,y" in points using a
// 7x13 bitmap font on a dark backdrop. Labels are skipped where the grid
// is too dense for them to fit.
func DrawGrid(img image.Image, opts GridOptions) (*image.NRGBA, error) {
	if math.IsNaN(opts.Spacing) || math.IsInf(opts.Spacing, 0) || opts.Spacing <= 0 {
		return nil, fmt.Errorf("grid spacing must be a positive number, got %g", opts.Spacing)
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}

	bounds := img.Bounds()
	result := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(result, result.Bounds(), img, bounds.Min, draw.Src)

	step := opts.Spacing * scale
	if step < 2 {
		// Lines would cover the whole page.
		return result, nil
	}

	width, height := result.Bounds().Dx(), result.Bounds().Dy()
	line := image.NewUniform(GridColor)

	var xs, ys []int
	for v := step; v < float64(width); v += step {
		x := int(math.Round(v))
		xs = append(xs, x)
		draw.Draw(result, image.Rect(x, 0, x+1, height), line, image.Point{}, draw.Over)
	}
	for v := step; v < float64(height); v += step {
		y := int(math.Round(v))
		ys = append(ys, y)
		draw.Draw(result, image.Rect(0, y, width, y+1), line, image.Point{}, draw.Over)
	}

	if opts.Labels {
		labelGrid(result, xs, ys, scale)
	}
	return result, nil
}

var (
	labelFG = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	labelBG = color.NRGBA{A: 180}
)

// labelGrid writes the page coordinates next to each intersection.
func labelGrid(img *image.NRGBA, xs, ys []int, scale float64) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	lineHeight := (metrics.Ascent + metrics.Descent).Ceil()

	d := &font.Drawer{Dst: img, Src: image.NewUniform(labelFG), Face: face}

	for _, y := range ys {
		for _, x := range xs {
			label := formatPoint(float64(x)/scale) + "," + formatPoint(float64(y)/scale)
			w := d.MeasureString(label).Ceil()

			// Skip labels that would run into the next grid line.
			if len(xs) > 1 && w+4 > xs[1]-xs[0] {
				return
			}
			if len(ys) > 1 && lineHeight+4 > ys[1]-ys[0] {
				return
			}

			box := image.Rect(x+2, y+2, x+4+w, y+3+lineHeight)
			draw.Draw(img, box, image.NewUniform(labelBG), image.Point{}, draw.Over)
			d.Dot = fixed.P(x+3, y+2+metrics.Ascent.Ceil())
			d.DrawString(label)
		}
	}
}

func formatPoint(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}
