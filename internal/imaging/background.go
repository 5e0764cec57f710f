package imaging

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultBackground is the colour transparent page areas are flattened onto.
const DefaultBackground = "#ffffff"

// ParseBackground parses a CSS-style hex colour ("#rrggbb" or "#rgb", the
// leading '#' optional) into an opaque colour.
//
// Page rasters are delivered as RGB, so any alpha is discarded: the result
// always has A = 255.
//
// # Errors
//
//   - Returns error if hex is empty
//   - Returns error if hex is not a 3 or 6 digit hexadecimal colour
func ParseBackground(hex string) (color.NRGBA, error) {
	hex = strings.TrimSpace(hex)
	if hex == "" {
		return color.NRGBA{}, fmt.Errorf("empty color string")
	}
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}
	if len(hex) != 4 && len(hex) != 7 {
		return color.NRGBA{}, fmt.Errorf("invalid background color %q: want #rgb or #rrggbb", hex)
	}

	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid background color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}
