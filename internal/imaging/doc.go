// Package imaging turns page rasters into the images returned by the MCP
// server.
//
// This package flattens and encodes rendered pages, clips them to a page
// region, overlays coordinate grids, and caches encoded renders. All
// operations work with standard Go image.Image types and use a coordinate
// system where (0,0) is at the top-left corner, X increases rightward, and
// Y increases downward.
//
// # Coordinate System
//
// Two units appear in this package:
//   - Page points (PageRegion, GridOptions.Spacing): 1/72 inch, the unit of
//     page bounds, text boxes and search hits
//   - Pixels (image.Rectangle): points multiplied by the render scale
//
// For regions, (x0,y0) is inclusive (top-left) and (x1,y1) is exclusive
// (bottom-right).
//
// # Thread Safety
//
// The RenderCache type is safe for concurrent use. Image operations are
// stateless and never modify their input, so they can run outside the
// session store's lock.
//
// # Colors
//
// Background colours are hex strings ("#fff" or "#ffffff") parsed with
// go-colorful. Transparent areas of a render are composited onto the
// background before PNG encoding, so every returned image is opaque.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Clip regions that are inverted or lie outside the page
//   - Non-positive grid spacing
//   - Malformed colour strings
//   - Encoding errors during image output
package imaging
