// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import "math"

// Geometry describes the page the report is rendered onto. Lengths in
// points are PDF units (1/72 in); pixel lengths are device pixels of the
// rasterized surface.
type Geometry struct {
	PageWidthPt  float64
	PageHeightPt float64
	MarginPt     float64

	// PixelRatio converts points to CSS pixels (96/72).
	PixelRatio float64
	// Scale is the device-pixel multiplier applied on top of PixelRatio.
	Scale float64

	// PaddingCSS is the inner padding of the content box in CSS pixels.
	PaddingCSS float64
	// FontSizePt is the body font size.
	FontSizePt float64
}

// LegalGeometry returns US legal paper with one-inch margins, rendered at
// 2x the CSS pixel density.
func LegalGeometry() Geometry {
	return Geometry{
		PageWidthPt:  612,
		PageHeightPt: 1008,
		MarginPt:     72,
		PixelRatio:   96.0 / 72.0,
		Scale:        2,
		PaddingCSS:   20,
		FontSizePt:   12,
	}
}

// PxPerPt is the number of device pixels per point.
func (g Geometry) PxPerPt() float64 { return g.PixelRatio * g.Scale }

func (g Geometry) px(pt float64) int { return int(math.Round(pt * g.PxPerPt())) }

// ContentWidthPt is the printable width in points.
func (g Geometry) ContentWidthPt() float64 { return g.PageWidthPt - 2*g.MarginPt }

// ContentHeightPt is the printable height in points.
func (g Geometry) ContentHeightPt() float64 { return g.PageHeightPt - 2*g.MarginPt }

// ContentWidthPx is the raster width of the content box.
func (g Geometry) ContentWidthPx() int { return g.px(g.ContentWidthPt()) }

// ContentHeightPx is the raster height of one page's content band.
func (g Geometry) ContentHeightPx() int { return g.px(g.ContentHeightPt()) }

// PageWidthPx is the raster width of a full page.
func (g Geometry) PageWidthPx() int { return g.px(g.PageWidthPt) }

// PageHeightPx is the raster height of a full page.
func (g Geometry) PageHeightPx() int { return g.px(g.PageHeightPt) }

// MarginPx is the margin in device pixels.
func (g Geometry) MarginPx() int { return g.px(g.MarginPt) }

// PaddingPx is the content padding in device pixels.
func (g Geometry) PaddingPx() int { return int(math.Round(g.PaddingCSS * g.Scale)) }

// FontSizePx is the body font size in device pixels.
func (g Geometry) FontSizePx() float64 { return g.FontSizePt * g.PxPerPt() }

// PageCount is the number of pages a raster of heightPx needs.
func (g Geometry) PageCount(heightPx int) int {
	band := g.ContentHeightPx()
	if heightPx <= 0 || band <= 0 {
		return 0
	}
	return (heightPx + band - 1) / band
}

// Band returns the rows [y0, y1) of page i. The last band is clamped to
// heightPx.
func (g Geometry) Band(i, heightPx int) (y0, y1 int) {
	band := g.ContentHeightPx()
	y0 = i * band
	y1 = y0 + band
	if y1 > heightPx {
		y1 = heightPx
	}
	if y0 > y1 {
		y0 = y1
	}
	return y0, y1
}
