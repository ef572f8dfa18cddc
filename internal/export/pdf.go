// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/draw"
)

// =============================================================================
// PDF EXPORTER
// =============================================================================

var pdfcpuInit sync.Once

// pdfConfig returns a pdfcpu configuration that never touches the user's
// config directory.
func pdfConfig() *model.Configuration {
	pdfcpuInit.Do(api.DisableConfigDir)
	return model.NewDefaultConfiguration()
}

// PDFExporter rasterizes the report and paginates it onto legal paper.
type PDFExporter struct {
	geom Geometry
}

// NewPDFExporter creates a PDF exporter for the given page geometry.
func NewPDFExporter(geom Geometry) *PDFExporter {
	return &PDFExporter{geom: geom}
}

// Geometry returns the exporter's page geometry.
func (e *PDFExporter) Geometry() Geometry { return e.geom }

// Export renders doc.Markdown to a multi-page PDF.
func (e *PDFExporter) Export(doc *Document) ([]byte, error) {
	if doc.Empty() {
		return nil, ErrEmptyReport
	}
	return e.Render(doc.Markdown)
}

// Render rasterizes markdown and writes one legal page per content band.
// Page 1 starts at the top of the raster; each later page continues where
// the previous band ended. Pages are encoded one at a time on a single
// page surface.
func (e *PDFExporter) Render(markdown string) ([]byte, error) {
	raster, err := Rasterize(markdown, e.geom)
	if err != nil {
		return nil, fmt.Errorf("%w: rasterize: %w", ErrRenderFailed, err)
	}

	n := e.geom.PageCount(raster.Bounds().Dy())
	if n == 0 {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, errNothingToRender)
	}

	page := e.newPage()
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	imgs := make([]io.Reader, 0, n)
	for i := 0; i < n; i++ {
		e.composePage(page, raster, i)
		var buf bytes.Buffer
		if err := enc.Encode(&buf, page); err != nil {
			return nil, fmt.Errorf("%w: encode page %d: %w", ErrRenderFailed, i+1, err)
		}
		imgs = append(imgs, &buf)
	}

	// Each page image has the page's aspect ratio, so a relative scale of 1
	// fills the legal page exactly.
	imp := pdfcpu.DefaultImportConfig()
	imp.PageDim = types.PaperSize["Legal"]
	imp.PageSize = "Legal"
	imp.Pos = types.Center
	imp.Scale = 1.0
	imp.ScaleAbs = false

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, imgs, imp, pdfConfig()); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return out.Bytes(), nil
}

// Pages slices raster into content bands and places each band on a white
// full-page surface at the margin offset.
func (e *PDFExporter) Pages(raster *image.RGBA) ([]*image.RGBA, error) {
	n := e.geom.PageCount(raster.Bounds().Dy())
	if n == 0 {
		return nil, errNothingToRender
	}

	pages := make([]*image.RGBA, 0, n)
	for i := 0; i < n; i++ {
		page := e.newPage()
		e.composePage(page, raster, i)
		pages = append(pages, page)
	}
	return pages, nil
}

func (e *PDFExporter) newPage() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, e.geom.PageWidthPx(), e.geom.PageHeightPx()))
}

// composePage clears page to white and draws band i of raster at the margin.
func (e *PDFExporter) composePage(page, raster *image.RGBA, i int) {
	draw.Draw(page, page.Bounds(), image.White, image.Point{}, draw.Src)

	m := e.geom.MarginPx()
	origin := raster.Bounds().Min
	y0, y1 := e.geom.Band(i, raster.Bounds().Dy())
	dst := image.Rect(m, m, m+raster.Bounds().Dx(), m+(y1-y0))
	draw.Draw(page, dst, raster, image.Pt(origin.X, origin.Y+y0), draw.Src)
}

// PageDims returns the size of every page of a PDF document, in points.
func PageDims(pdf []byte) ([]types.Dim, error) {
	return api.PageDims(bytes.NewReader(pdf), pdfConfig())
}

// FileExtension returns the file extension for PDF.
func (e *PDFExporter) FileExtension() string {
	return ".pdf"
}

// MimeType returns the MIME type for PDF.
func (e *PDFExporter) MimeType() string {
	return "application/pdf"
}

// PageCount returns the number of pages in a PDF document.
func PageCount(pdf []byte) (int, error) {
	return api.PageCount(bytes.NewReader(pdf), pdfConfig())
}
