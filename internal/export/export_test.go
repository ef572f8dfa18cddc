// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"

	"github.com/jeranaias/billdash/internal/report"
)

const sampleReport = `# Bill Summary

The **Clean Water Act** amendment adjusts *permit* thresholds.

## Legal Analysis

- Section 1 amends ` + "`33 U.S.C. 1251`" + `
- Section 2 adds reporting duties

1. first
2. second

> Quoted testimony from the hearing.

---

` + "```go\nfmt.Println(\"hi\")\n```\n"

func TestLegalGeometry(t *testing.T) {
	g := LegalGeometry()
	assert.Equal(t, 1248, g.ContentWidthPx())
	assert.Equal(t, 2304, g.ContentHeightPx())
	assert.Equal(t, 1632, g.PageWidthPx())
	assert.Equal(t, 2688, g.PageHeightPx())
	assert.Equal(t, 192, g.MarginPx())
	assert.Equal(t, 40, g.PaddingPx())
	assert.InDelta(t, 32.0, g.FontSizePx(), 1e-9)
}

func TestPageCount(t *testing.T) {
	g := LegalGeometry()
	h := g.ContentHeightPx()
	tests := []struct {
		height int
		want   int
	}{
		{0, 0},
		{1, 1},
		{h, 1},
		{h + 1, 2},
		{2 * h, 2},
		{2*h + 1, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.height), func(t *testing.T) {
			assert.Equal(t, tt.want, g.PageCount(tt.height))
		})
	}
}

func TestBandClampsLastPage(t *testing.T) {
	g := LegalGeometry()
	h := 2*g.ContentHeightPx() + 1

	y0, y1 := g.Band(0, h)
	assert.Equal(t, 0, y0)
	assert.Equal(t, 2304, y1)

	y0, y1 = g.Band(2, h)
	assert.Equal(t, 4608, y0)
	assert.Equal(t, 4609, y1)
}

func TestRasterize(t *testing.T) {
	g := LegalGeometry()
	img, err := Rasterize(sampleReport, g)
	require.NoError(t, err)

	assert.Equal(t, g.ContentWidthPx(), img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), 2*g.PaddingPx())

	// Padding stays white; something was drawn inside it.
	r, gg, b, _ := img.At(1, 1).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, gg, b})
	assert.True(t, hasInk(img), "expected glyphs on the surface")
}

func TestRasterizeErrors(t *testing.T) {
	g := LegalGeometry()

	_, err := Rasterize("", g)
	assert.ErrorIs(t, err, ErrEmptyReport)

	_, err = Rasterize("<!-- only a comment -->\n", g)
	assert.Error(t, err)

	_, err = Rasterize("text", Geometry{})
	assert.Error(t, err)
}

func TestPDFRenderWrapsRenderFailed(t *testing.T) {
	_, err := NewPDFExporter(LegalGeometry()).Render("<!-- only a comment -->\n")
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestRasterizeGrowsWithContent(t *testing.T) {
	g := LegalGeometry()
	short, err := Rasterize("one line", g)
	require.NoError(t, err)
	long, err := Rasterize(strings.Repeat("paragraph of text\n\n", 20), g)
	require.NoError(t, err)
	assert.Greater(t, long.Bounds().Dy(), short.Bounds().Dy())
}

func TestPagesPlacesBandsAtMargin(t *testing.T) {
	g := LegalGeometry()
	e := NewPDFExporter(g)
	raster := image.NewRGBA(image.Rect(0, 0, g.ContentWidthPx(), 2*g.ContentHeightPx()+1))
	for y := 0; y < raster.Bounds().Dy(); y++ {
		for x := 0; x < raster.Bounds().Dx(); x++ {
			raster.Set(x, y, color.Black)
		}
	}

	pages, err := e.Pages(raster)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	m := g.MarginPx()
	for _, p := range pages {
		assert.Equal(t, image.Rect(0, 0, 1632, 2688), p.Bounds())
		assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, p.RGBAAt(m-1, m-1))
		assert.Equal(t, color.RGBA{0, 0, 0, 0xff}, p.RGBAAt(m, m))
	}
	// The last band is a single row.
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, pages[2].RGBAAt(m, m+1))
}

func TestPDFExportSinglePage(t *testing.T) {
	pdf, err := NewPDFExporter(LegalGeometry()).Export(&Document{Markdown: sampleReport})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(pdf), "%PDF-"))

	n, err := PageCount(pdf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPDFExportPageCountMatchesRaster(t *testing.T) {
	g := LegalGeometry()
	md := strings.Repeat("A paragraph long enough to wrap across the content box at twelve points.\n\n", 60)

	raster, err := Rasterize(md, g)
	require.NoError(t, err)
	want := g.PageCount(raster.Bounds().Dy())
	require.Greater(t, want, 1)

	pdf, err := NewPDFExporter(g).Export(&Document{Markdown: md})
	require.NoError(t, err)

	n, err := PageCount(pdf)
	require.NoError(t, err)
	assert.Equal(t, want, n)
}

func TestPDFExportPagesAreLegalSize(t *testing.T) {
	md := strings.Repeat("A paragraph long enough to wrap across the content box at twelve points.\n\n", 60)
	pdf, err := NewPDFExporter(LegalGeometry()).Render(md)
	require.NoError(t, err)

	dims, err := PageDims(pdf)
	require.NoError(t, err)
	require.Greater(t, len(dims), 1)
	for i, d := range dims {
		assert.InDelta(t, 612.0, d.Width, 0.5, "page %d width", i+1)
		assert.InDelta(t, 1008.0, d.Height, 0.5, "page %d height", i+1)
	}
}

func TestComposePageClearsPreviousBand(t *testing.T) {
	g := LegalGeometry()
	e := NewPDFExporter(g)
	raster := image.NewRGBA(image.Rect(0, 0, g.ContentWidthPx(), 2*g.ContentHeightPx()+1))
	draw.Draw(raster, raster.Bounds(), image.Black, image.Point{}, draw.Src)

	page := e.newPage()
	m := g.MarginPx()
	e.composePage(page, raster, 0)
	require.Equal(t, color.RGBA{0, 0, 0, 0xff}, page.RGBAAt(m, m+1))

	e.composePage(page, raster, 2)
	assert.Equal(t, color.RGBA{0, 0, 0, 0xff}, page.RGBAAt(m, m))
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, page.RGBAAt(m, m+1))
}

func TestExportToFileWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.OutputDir = dir

	path, err := ExportToFile(&Document{Markdown: "# Report\n"}, NewMarkdownExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "legislativeReport.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Report")
}

type failingExporter struct{}

func (failingExporter) Export(*Document) ([]byte, error) { return nil, errors.New("boom") }
func (failingExporter) FileExtension() string             { return ".pdf" }
func (failingExporter) MimeType() string                  { return "application/pdf" }

func TestExportToFileFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.OutputDir = dir

	_, err := ExportToFile(&Document{Markdown: "x"}, failingExporter{}, opts)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportToFileEmptyReport(t *testing.T) {
	_, err := ExportToFile(&Document{}, NewMarkdownExporter(nil), &Options{OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrEmptyReport)
}

// blockingExporter holds Export until released.
type blockingExporter struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExporter) Export(d *Document) ([]byte, error) {
	close(b.started)
	<-b.release
	return []byte(d.Markdown), nil
}
func (b *blockingExporter) FileExtension() string { return ".md" }
func (b *blockingExporter) MimeType() string      { return "text/markdown" }

func TestServiceRejectsConcurrentExport(t *testing.T) {
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	svc := NewService(opts, nil)
	be := &blockingExporter{started: make(chan struct{}), release: make(chan struct{})}
	doc := &Document{Markdown: "body"}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = svc.Export(context.Background(), doc, be, nil, "")
	}()

	<-be.started
	assert.True(t, svc.InFlight())
	_, err := svc.Export(context.Background(), doc, NewMarkdownExporter(opts), nil, "")
	assert.ErrorIs(t, err, ErrExportInFlight)

	close(be.release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.False(t, svc.InFlight())
}

func TestServiceFinalSourceFetchesFinalKey(t *testing.T) {
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	opts.Source = SourceFinal
	svc := NewService(opts, nil)

	var asked string
	f := report.FetcherFunc(func(ctx context.Context, key string) (string, error) {
		asked = key
		return "# Final\n", nil
	})

	path, err := svc.Export(context.Background(), &Document{Markdown: "buffer text"}, NewMarkdownExporter(opts), f, "report-1")
	require.NoError(t, err)
	assert.Equal(t, "report-1", asked)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Final")
	assert.NotContains(t, string(data), "buffer text")
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, SourceBuffer, s)
	s, err = ParseSource("FINAL")
	require.NoError(t, err)
	assert.Equal(t, SourceFinal, s)
	_, err = ParseSource("disk")
	assert.Error(t, err)
}

func TestJSONExportIncludesFragments(t *testing.T) {
	doc := &Document{
		BillName: "hr1.pdf",
		JobID:    "job-1",
		Replicas: 2,
		Markdown: "AB",
		Fragments: []report.Fragment{
			{StageIndex: 0, Stage: "Preprocessing", Key: "bill-1", Text: "A"},
			{StageIndex: 1, Stage: "Legal and Compliance Agent", Key: "legal-1", Text: "B"},
		},
	}
	out, err := NewJSONExporter(nil).Export(doc)
	require.NoError(t, err)

	var decoded jsonDocument
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "Legislative Report: hr1", decoded.Title)
	require.Len(t, decoded.Fragments, 2)
	assert.Equal(t, "legal-1", decoded.Fragments[1].Key)
}

func TestForFormat(t *testing.T) {
	for format, ext := range map[string]string{"": ".pdf", "pdf": ".pdf", "md": ".md", ".html": ".html", "json": ".json"} {
		e, err := ForFormat(format, nil)
		require.NoError(t, err, format)
		assert.Equal(t, ext, e.FileExtension())
	}
	_, err := ForFormat("docx", nil)
	assert.Error(t, err)
}

func hasInk(img *image.RGBA) bool {
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] < 0x80 {
			return true
		}
	}
	return false
}
