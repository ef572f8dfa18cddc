// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// MaxRasterPages bounds the height of a rendered surface.
const MaxRasterPages = 40

var (
	errNothingToRender = errors.New("markdown produced no renderable content")
	errSurfaceTooLarge = errors.New("rendered report exceeds maximum surface size")
)

// =============================================================================
// FONTS
// =============================================================================

type fontStyle uint8

const (
	styleBold fontStyle = 1 << iota
	styleItalic
	styleMono
)

var (
	fontsOnce sync.Once
	fontSet   map[fontStyle]*opentype.Font
	fontsErr  error
)

func loadFonts() (map[fontStyle]*opentype.Font, error) {
	fontsOnce.Do(func() {
		src := map[fontStyle][]byte{
			0:                       goregular.TTF,
			styleBold:               gobold.TTF,
			styleItalic:             goitalic.TTF,
			styleBold | styleItalic: gobolditalic.TTF,
			styleMono:               gomono.TTF,
		}
		set := make(map[fontStyle]*opentype.Font, len(src))
		for k, ttf := range src {
			f, err := opentype.Parse(ttf)
			if err != nil {
				fontsErr = fmt.Errorf("parse font: %w", err)
				return
			}
			set[k] = f
		}
		fontSet = set
	})
	return fontSet, fontsErr
}

type faceKey struct {
	style fontStyle
	size  float64
}

// faceCache holds the faces created for one render.
type faceCache struct {
	fonts map[fontStyle]*opentype.Font
	faces map[faceKey]font.Face
}

func (c *faceCache) face(st fontStyle, size float64) (font.Face, error) {
	key := faceKey{style: st & (styleBold | styleItalic), size: size}
	if st&styleMono != 0 {
		key.style = styleMono
	}
	if f, ok := c.faces[key]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(c.fonts[key.style], &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	c.faces[key] = f
	return f, nil
}

func (c *faceCache) close() {
	for _, f := range c.faces {
		_ = f.Close()
	}
}

// =============================================================================
// PALETTE
// =============================================================================

var (
	colorText    = color.RGBA{0x1f, 0x23, 0x28, 0xff}
	colorMuted   = color.RGBA{0x57, 0x60, 0x6a, 0xff}
	colorLink    = color.RGBA{0x09, 0x69, 0xda, 0xff}
	colorCode    = color.RGBA{0x82, 0x07, 0x1e, 0xff}
	colorCodeBg  = color.RGBA{0xf6, 0xf8, 0xfa, 0xff}
	colorRule    = color.RGBA{0xd0, 0xd7, 0xde, 0xff}
	headingScale = [...]float64{1, 2, 1.5, 1.17, 1, 0.83, 0.67}
)

const (
	lineSpacing = 1.45
	codeSpacing = 1.35
)

// =============================================================================
// RASTERIZE
// =============================================================================

type span struct {
	text  string
	style fontStyle
	size  float64
	color color.Color
	brk   bool
}

type word struct {
	text  string
	face  font.Face
	size  float64
	color color.Color
	space bool
	width int
	brk   bool
}

type glyphRun struct {
	x, baseline int
	text        string
	face        font.Face
	color       color.Color
}

type fillRect struct {
	r image.Rectangle
	c color.Color
}

type rasterizer struct {
	geom  Geometry
	src   []byte
	faces *faceCache
	base  float64
	width int
	pad   int
	y     int
	runs  []glyphRun
	rects []fillRect
	err   error
}

// Rasterize lays out markdown onto a white surface ContentWidthPx wide.
// The surface height is whatever the content needs.
func Rasterize(markdown string, geom Geometry) (*image.RGBA, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, ErrEmptyReport
	}
	if geom.ContentWidthPx() <= 0 || geom.FontSizePx() <= 0 {
		return nil, fmt.Errorf("invalid page geometry")
	}
	fonts, err := loadFonts()
	if err != nil {
		return nil, err
	}

	src := []byte(markdown)
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	r := &rasterizer{
		geom:  geom,
		src:   src,
		faces: &faceCache{fonts: fonts, faces: make(map[faceKey]font.Face)},
		base:  geom.FontSizePx(),
		width: geom.ContentWidthPx(),
		pad:   geom.PaddingPx(),
	}
	defer r.faces.close()

	r.y = r.pad
	r.blocks(doc, 0)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.runs) == 0 && len(r.rects) == 0 {
		return nil, errNothingToRender
	}

	height := r.y + r.pad
	if height <= 0 {
		return nil, errNothingToRender
	}
	if height > MaxRasterPages*geom.ContentHeightPx() {
		return nil, errSurfaceTooLarge
	}

	img := image.NewRGBA(image.Rect(0, 0, r.width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	for _, rc := range r.rects {
		draw.Draw(img, rc.r, image.NewUniform(rc.c), image.Point{}, draw.Src)
	}
	for _, run := range r.runs {
		d := font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(run.color),
			Face: run.face,
			Dot:  fixed.P(run.x, run.baseline),
		}
		d.DrawString(run.text)
	}
	return img, nil
}

// css converts CSS pixels to device pixels.
func (r *rasterizer) css(v float64) int { return int(math.Round(v * r.geom.Scale)) }

func (r *rasterizer) space(px float64) { r.y += int(math.Round(px)) }

func (r *rasterizer) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// =============================================================================
// BLOCKS
// =============================================================================

func (r *rasterizer) blocks(n ast.Node, indent int) {
	for c := n.FirstChild(); c != nil && r.err == nil; c = c.NextSibling() {
		r.block(c, indent)
	}
}

func (r *rasterizer) block(n ast.Node, indent int) {
	switch v := n.(type) {
	case *ast.Heading:
		level := v.Level
		if level < 1 || level >= len(headingScale) {
			level = len(headingScale) - 1
		}
		size := r.base * headingScale[level]
		if r.y > r.pad {
			r.space(size * 0.5)
		}
		r.flow(r.inline(v, styleBold, size, colorText), indent)
		if level <= 2 {
			r.space(size * 0.15)
			r.rule(indent, r.css(1))
		}
		r.space(size * 0.4)

	case *ast.Paragraph:
		r.flow(r.inline(v, 0, r.base, colorText), indent)
		r.space(r.base * 0.75)

	case *ast.TextBlock:
		r.flow(r.inline(v, 0, r.base, colorText), indent)

	case *ast.List:
		i := 0
		for item := v.FirstChild(); item != nil && r.err == nil; item = item.NextSibling() {
			marker := "•"
			if v.IsOrdered() {
				marker = strconv.Itoa(v.Start+i) + "."
			}
			r.listItem(item, indent, marker)
			i++
		}
		r.space(r.base * 0.5)

	case *ast.FencedCodeBlock:
		r.code(v.Lines(), indent)
	case *ast.CodeBlock:
		r.code(v.Lines(), indent)

	case *ast.Blockquote:
		y0 := r.y
		bar := r.css(4)
		r.blocks(v, indent+bar+r.css(12))
		x := r.pad + indent
		r.rects = append(r.rects, fillRect{r: image.Rect(x, y0, x+bar, r.y), c: colorRule})
		r.space(r.base * 0.5)

	case *ast.ThematicBreak:
		r.space(r.base * 0.75)
		r.rule(indent, r.css(2))
		r.space(r.base * 0.75)

	case *east.Table:
		r.table(v, indent)

	case *ast.HTMLBlock:
		// Raw HTML is not rendered.

	default:
		if n.HasChildren() {
			r.blocks(n, indent)
		}
	}
}

func (r *rasterizer) listItem(item ast.Node, indent int, marker string) {
	face, err := r.faces.face(0, r.base)
	if err != nil {
		r.fail(err)
		return
	}
	lh := int(math.Ceil(r.base * lineSpacing))
	m := face.Metrics()
	baseline := r.y + (lh-(m.Ascent.Ceil()+m.Descent.Ceil()))/2 + m.Ascent.Ceil()
	r.runs = append(r.runs, glyphRun{
		x:        r.pad + indent + r.css(4),
		baseline: baseline,
		text:     marker,
		face:     face,
		color:    colorText,
	})

	start := r.y
	r.blocks(item, indent+r.css(28))
	if r.y == start {
		r.y += lh
	}
}

func (r *rasterizer) rule(indent, thickness int) {
	x0 := r.pad + indent
	x1 := r.width - r.pad
	r.rects = append(r.rects, fillRect{r: image.Rect(x0, r.y, x1, r.y+thickness), c: colorRule})
	r.y += thickness
}

func (r *rasterizer) code(lines *text.Segments, indent int) {
	size := r.base * 0.9
	face, err := r.faces.face(styleMono, size)
	if err != nil {
		r.fail(err)
		return
	}
	inner := r.css(12)
	lh := int(math.Ceil(size * codeSpacing))
	maxW := r.width - 2*r.pad - indent - 2*inner
	m := face.Metrics()
	asc := m.Ascent.Ceil()
	desc := m.Descent.Ceil()

	y0 := r.y
	r.y += inner
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		line := strings.TrimRight(string(seg.Value(r.src)), "\r\n")
		line = strings.ReplaceAll(line, "\t", "    ")
		for {
			head, rest := splitToFit(face, line, maxW)
			r.runs = append(r.runs, glyphRun{
				x:        r.pad + indent + inner,
				baseline: r.y + (lh-(asc+desc))/2 + asc,
				text:     head,
				face:     face,
				color:    colorText,
			})
			r.y += lh
			if rest == "" {
				break
			}
			line = rest
		}
	}
	r.y += inner
	r.rects = append(r.rects, fillRect{
		r: image.Rect(r.pad+indent, y0, r.width-r.pad, r.y),
		c: colorCodeBg,
	})
	r.space(r.base * 0.75)
}

func (r *rasterizer) table(t *east.Table, indent int) {
	for row := t.FirstChild(); row != nil && r.err == nil; row = row.NextSibling() {
		_, header := row.(*east.TableHeader)
		style := fontStyle(0)
		if header {
			style = styleBold
		}
		var spans []span
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			if len(spans) > 0 {
				spans = append(spans, span{text: "  |  ", size: r.base, color: colorMuted})
			}
			spans = append(spans, r.inline(cell, style, r.base, colorText)...)
		}
		r.flow(spans, indent)
		if header {
			r.rule(indent, r.css(1))
		}
	}
	r.space(r.base * 0.75)
}

// =============================================================================
// INLINES
// =============================================================================

func (r *rasterizer) inline(n ast.Node, st fontStyle, size float64, col color.Color) []span {
	var out []span
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			out = append(out, span{text: string(v.Segment.Value(r.src)), style: st, size: size, color: col})
			if v.HardLineBreak() {
				out = append(out, span{brk: true})
			} else if v.SoftLineBreak() {
				out = append(out, span{text: " ", style: st, size: size, color: col})
			}
		case *ast.String:
			out = append(out, span{text: string(v.Value), style: st, size: size, color: col})
		case *ast.CodeSpan:
			out = append(out, r.inline(v, st|styleMono, size*0.9, colorCode)...)
		case *ast.Emphasis:
			s := st | styleItalic
			if v.Level >= 2 {
				s = st | styleBold
			}
			out = append(out, r.inline(v, s, size, col)...)
		case *ast.Link:
			out = append(out, r.inline(v, st, size, colorLink)...)
		case *ast.AutoLink:
			out = append(out, span{text: string(v.Label(r.src)), style: st, size: size, color: colorLink})
		case *ast.Image:
			out = append(out, r.inline(v, st|styleItalic, size, colorMuted)...)
		case *east.TaskCheckBox:
			box := "[ ] "
			if v.IsChecked {
				box = "[x] "
			}
			out = append(out, span{text: box, style: st | styleMono, size: size, color: col})
		case *ast.RawHTML:
		default:
			out = append(out, r.inline(c, st, size, col)...)
		}
	}
	return out
}

// flow word-wraps spans into the content box and emits glyph runs.
func (r *rasterizer) flow(spans []span, indent int) {
	words, err := r.words(spans)
	if err != nil {
		r.fail(err)
		return
	}
	maxW := r.width - 2*r.pad - indent
	if maxW <= 0 {
		r.fail(fmt.Errorf("indent leaves no room for content"))
		return
	}

	type placed struct {
		x int
		w word
	}
	var line []placed
	x := 0

	emit := func() {
		if len(line) == 0 {
			r.y += int(math.Ceil(r.base * lineSpacing))
			return
		}
		var size float64
		var asc, desc int
		for _, p := range line {
			m := p.w.face.Metrics()
			size = math.Max(size, p.w.size)
			asc = max(asc, m.Ascent.Ceil())
			desc = max(desc, m.Descent.Ceil())
		}
		lh := int(math.Ceil(size * lineSpacing))
		baseline := r.y + (lh-(asc+desc))/2 + asc
		for _, p := range line {
			r.runs = append(r.runs, glyphRun{
				x:        r.pad + indent + p.x,
				baseline: baseline,
				text:     p.w.text,
				face:     p.w.face,
				color:    p.w.color,
			})
		}
		r.y += lh
		line = line[:0]
		x = 0
	}

	for _, w := range words {
		if w.brk {
			emit()
			continue
		}
		sp := 0
		if w.space && len(line) > 0 {
			sp = font.MeasureString(w.face, " ").Ceil()
		}
		if len(line) > 0 && x+sp+w.width > maxW {
			emit()
			sp = 0
		}
		for w.width > maxW {
			head, rest := splitToFit(w.face, w.text, maxW)
			line = append(line, placed{x: 0, w: word{text: head, face: w.face, size: w.size, color: w.color}})
			emit()
			w.text = rest
			w.width = font.MeasureString(w.face, rest).Ceil()
		}
		line = append(line, placed{x: x + sp, w: w})
		x += sp + w.width
	}
	if len(line) > 0 {
		emit()
	}
}

func (r *rasterizer) words(spans []span) ([]word, error) {
	var out []word
	pendingSpace := false
	for _, s := range spans {
		if s.brk {
			out = append(out, word{brk: true})
			pendingSpace = false
			continue
		}
		face, err := r.faces.face(s.style, s.size)
		if err != nil {
			return nil, err
		}
		t := strings.NewReplacer("\t", " ", "\n", " ", "\r", "").Replace(s.text)
		for i, part := range strings.Split(t, " ") {
			if i > 0 {
				pendingSpace = true
			}
			if part == "" {
				continue
			}
			out = append(out, word{
				text:  part,
				face:  face,
				size:  s.size,
				color: s.color,
				space: pendingSpace,
				width: font.MeasureString(face, part).Ceil(),
			})
			pendingSpace = false
		}
	}
	return out, nil
}

// splitToFit returns the longest prefix of s that fits in maxW (at least one
// rune) and the remainder.
func splitToFit(face font.Face, s string, maxW int) (string, string) {
	if font.MeasureString(face, s).Ceil() <= maxW {
		return s, ""
	}
	cut := 0
	for i := range s {
		if i == 0 {
			continue
		}
		if font.MeasureString(face, s[:i]).Ceil() > maxW {
			break
		}
		cut = i
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(s)
		cut = size
	}
	return s[:cut], s[cut:]
}
