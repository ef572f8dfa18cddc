// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	gmutil "github.com/yuin/goldmark/util"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports the report as a standalone HTML page with embedded CSS.
// Raw HTML in stage output is dropped; fenced code is highlighted.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a document to HTML.
func (e *HTMLExporter) Export(doc *Document) ([]byte, error) {
	if doc.Empty() {
		return nil, ErrEmptyReport
	}

	body, err := e.renderBody(doc.Markdown)
	if err != nil {
		return nil, err
	}

	theme := e.options.Theme
	if theme != "dark" {
		theme = "light"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", html.EscapeString(doc.title())))
	sb.WriteString("    <meta name=\"generator\" content=\"billdash\">\n")
	sb.WriteString(e.getCSS())
	sb.WriteString("</head>\n")
	sb.WriteString(fmt.Sprintf("<body class=\"%s-theme\">\n", theme))
	sb.WriteString("    <div class=\"container\">\n")

	if e.options.IncludeMetadata {
		sb.WriteString(e.renderHeader(doc))
	}

	sb.WriteString("        <main class=\"report\">\n")
	sb.WriteString(body)
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	sb.WriteString(fmt.Sprintf("            <p>Generated by <strong>billdash</strong> on %s</p>\n",
		html.EscapeString(formatTimestamp(doc.generatedAt()))))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(doc *Document) string {
	var sb strings.Builder

	sb.WriteString("        <header class=\"header\">\n")
	sb.WriteString(fmt.Sprintf("            <h1>%s</h1>\n", html.EscapeString(doc.title())))
	sb.WriteString("            <div class=\"metadata\">\n")
	if doc.BillName != "" {
		sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Bill:</strong> %s</span>\n", html.EscapeString(doc.BillName)))
	}
	if doc.JobID != "" {
		sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Job:</strong> %s</span>\n", html.EscapeString(doc.JobID)))
	}
	sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Replicas:</strong> %d</span>\n", doc.Replicas))
	sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Stages:</strong> %d</span>\n", len(doc.Fragments)))
	sb.WriteString("            </div>\n")
	sb.WriteString("        </header>\n")

	return sb.String()
}

func (e *HTMLExporter) renderBody(markdown string) (string, error) {
	style := "github"
	if e.options.Theme == "dark" {
		style = "monokai"
	}
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(gmutil.Prioritized(&codeRenderer{style: style}, 100)),
		),
	)
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// codeRenderer replaces goldmark's fenced code output with chroma markup.
type codeRenderer struct {
	style string
}

func (r *codeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCode)
}

func (r *codeRenderer) renderFencedCode(w gmutil.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)

	var code strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(source))
	}
	lang := string(n.Language(source))

	_, _ = fmt.Fprintf(w, "<div class=\"code-block\" data-lang=\"%s\">\n", html.EscapeString(lang))
	if lang != "" {
		_, _ = fmt.Fprintf(w, "<div class=\"code-lang\">%s</div>\n", html.EscapeString(lang))
	}
	_, _ = w.WriteString(highlightHTML(code.String(), lang, r.style))
	_, _ = w.WriteString("</div>\n")
	return ast.WalkSkipChildren, nil
}

// highlightHTML highlights code with chroma, falling back to escaped text.
func highlightHTML(code, language, styleName string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get(styleName)
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("html")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	plain := "<pre><code>" + html.EscapeString(code) + "</code></pre>\n"
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return plain
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return plain
	}
	return buf.String()
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

// getCSS returns the embedded stylesheet. Light theme is tuned for printing.
func (e *HTMLExporter) getCSS() string {
	return `    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }

        :root {
            --font-sans: Arial, "Helvetica Neue", Helvetica, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", monospace;
        }

        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --bg-tertiary: #414868;
            --text-primary: #c0caf5;
            --text-secondary: #a9b1d6;
            --text-muted: #565f89;
            --border-color: #414868;
            --accent-blue: #7aa2f7;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #ffffff;
            --bg-tertiary: #f7f8fa;
            --text-primary: #1f2328;
            --text-secondary: #57606a;
            --text-muted: #6a737d;
            --border-color: #d0d7de;
            --accent-blue: #0969da;
        }

        body {
            font-family: var(--font-sans);
            font-size: 12pt;
            line-height: 1.45;
            color: var(--text-primary);
            background: var(--bg-primary);
            padding: 20px;
        }

        .container {
            max-width: 624px;
            margin: 0 auto;
            background: var(--bg-secondary);
        }

        .header {
            padding: 20px;
            background: var(--bg-tertiary);
            border-bottom: 2px solid var(--border-color);
        }

        .header h1 {
            font-size: 20pt;
            margin-bottom: 12px;
        }

        .metadata {
            display: flex;
            flex-wrap: wrap;
            gap: 12px;
            font-size: 10pt;
            color: var(--text-secondary);
        }

        .report {
            padding: 20px;
        }

        .report h1, .report h2 {
            border-bottom: 1px solid var(--border-color);
            padding-bottom: 4px;
        }

        .report h1, .report h2, .report h3, .report h4 {
            margin: 1em 0 0.4em;
        }

        .report p, .report ul, .report ol, .report table, .report blockquote {
            margin-bottom: 0.75em;
        }

        .report ul, .report ol {
            padding-left: 28px;
        }

        .report blockquote {
            border-left: 4px solid var(--border-color);
            padding-left: 12px;
            color: var(--text-secondary);
        }

        .report a {
            color: var(--accent-blue);
        }

        .report table {
            border-collapse: collapse;
        }

        .report th, .report td {
            border: 1px solid var(--border-color);
            padding: 4px 8px;
        }

        .report code {
            font-family: var(--font-mono);
            font-size: 90%;
        }

        .code-block {
            margin-bottom: 0.75em;
            border: 1px solid var(--border-color);
            border-radius: 6px;
            overflow: hidden;
        }

        .code-block pre {
            padding: 12px;
            overflow-x: auto;
        }

        .code-lang {
            font-size: 9pt;
            padding: 2px 12px;
            color: var(--text-muted);
            border-bottom: 1px solid var(--border-color);
        }

        .footer {
            padding: 16px 20px;
            text-align: center;
            font-size: 9pt;
            color: var(--text-muted);
            border-top: 1px solid var(--border-color);
        }

        @media print {
            body {
                padding: 0;
            }

            .code-block {
                page-break-inside: avoid;
            }
        }
    </style>
`
}
