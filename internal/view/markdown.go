package view

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// The parser configuration never changes; goldmark keeps per-call state
// in the reader, so one instance serves every session.
var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		)
	})
	return markdown
}

// MarkdownHTML renders assistant markdown to HTML. Raw HTML in the input
// is omitted and dangerous link targets are dropped.
func MarkdownHTML(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := getMarkdown().Convert([]byte(src), &buf); err != nil {
		return string(util.EscapeHTML([]byte(src)))
	}
	return strings.TrimSpace(buf.String())
}

// PlainText flattens markdown to text for line-oriented channels. Block
// elements are separated by newlines; emphasis and link syntax are
// removed, link targets are kept in parentheses.
func PlainText(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	source := []byte(src)
	doc := getMarkdown().Parser().Parse(text.NewReader(source))

	var out strings.Builder
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				out.Write(node.Segment.Value(source))
				if node.HardLineBreak() || node.SoftLineBreak() {
					out.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				out.Write(node.Value)
			}
		case *ast.CodeSpan:
			if entering {
				for c := node.FirstChild(); c != nil; c = c.NextSibling() {
					if t, ok := c.(*ast.Text); ok {
						out.Write(t.Segment.Value(source))
					}
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					out.Write(seg.Value(source))
				}
				return ast.WalkSkipChildren, nil
			}
			ensureNewline(&out)
		case *ast.Link:
			if !entering {
				out.WriteString(" (" + string(node.Destination) + ")")
			}
		case *ast.AutoLink:
			if entering {
				out.Write(node.URL(source))
				return ast.WalkSkipChildren, nil
			}
		case *ast.ListItem:
			if entering {
				out.WriteString("- ")
			} else {
				ensureNewline(&out)
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				ensureNewline(&out)
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(out.String())
}

func ensureNewline(b *strings.Builder) {
	s := b.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}
