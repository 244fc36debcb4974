package reader

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	commonMark = goldmark.New()
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// maxStripPasses bounds the fixpoint loop; each pass only removes markup.
const maxStripPasses = 8

// StripLinks renders markdown to plain text: images are dropped, links keep
// only their text, code spans stay verbatim, runs of blank lines collapse to
// one and the result is trimmed. StripLinks(StripLinks(s)) == StripLinks(s).
func StripLinks(markdown string) string {
	out := strings.ReplaceAll(markdown, "\r\n", "\n")
	for i := 0; i < maxStripPasses; i++ {
		next := stripOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

// stripOnce renders one parse. Text that only becomes a link after an
// escape or an outer bracket is removed needs another pass.
func stripOnce(markdown string) string {
	source := []byte(markdown)
	doc := commonMark.Parser().Parse(text.NewReader(source))
	var buf bytes.Buffer
	renderPlain(&buf, doc, source)
	return strings.TrimSpace(blankRuns.ReplaceAllString(buf.String(), "\n\n"))
}

func renderPlain(buf *bytes.Buffer, n ast.Node, source []byte) {
	switch node := n.(type) {
	case *ast.Image:
		return
	case *ast.Text:
		buf.Write(util.UnescapePunctuations(util.ResolveNumericReferences(util.ResolveEntityNames(node.Segment.Value(source)))))
		if node.SoftLineBreak() || node.HardLineBreak() {
			buf.WriteByte('\n')
		}
		return
	case *ast.String:
		buf.Write(node.Value)
		return
	case *ast.CodeSpan:
		buf.WriteByte('`')
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			switch raw := c.(type) {
			case *ast.Text:
				buf.Write(raw.Segment.Value(source))
			case *ast.String:
				buf.Write(raw.Value)
			}
		}
		buf.WriteByte('`')
		return
	case *ast.AutoLink:
		buf.Write(node.Label(source))
		return
	case *ast.RawHTML:
		for i := 0; i < node.Segments.Len(); i++ {
			seg := node.Segments.At(i)
			buf.Write(seg.Value(source))
		}
		return
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		writeLines(buf, n, source)
		return
	case *ast.HTMLBlock:
		writeLines(buf, n, source)
		if node.HasClosure() {
			buf.Write(node.ClosureLine.Value(source))
		}
		return
	}

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		renderPlain(buf, c, source)
	}
	switch n.(type) {
	case *ast.Paragraph, *ast.Heading, *ast.Blockquote, *ast.ThematicBreak:
		buf.WriteString("\n\n")
	case *ast.TextBlock, *ast.ListItem, *ast.List:
		buf.WriteByte('\n')
	}
}

func writeLines(buf *bytes.Buffer, n ast.Node, source []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
}
