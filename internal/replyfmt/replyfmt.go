// ABOUTME: Pure text transform applied to generated replies before sending
// ABOUTME: Strips citation markers and flattens markdown into plain chat text

package replyfmt

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Citation markers the generative backend embeds in replies. Neither form
// renders sensibly in a chat bubble.
var (
	bracketCitation = regexp.MustCompile(`【[^】]*】`)
	footnoteMarker  = regexp.MustCompile(`\[\d+(?:,\s*\d+)*\]`)
)

var md = goldmark.New()

// Clean converts a raw generated reply into display text for the chat
// platform: citation markers removed, markdown structure flattened to plain
// text. Stateless; non-markdown input passes through unchanged apart from
// whitespace trimming.
func Clean(raw string) string {
	stripped := bracketCitation.ReplaceAllString(raw, "")
	stripped = footnoteMarker.ReplaceAllString(stripped, "")

	src := []byte(stripped)
	doc := md.Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	renderBlocks(&sb, doc, src)

	return strings.TrimSpace(collapseBlankLines(sb.String()))
}

// renderBlocks walks the document's block-level children, separating them
// with blank lines.
func renderBlocks(sb *strings.Builder, parent ast.Node, src []byte) {
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		renderBlock(sb, child, src)
		sb.WriteString("\n\n")
	}
}

func renderBlock(sb *strings.Builder, n ast.Node, src []byte) {
	switch node := n.(type) {
	case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
		renderInline(sb, n, src)
	case *ast.List:
		renderList(sb, node, src)
	case *ast.Blockquote:
		var inner strings.Builder
		renderBlocks(&inner, node, src)
		sb.WriteString(strings.TrimSpace(inner.String()))
	case *ast.FencedCodeBlock:
		renderCodeLines(sb, node, src)
	case *ast.CodeBlock:
		renderCodeLines(sb, node, src)
	case *ast.ThematicBreak:
		// drop horizontal rules entirely
	default:
		renderInline(sb, n, src)
	}
}

func renderList(sb *strings.Builder, list *ast.List, src []byte) {
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		sb.WriteString("- ")
		var inner strings.Builder
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			renderBlock(&inner, child, src)
			inner.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(inner.String()))
		if item.NextSibling() != nil {
			sb.WriteString("\n")
		}
	}
}

func renderCodeLines(sb *strings.Builder, block ast.Node, src []byte) {
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		sb.Write(segment.Value(src))
	}
}

// renderInline flattens inline markup: emphasis unwrapped, code spans kept
// verbatim, links rendered as "label (url)".
func renderInline(sb *strings.Builder, n ast.Node, src []byte) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch node := child.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.CodeSpan:
			renderInline(sb, node, src)
		case *ast.Link:
			var label strings.Builder
			renderInline(&label, node, src)
			sb.WriteString(label.String())
			dest := string(node.Destination)
			if dest != "" && label.String() != dest {
				sb.WriteString(" (" + dest + ")")
			}
		case *ast.AutoLink:
			sb.Write(node.URL(src))
		case *ast.Image:
			renderInline(sb, node, src)
		default:
			renderInline(sb, child, src)
		}
	}
}

// collapseBlankLines squeezes runs of three or more newlines down to the
// standard paragraph break.
func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
