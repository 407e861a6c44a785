package patch

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown flattens markdown in s to plain text: emphasis and
// strikethrough markers, headings, blockquotes, thematic breaks, list
// markers, link and image syntax and code fences are removed, keeping their
// text. Runs of blank lines collapse to one. Up to two leading and trailing
// newlines of s are kept so appended blocks stay separated from the
// preceding content, and spaces and tabs at either edge are kept so inline
// replacements stay joined to their neighbors.
//
// StripMarkdown(StripMarkdown(s)) == StripMarkdown(s).
func StripMarkdown(s string) string {
	if strings.TrimSpace(s) == "" {
		return s
	}
	lead := min(countPrefix(s, '\n'), 2)
	trail := min(countSuffix(s, '\n'), 2)

	body := strings.Trim(s, "\n")
	padLeft := body[:len(body)-len(strings.TrimLeft(body, " \t"))]
	padRight := body[len(strings.TrimRight(body, " \t")):]
	core := strings.Trim(body, " \t")

	// Escapes and entity references unwrap one level per pass, so iterate
	// to a fixed point. The pass count is bounded by the input length.
	for range len(core) + 1 {
		next := stripOnce(core)
		if next == core {
			break
		}
		core = next
	}
	if core == "" {
		return ""
	}
	return strings.Repeat("\n", lead) + padLeft + core + padRight + strings.Repeat("\n", trail)
}

func stripOnce(s string) string {
	src := []byte(s)
	doc := md.Parser().Parse(text.NewReader(src))
	out := strings.Join(blockTexts(doc, src), "\n\n")

	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	out = strings.Join(lines, "\n")
	out = blankRuns.ReplaceAllString(out, "\n\n")
	return strings.Trim(out, "\n")
}

// blockTexts renders each block child of parent to plain text, dropping
// blocks that render empty.
func blockTexts(parent ast.Node, src []byte) []string {
	var out []string
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if s := blockText(n, src); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func blockText(n ast.Node, src []byte) string {
	switch n.Kind() {
	case ast.KindThematicBreak:
		return ""
	case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock:
		return strings.TrimRight(linesText(n, src), "\n")
	case ast.KindList:
		var items []string
		for it := n.FirstChild(); it != nil; it = it.NextSibling() {
			if s := strings.Join(blockTexts(it, src), "\n"); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, "\n")
	case ast.KindParagraph, ast.KindHeading, ast.KindTextBlock:
		var b strings.Builder
		inlineText(&b, n, src)
		return strings.TrimSpace(b.String())
	default:
		return strings.Join(blockTexts(n, src), "\n\n")
	}
}

func linesText(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

func inlineText(b *strings.Builder, parent ast.Node, src []byte) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch v := n.(type) {
		case *ast.Text:
			b.Write(unescape(v.Segment.Value(src)))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.CodeSpan:
			for c := v.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					b.Write(t.Segment.Value(src))
				}
			}
		case *ast.AutoLink:
			b.Write(v.URL(src))
		case *ast.RawHTML:
			for i := 0; i < v.Segments.Len(); i++ {
				seg := v.Segments.At(i)
				b.Write(seg.Value(src))
			}
		default:
			// emphasis, strikethrough, links and images keep only their text
			inlineText(b, n, src)
		}
	}
}

func unescape(v []byte) []byte {
	v = util.UnescapePunctuations(v)
	v = util.ResolveNumericReferences(v)
	return util.ResolveEntityNames(v)
}

func countPrefix(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

func countSuffix(s string, c byte) int {
	n := 0
	for n < len(s) && s[len(s)-1-n] == c {
		n++
	}
	return n
}
