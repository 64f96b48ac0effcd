// Package export renders generated documents as PDF, DOCX or Markdown.
// Section markdown is parsed once into a flat list of blocks that every
// renderer consumes.
package export

import (
	"strings"

	"github.com/marketingguide/mgai-api/internal/domain"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// BlockKind identifies a block-level element.
type BlockKind int

const (
	BlockHeading BlockKind = iota
	BlockParagraph
	BlockListItem
	BlockQuote
	BlockCode
	BlockRule
)

// Run is a span of text with uniform styling.
type Run struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
}

// Block is one block-level element.
type Block struct {
	Kind BlockKind
	// Level is the heading level (1-6) for headings.
	Level int
	// Indent is the list nesting depth, 0 for top level.
	Indent  int
	Ordered bool
	Number  int
	Runs    []Run
	// Code holds the raw text of code blocks.
	Code string
}

// PlainText joins the block's runs.
func (b Block) PlainText() string {
	if b.Kind == BlockCode {
		return b.Code
	}
	var sb strings.Builder
	for _, r := range b.Runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

var md = goldmark.New()

// ParseMarkdown converts markdown into blocks. Nested lists are flattened
// with their depth kept in Indent.
func ParseMarkdown(src string) []Block {
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))

	w := &walker{src: source}
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n, 0, false)
	}
	return w.blocks
}

// DocumentBlocks renders a document's sections in order, each under a
// level-1 heading carrying the section title. A leading heading in the
// section body that repeats the title is dropped.
func DocumentBlocks(doc *domain.Document) []Block {
	var out []Block
	for _, s := range doc.Content.Ordered() {
		title := strings.TrimSpace(s.Title)
		if title != "" {
			out = append(out, Block{Kind: BlockHeading, Level: 1, Runs: []Run{{Text: title}}})
		}
		body := ParseMarkdown(s.Content)
		if len(body) > 0 && body[0].Kind == BlockHeading && strings.EqualFold(strings.TrimSpace(body[0].PlainText()), title) {
			body = body[1:]
		}
		out = append(out, body...)
	}
	return out
}

type walker struct {
	src    []byte
	blocks []Block
}

func (w *walker) block(n ast.Node, indent int, quote bool) {
	switch n := n.(type) {
	case *ast.Heading:
		w.blocks = append(w.blocks, Block{Kind: BlockHeading, Level: n.Level, Runs: w.inline(n)})

	case *ast.Paragraph, *ast.TextBlock:
		kind := BlockParagraph
		if quote {
			kind = BlockQuote
		}
		w.blocks = append(w.blocks, Block{Kind: kind, Indent: indent, Runs: w.inline(n)})

	case *ast.List:
		num := n.Start
		if num == 0 {
			num = 1
		}
		for li := n.FirstChild(); li != nil; li = li.NextSibling() {
			w.listItem(li, n.IsOrdered(), num, indent)
			num++
		}

	case *ast.Blockquote:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c, indent, true)
		}

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var sb strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(w.src))
		}
		w.blocks = append(w.blocks, Block{Kind: BlockCode, Indent: indent, Code: strings.TrimRight(sb.String(), "\n")})

	case *ast.ThematicBreak:
		w.blocks = append(w.blocks, Block{Kind: BlockRule})

	case *ast.HTMLBlock:
		// raw HTML has no place in an exported document

	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c, indent, quote)
		}
	}
}

func (w *walker) listItem(li ast.Node, ordered bool, num, indent int) {
	first := true
	for c := li.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			if first {
				w.blocks = append(w.blocks, Block{
					Kind:    BlockListItem,
					Indent:  indent,
					Ordered: ordered,
					Number:  num,
					Runs:    w.inline(c),
				})
				first = false
				continue
			}
			w.block(c, indent+1, false)
		case *ast.List:
			w.block(c, indent+1, false)
		default:
			w.block(c, indent+1, false)
		}
	}
}

func (w *walker) inline(n ast.Node) []Run {
	var runs []Run
	w.collect(n, Run{}, &runs)
	return runs
}

func (w *walker) collect(n ast.Node, style Run, runs *[]Run) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			s := string(c.Segment.Value(w.src))
			switch {
			case c.HardLineBreak():
				s += "\n"
			case c.SoftLineBreak():
				s += " "
			}
			appendRun(runs, style, s)

		case *ast.String:
			appendRun(runs, style, string(c.Value))

		case *ast.Emphasis:
			inner := style
			if c.Level >= 2 {
				inner.Bold = true
			} else {
				inner.Italic = true
			}
			w.collect(c, inner, runs)

		case *ast.CodeSpan:
			inner := style
			inner.Code = true
			w.collect(c, inner, runs)

		case *ast.AutoLink:
			appendRun(runs, style, string(c.Label(w.src)))

		case *ast.RawHTML:

		default:
			w.collect(c, style, runs)
		}
	}
}

// appendRun merges text into the previous run when the style matches.
func appendRun(runs *[]Run, style Run, s string) {
	if s == "" {
		return
	}
	if n := len(*runs); n > 0 {
		last := &(*runs)[n-1]
		if last.Bold == style.Bold && last.Italic == style.Italic && last.Code == style.Code {
			last.Text += s
			return
		}
	}
	style.Text = s
	*runs = append(*runs, style)
}
