package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
	"github.com/gomutex/godocx/wml/stypes"
)

// Paragraph and character style ids from the default godocx template.
const (
	styleQuote      = "Quote"
	styleCode       = "MacroText"
	styleInlineCode = "MacroTextChar"
)

// RenderDOCX builds a WordprocessingML package on the default template.
func RenderDOCX(meta Meta, blocks []Block) ([]byte, error) {
	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, fmt.Errorf("new docx: %w", err)
	}

	if title := titleLine(meta); title != "" {
		if _, err := doc.AddHeading(title, 0); err != nil {
			return nil, err
		}
	}

	for _, b := range blocks {
		switch b.Kind {
		case BlockHeading:
			level := b.Level
			if level < 1 || level > 6 {
				level = 6
			}
			p := doc.AddEmptyParagraph()
			p.Style(fmt.Sprintf("Heading%d", level))
			addRuns(p, b.Runs)
		case BlockParagraph:
			addRuns(doc.AddEmptyParagraph(), b.Runs)
		case BlockListItem:
			p := doc.AddEmptyParagraph()
			p.Style(listStyle(b))
			if b.Ordered {
				p.AddText(fmt.Sprintf("%d. ", b.Number))
			}
			addRuns(p, b.Runs)
		case BlockQuote:
			p := doc.AddEmptyParagraph()
			p.Style(styleQuote)
			addRuns(p, b.Runs)
		case BlockCode:
			p := doc.AddEmptyParagraph()
			p.Style(styleCode)
			addRuns(p, []Run{{Text: b.Code}})
		case BlockRule:
			p := doc.AddParagraph("* * *")
			p.Justification(stypes.JustificationCenter)
		}
	}

	var buf bytes.Buffer
	if err := doc.Write(&buf); err != nil {
		return nil, fmt.Errorf("write docx: %w", err)
	}
	return buf.Bytes(), nil
}

// listStyle picks a template list style by depth. Bullets use the
// template's numbering; ordered items keep the source number as text.
func listStyle(b Block) string {
	depth := ""
	switch {
	case b.Indent == 1:
		depth = "2"
	case b.Indent >= 2:
		depth = "3"
	}
	if b.Ordered {
		return "List" + depth
	}
	return "ListBullet" + depth
}

// addRuns adds one docx run per line so line breaks survive.
func addRuns(p *docx.Paragraph, runs []Run) {
	for _, r := range runs {
		lines := strings.Split(r.Text, "\n")
		for i, line := range lines {
			run := p.AddText(line)
			if r.Bold {
				run.Bold(true)
			}
			if r.Italic {
				run.Italic(true)
			}
			if r.Code {
				run.Style(styleInlineCode)
			}
			if i < len(lines)-1 {
				run.AddBreak(nil)
			}
		}
	}
}
