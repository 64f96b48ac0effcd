package export

import (
	"strings"

	"github.com/marketingguide/mgai-api/internal/domain"
)

// RenderMarkdown concatenates the sections' markdown in order, each under a
// level-1 title heading. The body markdown is kept verbatim apart from a
// leading heading that repeats the title.
func RenderMarkdown(doc *domain.Document) string {
	var sb strings.Builder
	for i, s := range doc.Content.Ordered() {
		if i > 0 {
			sb.WriteString("\n")
		}
		title := strings.TrimSpace(s.Title)
		if title != "" {
			sb.WriteString("# ")
			sb.WriteString(title)
			sb.WriteString("\n\n")
		}
		body := stripTitleHeading(strings.TrimSpace(s.Content), title)
		if body != "" {
			sb.WriteString(body)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func stripTitleHeading(body, title string) string {
	first, rest, _ := strings.Cut(body, "\n")
	trimmed := strings.TrimSpace(first)
	if !strings.HasPrefix(trimmed, "#") {
		return body
	}
	heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	if !strings.EqualFold(heading, title) {
		return body
	}
	return strings.TrimSpace(rest)
}
