package export

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/marketingguide/mgai-api/internal/domain"
)

// Format is an export file format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatMarkdown Format = "md"
)

var contentTypes = map[Format]string{
	FormatPDF:      "application/pdf",
	FormatDOCX:     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatMarkdown: "text/markdown; charset=utf-8",
}

// ParseFormat validates a format name. "markdown" is accepted for md.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPDF, FormatDOCX, FormatMarkdown:
		return f, nil
	case "markdown":
		return FormatMarkdown, nil
	case "":
		return FormatPDF, nil
	}
	return "", &domain.ErrValidation{Field: "format", Message: "must be one of pdf, docx, md"}
}

// Meta is the context printed around the document body.
type Meta struct {
	ProjectName string
	Title       string
}

// File is a rendered export.
type File struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Render produces the document in the requested format.
func Render(format Format, meta Meta, doc *domain.Document) (*File, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatPDF:
		data, err = RenderPDF(meta, DocumentBlocks(doc))
	case FormatDOCX:
		data, err = RenderDOCX(meta, DocumentBlocks(doc))
	case FormatMarkdown:
		data = []byte(RenderMarkdown(doc))
	default:
		return nil, &domain.ErrValidation{Field: "format", Message: "must be one of pdf, docx, md"}
	}
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", format, err)
	}
	return &File{
		Data:        data,
		ContentType: contentTypes[format],
		Filename:    Filename(meta, format),
	}, nil
}

// Filename builds "<project>-<title>.<ext>" from slugged names.
func Filename(meta Meta, format Format) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{meta.ProjectName, meta.Title} {
		if slug := slugify(s); slug != "" {
			parts = append(parts, slug)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "document")
	}
	return strings.Join(parts, "-") + "." + string(format)
}

func slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(sb.String(), "-")
}
