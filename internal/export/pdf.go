package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

const (
	pdfMargin     = 20.0
	pdfLineHeight = 5.5
	pdfIndentStep = 6.0
)

var headingSizes = map[int]float64{1: 18, 2: 15, 3: 13, 4: 12, 5: 11, 6: 11}

// RenderPDF lays blocks out on A4 pages with a "Page N" footer.
func RenderPDF(meta Meta, blocks []Block) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	if title := titleLine(meta); title != "" {
		pdf.SetFont("Helvetica", "B", 20)
		pdf.SetTextColor(20, 20, 20)
		pdf.MultiCell(0, 9, tr(title), "", "L", false)
		pdf.Ln(4)
	}

	r := &pdfRenderer{pdf: pdf, tr: tr}
	for _, b := range blocks {
		r.block(b)
	}

	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func titleLine(meta Meta) string {
	switch {
	case meta.ProjectName != "" && meta.Title != "":
		return meta.ProjectName + ": " + meta.Title
	case meta.Title != "":
		return meta.Title
	}
	return meta.ProjectName
}

type pdfRenderer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (r *pdfRenderer) block(b Block) {
	pdf := r.pdf
	pdf.SetTextColor(33, 33, 33)

	switch b.Kind {
	case BlockHeading:
		size := headingSizes[b.Level]
		if size == 0 {
			size = 11
		}
		pdf.Ln(3)
		pdf.SetFont("Helvetica", "B", size)
		pdf.MultiCell(0, size*0.5, r.tr(b.PlainText()), "", "L", false)
		pdf.Ln(2)

	case BlockParagraph:
		r.withIndent(float64(b.Indent)*pdfIndentStep, func() {
			r.runs(b.Runs, "")
		})
		pdf.Ln(pdfLineHeight + 1.5)

	case BlockListItem:
		marker := "•"
		if b.Ordered {
			marker = fmt.Sprintf("%d.", b.Number)
		}
		indent := float64(b.Indent) * pdfIndentStep
		pdf.SetFont("Helvetica", "", 11)
		pdf.SetX(pdfMargin + indent)
		pdf.CellFormat(pdfIndentStep, pdfLineHeight, r.tr(marker), "", 0, "L", false, 0, "")
		r.withIndent(indent+pdfIndentStep, func() {
			r.runs(b.Runs, "")
		})
		pdf.Ln(pdfLineHeight + 0.5)

	case BlockQuote:
		pdf.SetTextColor(90, 90, 90)
		r.withIndent(float64(b.Indent)*pdfIndentStep+8, func() {
			r.runs(b.Runs, "I")
		})
		pdf.Ln(pdfLineHeight + 1.5)

	case BlockCode:
		pdf.SetFont("Courier", "", 9)
		pdf.SetFillColor(245, 245, 245)
		r.withIndent(float64(b.Indent)*pdfIndentStep, func() {
			pdf.MultiCell(0, 4.5, r.tr(b.Code), "", "L", true)
		})
		pdf.Ln(2)

	case BlockRule:
		pdf.Ln(2)
		y := pdf.GetY()
		w, _ := pdf.GetPageSize()
		pdf.SetDrawColor(200, 200, 200)
		pdf.Line(pdfMargin, y, w-pdfMargin, y)
		pdf.Ln(4)
	}
}

// runs writes styled text that wraps at the current left margin.
func (r *pdfRenderer) runs(runs []Run, extra string) {
	for _, run := range runs {
		family, style := "Helvetica", extra
		size := 11.0
		if run.Code {
			family, size = "Courier", 10
		}
		if run.Bold && !strings.Contains(style, "B") {
			style += "B"
		}
		if run.Italic && !strings.Contains(style, "I") {
			style += "I"
		}
		r.pdf.SetFont(family, style, size)
		r.pdf.Write(pdfLineHeight, r.tr(run.Text))
	}
}

func (r *pdfRenderer) withIndent(indent float64, fn func()) {
	r.pdf.SetLeftMargin(pdfMargin + indent)
	if r.pdf.GetX() < pdfMargin+indent {
		r.pdf.SetX(pdfMargin + indent)
	}
	fn()
	r.pdf.SetLeftMargin(pdfMargin)
}
