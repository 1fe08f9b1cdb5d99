package bookcompiler

import "fmt"

func (d *document) renderBlock(b Block) {
	pdf := d.pdf
	switch b.Kind {
	case BlockHeading:
		d.renderHeading(b)
	case BlockParagraph:
		pdf.SetFont(d.textFont, "", 11)
		d.writeSpans(ParseInline(b.Text), 11, 6)
		pdf.Ln(8)
	case BlockBullet, BlockNumbered:
		d.renderList(b)
	case BlockQuote:
		d.renderQuote(b)
	case BlockCode:
		d.renderCode(b)
	case BlockTable:
		d.renderTable(b)
	case BlockRule:
		pdf.Ln(2)
		y := pdf.GetY()
		pdf.SetDrawColor(180, 180, 180)
		pdf.Line(d.margin, y, d.pageWidth-d.margin, y)
		pdf.SetDrawColor(0, 0, 0)
		pdf.Ln(6)
	}
}

func (d *document) renderHeading(b Block) {
	pdf := d.pdf
	switch b.Level {
	case 1:
		pdf.AddPage()
		pdf.SetFont(d.chapterFont, "B", 22)
	case 2:
		pdf.Ln(6)
		if pdf.GetY() > d.pageHeight-d.margin-30 {
			pdf.AddPage()
		}
		pdf.SetFont(d.chapterFont, "B", 17)
	case 3:
		pdf.Ln(4)
		pdf.SetFont(d.chapterFont, "B", 14)
	default:
		pdf.Ln(3)
		pdf.SetFont(d.chapterFont, "B", 12)
	}

	if b.Level <= 2 && d.heading < len(d.toc) {
		entry := &d.toc[d.heading]
		d.heading++
		entry.PageNum = pdf.PageNo()
		if d.linked {
			pdf.SetLink(entry.Link, -1, -1)
		}
		pdf.Bookmark(NormalizeText(b.Text), b.Level-1, -1)
	}

	sizes := map[int]float64{1: 10, 2: 8, 3: 7}
	lineHt, ok := sizes[b.Level]
	if !ok {
		lineHt = 6
	}
	pdf.MultiCell(0, lineHt, d.text(b.Text), "", "L", false)
	if b.Level == 1 {
		pdf.Ln(8)
	} else {
		pdf.Ln(3)
	}
}

// writeSpans writes inline spans at the current position, wrapping at the
// left margin.
func (d *document) writeSpans(spans []Span, size, lineHt float64) {
	pdf := d.pdf
	for _, s := range spans {
		if s.Style&SpanEmoji != 0 && !d.unicode {
			continue
		}
		family, style, sz := d.textFont, "", size
		if s.Style&SpanBold != 0 {
			style += "B"
		}
		if s.Style&SpanItalic != 0 {
			style += "I"
		}
		if s.Style&SpanCode != 0 {
			family, style, sz = d.monoFont, "", size-1
		}
		pdf.SetFont(family, style, sz)
		txt := d.tr(s.Text)
		if s.Style&SpanLink != 0 {
			pdf.SetTextColor(30, 80, 200)
			pdf.WriteLinkString(lineHt, txt, s.URL)
			pdf.SetTextColor(0, 0, 0)
			continue
		}
		if s.Style&SpanStrike != 0 {
			pdf.SetTextColor(130, 130, 130)
			pdf.Write(lineHt, txt)
			pdf.SetTextColor(0, 0, 0)
			continue
		}
		pdf.Write(lineHt, txt)
	}
	pdf.SetFont(d.textFont, "", size)
}

func (d *document) renderList(b Block) {
	pdf := d.pdf
	indent := 8.0
	pdf.SetLeftMargin(d.margin + indent)
	for i, item := range b.Items {
		pdf.SetFont(d.textFont, "", 11)
		pdf.SetX(d.margin + 2)
		marker := d.tr("•") + " "
		if b.Kind == BlockNumbered {
			marker = fmt.Sprintf("%d. ", i+1)
		}
		pdf.CellFormat(indent-2, 6, marker, "", 0, "L", false, 0, "")
		d.writeSpans(ParseInline(item), 11, 6)
		pdf.Ln(7)
	}
	pdf.SetLeftMargin(d.margin)
	pdf.SetX(d.margin)
	pdf.Ln(2)
}

func (d *document) renderQuote(b Block) {
	pdf := d.pdf
	pdf.SetLeftMargin(d.margin + 8)
	pdf.SetX(d.margin + 8)
	page, y0 := pdf.PageNo(), pdf.GetY()
	pdf.SetTextColor(80, 80, 80)
	spans := ParseInline(b.Text)
	for i := range spans {
		spans[i].Style |= SpanItalic
	}
	d.writeSpans(spans, 11, 6)
	pdf.SetTextColor(0, 0, 0)
	y1 := pdf.GetY() + 6
	pdf.SetLeftMargin(d.margin)
	if pdf.PageNo() == page {
		pdf.SetDrawColor(160, 160, 160)
		pdf.SetLineWidth(0.8)
		pdf.Line(d.margin+3, y0, d.margin+3, y1)
		pdf.SetLineWidth(0.2)
		pdf.SetDrawColor(0, 0, 0)
	}
	pdf.Ln(9)
}

// renderCode draws each chunk of a code block in its own bordered box; a
// chunk that continues ends its page.
func (d *document) renderCode(b Block) {
	pdf := d.pdf
	const lineHt = 4.5
	width := d.pageWidth - 2*d.margin

	for _, chunk := range SplitCodeBlock(b.Lines, d.maxCode) {
		pdf.SetFont(d.monoFont, "", 9)
		var rows []string
		for _, line := range chunk.Lines {
			wrapped := pdf.SplitLines([]byte(d.text(line)), width-4)
			if len(wrapped) == 0 {
				rows = append(rows, "")
				continue
			}
			for _, w := range wrapped {
				rows = append(rows, string(w))
			}
		}
		height := float64(len(rows))*lineHt + 4
		if pdf.GetY()+height > d.pageHeight-d.margin {
			pdf.AddPage()
		}
		x, y := d.margin, pdf.GetY()
		pdf.SetFillColor(245, 245, 245)
		pdf.SetDrawColor(200, 200, 200)
		pdf.Rect(x, y, width, height, "FD")
		pdf.SetDrawColor(0, 0, 0)
		pdf.SetXY(x+2, y+2)
		for _, row := range rows {
			pdf.CellFormat(width-4, lineHt, row, "", 2, "L", false, 0, "")
		}
		pdf.SetXY(d.margin, y+height+2)

		if chunk.Continued {
			pdf.SetFont(d.textFont, "I", 8)
			pdf.CellFormat(0, 5, "(continued on next page)", "", 1, "R", false, 0, "")
			pdf.AddPage()
		}
	}
	pdf.Ln(4)
}
