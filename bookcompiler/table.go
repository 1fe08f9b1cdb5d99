package bookcompiler

import "unicode/utf8"

// ColumnWidths splits total across the columns of a table: evenly for up
// to four columns, by longest cell otherwise.
func ColumnWidths(header []string, rows [][]string, total float64) []float64 {
	n := len(header)
	for _, r := range rows {
		if len(r) > n {
			n = len(r)
		}
	}
	if n == 0 {
		return nil
	}
	widths := make([]float64, n)
	if n <= 4 {
		for i := range widths {
			widths[i] = total / float64(n)
		}
		return widths
	}

	weights := make([]float64, n)
	measure := func(cells []string) {
		for i, c := range cells {
			w := float64(utf8.RuneCountInString(cleanInline(c)))
			if w > weights[i] {
				weights[i] = w
			}
		}
	}
	measure(header)
	for _, r := range rows {
		measure(r)
	}
	sum := 0.0
	for i, w := range weights {
		switch {
		case w < 4:
			w = 4
		case w > 40:
			w = 40
		}
		weights[i] = w
		sum += w
	}
	for i, w := range weights {
		widths[i] = total * w / sum
	}
	return widths
}

func (d *document) renderTable(b Block) {
	pdf := d.pdf
	const lineHt = 5.0
	widths := ColumnWidths(b.Header, b.Rows, d.pageWidth-2*d.margin)
	if len(widths) == 0 {
		return
	}

	drawRow := func(cells []string, header bool) {
		style := ""
		if header {
			style = "B"
		}
		pdf.SetFont(d.textFont, style, 9)

		texts := make([]string, len(widths))
		maxLines := 1
		for i := range widths {
			if i < len(cells) {
				texts[i] = d.tr(cleanInline(cells[i]))
			}
			if n := len(pdf.SplitLines([]byte(texts[i]), widths[i]-2)); n > maxLines {
				maxLines = n
			}
		}
		maxHt := float64(maxLines)*lineHt + 1
		if pdf.GetY()+maxHt > d.pageHeight-d.margin {
			pdf.AddPage()
		}

		x, y := d.margin, pdf.GetY()
		for i, w := range widths {
			if header {
				pdf.SetFillColor(240, 240, 240) // Light gray background
				pdf.Rect(x, y, w, maxHt, "FD")
			} else {
				pdf.Rect(x, y, w, maxHt, "D")
			}
			pdf.SetXY(x+1, y+0.5)
			pdf.MultiCell(w-2, lineHt, texts[i], "", "L", false)
			x += w
		}
		pdf.SetXY(d.margin, y+maxHt)
	}

	pdf.Ln(2)
	drawRow(b.Header, true)
	for _, row := range b.Rows {
		drawRow(row, false)
	}
	pdf.Ln(4)
}
