package bookcompiler

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jung-kurt/gofpdf"

	bookbot "github.com/opd-ai/bookbot/src"
)

const (
	tocEntriesPerPage = 26
	unicodeFamily     = "BookSans"
	unicodeMono       = "BookMono"
)

// document is the state of one layout pass.
type document struct {
	pdf         *gofpdf.Fpdf
	tr          func(string) string
	unicode     bool
	chapterFont string
	textFont    string
	monoFont    string
	toc         []ToCEntry
	tocLevels   map[int]TextStyle
	linked      bool
	heading     int
	pageWidth   float64
	pageHeight  float64
	margin      float64
	maxCode     int
}

func (bc *BookCompiler) newDocument(entries []ToCEntry, linked bool) (*document, error) {
	pdf := gofpdf.New("P", "mm", "A4", bc.opts.FontDir)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetCompression(!bc.opts.DisableCompression)
	pdf.AliasNbPages("")

	d := &document{
		pdf:         pdf,
		chapterFont: "Arial",
		textFont:    "Times",
		monoFont:    "Courier",
		toc:         append([]ToCEntry(nil), entries...),
		tocLevels:   make(map[int]TextStyle),
		linked:      linked,
		pageWidth:   210, // A4 width in mm
		pageHeight:  297, // A4 height in mm
		margin:      20,
		maxCode:     bc.opts.MaxCodeLines,
	}
	if bc.opts.FontDir != "" {
		if err := d.loadFonts(bc.opts.FontDir, bc.opts.Fonts); err != nil {
			return nil, err
		}
	} else {
		d.tr = pdf.UnicodeTranslatorFromDescriptor("")
	}

	d.tocLevels[1] = TextStyle{FontFamily: d.chapterFont, Style: "B", Size: 13}
	d.tocLevels[2] = TextStyle{FontFamily: d.chapterFont, Style: "", Size: 11}

	if linked {
		for i := range d.toc {
			d.toc[i].Link = pdf.AddLink()
		}
	}
	pdf.SetFooterFunc(func() {
		if pdf.PageNo() == 1 {
			return
		}
		pdf.SetY(-15)
		pdf.SetFont(d.chapterFont, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})
	return d, nil
}

func (d *document) loadFonts(dir string, files FontFiles) error {
	fonts := []struct {
		family, style, file string
	}{
		{unicodeFamily, "", files.Regular},
		{unicodeFamily, "B", files.Bold},
		{unicodeFamily, "I", files.Italic},
		{unicodeFamily, "BI", files.BoldItalic},
		{unicodeMono, "", files.Mono},
	}
	for _, f := range fonts {
		if _, err := os.Stat(filepath.Join(dir, f.file)); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFontLoad, f.file, err)
		}
		d.pdf.AddUTF8Font(f.family, f.style, f.file)
		if d.pdf.Err() {
			return fmt.Errorf("%w: %s: %v", ErrFontLoad, f.file, d.pdf.Error())
		}
	}
	d.unicode = true
	d.tr = func(s string) string { return s }
	d.chapterFont = unicodeFamily
	d.textFont = unicodeFamily
	d.monoFont = unicodeMono
	return nil
}

// text prepares s for the current font set.
func (d *document) text(s string) string {
	return d.tr(NormalizeText(s))
}

func contentsPages(entries int) int {
	if entries <= tocEntriesPerPage {
		return 1
	}
	return int(math.Ceil(float64(entries) / tocEntriesPerPage))
}

func (d *document) render(p *bookbot.BookProject, blocks []Block, cover []byte) {
	d.coverPage(p, cover)
	d.contents()
	for _, b := range blocks {
		d.renderBlock(b)
	}
	d.disclaimer(p)
}

func (d *document) coverPage(p *bookbot.BookProject, cover []byte) {
	pdf := d.pdf
	pdf.AddPage()
	pdf.SetY(45)
	pdf.SetFont(d.chapterFont, "B", 28)
	pdf.MultiCell(0, 12, d.text(p.Title), "", "C", false)
	pdf.Ln(4)

	if tp, ok := imageType(cover); ok {
		name := "cover-" + p.ID
		info := pdf.RegisterImageOptionsReader(name, gofpdf.ImageOptions{ImageType: tp}, bytes.NewReader(cover))
		if info != nil && !pdf.Err() && info.Width() > 0 {
			w := 100.0
			h := info.Height() * w / info.Width()
			y := pdf.GetY()
			pdf.ImageOptions(name, (d.pageWidth-w)/2, y, w, h, false, gofpdf.ImageOptions{ImageType: tp}, 0, "")
			pdf.SetY(y + h + 6)
		}
	}

	pdf.SetFont(d.textFont, "I", 13)
	pdf.MultiCell(0, 7, d.text(p.Session.Goal), "", "C", false)
	pdf.Ln(10)

	completed := len(p.Modules) - len(p.Gaps())
	rows := [][2]string{
		{"Modules", fmt.Sprintf("%d of %d", completed, len(p.Modules))},
		{"Words", humanize.Comma(int64(p.WordCount()))},
	}
	if p.Provider != "" {
		rows = append(rows, [2]string{"Generated with", p.Provider + " / " + p.Model})
	}
	if p.Session.Complexity != "" {
		rows = append(rows, [2]string{"Level", string(p.Session.Complexity)})
	}
	if p.CompletedAt != nil {
		rows = append(rows, [2]string{"Completed", p.CompletedAt.UTC().Format("2006-01-02")})
	}
	labelW, valueW := 45.0, 85.0
	left := (d.pageWidth - labelW - valueW) / 2
	for _, row := range rows {
		pdf.SetX(left)
		pdf.SetFont(d.chapterFont, "B", 10)
		pdf.SetFillColor(240, 240, 240)
		pdf.CellFormat(labelW, 8, d.text(row[0]), "1", 0, "L", true, 0, "")
		pdf.SetFont(d.chapterFont, "", 10)
		pdf.CellFormat(valueW, 8, d.text(row[1]), "1", 1, "L", false, 0, "")
	}

	if gaps := p.Gaps(); len(gaps) > 0 {
		titles := make([]string, 0, len(gaps))
		for _, i := range gaps {
			titles = append(titles, fmt.Sprintf("%d. %s", i+1, p.Modules[i].Title))
		}
		pdf.Ln(8)
		pdf.SetFont(d.textFont, "I", 10)
		pdf.MultiCell(0, 5, d.text("Missing modules: "+strings.Join(titles, "; ")), "", "C", false)
	}
}

// contents lays out the contents pages. The page count depends only on the
// number of entries, so both passes place the body on the same pages.
func (d *document) contents() {
	pdf := d.pdf
	pdf.SetAutoPageBreak(false, 0)
	defer pdf.SetAutoPageBreak(true, d.margin)

	contentWidth := d.pageWidth - 2*d.margin
	titleWidth := contentWidth * 0.85
	pageNumWidth := contentWidth * 0.15

	pages := contentsPages(len(d.toc))
	for pg := 0; pg < pages; pg++ {
		pdf.AddPage()
		if pg == 0 {
			pdf.Bookmark("Contents", 0, -1)
			pdf.SetFont(d.chapterFont, "B", 24)
			pdf.Cell(0, 10, "Contents")
			pdf.Ln(20)
		}
		end := (pg + 1) * tocEntriesPerPage
		if end > len(d.toc) {
			end = len(d.toc)
		}
		for _, entry := range d.toc[pg*tocEntriesPerPage : end] {
			style := d.tocLevels[entry.Level]
			pdf.SetFont(style.FontFamily, style.Style, style.Size)
			indent := float64(entry.Level-1) * 8
			pdf.SetX(d.margin + indent)
			title := d.fit(d.text(entry.Title), titleWidth-indent-2)
			pdf.CellFormat(titleWidth-indent, 8, title, "", 0, "L", false, entry.Link, "")
			pdf.CellFormat(pageNumWidth, 8, fmt.Sprintf("... %d", entry.PageNum), "", 1, "R", false, entry.Link, "")
		}
	}
}

// fit shortens s until it fits width with the current font.
func (d *document) fit(s string, width float64) string {
	if d.pdf.GetStringWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && d.pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func (d *document) disclaimer(p *bookbot.BookProject) {
	pdf := d.pdf
	pdf.AddPage()
	pdf.SetFont(d.chapterFont, "B", 18)
	pdf.Cell(0, 10, "About this book")
	pdf.Ln(16)
	pdf.SetFont(d.textFont, "", 11)
	model := "a large language model"
	if p.Model != "" {
		model = p.Model
	}
	text := fmt.Sprintf("This book was written by %s from the learning goal \"%s\". "+
		"Generated text can contain mistakes, outdated facts and invented references. "+
		"Check important details against primary sources before relying on them.", model, p.Session.Goal)
	pdf.MultiCell(0, 6, d.text(text), "", "L", false)
}
