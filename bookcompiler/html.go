package bookcompiler

import (
	"bytes"
	"context"
	"fmt"

	"github.com/russross/blackfriday/v2"

	bookbot "github.com/opd-ai/bookbot/src"
)

// ExportMarkdown returns the assembled book text.
func (bc *BookCompiler) ExportMarkdown(p *bookbot.BookProject) (out []byte, err error) {
	defer func() { observe("markdown", err) }()
	if !p.Exportable() {
		return nil, fmt.Errorf("%w: status %s", ErrNotExportable, p.Status)
	}
	return []byte(p.FinalBook), nil
}

// ExportHTML renders the assembled book as a standalone HTML page with a
// generated table of contents.
func (bc *BookCompiler) ExportHTML(p *bookbot.BookProject) (out []byte, err error) {
	defer func() { observe("html", err) }()
	if !p.Exportable() {
		return nil, fmt.Errorf("%w: status %s", ErrNotExportable, p.Status)
	}
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Title: p.Title,
		Flags: blackfriday.CommonHTMLFlags | blackfriday.CompletePage | blackfriday.TOC,
	})
	body := blackfriday.Run(
		[]byte(StripContents(p.FinalBook)),
		blackfriday.WithRenderer(renderer),
		blackfriday.WithExtensions(blackfriday.CommonExtensions|blackfriday.AutoHeadingIDs),
	)
	return body, nil
}

// Export renders p in the named format ("pdf", "md" or "html") and writes
// it into dir, returning the file path.
func (bc *BookCompiler) Export(ctx context.Context, p *bookbot.BookProject, format, dir string) (string, error) {
	switch format {
	case "pdf":
		return bc.ExportPDFFile(ctx, p, dir)
	case "md", "markdown":
		data, err := bc.ExportMarkdown(p)
		if err != nil {
			return "", err
		}
		return writeExport(dir, FileName(p.Title, bc.opts.Now(), "md"), data)
	case "html":
		data, err := bc.ExportHTML(p)
		if err != nil {
			return "", err
		}
		return writeExport(dir, FileName(p.Title, bc.opts.Now(), "html"), data)
	}
	return "", fmt.Errorf("unknown export format %q", format)
}

// Headings lists the level 1 and 2 headings of a markdown text.
func Headings(markdown string) []ToCEntry {
	parser := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	ast := parser.Parse([]byte(StripContents(markdown)))
	var entries []ToCEntry
	ast.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		if entering && node.Type == blackfriday.Heading && node.Level <= 2 {
			entries = append(entries, ToCEntry{Title: getString(node), Level: node.Level})
		}
		return blackfriday.GoToNext
	})
	return entries
}

// Helper function to extract text from markdown node
func getString(node *blackfriday.Node) string {
	var result bytes.Buffer
	node.Walk(func(n *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		if entering && (n.Type == blackfriday.Text || n.Type == blackfriday.Code) {
			result.Write(n.Literal)
		}
		return blackfriday.GoToNext
	})
	return result.String()
}
