package bookcompiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookbot "github.com/opd-ai/bookbot/src"
)

var exportDate = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func codeModule(lines int) string {
	var b strings.Builder
	b.WriteString("# Pipelines\n\nA long listing follows.\n\n```go\n")
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "fmt.Println(%d)\n", i)
	}
	b.WriteString("```\n\n## Wrap up\n\n| Stage | Role |\n|---|---|\n| gen | produce |\n")
	return b.String()
}

func finishedBook(t *testing.T, modules ...bookbot.Module) *bookbot.BookProject {
	t.Helper()
	p := bookbot.NewProject("book-1", "", bookbot.BookSession{Goal: "Learn Go concurrency"}, exportDate)
	p.Title = "Learn Go Concurrency"
	p.Provider, p.Model = "anthropic", "claude-3-5-sonnet-latest"
	p.Modules = modules
	p.Status = bookbot.StatusCompleted
	for _, m := range modules {
		if m.Status != bookbot.ModuleCompleted {
			p.Status = bookbot.StatusCompletedWithGaps
		}
	}
	p.CompletedAt = &exportDate
	p.FinalBook = bookbot.AssembleFinalBook(p, exportDate)
	return p
}

func completed(title, content string) bookbot.Module {
	return bookbot.Module{Title: title, Content: content, WordCount: bookbot.CountWords(content), Status: bookbot.ModuleCompleted}
}

func TestExportPDFSplitsLongCode(t *testing.T) {
	bc := NewBookCompiler(Options{DisableCompression: true, Now: func() time.Time { return exportDate }})
	p := finishedBook(t,
		completed("Pipelines", codeModule(90)),
		completed("Goroutines", "Goroutines are “cheap” threads — started with `go`."),
	)

	var buf bytes.Buffer
	require.NoError(t, bc.ExportPDF(context.Background(), p, &buf))
	out := buf.Bytes()
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Equal(t, 2, bytes.Count(out, []byte("continued on next page")))
	assert.Contains(t, string(out), "Goroutines")
	assert.Contains(t, string(out), "About this book")
}

func TestExportPDFWithGapsAndCover(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 12))
	img.Set(1, 1, color.Gray{Y: 200})
	var cover bytes.Buffer
	require.NoError(t, png.Encode(&cover, img))

	bc := NewBookCompiler(Options{
		DisableCompression: true,
		Cover:              coverFunc(func(context.Context, string, string) ([]byte, error) { return cover.Bytes(), nil }),
	})
	p := finishedBook(t,
		completed("Select", "Select waits on channels."),
		bookbot.Module{Title: "Sync", Status: bookbot.ModuleError, Error: "rate limited"},
	)

	var buf bytes.Buffer
	require.NoError(t, bc.ExportPDF(context.Background(), p, &buf))
	assert.Contains(t, buf.String(), "Missing modules: 2. Sync")
	assert.Contains(t, buf.String(), "/Subtype /Image")
}

func TestExportPDFIgnoresCoverFailure(t *testing.T) {
	bc := NewBookCompiler(Options{
		Cover: coverFunc(func(context.Context, string, string) ([]byte, error) { return nil, errors.New("horde down") }),
	})
	var buf bytes.Buffer
	require.NoError(t, bc.ExportPDF(context.Background(), finishedBook(t, completed("Select", "text")), &buf))
	assert.NotZero(t, buf.Len())
}

func TestExportRejectsUnfinishedBook(t *testing.T) {
	bc := NewBookCompiler(Options{})
	p := bookbot.NewProject("b", "", bookbot.BookSession{Goal: "Learn Go"}, exportDate)
	p.Status = bookbot.StatusGeneratingContent

	err := bc.ExportPDF(context.Background(), p, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNotExportable)
	_, err = bc.ExportHTML(p)
	assert.ErrorIs(t, err, ErrNotExportable)
	_, err = bc.Export(context.Background(), finishedBook(t, completed("a", "b")), "docx", t.TempDir())
	assert.Error(t, err)
}

func TestExportInProgress(t *testing.T) {
	p := finishedBook(t, completed("Select", "text"))

	bc := NewBookCompiler(Options{})
	bc.busy.Store(true)
	assert.ErrorIs(t, bc.ExportPDF(context.Background(), p, &bytes.Buffer{}), ErrExportInProgress)
	bc.busy.Store(false)
	assert.NoError(t, bc.ExportPDF(context.Background(), p, &bytes.Buffer{}))

	lockPath := filepath.Join(t.TempDir(), "locks", "export.lock")
	holder := NewBookCompiler(Options{LockPath: lockPath})
	release, err := holder.acquire()
	require.NoError(t, err)

	other := NewBookCompiler(Options{LockPath: lockPath})
	assert.ErrorIs(t, other.ExportPDF(context.Background(), p, &bytes.Buffer{}), ErrExportInProgress)

	release()
	assert.NoError(t, other.ExportPDF(context.Background(), p, &bytes.Buffer{}))
}

func TestExportMissingFonts(t *testing.T) {
	bc := NewBookCompiler(Options{FontDir: t.TempDir()})
	err := bc.ExportPDF(context.Background(), finishedBook(t, completed("Select", "text")), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrFontLoad)
	assert.False(t, bc.busy.Load())
}

func TestExportFiles(t *testing.T) {
	dir := t.TempDir()
	bc := NewBookCompiler(Options{Now: func() time.Time { return exportDate }})
	p := finishedBook(t, completed("Select", "## Table of Contents\n\n- x\n\n## Basics\n\nSelect waits."))

	path, err := bc.Export(context.Background(), p, "html", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Learn_Go_Concurrency_2026-10-15.html"), path)
	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>Learn Go Concurrency</title>")
	assert.Contains(t, string(html), `id="basics"`)
	assert.NotContains(t, string(html), "Table of Contents")

	path, err = bc.Export(context.Background(), p, "md", dir)
	require.NoError(t, err)
	md, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, p.FinalBook, string(md))

	path, err = bc.Export(context.Background(), p, "pdf", dir)
	require.NoError(t, err)
	assert.Equal(t, "Learn_Go_Concurrency_2026-10-15.pdf", filepath.Base(path))
}

func TestHeadings(t *testing.T) {
	md := "# Book\n\n## Contents\n\n- a\n\n## Using `sync`\n\n### Deep\n\n# Next"
	assert.Equal(t, []ToCEntry{
		{Title: "Book", Level: 1},
		{Title: "Using sync", Level: 2},
		{Title: "Next", Level: 1},
	}, Headings(md))
}

func TestBookBlocksAddsModuleTitles(t *testing.T) {
	p := finishedBook(t,
		completed("Intro", "Plain opening text."),
		completed("Channels", "# Channels\n\nBody."),
	)
	entries := tocEntries(BookBlocks(p))
	assert.Equal(t, []ToCEntry{{Title: "Intro", Level: 1}, {Title: "Channels", Level: 1}}, entries)
	assert.Equal(t, 1, contentsPages(26))
	assert.Equal(t, 2, contentsPages(27))
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	src := finishedBook(t,
		completed("Select", "# Select\n\nselect body"),
		bookbot.Module{Title: "Joins", Status: bookbot.ModuleError},
		completed("Indexes", "# Indexes\n\nindex body"),
	)
	require.NoError(t, bookbot.SaveToFiles(src, dir))

	p, err := LoadDirectory(dir, exportDate)
	require.NoError(t, err)
	assert.Equal(t, "Learn Go Concurrency", p.Title)
	require.Len(t, p.Modules, 2)
	assert.Equal(t, "Select", p.Modules[0].Title)
	assert.Equal(t, "Indexes", p.Modules[1].Title)
	assert.Equal(t, bookbot.StatusCompleted, p.Status)
	assert.True(t, p.Exportable())
	assert.Contains(t, p.FinalBook, "index body")

	_, err = LoadDirectory(t.TempDir(), exportDate)
	assert.Error(t, err)
}

func TestImageType(t *testing.T) {
	tp, ok := imageType([]byte("\x89PNG\r\n\x1a\n0000"))
	assert.True(t, ok)
	assert.Equal(t, "PNG", tp)
	_, ok = imageType([]byte("RIFF0000WEBPVP8 "))
	assert.False(t, ok)
	_, ok = imageType(nil)
	assert.False(t, ok)
}

type coverFunc func(ctx context.Context, title, goal string) ([]byte, error)

func (f coverFunc) Cover(ctx context.Context, title, goal string) ([]byte, error) {
	return f(ctx, title, goal)
}
