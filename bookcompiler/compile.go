// Package bookcompiler renders finished books to PDF, Markdown and HTML.
package bookcompiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/opd-ai/bookbot/metrics"
	bookbot "github.com/opd-ai/bookbot/src"
)

var (
	// ErrExportInProgress is returned while another export holds the compiler.
	ErrExportInProgress = errors.New("export already in progress")
	// ErrFontLoad is returned when configured fonts cannot be loaded.
	ErrFontLoad = errors.New("font load failed")
	// ErrNotExportable is returned for books without a final text.
	ErrNotExportable = errors.New("book is not ready for export")
)

// FontFiles names the TTF files loaded from Options.FontDir.
type FontFiles struct {
	Regular    string `mapstructure:"regular"`
	Bold       string `mapstructure:"bold"`
	Italic     string `mapstructure:"italic"`
	BoldItalic string `mapstructure:"bold_italic"`
	Mono       string `mapstructure:"mono"`
}

// DefaultFontFiles are the DejaVu file names.
func DefaultFontFiles() FontFiles {
	return FontFiles{
		Regular:    "DejaVuSans.ttf",
		Bold:       "DejaVuSans-Bold.ttf",
		Italic:     "DejaVuSans-Oblique.ttf",
		BoldItalic: "DejaVuSans-BoldOblique.ttf",
		Mono:       "DejaVuSansMono.ttf",
	}
}

// Options configures a BookCompiler.
type Options struct {
	// FontDir enables UTF-8 fonts; empty uses the PDF core fonts.
	FontDir string
	Fonts   FontFiles
	// LockPath, when set, also serializes exports across processes.
	LockPath           string
	DisableCompression bool
	MaxCodeLines       int
	Cover              CoverArtist
	Logger             *slog.Logger
	Now                func() time.Time
}

// BookCompiler renders one export at a time.
type BookCompiler struct {
	opts Options
	log  *slog.Logger
	busy atomic.Bool
	lock *flock.Flock
}

// NewBookCompiler creates a new instance of BookCompiler
func NewBookCompiler(opts Options) *BookCompiler {
	if opts.Fonts == (FontFiles{}) {
		opts.Fonts = DefaultFontFiles()
	}
	if opts.MaxCodeLines <= 0 {
		opts.MaxCodeLines = MaxCodeLines
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	bc := &BookCompiler{
		opts: opts,
		log:  logger.With(slog.String("component", "bookcompiler")),
	}
	if opts.LockPath != "" {
		bc.lock = flock.New(opts.LockPath)
	}
	return bc
}

// acquire claims the compiler for one export.
func (bc *BookCompiler) acquire() (func(), error) {
	if !bc.busy.CompareAndSwap(false, true) {
		return nil, ErrExportInProgress
	}
	if bc.lock == nil {
		return func() { bc.busy.Store(false) }, nil
	}
	if err := os.MkdirAll(filepath.Dir(bc.opts.LockPath), 0o755); err != nil {
		bc.busy.Store(false)
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := bc.lock.TryLock()
	if err != nil {
		bc.busy.Store(false)
		return nil, fmt.Errorf("acquire export lock: %w", err)
	}
	if !ok {
		bc.busy.Store(false)
		return nil, ErrExportInProgress
	}
	return func() {
		if err := bc.lock.Unlock(); err != nil {
			bc.log.Warn("failed to release export lock", slog.Any("error", err))
		}
		bc.busy.Store(false)
	}, nil
}

// ExportPDF renders p as a PDF into w.
func (bc *BookCompiler) ExportPDF(ctx context.Context, p *bookbot.BookProject, w io.Writer) (err error) {
	defer func() { observe("pdf", err) }()
	if !p.Exportable() {
		return fmt.Errorf("%w: status %s", ErrNotExportable, p.Status)
	}
	release, err := bc.acquire()
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	blocks := BookBlocks(p)
	entries := tocEntries(blocks)

	var cover []byte
	if bc.opts.Cover != nil {
		if cover, err = bc.opts.Cover.Cover(ctx, p.Title, p.Session.Goal); err != nil {
			bc.log.Warn("cover art unavailable", slog.String("book", p.ID), slog.Any("error", err))
			cover = nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// First pass: lay out once to learn the page of every contents entry.
	first, err := bc.newDocument(entries, false)
	if err != nil {
		return err
	}
	first.render(p, blocks, cover)
	if err := first.pdf.Error(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	entries = first.toc

	second, err := bc.newDocument(entries, true)
	if err != nil {
		return err
	}
	second.render(p, blocks, cover)
	if err := second.pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	bc.log.Info("pdf exported",
		slog.String("book", p.ID),
		slog.Int("pages", second.pdf.PageNo()),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// ExportPDFFile writes the PDF into dir under FileName and returns its path.
func (bc *BookCompiler) ExportPDFFile(ctx context.Context, p *bookbot.BookProject, dir string) (string, error) {
	var buf bytes.Buffer
	if err := bc.ExportPDF(ctx, p, &buf); err != nil {
		return "", err
	}
	return writeExport(dir, FileName(p.Title, bc.opts.Now(), "pdf"), buf.Bytes())
}

func writeExport(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

func observe(format string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ExportTotal.WithLabelValues(format, status).Inc()
}

// BookBlocks parses every completed module, making sure each one opens with
// a level 1 heading.
func BookBlocks(p *bookbot.BookProject) []Block {
	var blocks []Block
	for _, m := range p.Modules {
		if m.Status != bookbot.ModuleCompleted {
			continue
		}
		parsed := Parse(m.Content)
		if len(parsed) == 0 || parsed[0].Kind != BlockHeading || parsed[0].Level != 1 {
			blocks = append(blocks, Block{Kind: BlockHeading, Level: 1, Text: NormalizeText(m.Title)})
		}
		blocks = append(blocks, parsed...)
	}
	return blocks
}

func tocEntries(blocks []Block) []ToCEntry {
	var entries []ToCEntry
	for _, b := range blocks {
		if b.Kind == BlockHeading && b.Level <= 2 {
			entries = append(entries, ToCEntry{Title: b.Text, Level: b.Level})
		}
	}
	return entries
}
