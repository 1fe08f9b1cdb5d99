package ui

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opd-ai/bookbot/bookcompiler"
	"github.com/opd-ai/bookbot/llm"
	bookbot "github.com/opd-ai/bookbot/src"
	"github.com/opd-ai/bookbot/store"
)

const maskPrefix = "****"

type bookSummary struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Status    bookbot.Status `json:"status"`
	Progress  float64        `json:"progress"`
	Modules   int            `json:"modules"`
	Words     int            `json:"words"`
	Paused    bool           `json:"paused,omitempty"`
	Running   bool           `json:"running"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type createBookRequest struct {
	bookbot.BookSession
	Start bool `json:"start"`
}

type providerView struct {
	ID     llm.Provider    `json:"id"`
	Name   string          `json:"name"`
	Models []llm.ModelInfo `json:"models"`
}

func (ui *BookUI) handleProviders(w http.ResponseWriter, r *http.Request) {
	var out []providerView
	for _, p := range llm.Providers() {
		out = append(out, providerView{ID: p, Name: llm.ProviderName(p), Models: llm.Models(p)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (ui *BookUI) handleListBooks(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	books := ui.store.Books(r.Context(), uid)
	out := make([]bookSummary, 0, len(books))
	for i := range books {
		p := &books[i]
		out = append(out, bookSummary{
			ID:        p.ID,
			Title:     p.Title,
			Status:    p.Status,
			Progress:  p.Progress(),
			Modules:   len(p.Modules),
			Words:     p.WordCount(),
			Paused:    p.Paused,
			Running:   ui.gen.Running(p.ID),
			UpdatedAt: p.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (ui *BookUI) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	var req createBookRequest
	if err := decodeJSON(r, &req); err != nil {
		ui.writeError(w, r, err)
		return
	}
	session := req.BookSession
	ui.store.Settings(r.Context()).ApplyDefaults(&session)
	if err := session.Validate(); err != nil {
		ui.writeError(w, r, err)
		return
	}

	p := bookbot.NewProject(uuid.New().String(), uid, session, ui.now())
	if err := ui.store.SaveBook(r.Context(), p); err != nil && !errors.Is(err, store.ErrDegraded) {
		ui.writeError(w, r, err)
		return
	}
	if req.Start {
		slot, err := ui.claim(p.ID)
		if err != nil {
			ui.writeError(w, r, err)
			return
		}
		run := *p
		ui.startRun(p.ID, func() error { return slot.Run(&run) })
	}
	w.Header().Set("Location", "/api/books/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (ui *BookUI) handleGetBook(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (ui *BookUI) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	slot, err := ui.gen.Begin(r.Context(), p.ID)
	if err != nil {
		ui.writeError(w, r, fmt.Errorf("cannot delete book %s: %w", p.ID, err))
		return
	}
	defer slot.Release()
	if err := ui.store.DeleteBook(r.Context(), p.UserID, p.ID); err != nil {
		ui.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ui *BookUI) handleExport(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}

	var (
		data        []byte
		ext         string
		contentType string
	)
	switch format := strings.ToLower(chi.URLParam(r, "format")); format {
	case "pdf":
		var buf bytes.Buffer
		err = ui.compiler.ExportPDF(r.Context(), p, &buf)
		data, ext, contentType = buf.Bytes(), "pdf", "application/pdf"
	case "md", "markdown":
		data, err = ui.compiler.ExportMarkdown(p)
		ext, contentType = "md", "text/markdown; charset=utf-8"
	case "html":
		data, err = ui.compiler.ExportHTML(p)
		ext, contentType = "html", "text/html; charset=utf-8"
	default:
		err = fmt.Errorf("%w: unknown export format %q", errBadRequest, format)
	}
	if err != nil {
		ui.writeError(w, r, err)
		return
	}

	name := bookcompiler.FileName(p.Title, ui.now(), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (ui *BookUI) handleGetBookmark(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	b, ok := ui.store.Bookmark(r.Context(), p.ID)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no bookmark"})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (ui *BookUI) handlePutBookmark(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	var b bookbot.ReadingBookmark
	if err := decodeJSON(r, &b); err != nil {
		ui.writeError(w, r, err)
		return
	}
	if b.ModuleIndex < 0 || (len(p.Modules) > 0 && b.ModuleIndex >= len(p.Modules)) || b.Percent < 0 || b.Percent > 100 {
		ui.writeError(w, r, fmt.Errorf("%w: bookmark out of range", errBadRequest))
		return
	}
	b.BookID = p.ID
	if err := ui.store.SaveBookmark(r.Context(), b); err != nil {
		ui.writeError(w, r, err)
		return
	}
	saved, _ := ui.store.Bookmark(r.Context(), p.ID)
	writeJSON(w, http.StatusOK, saved)
}

// maskKeys hides stored credentials, keeping the last four characters.
func maskKeys(s bookbot.APISettings) bookbot.APISettings {
	masked := make(map[string]string, len(s.APIKeys))
	for p, k := range s.APIKeys {
		tail := ""
		if len(k) > 8 {
			tail = k[len(k)-4:]
		}
		masked[p] = maskPrefix + tail
	}
	s.APIKeys = masked
	return s
}

func (ui *BookUI) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, maskKeys(ui.store.Settings(r.Context())))
}

// handlePutSettings replaces the settings. Masked keys sent back unchanged
// keep their stored value.
func (ui *BookUI) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var in bookbot.APISettings
	if err := decodeJSON(r, &in); err != nil {
		ui.writeError(w, r, err)
		return
	}
	current := ui.store.Settings(r.Context())
	for p, k := range in.APIKeys {
		if strings.HasPrefix(k, maskPrefix) {
			in.APIKeys[p] = current.APIKeys[p]
		}
	}
	if err := ui.store.SaveSettings(r.Context(), in); err != nil {
		ui.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maskKeys(ui.store.Settings(r.Context())))
}

func (ui *BookUI) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	backup := ui.store.Export(r.Context(), uid)
	name := fmt.Sprintf("bookbot-backup-%s.json", backup.ExportDate.UTC().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	writeJSON(w, http.StatusOK, backup)
}

func (ui *BookUI) handleImportBackup(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	mode := store.ImportMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = store.ImportMerge
	}
	if mode != store.ImportMerge && mode != store.ImportReplace {
		ui.writeError(w, r, fmt.Errorf("%w: import mode %q", errBadRequest, mode))
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		ui.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	report, err := ui.store.Import(r.Context(), uid, data, mode)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
