package ui

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opd-ai/bookbot/generator"
	bookbot "github.com/opd-ai/bookbot/src"
)

type runResponse struct {
	ID     string         `json:"id"`
	Status bookbot.Status `json:"status"`
	Stream string         `json:"stream"`
}

// claim takes the run slot of bookID under the UI context, so a second
// request fails before any progress session is touched.
func (ui *BookUI) claim(bookID string) (*generator.Slot, error) {
	return ui.gen.Begin(ui.ctx, bookID)
}

// startRun runs fn in the background on a claimed slot. Progress for
// bookID is collected by the hub until fn returns.
func (ui *BookUI) startRun(bookID string, fn func() error) {
	ui.hub.Start(bookID)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		defer ui.hub.Finish(bookID)

		log := ui.log.With(slog.String("book", bookID))
		log.Info("starting generation")
		err := fn()
		switch {
		case err == nil:
			log.Info("generation stopped")
		case errors.Is(err, generator.ErrCancelled):
			log.Info("generation cancelled")
		default:
			log.Error("generation error", slog.Any("error", err))
			ui.hub.Update(generator.Event{BookID: bookID, ModuleIndex: -1, Message: err.Error(), Level: generator.LevelError})
		}
	}()
}

// handleGenerate starts or resumes generation of a book.
func (ui *BookUI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	if p.Status == bookbot.StatusCompleted {
		writeJSON(w, http.StatusOK, runResponse{ID: p.ID, Status: p.Status})
		return
	}
	slot, err := ui.claim(p.ID)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	resp := runResponse{ID: p.ID, Status: p.Status, Stream: "/ws/" + p.ID}
	ui.startRun(p.ID, func() error { return slot.Run(p) })
	writeJSON(w, http.StatusAccepted, resp)
}

func (ui *BookUI) handleCancel(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	if !ui.gen.Cancel(p.ID) {
		writeJSON(w, http.StatusConflict, apiError{Error: "generation is not running"})
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{ID: p.ID, Status: p.Status})
}

// handleRegenerateModule regenerates the module at the zero-based {index}.
func (ui *BookUI) handleRegenerateModule(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= len(p.Modules) {
		ui.writeError(w, r, fmt.Errorf("%w: module %q", generator.ErrInvalidModule, chi.URLParam(r, "index")))
		return
	}
	slot, err := ui.claim(p.ID)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	resp := runResponse{ID: p.ID, Status: p.Status, Stream: "/ws/" + p.ID}
	ui.startRun(p.ID, func() error { return slot.RegenerateModule(p, index) })
	writeJSON(w, http.StatusAccepted, resp)
}

func (ui *BookUI) handleRegenerateRoadmap(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	slot, err := ui.claim(p.ID)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	resp := runResponse{ID: p.ID, Status: p.Status, Stream: "/ws/" + p.ID}
	ui.startRun(p.ID, func() error { return slot.RegenerateRoadmap(p) })
	writeJSON(w, http.StatusAccepted, resp)
}

// handleGetMessages returns the progress recorded for the latest run.
func (ui *BookUI) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	p, err := ui.loadBook(r)
	if err != nil {
		ui.writeError(w, r, err)
		return
	}
	messages, ok := ui.hub.History(p.ID)
	if !ok {
		messages = []generator.Event{}
	}
	writeJSON(w, http.StatusOK, messages)
}
