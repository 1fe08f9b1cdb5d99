package ui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opd-ai/bookbot/bookcompiler"
	"github.com/opd-ai/bookbot/generator"
	"github.com/opd-ai/bookbot/llm"
	bookbot "github.com/opd-ai/bookbot/src"
	"github.com/opd-ai/bookbot/store"
)

const (
	userHeader   = "X-User-ID"
	maxBodyBytes = 32 << 20
)

var (
	errInvalidUser = errors.New("invalid user id")
	errInvalidBook = errors.New("invalid book id")
	errBadRequest  = errors.New("bad request")

	userIDRe = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)
)

// apiError is the JSON body of every failed request.
type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func (ui *BookUI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		ui.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, apiError{Error: err.Error()})
}

func statusFor(err error) int {
	var llmErr *llm.Error
	switch {
	case errors.Is(err, store.ErrBookNotFound):
		return http.StatusNotFound
	case errors.Is(err, errInvalidUser), errors.Is(err, errInvalidBook), errors.Is(err, errBadRequest),
		errors.Is(err, bookbot.ErrInvalidSession), errors.Is(err, generator.ErrInvalidModule),
		errors.Is(err, store.ErrInvalidBackup), errors.Is(err, store.ErrUnsupportedBackup):
		return http.StatusBadRequest
	case errors.Is(err, generator.ErrAlreadyRunning), errors.Is(err, bookcompiler.ErrExportInProgress),
		errors.Is(err, bookcompiler.ErrNotExportable):
		return http.StatusConflict
	case errors.Is(err, generator.ErrConfiguration), errors.Is(err, llm.ErrNoCredential):
		return http.StatusUnprocessableEntity
	case errors.As(err, &llmErr):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrDegraded), errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// userID is the opaque partition key of the caller; empty is anonymous.
func userID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(userHeader))
	if id == "" {
		return "", nil
	}
	if !userIDRe.MatchString(id) {
		return "", errInvalidUser
	}
	return id, nil
}

// isValidBookID accepts the uuid ids handed out by the API.
func isValidBookID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// loadBook resolves the {id} route parameter for the calling user.
func (ui *BookUI) loadBook(r *http.Request) (*bookbot.BookProject, error) {
	uid, err := userID(r)
	if err != nil {
		return nil, err
	}
	id := chi.URLParam(r, "id")
	if !isValidBookID(id) {
		return nil, fmt.Errorf("%w: %q", errInvalidBook, id)
	}
	return ui.store.Book(r.Context(), uid, id)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
