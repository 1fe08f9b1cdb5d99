// Package ui serves the bookbot HTTP API and the websocket progress stream.
package ui

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"

	"github.com/opd-ai/bookbot/bookcompiler"
	"github.com/opd-ai/bookbot/generator"
	"github.com/opd-ai/bookbot/metrics"
	"github.com/opd-ai/bookbot/srv/util"
	"github.com/opd-ai/bookbot/store"
)

// Options tunes the HTTP surface.
type Options struct {
	AllowedOrigins []string
	// RateLimit is the number of API requests per RateWindow and client IP;
	// zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// BookUI is the HTTP host for book generation.
type BookUI struct {
	router   chi.Router
	store    *store.Store
	gen      *generator.Orchestrator
	compiler *bookcompiler.BookCompiler
	hub      *Hub
	log      *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBookUI wires the API. hub must be the progressor gen reports to.
func NewBookUI(st *store.Store, gen *generator.Orchestrator, compiler *bookcompiler.BookCompiler, hub *Hub, opts Options) *BookUI {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	ui := &BookUI{
		router:   chi.NewRouter(),
		store:    st,
		gen:      gen,
		compiler: compiler,
		hub:      hub,
		log:      logger.With(slog.String("component", "http")),
		now:      opts.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	ui.setupRoutes(opts)
	return ui
}

func (ui *BookUI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ui.router.ServeHTTP(w, r)
}

// Close cancels every generation started by the API and waits for them to
// checkpoint and stop.
func (ui *BookUI) Close() {
	ui.cancel()
	ui.wg.Wait()
}

func (ui *BookUI) setupRoutes(opts Options) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	ui.router.Use(middleware.RequestID)
	ui.router.Use(middleware.RealIP)
	ui.router.Use(util.LoggingMiddleware(ui.log))
	ui.router.Use(util.RecoveryMiddleware(ui.log))
	ui.router.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", userHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Content-Disposition"},
	}).Handler)

	ui.router.Get("/healthz", ui.handleHealth)
	ui.router.Handle("/metrics", metrics.Handler())
	ui.router.Get("/ws/{id}", ui.handleWebSocket)

	ui.router.Route("/api", func(r chi.Router) {
		if opts.RateLimit > 0 {
			window := opts.RateWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(httprate.LimitByIP(opts.RateLimit, window))
		}
		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/providers", ui.handleProviders)
		r.Get("/settings", ui.handleGetSettings)
		r.Put("/settings", ui.handlePutSettings)
		r.Get("/backup", ui.handleExportBackup)
		r.Post("/backup", ui.handleImportBackup)

		r.Get("/books", ui.handleListBooks)
		r.Post("/books", ui.handleCreateBook)
		r.Route("/books/{id}", func(r chi.Router) {
			r.Get("/", ui.handleGetBook)
			r.Delete("/", ui.handleDeleteBook)
			r.Post("/generate", ui.handleGenerate)
			r.Post("/cancel", ui.handleCancel)
			r.Post("/roadmap/regenerate", ui.handleRegenerateRoadmap)
			r.Post("/modules/{index}/regenerate", ui.handleRegenerateModule)
			r.Get("/progress", ui.handleGetMessages)
			r.Get("/export/{format}", ui.handleExport)
			r.Get("/bookmark", ui.handleGetBookmark)
			r.Put("/bookmark", ui.handlePutBookmark)
		})
	})
}

func (ui *BookUI) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if ui.store.Degraded() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
