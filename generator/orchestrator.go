// Package generator drives a book project from goal to assembled book:
// roadmap first, then one module at a time, checkpointing after every step.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/bookbot/llm"
	"github.com/opd-ai/bookbot/metrics"
	"github.com/opd-ai/bookbot/prompts"
	bookbot "github.com/opd-ai/bookbot/src"
)

var (
	// ErrAlreadyRunning is returned when the book already has an active run.
	ErrAlreadyRunning = errors.New("generation already running for this book")
	// ErrCancelled is returned when a run stops on request; the book is resumable.
	ErrCancelled = errors.New("generation cancelled")
	// ErrConfiguration wraps failures to build an LLM client.
	ErrConfiguration = errors.New("generation not configured")
	// ErrInvalidModule is returned for a module index outside the book.
	ErrInvalidModule = errors.New("invalid module index")
	// ErrModuleFailed is returned when an explicit regeneration exhausted its attempts.
	ErrModuleFailed = errors.New("module generation failed")

	errEmptyModule = errors.New("model returned empty module content")
)

// Checkpointer persists the current snapshot of a book.
type Checkpointer interface {
	SaveBook(ctx context.Context, p *bookbot.BookProject) error
}

// ClientSource returns the LLM client for a run. It is called once per run so
// settings changes apply to the next run.
type ClientSource func(ctx context.Context) (llm.Client, error)

// StaticClient returns a ClientSource that always yields c.
func StaticClient(c llm.Client) ClientSource {
	return func(context.Context) (llm.Client, error) { return c, nil }
}

// SettingsClient builds the client from the settings current when a run
// starts. base carries timeouts and token limits.
func SettingsClient(load func(context.Context) bookbot.APISettings, base llm.Config) ClientSource {
	return func(ctx context.Context) (llm.Client, error) {
		s := load(ctx)
		cfg := base
		cfg.Provider = llm.Provider(s.SelectedProvider)
		cfg.Model = s.SelectedModel
		cfg.APIKey = s.APIKey()
		return llm.New(cfg)
	}
}

type run struct {
	cancelled atomic.Bool
	stop      context.CancelFunc
}

// Orchestrator runs generations. It is safe for concurrent use across books.
type Orchestrator struct {
	source ClientSource
	cp     Checkpointer

	roadmapAttempts int
	moduleAttempts  int
	retryBaseDelay  time.Duration
	retryMaxDelay   time.Duration
	sleep           func(context.Context, time.Duration) error
	progress        Progressor
	log             *slog.Logger
	persona         bookbot.Persona
	now             func() time.Time

	mu      sync.Mutex
	running map[string]*run
}

// New builds an orchestrator that checkpoints through cp.
func New(source ClientSource, cp Checkpointer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:          source,
		cp:              cp,
		roadmapAttempts: defaultRoadmapAttempts,
		moduleAttempts:  defaultModuleAttempts,
		retryBaseDelay:  defaultRetryBaseDelay,
		retryMaxDelay:   defaultRetryMaxDelay,
		sleep:           sleepContext,
		progress:        nullProgressor{},
		log:             slog.New(slog.DiscardHandler),
		now:             time.Now,
		running:         make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With(slog.String("component", "generator"))
	return o
}

func (o *Orchestrator) acquire(ctx context.Context, id string) (context.Context, *run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[id]; busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	runCtx, stop := context.WithCancel(ctx)
	r := &run{stop: stop}
	o.running[id] = r
	metrics.ActiveRuns.Inc()
	return runCtx, r, nil
}

func (o *Orchestrator) release(id string, r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[id] == r {
		r.stop()
		delete(o.running, id)
		metrics.ActiveRuns.Dec()
	}
}

// Slot is the claim on a book's single active run. It is taken with Begin
// and ends when one of its run methods returns or Release is called.
type Slot struct {
	o    *Orchestrator
	id   string
	ctx  context.Context
	r    *run
	once sync.Once
}

// Begin claims the run of book id under ctx, failing with ErrAlreadyRunning
// while another run holds it. Running reports true from the moment Begin
// succeeds.
func (o *Orchestrator) Begin(ctx context.Context, id string) (*Slot, error) {
	runCtx, r, err := o.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Slot{o: o, id: id, ctx: runCtx, r: r}, nil
}

// Release gives the slot up. It is safe to call more than once.
func (s *Slot) Release() {
	s.once.Do(func() { s.o.release(s.id, s.r) })
}

func (s *Slot) check(p *bookbot.BookProject) error {
	if p.ID != s.id {
		s.Release()
		return fmt.Errorf("slot for book %s used for book %s", s.id, p.ID)
	}
	return nil
}

// Run generates p like Orchestrator.Run and releases the slot.
func (s *Slot) Run(p *bookbot.BookProject) error {
	if err := s.check(p); err != nil {
		return err
	}
	defer s.Release()
	return s.o.run(s.ctx, p, s.r)
}

// Running reports whether the book has an active run.
func (o *Orchestrator) Running(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[id]
	return ok
}

// Cancel asks the active run of a book to stop. The run pauses before the
// next module and abandons any in-flight request. It reports whether a run
// was active.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.running[id]
	if !ok {
		return false
	}
	r.cancelled.Store(true)
	r.stop()
	return true
}

// Run starts or resumes generation of p until it completes, fails, or is
// cancelled. Completed modules are never regenerated.
func (o *Orchestrator) Run(ctx context.Context, p *bookbot.BookProject) error {
	slot, err := o.Begin(ctx, p.ID)
	if err != nil {
		return err
	}
	return slot.Run(p)
}

func (o *Orchestrator) run(ctx context.Context, p *bookbot.BookProject, r *run) error {
	if p.Status == bookbot.StatusCompleted {
		return nil
	}
	log := o.log.With(slog.String("book", p.ID))

	client, err := o.source(ctx)
	if err != nil {
		return o.fail(ctx, p, fmt.Errorf("%w: %w", ErrConfiguration, err))
	}
	p.Provider, p.Model = string(client.Provider()), client.Model()
	p.Paused = false

	switch p.Status {
	case bookbot.StatusError:
		ev := bookbot.EventRetryContent
		if p.Roadmap == nil || len(p.Modules) == 0 {
			ev = bookbot.EventRetryRoadmap
		}
		p.Error = ""
		if err := o.advance(ctx, p, ev); err != nil {
			return err
		}
	case bookbot.StatusCompletedWithGaps:
		if err := o.advance(ctx, p, bookbot.EventRetryContent); err != nil {
			return err
		}
	}
	log.Info("generation started", slog.String("status", string(p.Status)), slog.String("provider", p.Provider), slog.String("model", p.Model))

	for {
		var err error
		switch p.Status {
		case bookbot.StatusPlanning:
			err = o.advance(ctx, p, bookbot.EventStartRoadmap)
		case bookbot.StatusGeneratingRoadmap:
			err = o.generateRoadmap(ctx, p, r, client)
		case bookbot.StatusRoadmapCompleted:
			err = o.advance(ctx, p, bookbot.EventStartContent)
		case bookbot.StatusGeneratingContent:
			if err = o.generateContent(ctx, p, r, client); err == nil {
				err = o.advance(ctx, p, bookbot.EventContentDone)
			}
		case bookbot.StatusAssembling:
			err = o.assemble(ctx, p)
		case bookbot.StatusCompleted, bookbot.StatusCompletedWithGaps:
			metrics.GenerationTotal.WithLabelValues(string(p.Status)).Inc()
			log.Info("generation finished", slog.String("status", string(p.Status)), slog.Int("words", p.WordCount()))
			return nil
		default:
			return fmt.Errorf("book %s stopped in status %s: %s", p.ID, p.Status, p.Error)
		}
		if err != nil {
			return err
		}
	}
}

func (o *Orchestrator) builder(p *bookbot.BookProject) prompts.Builder {
	if o.persona != "" {
		return prompts.For(o.persona)
	}
	return prompts.For(p.Session.Persona)
}

func (o *Orchestrator) generateRoadmap(ctx context.Context, p *bookbot.BookProject, r *run, client llm.Client) error {
	b := o.builder(p)
	system := b.System(p.Session)
	prompt := b.RoadmapPrompt(p.Session)
	o.emit(p, -1, LevelInfo, "Planning the roadmap", "")

	var lastErr error
	for attempt := 1; attempt <= o.roadmapAttempts; attempt++ {
		if r.cancelled.Load() || ctx.Err() != nil {
			return o.pause(ctx, p)
		}
		raw, err := o.call(ctx, client, system, prompt)
		if err == nil {
			var rm *bookbot.Roadmap
			if rm, err = bookbot.ParseRoadmap(raw, prompts.MinModules); err == nil {
				p.Roadmap = rm
				p.Modules = bookbot.ModulesFromRoadmap(rm)
				if rm.Title != "" {
					p.Title = rm.Title
				}
				o.log.Info("roadmap ready", slog.String("book", p.ID), slog.Int("modules", len(rm.Modules)), slog.Int("attempt", attempt))
				return o.advance(ctx, p, bookbot.EventRoadmapReady)
			}
		}
		if r.cancelled.Load() || ctx.Err() != nil {
			return o.pause(ctx, p)
		}
		lastErr = err
		if !retryableRoadmap(err) || attempt == o.roadmapAttempts {
			break
		}
		metrics.LLMRetriesTotal.WithLabelValues(string(client.Provider()), retryKind(err)).Inc()
		o.emit(p, -1, LevelWarning, fmt.Sprintf("Roadmap attempt %d failed, retrying: %v", attempt, err), "")
		if err := o.sleep(ctx, o.backoffDelay(attempt)); err != nil {
			return o.pause(ctx, p)
		}
	}
	return o.fail(ctx, p, fmt.Errorf("roadmap generation failed: %w", lastErr))
}

func retryableRoadmap(err error) bool {
	return llm.Retryable(err) ||
		errors.Is(err, bookbot.ErrMalformedRoadmap) ||
		errors.Is(err, bookbot.ErrRoadmapTooShort)
}

func retryKind(err error) string {
	if k := llm.KindOf(err); k != "" {
		return string(k)
	}
	return "parse"
}

func (o *Orchestrator) generateContent(ctx context.Context, p *bookbot.BookProject, r *run, client llm.Client) error {
	if p.Roadmap == nil || len(p.Modules) == 0 {
		return o.fail(ctx, p, errors.New("no roadmap to generate content from"))
	}
	for i := range p.Modules {
		if p.Modules[i].Status == bookbot.ModuleCompleted {
			continue
		}
		if r.cancelled.Load() || ctx.Err() != nil {
			return o.pause(ctx, p)
		}
		if err := o.generateModule(ctx, p, r, client, i); err != nil {
			return err
		}
	}
	return nil
}

// generateModule fills module i. Exhausted attempts mark the module as
// failed and return nil; only cancellation returns an error.
func (o *Orchestrator) generateModule(ctx context.Context, p *bookbot.BookProject, r *run, client llm.Client, i int) error {
	total := len(p.Modules)
	m := &p.Modules[i]
	spec := bookbot.RoadmapModule{ID: m.RoadmapID, Title: m.Title}
	if i < len(p.Roadmap.Modules) {
		spec = p.Roadmap.Modules[i]
	}

	m.Status = bookbot.ModuleGenerating
	m.Error = ""
	o.touch(p)
	o.checkpoint(ctx, p)
	o.emit(p, i, LevelInfo, fmt.Sprintf("Generating module %d of %d: %s", i+1, total, m.Title), "")

	b := o.builder(p)
	system := b.System(p.Session)
	prompt := b.ModulePrompt(p.Session, spec, p.CompletedBefore(i), i == 0, i+1, total)
	start := o.now()

	var lastErr error
	for attempt := 1; attempt <= o.moduleAttempts; attempt++ {
		m.Attempts++
		text, err := o.call(ctx, client, system, prompt)
		if err == nil {
			if text = strings.TrimSpace(text); text != "" {
				o.completeModule(ctx, p, i, text, start)
				return nil
			}
			err = errEmptyModule
		}
		if r.cancelled.Load() || ctx.Err() != nil {
			m.Status = bookbot.ModulePending
			return o.pause(ctx, p)
		}
		lastErr = err
		if !retryableModule(err) || attempt == o.moduleAttempts {
			break
		}
		metrics.LLMRetriesTotal.WithLabelValues(string(client.Provider()), retryKind(err)).Inc()
		o.emit(p, i, LevelWarning, fmt.Sprintf("Module %d attempt %d failed, retrying: %v", i+1, attempt, err), "")
		if err := o.sleep(ctx, o.backoffDelay(attempt)); err != nil || r.cancelled.Load() {
			m.Status = bookbot.ModulePending
			return o.pause(ctx, p)
		}
	}

	m.Status = bookbot.ModuleError
	m.Error = lastErr.Error()
	o.touch(p)
	o.checkpoint(ctx, p)
	metrics.ModuleDuration.WithLabelValues("error").Observe(o.now().Sub(start).Seconds())
	o.log.Warn("module failed", slog.String("book", p.ID), slog.Int("module", i+1), slog.Any("error", lastErr))
	o.emit(p, i, LevelWarning, fmt.Sprintf("Module %d failed and will be listed as missing: %v", i+1, lastErr), "")
	return nil
}

func retryableModule(err error) bool {
	return llm.Retryable(err) || errors.Is(err, errEmptyModule)
}

func (o *Orchestrator) completeModule(ctx context.Context, p *bookbot.BookProject, i int, text string, start time.Time) {
	m := &p.Modules[i]
	now := o.now()
	m.Content = text
	m.WordCount = bookbot.CountWords(text)
	m.Status = bookbot.ModuleCompleted
	m.GeneratedAt = &now
	p.UpdatedAt = now
	o.checkpoint(ctx, p)

	metrics.ModuleDuration.WithLabelValues("ok").Observe(now.Sub(start).Seconds())
	metrics.ModuleWordCount.Observe(float64(m.WordCount))
	o.log.Info("module completed", slog.String("book", p.ID), slog.Int("module", i+1), slog.Int("words", m.WordCount))
	o.emit(p, i, LevelInfo, fmt.Sprintf("Module %d of %d completed: %s", i+1, len(p.Modules), m.Title), text)
}

func (o *Orchestrator) assemble(ctx context.Context, p *bookbot.BookProject) error {
	now := o.now()
	p.FinalBook = bookbot.AssembleFinalBook(p, now)
	ev := bookbot.EventAssembled
	if len(p.Gaps()) > 0 {
		ev = bookbot.EventAssembledWithGaps
	}
	p.CompletedAt = &now
	if err := o.advance(ctx, p, ev); err != nil {
		return err
	}
	msg := "Book completed"
	if ev == bookbot.EventAssembledWithGaps {
		msg = fmt.Sprintf("Book completed with %d missing modules", len(p.Gaps()))
	}
	o.emit(p, -1, LevelDone, msg, "")
	return nil
}

// call sends one request and records its latency.
func (o *Orchestrator) call(ctx context.Context, client llm.Client, system, prompt string) (string, error) {
	start := time.Now()
	text, err := client.SendMessage(ctx, system, prompt)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if k := llm.KindOf(err); k != "" {
			outcome = string(k)
		}
	}
	metrics.LLMRequestDuration.WithLabelValues(string(client.Provider()), outcome).Observe(time.Since(start).Seconds())
	return text, err
}

// advance applies a lifecycle event and checkpoints.
func (o *Orchestrator) advance(ctx context.Context, p *bookbot.BookProject, ev bookbot.Event) error {
	next, err := bookbot.Transition(p.Status, ev)
	if err != nil {
		return err
	}
	p.Status = next
	o.touch(p)
	o.checkpoint(ctx, p)
	o.emit(p, -1, LevelInfo, "Status: "+strings.ReplaceAll(string(next), "_", " "), "")
	return nil
}

// pause records a cancellation, leaving the book resumable.
func (o *Orchestrator) pause(ctx context.Context, p *bookbot.BookProject) error {
	for i := range p.Modules {
		if p.Modules[i].Status == bookbot.ModuleGenerating {
			p.Modules[i].Status = bookbot.ModulePending
		}
	}
	p.Paused = true
	o.touch(p)
	o.checkpoint(ctx, p)
	o.log.Info("generation paused", slog.String("book", p.ID), slog.Float64("progress", p.Progress()))
	o.emit(p, -1, LevelWarning, "Generation paused", "")
	metrics.GenerationTotal.WithLabelValues("paused").Inc()
	return ErrCancelled
}

func (o *Orchestrator) fail(ctx context.Context, p *bookbot.BookProject, cause error) error {
	p.Error = cause.Error()
	if next, err := bookbot.Transition(p.Status, bookbot.EventFail); err == nil {
		p.Status = next
	}
	o.touch(p)
	o.checkpoint(ctx, p)
	o.log.Error("generation failed", slog.String("book", p.ID), slog.Any("error", cause))
	o.emit(p, -1, LevelError, cause.Error(), "")
	metrics.GenerationTotal.WithLabelValues(string(bookbot.StatusError)).Inc()
	return cause
}

func (o *Orchestrator) touch(p *bookbot.BookProject) {
	p.UpdatedAt = o.now()
}

// checkpoint saves p even after the run context is cancelled. Failures are
// reported but never stop the run.
func (o *Orchestrator) checkpoint(ctx context.Context, p *bookbot.BookProject) {
	if o.cp == nil {
		return
	}
	if err := o.cp.SaveBook(context.WithoutCancel(ctx), p); err != nil {
		o.log.Error("checkpoint failed", slog.String("book", p.ID), slog.Any("error", err))
		o.progress.Update(Event{
			BookID:  p.ID,
			Status:  p.Status,
			Total:   len(p.Modules),
			Percent: p.Progress(),
			Message: "Saving progress failed: " + err.Error(),
			Level:   LevelWarning,
		})
	}
}

func (o *Orchestrator) emit(p *bookbot.BookProject, index int, level Level, msg, text string) {
	o.progress.Update(Event{
		BookID:      p.ID,
		Status:      p.Status,
		ModuleIndex: index,
		Total:       len(p.Modules),
		Percent:     p.Progress(),
		Message:     msg,
		Text:        text,
		Level:       level,
	})
}
