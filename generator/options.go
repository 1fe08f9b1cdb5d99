package generator

import (
	"context"
	"log/slog"
	"time"

	bookbot "github.com/opd-ai/bookbot/src"
)

const (
	defaultRoadmapAttempts = 3
	defaultModuleAttempts  = 3
	defaultRetryBaseDelay  = 2 * time.Second
	defaultRetryMaxDelay   = 30 * time.Second
)

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithRoadmapAttempts sets how often the roadmap call is tried (defaults to 3).
func WithRoadmapAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.roadmapAttempts = n
		}
	}
}

// WithModuleAttempts sets how often each module call is tried (defaults to 3).
func WithModuleAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.moduleAttempts = n
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.retryBaseDelay = baseDelay
		o.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleeper != nil {
			o.sleep = sleeper
		}
	}
}

// WithProgressor sets the progress sink.
func WithProgressor(p Progressor) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.progress = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.log = logger
		}
	}
}

// WithPersona forces a persona regardless of the book session.
func WithPersona(persona bookbot.Persona) Option {
	return func(o *Orchestrator) {
		o.persona = persona
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay returns the wait after the given 1-based attempt:
// base, base*2, base*4, ... capped at the max delay.
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	base := o.retryBaseDelay
	maxDelay := o.retryMaxDelay
	if base <= 0 {
		return 0
	}
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if attempt <= 0 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
