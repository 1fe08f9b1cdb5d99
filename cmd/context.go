package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/bookbot/bookcompiler"
	"github.com/opd-ai/bookbot/config"
	"github.com/opd-ai/bookbot/generator"
	"github.com/opd-ai/bookbot/llm"
	"github.com/opd-ai/bookbot/logging"
	bookbot "github.com/opd-ai/bookbot/src"
	"github.com/opd-ai/bookbot/store"
)

type commandContext struct {
	configFlag   string
	userFlag     string
	logLevelFlag string

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error

	store *store.Store

	// source overrides the settings-driven LLM client.
	source generator.ClientSource
	now    func() time.Time
}

func newCommandContext() *commandContext {
	return &commandContext{now: time.Now}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.TrimSpace(c.logLevelFlag); level != "" {
			cfg.Log.Level = level
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func (c *commandContext) userID() string {
	return strings.TrimSpace(c.userFlag)
}

// openStore opens the configured backend once per invocation.
func (c *commandContext) openStore() (*store.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	var kv store.KV
	switch cfg.Store.Backend {
	case config.BackendMemory:
		kv = store.NewMemoryKV()
	case config.BackendFile:
		kv, err = store.NewFileKV(cfg.Store.Dir)
	case config.BackendSQLite:
		kv, err = store.NewSQLiteKV(cfg.Store.SQLitePath)
	case config.BackendRedis:
		kv, err = store.NewRedisKV(cfg.Store.Redis)
	default:
		err = fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	c.logger.Debug("store opened", slog.String("backend", cfg.Store.Backend))
	c.store = store.New(kv, logging.Component(c.logger, "store"))
	return c.store, nil
}

func (c *commandContext) withStore(fn func(*store.Store) error) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	return fn(st)
}

func (c *commandContext) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

// orchestrator builds a generator wired to the configured retry policy.
func (c *commandContext) orchestrator(st *store.Store, opts ...generator.Option) *generator.Orchestrator {
	cfg := c.config
	source := c.source
	if source == nil {
		source = generator.SettingsClient(st.Settings, llm.Config{
			Timeout:         cfg.LLM.Timeout,
			ThinkingTimeout: cfg.LLM.ThinkingTimeout,
			MaxTokens:       cfg.LLM.MaxTokens,
		})
	}
	base := []generator.Option{
		generator.WithRoadmapAttempts(cfg.Generation.RoadmapAttempts),
		generator.WithModuleAttempts(cfg.Generation.ModuleAttempts),
		generator.WithRetryBackoff(cfg.Generation.RetryDelay, cfg.Generation.MaxRetryDelay),
		generator.WithLogger(c.logger),
		generator.WithClock(c.now),
	}
	return generator.New(source, st, append(base, opts...)...)
}

func (c *commandContext) compiler() *bookcompiler.BookCompiler {
	cfg := c.config
	opts := bookcompiler.Options{
		FontDir:            cfg.Export.FontDir,
		Fonts:              cfg.Export.Fonts,
		LockPath:           cfg.Export.LockPath,
		DisableCompression: cfg.Export.DisableCompression,
		MaxCodeLines:       cfg.Export.MaxCodeLines,
		Logger:             c.logger,
		Now:                c.now,
	}
	if cfg.Horde.Enabled {
		opts.Cover = bookbot.NewHordeClient(cfg.Horde.APIKey, c.logger)
	}
	return bookcompiler.NewBookCompiler(opts)
}

// findBook resolves a book by id or by a unique id prefix.
func (c *commandContext) findBook(ctx context.Context, st *store.Store, ref string) (*bookbot.BookProject, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("book id is required")
	}
	if p, err := st.Book(ctx, c.userID(), ref); err == nil {
		return p, nil
	}
	var match *bookbot.BookProject
	books := st.Books(ctx, c.userID())
	for i := range books {
		if !strings.HasPrefix(books[i].ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("book id %q is ambiguous", ref)
		}
		match = &books[i]
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrBookNotFound, ref)
	}
	return match, nil
}
