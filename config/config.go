// Package config loads bookbot settings from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opd-ai/bookbot/bookcompiler"
	"github.com/opd-ai/bookbot/logging"
	"github.com/opd-ai/bookbot/store"
)

// EnvPrefix prefixes every environment override, e.g. BOOKBOT_STORE_BACKEND.
const EnvPrefix = "BOOKBOT"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	Log        logging.Options  `mapstructure:"log"`
	Generation GenerationConfig `mapstructure:"generation"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Store      StoreConfig      `mapstructure:"store"`
	Export     ExportConfig     `mapstructure:"export"`
	Server     ServerConfig     `mapstructure:"server"`
	Horde      HordeConfig      `mapstructure:"horde"`
}

// GenerationConfig holds the orchestrator retry policy.
type GenerationConfig struct {
	RoadmapAttempts int           `mapstructure:"roadmap_attempts"`
	ModuleAttempts  int           `mapstructure:"module_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay   time.Duration `mapstructure:"max_retry_delay"`
}

// LLMConfig tunes provider calls.
type LLMConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	ThinkingTimeout time.Duration `mapstructure:"thinking_timeout"`
	MaxTokens       int           `mapstructure:"max_tokens"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend    string            `mapstructure:"backend"`
	Dir        string            `mapstructure:"dir"`
	SQLitePath string            `mapstructure:"sqlite_path"`
	Redis      store.RedisConfig `mapstructure:"redis"`
}

// ExportConfig configures the export renderer.
type ExportConfig struct {
	Dir                string                 `mapstructure:"dir"`
	FontDir            string                 `mapstructure:"font_dir"`
	Fonts              bookcompiler.FontFiles `mapstructure:"fonts"`
	LockPath           string                 `mapstructure:"lock_path"`
	MaxCodeLines       int                    `mapstructure:"max_code_lines"`
	DisableCompression bool                   `mapstructure:"disable_compression"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
	HistoryTTL      time.Duration `mapstructure:"history_ttl"`
	TLS             bool          `mapstructure:"tls"`
	CertDir         string        `mapstructure:"cert_dir"`
}

// HordeConfig enables generated cover art.
type HordeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load reads path (or bookbot.yaml from the usual places when empty),
// applies BOOKBOT_* environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("bookbot")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "bookbot"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the rest of the program cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("store.backend: unsupported value %q", c.Store.Backend)
	}
	if c.Generation.RoadmapAttempts < 1 || c.Generation.ModuleAttempts < 1 {
		return errors.New("generation attempts must be at least 1")
	}
	if c.Generation.RetryDelay < 0 || c.Generation.MaxRetryDelay < c.Generation.RetryDelay {
		return errors.New("generation.max_retry_delay must not be below generation.retry_delay")
	}
	if c.Store.Backend == BackendRedis && c.Store.Redis.Addr == "" {
		return errors.New("store.redis.addr is required for the redis backend")
	}
	return nil
}

// DataDir is the default directory for books, exports and lock files.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "bookbot")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "bookbot")
	}
	return ".bookbot"
}

func setDefaults(v *viper.Viper) {
	data := DataDir()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("log.file", "")

	v.SetDefault("generation.roadmap_attempts", 3)
	v.SetDefault("generation.module_attempts", 3)
	v.SetDefault("generation.retry_delay", "2s")
	v.SetDefault("generation.max_retry_delay", "30s")

	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("llm.thinking_timeout", "10m")
	v.SetDefault("llm.max_tokens", 8192)

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.dir", filepath.Join(data, "store"))
	v.SetDefault("store.sqlite_path", filepath.Join(data, "bookbot.db"))
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "bookbot:")
	v.SetDefault("store.redis.dial_timeout", "5s")
	v.SetDefault("store.redis.read_timeout", "3s")
	v.SetDefault("store.redis.write_timeout", "3s")

	fonts := bookcompiler.DefaultFontFiles()
	v.SetDefault("export.dir", filepath.Join(data, "exports"))
	v.SetDefault("export.font_dir", "")
	v.SetDefault("export.fonts.regular", fonts.Regular)
	v.SetDefault("export.fonts.bold", fonts.Bold)
	v.SetDefault("export.fonts.italic", fonts.Italic)
	v.SetDefault("export.fonts.bold_italic", fonts.BoldItalic)
	v.SetDefault("export.fonts.mono", fonts.Mono)
	v.SetDefault("export.lock_path", filepath.Join(data, "export.lock"))
	v.SetDefault("export.max_code_lines", bookcompiler.MaxCodeLines)
	v.SetDefault("export.disable_compression", false)

	v.SetDefault("server.addr", "localhost:3000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.rate_window", "1m")
	v.SetDefault("server.history_ttl", "30m")
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_dir", filepath.Join(data, "certs"))

	v.SetDefault("horde.enabled", false)
	v.SetDefault("horde.api_key", "0000000000")
}
