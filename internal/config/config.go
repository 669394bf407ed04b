// Package config loads treesync client configuration.
//
// Files are CUE (or JSON, which CUE accepts). The file is unified with the
// embedded #Config schema in schema.cue, which supplies defaults and
// rejects unknown fields, then decoded into Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/store"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded client configuration.
type Config struct {
	Endpoint     string             `json:"endpoint"`
	Transactions TransactionsConfig `json:"transactions"`
	Cache        CacheConfig        `json:"cache"`
	Log          LogConfig          `json:"log"`
	Metrics      MetricsConfig      `json:"metrics"`
}

// TransactionsConfig bounds transaction reruns.
type TransactionsConfig struct {
	MaxRetries int `json:"maxRetries"`
}

// CacheConfig selects the persistent cache backend and its file.
type CacheConfig struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `json:"level"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// LoadError is a configuration file that does not satisfy #Config.
type LoadError struct {
	File    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// IsLoadError reports whether err is a *LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Default returns the configuration an empty file produces.
func Default() Config {
	return Config{
		Endpoint:     "mem://local",
		Transactions: TransactionsConfig{MaxRetries: engine.DefaultMaxTransactionRetries},
		Cache:        CacheConfig{Backend: store.BackendNone},
		Log:          LogConfig{Level: "info"},
		Metrics:      MetricsConfig{Addr: ":9090", Path: "/metrics"},
	}
}

// Load reads and decodes the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes configuration source. name is used in error positions.
func LoadBytes(name string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		// The schema is embedded; failing to compile it is a build defect.
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}

	file := ctx.CompileBytes(data, cue.Filename(name))
	if err := file.Err(); err != nil {
		return Config{}, loadError(name, err)
	}

	value := schema.Unify(file)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, loadError(name, err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return Config{}, loadError(name, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{File: name, Message: err.Error()}
	}
	return cfg, nil
}

func loadError(name string, err error) *LoadError {
	le := &LoadError{File: name, Message: strings.TrimSpace(cueerrors.Details(err, nil))}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		le.Pos = errs[0].Position()
		le.Message = strings.TrimSpace(fmt.Sprint(errs[0]))
	}
	return le
}

// Validate checks the rules #Config enforces, for configurations built in
// code rather than loaded.
func (c Config) Validate() error {
	if !strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint %q must have the form scheme://name", c.Endpoint)
	}
	if c.Transactions.MaxRetries < 0 {
		return fmt.Errorf("transactions.maxRetries must not be negative, got %d", c.Transactions.MaxRetries)
	}
	switch c.Cache.Backend {
	case store.BackendNone:
	case store.BackendSQLite, store.BackendBolt:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for backend %q", c.Cache.Backend)
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}

// LogLevel returns the slog level for log.level.
func (c Config) LogLevel() slog.Level {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
}

// OpenCache opens the configured cache backend. It returns nil when
// caching is off.
func (c Config) OpenCache() (store.Cache, error) {
	return store.OpenBackend(c.Cache.Backend, c.Cache.Path)
}

// EngineOptions translates the settings the engine reads directly.
// The logger, metrics and cache are built by the caller.
func (c Config) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithMaxTransactionRetries(c.Transactions.MaxRetries),
	}
}
