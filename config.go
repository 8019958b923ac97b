package json2ubl

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaRootEnv overrides Config.SchemaRoot when set
const SchemaRootEnv = "JSON2UBL_SCHEMA_ROOT"

// Config holds converter settings
type Config struct {
	SchemaRoot     string           `yaml:"schema_root"`
	CacheDir       string           `yaml:"cache_dir"`
	LogLevel       string           `yaml:"log_level"`
	LogFile        string           `yaml:"log_file"`
	MaxSchemaDepth int              `yaml:"max_schema_depth"`
	Validation     ValidationPolicy `yaml:"validation"`
	Workers        int              `yaml:"workers"`
	PersistCache   bool             `yaml:"persist_cache"`
}

// DefaultConfig returns the settings used when no file is given
func DefaultConfig() Config {
	return Config{
		SchemaRoot:     "schemas/ubl-2.1",
		CacheDir:       "schemas/cache",
		LogLevel:       "info",
		MaxSchemaDepth: DefaultMaxSchemaDepth,
		Validation:     ValidationWarn,
		Workers:        DefaultWorkers(),
		PersistCache:   true,
	}
}

// DefaultWorkers is max(8, NumCPU)
func DefaultWorkers() int {
	return max(8, runtime.NumCPU())
}

// LoadConfig reads a YAML config file over the defaults. A missing file
// yields the defaults. Relative paths resolve against the file's
// directory.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, NewError(CodeConfig, "failed to read config", err).WithDetail("path", path)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, NewError(CodeConfig, "failed to parse config", err).WithDetail("path", path)
			}
			base := filepath.Dir(path)
			cfg.SchemaRoot = resolveAgainst(base, cfg.SchemaRoot)
			cfg.CacheDir = resolveAgainst(base, cfg.CacheDir)
			cfg.LogFile = resolveAgainst(base, cfg.LogFile)
		}
	}

	if root := os.Getenv(SchemaRootEnv); root != "" {
		cfg.SchemaRoot = root
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings and fills zero values with defaults
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SchemaRoot) == "" {
		return NewError(CodeConfig, "schema_root is required", nil)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return NewError(CodeConfig, err.Error(), nil).WithDetail("log_level", c.LogLevel)
	}
	policy, err := ParseValidationPolicy(string(c.Validation))
	if err != nil {
		return NewError(CodeConfig, err.Error(), nil).WithDetail("validation", string(c.Validation))
	}
	c.Validation = policy
	if c.MaxSchemaDepth < 0 {
		return NewError(CodeConfig, "max_schema_depth must not be negative", nil)
	}
	if c.MaxSchemaDepth == 0 {
		c.MaxSchemaDepth = DefaultMaxSchemaDepth
	}
	if c.Workers < 0 {
		return NewError(CodeConfig, "workers must not be negative", nil)
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers()
	}
	return nil
}

// Logger builds a text logger at the configured level writing to stderr
// and, if LogFile is set, to that file. The returned closer releases
// the file.
func (c *Config) Logger() (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, nil, NewError(CodeConfig, err.Error(), nil)
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if c.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
			return nil, nil, NewError(CodeFile, "failed to create log directory", err).WithDetail("path", c.LogFile)
		}
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, NewError(CodeFile, "failed to open log file", err).WithDetail("path", c.LogFile)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func resolveAgainst(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
