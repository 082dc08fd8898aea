// Package config loads runtime configuration from YAML and builds the
// process logger from it.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/opcore/errors"
)

// Extensions lists every extension the runtime knows, in registration
// order.
var Extensions = []string{"builtin", "timers", "fs", "net", "ws", "crypto", "kv", "wasm"}

// Config is the top-level configuration.
type Config struct {
	// Seed makes crypto randomness deterministic when set.
	Seed        *uint64     `yaml:"seed,omitempty" json:"seed,omitempty"`
	Log         Log         `yaml:"log" json:"log"`
	Permissions Permissions `yaml:"permissions" json:"permissions"`
	KV          KV          `yaml:"kv" json:"kv"`
	WASM        WASM        `yaml:"wasm" json:"wasm"`
	// Extensions enables a subset of Extensions. Empty enables all.
	Extensions []string `yaml:"extensions,omitempty" json:"extensions,omitempty"`
	// Workers bounds the blocking-work pool; 0 means GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`
}

// Log selects the logger.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`
	// Format is console or json.
	Format string `yaml:"format" json:"format"`
}

// Permissions are the allow-lists handed to the fs, net and ws extensions.
type Permissions struct {
	Read  []string `yaml:"read,omitempty" json:"read,omitempty"`
	Write []string `yaml:"write,omitempty" json:"write,omitempty"`
	Net   []string `yaml:"net,omitempty" json:"net,omitempty"`
}

// KV configures the key/value extension.
type KV struct {
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`
}

// WASM configures the addon runtime.
type WASM struct {
	MemoryLimitPages uint32 `yaml:"memory_limit_pages,omitempty" json:"memory_limit_pages,omitempty"`
	WASI             bool   `yaml:"wasi,omitempty" json:"wasi,omitempty"`
}

// Default returns the configuration used when no file is given: every
// extension enabled, read access to the working directory and nothing
// else.
func Default() *Config {
	return &Config{
		Log:         Log{Level: "info", Format: "console"},
		Permissions: Permissions{Read: []string{"."}},
		KV:          KV{Driver: "sqlite"},
	}
}

// Load reads path over the defaults. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return invalid("workers must not be negative, got %d", c.Workers)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return invalid("unknown log format %q", c.Log.Format)
	}
	for _, name := range c.Extensions {
		if !slices.Contains(Extensions, name) {
			return invalid("unknown extension %q", name)
		}
	}
	switch c.KV.Driver {
	case "", "sqlite", "sqlite3", "postgres", "mysql":
	default:
		return invalid("unknown kv driver %q", c.KV.Driver)
	}
	return nil
}

// Enabled reports whether the named extension is enabled.
func (c *Config) Enabled(name string) bool {
	return len(c.Extensions) == 0 || slices.Contains(c.Extensions, name)
}

// Logger builds a zap logger from the log settings.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, invalid("unknown log level %q", c.Log.Level)
	}

	var zc zap.Config
	if c.Log.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Detail(format, args...).
		Build()
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
