package logging

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/repolens/internal/config"
)

// TraceLevel sits below Debug. Per-file walker decisions and wire payloads
// log here.
const TraceLevel = zapcore.Level(-2)

// Config holds logger settings.
type Config struct {
	Level  zapcore.Level
	Format string
	Output OutputConfig

	Sampling  SamplingConfig
	Caller    CallerConfig
	Redaction RedactionConfig

	// StacktraceLevel attaches stack traces at or above this level.
	StacktraceLevel zapcore.Level

	// Fields are added to every record.
	Fields map[string]string
}

// OutputConfig selects the log sinks. Stderr replaces stdout for the
// console encoder so the MCP stdio transport keeps stdout to itself.
type OutputConfig struct {
	Stdout bool
	Stderr bool
	OTEL   bool
}

// SamplingConfig limits repeated records per Tick. Levels without an entry
// and every level from Error up are never sampled.
type SamplingConfig struct {
	Enabled bool
	Tick    time.Duration
	Levels  map[zapcore.Level]LevelSamplingConfig
}

// LevelSamplingConfig keeps the first Initial records per tick, then every
// Thereafter-th. Thereafter zero drops the rest.
type LevelSamplingConfig struct {
	Initial    int
	Thereafter int
}

// CallerConfig controls the caller annotation.
type CallerConfig struct {
	Enabled bool
	Skip    int
}

// RedactionConfig lists field keys whose values are always hidden and value
// patterns that are masked wherever they appear.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

// NewDefaultConfig returns JSON logging to stdout at info level.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    time.Second,
			Levels: map[zapcore.Level]LevelSamplingConfig{
				zapcore.DebugLevel: {Initial: 50, Thereafter: 10},
				zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
			},
		},
		// Skip the Logger method and its level helper.
		Caller:          CallerConfig{Enabled: true, Skip: 2},
		StacktraceLevel: zapcore.ErrorLevel,
		Fields:          map[string]string{"service": "repolens"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"api_key", "authorization", "dsn", "password",
				"postgres_dsn", "secret", "token",
			},
			Patterns: []string{
				`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`,
				`gh[pousr]_[A-Za-z0-9]{36,}`,
				`github_pat_[A-Za-z0-9_]{22,}`,
				`\bsk-[A-Za-z0-9_-]{20,}`,
				`(postgres(?:ql)?://[^:/@\s]+:)[^@\s]+`,
			},
		},
	}
}

// FromConfig builds a logger Config from the log section.
func FromConfig(c config.LogConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if c.Level != "" {
		lvl, err := ParseLevel(c.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	if c.Format != "" {
		cfg.Format = c.Format
	}
	return cfg, nil
}

// ParseLevel parses a zap level name, plus "trace".
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "trace" {
		return TraceLevel, nil
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout, stderr or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	if c.Caller.Skip < 0 {
		return fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip)
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > 200 {
				return fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q must have a key and a value", k)
		}
	}
	return nil
}
