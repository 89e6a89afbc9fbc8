package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newCore tees the console and otel sinks, redacts each of them and
// samples the result.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var sinks []zapcore.Core

	if cfg.Output.Stdout || cfg.Output.Stderr {
		out := zapcore.Lock(os.Stdout)
		if cfg.Output.Stderr {
			out = zapcore.Lock(os.Stderr)
		}
		sinks = append(sinks, zapcore.NewCore(newEncoder(cfg.Format), out, cfg.Level))
	}
	if cfg.Output.OTEL && otelProvider != nil {
		sinks = append(sinks, otelzap.NewCore("github.com/fyrsmithlabs/repolens",
			otelzap.WithLoggerProvider(otelProvider)))
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no log output available")
	}

	for i, sink := range sinks {
		redacting, err := newRedactingCore(sink, cfg.Redaction)
		if err != nil {
			return nil, err
		}
		sinks[i] = redacting
	}
	return newSampledCore(zapcore.NewTee(sinks...), cfg.Sampling), nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// encodeLevel names TraceLevel, which zap would print as "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// newSampledCore gives every configured level below Error its own sampler.
// Other levels pass through untouched.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	sampled := func(l zapcore.Level) bool {
		_, ok := cfg.Levels[l]
		return ok && l < zapcore.ErrorLevel
	}
	cores := []zapcore.Core{
		&levelCore{Core: core, allow: func(l zapcore.Level) bool { return !sampled(l) }},
	}
	for lvl, s := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		only := &levelCore{Core: core, allow: func(l zapcore.Level) bool { return l == lvl }}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick, s.Initial, s.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// levelCore restricts a core to the levels allow accepts.
type levelCore struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (c *levelCore) Enabled(l zapcore.Level) bool {
	return c.allow(l) && c.Core.Enabled(l)
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), allow: c.allow}
}

func (c *levelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.allow(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}
