package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry owns the OTLP tracer and meter providers. A nil *Telemetry is
// valid and falls back to the otel globals.
//
// Exporter setup failures never stop the service. New returns a degraded
// instance that leaves the global no-op providers in place.
type Telemetry struct {
	config *Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    log.LoggerProvider

	state atomic.Pointer[HealthStatus]
}

// HealthStatus reports telemetry health. Error is why the instance
// degraded, if it did.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
	Error    string
}

// New validates cfg and, when telemetry is enabled, installs OTLP
// providers as the otel globals.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	t.setState(HealthStatus{Healthy: true})
	if !cfg.Enabled {
		return t, nil
	}

	tp, mp, err := buildProviders(ctx, cfg)
	if err != nil {
		t.setDegraded(err)
		return t, nil
	}
	t.install(tp, mp)
	return t, nil
}

func (t *Telemetry) install(tp *trace.TracerProvider, mp *sdkmetric.MeterProvider) {
	t.tracerProvider, t.meterProvider = tp, mp
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t != nil && t.tracerProvider != nil {
		return t.tracerProvider.Tracer(name, opts...)
	}
	return otel.Tracer(name, opts...)
}

func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t != nil && t.meterProvider != nil {
		return t.meterProvider.Meter(name, opts...)
	}
	return otel.Meter(name, opts...)
}

// LoggerProvider returns the provider the otelzap bridge writes to, or nil
// when log export is not configured.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logProvider
}

// SetLoggerProvider routes the otelzap bridge to lp.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logProvider = lp
	}
}

// Shutdown flushes and stops both providers. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout)
		defer cancel()
	}

	err := t.each(
		func() error { return t.tracerProvider.Shutdown(ctx) },
		func() error { return t.meterProvider.Shutdown(ctx) },
		"shutdown",
	)
	st := t.Health()
	st.Healthy = false
	t.setState(st)
	return err
}

// ForceFlush exports everything pending.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.each(
		func() error { return t.tracerProvider.ForceFlush(ctx) },
		func() error { return t.meterProvider.ForceFlush(ctx) },
		"flush",
	)
}

// each runs the trace and meter halves of op for whichever providers exist.
func (t *Telemetry) each(traces, metrics func() error, op string) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := traces(); err != nil {
			errs = append(errs, fmt.Errorf("trace provider %s: %w", op, err))
		}
	}
	if t.meterProvider != nil {
		if err := metrics(); err != nil {
			errs = append(errs, fmt.Errorf("meter provider %s: %w", op, err))
		}
	}
	return errors.Join(errs...)
}

// Health returns the current status. A nil receiver reports degraded.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	if st := t.state.Load(); st != nil {
		return *st
	}
	return HealthStatus{}
}

// IsEnabled reports whether telemetry is configured on and exporting.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil || !t.config.Enabled {
		return false
	}
	st := t.Health()
	return st.Healthy && !st.Degraded
}

func (t *Telemetry) setState(st HealthStatus) {
	t.state.Store(&st)
}

func (t *Telemetry) setDegraded(err error) {
	st := t.Health()
	st.Degraded = true
	st.Error = err.Error()
	t.setState(st)
}
