// Package telemetry configures OpenTelemetry tracing and metrics for
// repolens.
//
// Spans and metrics are exported over OTLP (grpc or http/protobuf) to a
// collector. Packages obtain tracers and meters from the otel globals, which
// New replaces when telemetry is enabled:
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter setup failures leave the instance degraded rather than failing
// startup; see Health.
//
// Tests use TestTelemetry:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "op")
//	span.End()
//	tt.AssertSpanExists(t, "op")
package telemetry
