package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/repolens/internal/http"

var (
	// Indexing is synchronous, so latency buckets reach ten minutes.
	latencyBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 10, 30, 120, 600}
	sizeBuckets    = []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000}
)

// HTTPMetrics records otel request metrics per method, route template and
// status code.
type HTTPMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	var (
		m          HTTPMetrics
		e1, e2, e3 error
		e4         error
	)
	m.requests, e1 = meter.Int64Counter("repolens.http.requests_total",
		metric.WithDescription("HTTP requests by method, route template and status."),
		metric.WithUnit("{request}"))
	m.latency, e2 = meter.Float64Histogram("repolens.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route template and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	m.size, e3 = meter.Int64Histogram("repolens.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route template and status."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...))
	m.inFlight, e4 = meter.Int64UpDownCounter("repolens.http.active_requests",
		metric.WithDescription("HTTP requests in progress."),
		metric.WithUnit("{request}"))

	if err := errors.Join(e1, e2, e3, e4); err != nil && logger != nil {
		logger.Warn("some http instruments are unavailable", zap.Error(err))
	}
	return &m
}

// Middleware records one sample per request. Handler errors are rendered
// by the error handler after this returns, so their status is resolved
// here with statusFor.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			began := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			res := c.Response()
			code := res.Status
			if err != nil && !res.Committed {
				code = statusFor(err)
			}
			labels := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", code),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, labels)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(began).Seconds(), labels)
			}
			if m.size != nil {
				m.size.Record(ctx, res.Size, labels)
			}
			return err
		}
	}
}

// routeLabel returns the matched route template, which keeps path
// parameters as ":id". Unmatched requests share one label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
