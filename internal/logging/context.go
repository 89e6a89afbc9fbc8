package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	if repoID := RepositoryIDFromContext(ctx); repoID != "" {
		fields = append(fields, zap.String("repository.id", repoID))
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("index.run_id", runID))
	}

	return fields
}

type requestCtxKey struct{}
type repositoryCtxKey struct{}
type runCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// withID stores id under key, silently dropping values that would be unsafe
// to log (ids often come straight from request paths).
func withID(ctx context.Context, key any, id, name string) context.Context {
	if err := validateID(id, name); err != nil {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFromContext(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithRequestID adds the HTTP request id to ctx. Invalid ids are ignored.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withID(ctx, requestCtxKey{}, requestID, "requestID")
}

// RequestIDFromContext extracts the request id from ctx.
func RequestIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, requestCtxKey{})
}

// WithRepositoryID adds the repository id to ctx. Invalid ids are ignored.
func WithRepositoryID(ctx context.Context, repositoryID string) context.Context {
	return withID(ctx, repositoryCtxKey{}, repositoryID, "repositoryID")
}

// RepositoryIDFromContext extracts the repository id from ctx.
func RepositoryIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, repositoryCtxKey{})
}

// WithRunID adds the indexing run id to ctx. Invalid ids are ignored.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withID(ctx, runCtxKey{}, runID, "runID")
}

// RunIDFromContext extracts the indexing run id from ctx.
func RunIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, runCtxKey{})
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
