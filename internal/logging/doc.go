// Package logging wraps zap with context-aware methods.
//
// Every method takes a context so that correlation data travels with the
// log line: OpenTelemetry trace and span ids, the HTTP request id, the
// repository being indexed or queried, and the indexing run id.
//
//	ctx = logging.WithRepositoryID(ctx, repo.ID)
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "repository indexed", zap.Int("chunks", n))
//
// Every sink is wrapped in a redacting core that hides sensitive field keys
// and masks GitHub tokens, OpenAI keys and Postgres passwords in messages,
// string fields and errors. Levels below Error can be sampled per level. An
// optional otelzap core forwards records to an OpenTelemetry LoggerProvider.
package logging
