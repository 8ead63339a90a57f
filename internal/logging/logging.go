// Package logging wraps the standard log package with the trace-tagged
// line format the teacher established (WithTrace), extended with the
// level taxonomy the core emits: {error, warn, info, debug}.
package logging

import (
	"context"
	"log"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// DebugEnabled gates Debug output; Error/Warn/Info always print. RUST_LOG-style
// filtering itself is the external logger collaborator's job;
// this flag only controls whether clockpipe's own debug lines are noisy
// during local runs.
var DebugEnabled = os.Getenv("CLOCKPIPE_DEBUG") != ""

func withTrace(ctx context.Context, level, format string, args ...any) {
	traceID := trace.SpanContextFromContext(ctx).TraceID().String()
	log.Printf("level=%s trace_id=%s "+format, append([]any{level, traceID}, args...)...)
}

func Error(ctx context.Context, format string, args ...any) {
	withTrace(ctx, "error", format, args...)
}

func Warn(ctx context.Context, format string, args ...any) {
	withTrace(ctx, "warn", format, args...)
}

func Info(ctx context.Context, format string, args ...any) {
	withTrace(ctx, "info", format, args...)
}

func Debug(ctx context.Context, format string, args ...any) {
	if !DebugEnabled {
		return
	}
	withTrace(ctx, "debug", format, args...)
}

// WithTrace is kept for the legacy Kafka ingestion path
// (internal/ingestion), which predates the leveled helpers above.
func WithTrace(ctx context.Context, format string, args ...any) {
	Info(ctx, format, args...)
}
