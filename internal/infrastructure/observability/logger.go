package observability

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// InitLogger configures the process-wide zerolog logger and returns it so
// cmd wiring can hand it to components. Development output is human
// readable; every other environment gets JSON with caller information.
func InitLogger(serviceName, env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	builder := zerolog.New(out).With().Timestamp().Str("service", serviceName)
	if env != "development" {
		builder = builder.Caller()
	}
	log.Logger = builder.Logger()
	return log.Logger
}

// LoggerFromContext tags base with the trace and span ids of the span active
// in ctx. Without a recording span base is returned unchanged.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return base
	}
	return base.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
}
