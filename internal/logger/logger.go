// Package logger provides structured logging on log/slog with optional
// OpenTelemetry tracing. Log lines go to stderr so stdout stays reserved for
// the run report.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "cplpilot"

var (
	globalLogger   = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	tracingEnabled bool
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level          string // DEBUG, INFO, WARN, ERROR
	Format         string // json or text
	TracingEnabled bool
	Version        string
	Output         io.Writer // defaults to stderr
}

// LoadConfigFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_TRACING_ENABLED.
func LoadConfigFromEnv() LogConfig {
	return LogConfig{
		Level:          getEnvOrDefault("LOG_LEVEL", "INFO"),
		Format:         getEnvOrDefault("LOG_FORMAT", "text"),
		TracingEnabled: getEnvOrDefault("LOG_TRACING_ENABLED", "false") == "true",
	}
}

// Init configures the global logger and, if enabled, the tracer provider.
func Init(cfg LogConfig) error {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)

	tracingEnabled = false
	if cfg.TracingEnabled {
		if err := initTracer(out, cfg.Version); err != nil {
			globalLogger.Warn("tracing disabled", "error", err)
			return nil
		}
		tracingEnabled = true
	}
	return nil
}

func initTracer(out io.Writer, version string) error {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(out),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return err
	}

	if version == "" {
		version = "dev"
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return err
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = otel.Tracer(serviceName)
	return nil
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// StartSpan starts a span when tracing is enabled.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !tracingEnabled || tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

func traceAttrs(ctx context.Context) []any {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []any{"trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String()}
}

func log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if ta := traceAttrs(ctx); ta != nil {
		args = append(ta, args...)
	}
	globalLogger.Log(ctx, level, msg, args...)
}

// Debug logs at debug level.
func Debug(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelDebug, msg, args...) }

// Info logs at info level.
func Info(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func Warn(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelWarn, msg, args...) }

// Error logs at error level.
func Error(ctx context.Context, msg string, args ...any) { log(ctx, slog.LevelError, msg, args...) }

// ErrorWithErr logs err and records it on the active span.
func ErrorWithErr(ctx context.Context, msg string, err error, args ...any) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	log(ctx, slog.LevelError, msg, append([]any{"error", err}, args...)...)
}

// OperationTimer measures one operation and owns its span.
type OperationTimer struct {
	ctx    context.Context
	span   trace.Span
	start  time.Time
	name   string
	fields []any
}

// StartOperation opens a span named operation. Fields are key/value pairs
// copied onto the span and every log line the timer emits.
func StartOperation(ctx context.Context, operation string, fields ...any) *OperationTimer {
	ctx, span := StartSpan(ctx, operation)
	if tracingEnabled {
		span.SetAttributes(toAttributes(fields)...)
	}
	Debug(ctx, "operation started", append([]any{"operation", operation}, fields...)...)
	return &OperationTimer{ctx: ctx, span: span, start: time.Now(), name: operation, fields: fields}
}

// Context returns the context carrying the operation span.
func (ot *OperationTimer) Context() context.Context {
	return ot.ctx
}

// End closes the operation successfully.
func (ot *OperationTimer) End(fields ...any) {
	d := time.Since(ot.start)
	if tracingEnabled {
		ot.span.SetAttributes(attribute.Int64("duration_ms", d.Milliseconds()))
		ot.span.SetAttributes(toAttributes(fields)...)
		ot.span.SetStatus(codes.Ok, "completed")
		ot.span.End()
	}
	args := append([]any{"operation", ot.name, "duration_ms", d.Milliseconds()}, ot.fields...)
	Debug(ot.ctx, "operation completed", append(args, fields...)...)
}

// EndWithError closes the operation as failed and logs err.
func (ot *OperationTimer) EndWithError(err error, fields ...any) {
	d := time.Since(ot.start)
	if tracingEnabled {
		ot.span.SetAttributes(attribute.Int64("duration_ms", d.Milliseconds()))
		ot.span.RecordError(err)
		ot.span.SetStatus(codes.Error, err.Error())
		ot.span.End()
	}
	args := append([]any{"operation", ot.name, "duration_ms", d.Milliseconds(), "error", err}, ot.fields...)
	log(ot.ctx, slog.LevelError, "operation failed", append(args, fields...)...)
}

func toAttributes(fields []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		}
	}
	return attrs
}

// Decision logs a budget decision for an adset and attaches it to the
// active span as an event.
func Decision(ctx context.Context, adsetID, action string, predicted, actual, current, next float64, fields ...any) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("budget_decision", trace.WithAttributes(
			attribute.String("adset_id", adsetID),
			attribute.String("action", action),
			attribute.Float64("predicted_cpl", predicted),
			attribute.Float64("actual_cpl", actual),
			attribute.Float64("current_budget", current),
			attribute.Float64("new_budget", next),
		))
	}
	args := append([]any{
		"type", "DECISION",
		"adset_id", adsetID,
		"action", action,
		"predicted_cpl", predicted,
		"actual_cpl", actual,
		"current_budget", current,
		"new_budget", next,
	}, fields...)
	log(ctx, slog.LevelInfo, "budget decision", args...)
}
