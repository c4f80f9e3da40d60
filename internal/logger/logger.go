package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

// Options configures the process logger
type Options struct {
	// Level is a level name, e.g. "INFO" or "debug"
	Level string
	// OTEL exports records over OTLP/gRPC instead of writing JSON to stdout
	OTEL        bool
	ServiceName string
	// SampleRate logs 1 out of every N warnings and errors; 1 or less logs all
	SampleRate int
	// Version is attached to every record when set
	Version string
}

var (
	Logger       *slog.Logger
	programLevel = new(slog.LevelVar)
	sampleRate   atomic.Int32
	shutdownFunc func(context.Context) error
)

// Counters for the metrics endpoint, incremented regardless of sampling
var (
	TotalErrors   atomic.Int64
	TotalWarnings atomic.Int64
)

func init() {
	programLevel.Set(slog.LevelInfo)
	sampleRate.Store(1)
	Logger = slog.New(newCountingHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel})))
}

// Setup replaces the process logger according to opts and installs it as the
// slog default. When OTEL setup fails it falls back to JSON on stdout.
func Setup(ctx context.Context, opts Options) *slog.Logger {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
	programLevel.Set(level)

	rate := opts.SampleRate
	if rate < 1 {
		rate = 1
	}
	sampleRate.Store(int32(rate))

	var handler slog.Handler
	if opts.OTEL {
		h, shutdown, err := setupOTEL(ctx, opts.ServiceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to JSON: %v\n", err)
		} else {
			handler = h
			shutdownFunc = shutdown
		}
	}
	if handler == nil {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel})
	}

	Logger = slog.New(newCountingHandler(handler))
	if opts.Version != "" {
		Logger = Logger.With("version", opts.Version)
	}
	slog.SetDefault(Logger)
	return Logger
}

// New builds a JSON logger writing to w with the counting and sampling
// behavior of the process logger
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(newCountingHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func setupOTEL(ctx context.Context, serviceName string) (slog.Handler, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "automatr"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	h := &levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	}
	return h, provider.Shutdown, nil
}

// levelHandler wraps a handler to filter by level
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// countingHandler counts warnings and errors and samples their output
type countingHandler struct {
	handler slog.Handler
}

func newCountingHandler(h slog.Handler) *countingHandler {
	return &countingHandler{handler: h}
}

func (h *countingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *countingHandler) Handle(ctx context.Context, r slog.Record) error {
	switch {
	case r.Level >= LevelFatal:
		return h.handler.Handle(ctx, r)
	case r.Level >= LevelError:
		TotalErrors.Add(1)
	case r.Level >= LevelWarning:
		TotalWarnings.Add(1)
	default:
		return h.handler.Handle(ctx, r)
	}
	if !shouldSample() {
		return nil
	}
	return h.handler.Handle(ctx, r)
}

func (h *countingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &countingHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *countingHandler) WithGroup(name string) slog.Handler {
	return &countingHandler{handler: h.handler.WithGroup(name)}
}

func shouldSample() bool {
	rate := sampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Shutdown flushes the OTEL exporter, if one is in use
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// ParseLevel converts a level name to slog.Level. An empty name is INFO.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

// Info logs an info-level message
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Fatal logs a fatal-level message and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}
