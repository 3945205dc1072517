package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"rentlane/internal/common/types"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	actorIDKey       contextKey = "actor_id"
	reservationIDKey contextKey = "reservation_id"
	jobKey           contextKey = "job"
)

// contextAttrs lists the string-valued keys FromContext copies onto a logger,
// in output order. Correlation ids are handled separately.
var contextAttrs = []contextKey{actorIDKey, reservationIDKey, jobKey}

// Config holds logging configuration.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, text
	Service string
}

// Setup installs the process-wide logger writing to stdout.
func Setup(cfg Config) {
	slog.SetDefault(New(os.Stdout, cfg))
}

// New builds a logger for cfg. Every record carries the service name when one
// is configured.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithCorrelationID(ctx context.Context, id types.CorrelationID) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithActorID records the acting party (tenant, owner or the system actor).
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// WithReservationID tags every later log line with the reservation being
// worked on.
func WithReservationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reservationIDKey, id)
}

// WithJob tags log lines emitted while a scheduled or cron job runs.
func WithJob(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, jobKey, name)
}

func CorrelationIDFromContext(ctx context.Context) types.CorrelationID {
	if id, ok := ctx.Value(correlationIDKey).(types.CorrelationID); ok {
		return id
	}
	return ""
}

func ActorIDFromContext(ctx context.Context) string {
	return stringValue(ctx, actorIDKey)
}

func ReservationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, reservationIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the default logger enriched with whatever request, actor,
// reservation and job attributes ctx carries.
func FromContext(ctx context.Context) *slog.Logger {
	return fromContext(ctx, nil)
}

// fromContext skips context attributes whose key already appears in args, so a
// call site logging reservation_id explicitly does not emit it twice.
func fromContext(ctx context.Context, args []any) *slog.Logger {
	logger := slog.Default()

	if corrID := CorrelationIDFromContext(ctx); !corrID.IsEmpty() {
		logger = logger.With(string(correlationIDKey), corrID.String())
	}
	for _, key := range contextAttrs {
		if v := stringValue(ctx, key); v != "" && !hasKey(args, string(key)) {
			logger = logger.With(string(key), v)
		}
	}

	return logger
}

func hasKey(args []any, key string) bool {
	for i := 0; i < len(args); i += 2 {
		if k, ok := args[i].(string); ok && k == key {
			return true
		}
	}
	return false
}

func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	fromContext(ctx, args).InfoContext(ctx, msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	fromContext(ctx, args).DebugContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	fromContext(ctx, args).WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	fromContext(ctx, args).ErrorContext(ctx, msg, args...)
}
