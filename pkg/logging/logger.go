package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "requestID"
	runIDKey     contextKey = "runID"
)

// LevelTrace is below debug and used for per-definition engine output
const LevelTrace = slog.LevelDebug - 4

var (
	mu     sync.RWMutex
	logger *slog.Logger
	out    io.Writer = os.Stderr
	level            = new(slog.LevelVar)
	asJSON bool
)

func init() {
	level.Set(slog.LevelInfo)
	rebuild()
}

func rebuild() {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = NewCompactHandler(out, opts)
	}
	logger = slog.New(handler)
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLevel changes the logging level
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetOutput redirects log output, keeping the current format
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// SetJSONOutput switches between JSON and compact console output
func SetJSONOutput(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	asJSON = enabled
	rebuild()
}

// ParseLevel maps a verbosity name or a -v count to a level.
// A non-empty name wins over the count.
func ParseLevel(verbosity string, verboseCount int) slog.Level {
	switch strings.ToLower(strings.TrimSpace(verbosity)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	switch {
	case verboseCount >= 2:
		return LevelTrace
	case verboseCount == 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRunID tags the context with the ID of a selection run
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID retrieves the selection run ID from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(runIDKey).(string); ok {
		return runID
	}
	return ""
}

func withContextIDs(ctx context.Context, args []any) []any {
	if runID := GetRunID(ctx); runID != "" {
		args = append([]any{"runID", runID}, args...)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		args = append([]any{"requestID", requestID}, args...)
	}
	return args
}

// Trace logs at TRACE level (very verbose, debug-time only)
func Trace(msg string, args ...any) {
	current().Log(context.Background(), LevelTrace, msg, args...)
}

// TraceContext logs at TRACE level with context
func TraceContext(ctx context.Context, msg string, args ...any) {
	current().Log(ctx, LevelTrace, msg, withContextIDs(ctx, args)...)
}

// Debug logs at DEBUG level (internal component behavior)
func Debug(msg string, args ...any) {
	current().Debug(msg, args...)
}

// DebugContext logs at DEBUG level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	current().DebugContext(ctx, msg, withContextIDs(ctx, args)...)
}

// Info logs at INFO level (user-facing operations)
func Info(msg string, args ...any) {
	current().Info(msg, args...)
}

// InfoContext logs at INFO level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	current().InfoContext(ctx, msg, withContextIDs(ctx, args)...)
}

// Warn logs at WARN level (should be monitored)
func Warn(msg string, args ...any) {
	current().Warn(msg, args...)
}

// WarnContext logs at WARN level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	current().WarnContext(ctx, msg, withContextIDs(ctx, args)...)
}

// Error logs at ERROR level (logical bugs that shouldn't happen)
func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// ErrorContext logs at ERROR level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	current().ErrorContext(ctx, msg, withContextIDs(ctx, args)...)
}

// Fatal logs at ERROR level and exits
func Fatal(msg string, args ...any) {
	current().Error(msg, args...)
	os.Exit(1)
}
