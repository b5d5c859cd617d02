// Package observability provides Tau's structured logging and metrics,
// adapted from the teacher's own ambient-stack choices (log/slog JSON
// logging, prometheus/client_golang metrics) for the run/turn/tool surface
// spec.md names rather than a channel-bot's message/webhook surface.
package observability

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps slog with request/run correlation and secret redaction, the
// same shape the teacher's own logger used.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures Logger's level, format, and output.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error"; defaults to "info".
	Level string
	// Format is "json" or "text"; defaults to "json".
	Format string
	// Output defaults to os.Stdout.
	Output *os.File
	// AddSource includes file:line in each record.
	AddSource bool
	// RedactPatterns supplements DefaultRedactPatterns with caller-specific
	// regexes.
	RedactPatterns []string
}

type contextKey string

const (
	// RunIDKey is the context key for a run's RPC run_id.
	RunIDKey contextKey = "run_id"
	// SessionPathKey is the context key for the active session file path.
	SessionPathKey contextKey = "session_path"
	// RequestIDKey is the context key for a provider call's x-request-id.
	RequestIDKey contextKey = "request_id"
)

// DefaultRedactPatterns covers the provider API key shapes Tau's own
// providers issue plus the generic secret-bearing key=value shape, so a
// logged error never leaks a credential.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`AIza[a-zA-Z0-9_-]{35}`,
}

// NewLogger builds a Logger from cfg, defaulting Output to os.Stdout,
// Level to "info", and Format to "json".
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}

	opts := &slog.HandlerOptions{Level: levelFromString(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	patterns := append(append([]string{}, DefaultRedactPatterns...), cfg.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), redacts: redacts}
}

func levelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithContext returns a Logger whose records carry run_id/session_path/
// request_id pulled from ctx, when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if v, ok := ctx.Value(RunIDKey).(string); ok && v != "" {
		attrs = append(attrs, "run_id", v)
	}
	if v, ok := ctx.Value(SessionPathKey).(string); ok && v != "" {
		attrs = append(attrs, "session_path", v)
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		attrs = append(attrs, "request_id", v)
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(attrs...), redacts: l.redacts}
}

// WithFields returns a Logger with args bound to every subsequent record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelDebug, msg, args...) }
func (l *Logger) Info(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelWarn, msg, args...) }
func (l *Logger) Error(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelError, msg, args...) }

// Slog exposes the underlying *slog.Logger for callers (like
// internal/orchestrator) that already take a *slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.logger }

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)
	redacted := make([]any, len(args))
	for i, a := range args {
		redacted[i] = l.redactValue(a)
	}
	l.logger.Log(ctx, level, msg, redacted...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	default:
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// WithRunID returns a context carrying runID for WithContext to pick up.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithSessionPath returns a context carrying a session file path.
func WithSessionPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, SessionPathKey, path)
}

// WithRequestID returns a context carrying a provider request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}
