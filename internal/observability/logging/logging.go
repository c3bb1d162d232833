package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"vidvault/internal/observability/metrics"
)

type Config struct {
	Level  string
	Writer io.Writer
	Format string
}

type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Init builds a logger from cfg and installs it as the process default.
func Init(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// New builds a structured slog.Logger from cfg. Unknown formats fall back
// to JSON, the format log shippers consume.
func New(cfg Config) *slog.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if LogFormat(normalize(cfg.Format)) == FormatText {
		return slog.New(slog.NewTextHandler(writer, opts))
	}
	return slog.New(slog.NewJSONHandler(writer, opts))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func parseLevel(level string) slog.Leveler {
	switch normalize(level) {
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

// WithComponent tags every record from the returned logger with a component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("component", component)
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	videoIDKey   contextKey = "video_id"
	loggerKey    contextKey = "logger"
)

func stashString(ctx context.Context, key contextKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}

// ContextWithRequestID stores a non-empty request ID on the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return stashString(ctx, requestIDKey, id)
}

// RequestIDFromContext reads back a request ID stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

// ContextWithVideoID stores a non-empty video ID on the context.
func ContextWithVideoID(ctx context.Context, id string) context.Context {
	return stashString(ctx, videoIDKey, id)
}

// VideoIDFromContext reads back a video ID stored by ContextWithVideoID.
func VideoIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, videoIDKey)
}

// ContextWithLogger carries a request-scoped logger on the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger placed by ContextWithLogger, or nil.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey).(*slog.Logger)
	return logger
}

// WithContext annotates the logger with whichever request and video IDs the
// context carries.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	if requestID, ok := RequestIDFromContext(ctx); ok {
		logger = logger.With("request_id", requestID)
	}
	if videoID, ok := VideoIDFromContext(ctx); ok {
		logger = logger.With("video_id", videoID)
	}
	return logger
}

// RequestLoggerConfig tunes the access-log middleware.
type RequestLoggerConfig struct {
	Logger            *slog.Logger
	DisableRemoteAddr bool
	AdditionalFields  func(*http.Request, int, time.Duration) []any
}

// RequestLogger returns middleware that emits one log line per completed
// request: method, path, status, duration, and optionally the remote address
// plus any caller-supplied fields.
func RequestLogger(cfg RequestLoggerConfig) func(http.Handler) http.Handler {
	base := cfg.Logger
	if base == nil {
		base = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := metrics.NewResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(recorder, r)
			elapsed := time.Since(start)

			logger := WithContext(r.Context(), base)
			if logger == nil {
				return
			}
			logger.Info("request completed", cfg.attrs(r, recorder.Status(), elapsed)...)
		})
	}
}

func (cfg RequestLoggerConfig) attrs(r *http.Request, status int, elapsed time.Duration) []any {
	fields := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
	}
	if !cfg.DisableRemoteAddr {
		fields = append(fields, "remote_addr", r.RemoteAddr)
	}
	if cfg.AdditionalFields != nil {
		fields = append(fields, cfg.AdditionalFields(r, status, elapsed)...)
	}
	return fields
}
