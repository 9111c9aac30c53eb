package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
)

// Logger wraps slog with per-feature child loggers
type Logger struct {
	*slog.Logger
	mu       *sync.Mutex
	features map[string]*slog.Logger
}

// NewLogger creates a text logger on stdout. LOG_LEVEL selects debug, info, warn or error.
func NewLogger() *Logger {
	return NewLoggerWithWriter(os.Stdout, parseLevel(os.Getenv("LOG_LEVEL")))
}

// NewLoggerWithWriter creates a logger writing to w at the given level
func NewLoggerWithWriter(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return &Logger{
		Logger:   slog.New(handler),
		mu:       &sync.Mutex{},
		features: make(map[string]*slog.Logger),
	}
}

// NewDiscardLogger returns a logger that drops everything, for tests
func NewDiscardLogger() *Logger {
	return NewLoggerWithWriter(io.Discard, slog.LevelError+4)
}

// ForFeature returns a logger specific to a feature
func (l *Logger) ForFeature(featureName string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	featureLogger, exists := l.features[featureName]
	if !exists {
		featureLogger = l.Logger.With("feature", featureName)
		l.features[featureName] = featureLogger
	}

	return &Logger{
		Logger:   featureLogger,
		mu:       l.mu,
		features: l.features,
	}
}

// With returns a child logger carrying the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:   l.Logger.With(args...),
		mu:       l.mu,
		features: l.features,
	}
}

// WithContext returns a logger with the chi request ID attached, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	if requestID := middleware.GetReqID(ctx); requestID != "" {
		return l.With("request_id", requestID)
	}

	return l
}

func parseLevel(s string) slog.Level {
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
