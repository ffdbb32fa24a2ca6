package events

import (
	"context"
	"os"
	"sync"
)

type contextKey int

const (
	loggerKey contextKey = iota
	storeIDKey
)

// FromContext extracts the logger from a context, falling back to the
// process default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithStoreID tags both the context and its logger with the store id.
func WithStoreID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("store_id", id)
	ctx = context.WithValue(ctx, storeIDKey, id)
	return WithLogger(ctx, logger)
}

// GetStoreID retrieves the store id from the context.
func GetStoreID(ctx context.Context) string {
	if id, ok := ctx.Value(storeIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	mu:     &sync.Mutex{},
	level:  InfoLevel,
	format: "text",
	output: os.Stderr,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
