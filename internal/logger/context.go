package logger

import (
	"context"
	"os"
	"sync"
)

type contextKey struct{}

var loggerKey = contextKey{}

var (
	defaultLogger   *Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	defaultLogger = NewFromEnv(&EnvConfig{
		Level:       "info",
		Format:      "json",
		Output:      os.Stdout,
		ServiceName: "kbpipe",
	})
}

// GetDefault returns the process-wide logger.
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger. nil is ignored.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext returns a copy of ctx carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// WithFields returns a copy of ctx whose logger carries fields.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

// SetTask tags every log line under ctx with the identity of a claimed training task.
func SetTask(ctx context.Context, taskID, mode, teamID, datasetID, collectionID string) context.Context {
	return WithFields(ctx, Fields{
		FieldTaskID:       taskID,
		FieldMode:         mode,
		FieldTeamID:       teamID,
		FieldDatasetID:    datasetID,
		FieldCollectionID: collectionID,
	})
}

// SetComponent tags every log line under ctx with a component name.
func SetComponent(ctx context.Context, name string) context.Context {
	return WithFields(ctx, Fields{FieldComponent: name})
}
