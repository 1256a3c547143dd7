package logger

import (
	"context"
	"time"
)

// Entry collects the measurement fields of one outcome line, such as how long a
// task ran, how many claims it has left and which lease it held.
// Tracing fields still come from the context passed to Info or Warn.
type Entry struct {
	fields Fields
	err    error
}

// With starts an Entry with fields.
func With(fields Fields) *Entry {
	e := &Entry{fields: make(Fields, len(fields)+4)}
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

func (e *Entry) set(key string, value interface{}) *Entry {
	next := With(e.fields)
	next.err = e.err
	next.fields[key] = value
	return next
}

// WithDuration records the elapsed time in milliseconds.
func (e *Entry) WithDuration(ms int64) *Entry {
	return e.set(FieldDurationMs, ms)
}

// WithOutcome records how a unit of work ended: done, failed, frozen or orphaned.
func (e *Entry) WithOutcome(outcome string) *Entry {
	return e.set(FieldOutcome, outcome)
}

// WithRetries records the claims a training task has left.
func (e *Entry) WithRetries(left int) *Entry {
	return e.set(FieldRetryCount, left)
}

// WithLease records the lease window the task was claimed under.
func (e *Entry) WithLease(lease time.Duration) *Entry {
	return e.set(FieldLeaseMs, lease.Milliseconds())
}

// WithError attaches err under logrus' error key.
func (e *Entry) WithError(err error) *Entry {
	next := With(e.fields)
	next.err = err
	return next
}

func (e *Entry) logger(ctx context.Context) *Logger {
	l := FromContext(ctx).WithFields(e.fields)
	if e.err != nil {
		l = l.WithError(e.err)
	}
	return l
}

// Info logs at Info level.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Infof(format, args...)
}

// Warn logs at Warn level.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Warnf(format, args...)
}
