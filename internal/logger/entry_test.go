package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := GetDefault()
	SetDefaultLogger(NewFromEnv(&EnvConfig{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"}))
	t.Cleanup(func() { SetDefaultLogger(prev) })
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestEntry_TaskOutcomeFields(t *testing.T) {
	buf := captureDefault(t)
	ctx := SetTask(context.Background(), "task-1", "chunk", "team-1", "ds-1", "col-1")

	base := With(Fields{"attempt": 2}).WithDuration(1500).WithRetries(4).WithLease(10 * time.Minute)
	base.WithOutcome("failed").WithError(errors.New("embedding timeout")).Warn(ctx, "Training task %s", "failed")

	line := decodeLine(t, buf)
	tests := []struct {
		key  string
		want interface{}
	}{
		{key: "message", want: "Training task failed"},
		{key: "level", want: "warning"},
		{key: "service", want: "test"},
		{key: FieldTaskID, want: "task-1"},
		{key: FieldMode, want: "chunk"},
		{key: FieldCollectionID, want: "col-1"},
		{key: FieldOutcome, want: "failed"},
		{key: FieldDurationMs, want: float64(1500)},
		{key: FieldRetryCount, want: float64(4)},
		{key: FieldLeaseMs, want: float64(600000)},
		{key: "attempt", want: float64(2)},
		{key: "error", want: "embedding timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, line[tt.key])
		})
	}

	// Derived entries leave their parent untouched.
	buf.Reset()
	base.Info(ctx, "Training task finished")
	line = decodeLine(t, buf)
	assert.NotContains(t, line, FieldOutcome)
	assert.NotContains(t, line, "error")
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	buf := captureDefault(t)

	FromContext(context.Background()).Info("plain")
	line := decodeLine(t, buf)
	assert.Equal(t, "plain", line["message"])
	assert.NotContains(t, line, FieldComponent)

	buf.Reset()
	ctx := SetComponent(context.Background(), "worker")
	FromContext(ctx).WithField(FieldCount, 3).Info("tagged")
	line = decodeLine(t, buf)
	assert.Equal(t, "worker", line[FieldComponent])
	assert.Equal(t, float64(3), line[FieldCount])
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_MAX_SIZE", "not-a-number")
	t.Setenv("LOG_COMPRESS", "false")

	cfg := LoadFromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.False(t, cfg.Compress)
	assert.Equal(t, "kbpipe", cfg.ServiceName)
}
