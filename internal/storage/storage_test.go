package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/kbpipe/internal/config"
)

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	require.NoError(t, s.Upload(ctx, RawFileKey("f1"), strings.NewReader("hello"), 5, "text/plain"))
	require.NoError(t, s.Upload(ctx, RawFileKey("f2"), strings.NewReader("world"), 5, "text/plain"))

	rc, err := s.Download(ctx, RawFileKey("f1"))
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, s.DeleteMany(ctx, []string{RawFileKey("f1"), RawFileKey("f2"), "missing"}))
	ok, err := s.Exists(ctx, RawFileKey("f2"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Download(ctx, RawFileKey("f1"))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-east-1.amazonaws.com", StorageTypeS3},
		{"localhost:9000", StorageTypeS3Compatible},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, detectStorageType(tt.endpoint))
		})
	}
}

func TestNewFromConfig_EmptyEndpointIsMemory(t *testing.T) {
	s, err := NewFromConfig(&config.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)
}
