package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/storage"
	"github.com/timmy/kbpipe/internal/testutil"
	"github.com/timmy/kbpipe/internal/vectorstore"
	"gorm.io/gorm"
)

// fakeEmbedder returns a short vector derived from the text and counts one token per word.
type fakeEmbedder struct {
	mu      sync.Mutex
	calls   int
	failAll bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text, model string) (*EmbedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAll {
		return nil, errors.New("embedding provider unavailable")
	}
	return &EmbedResult{
		Vector: []float32{float32(len(text)), float32(strings.Count(text, " ") + 1), 1},
		Tokens: len(strings.Fields(text)),
	}, nil
}

type harness struct {
	db          *gorm.DB
	repos       *Repositories
	vectors     *vectorstore.Store
	storage     *storage.MemoryStorage
	embedder    *fakeEmbedder
	collections *CollectionService
	datasets    *DatasetService
}

type harnessOption func(*CollectionDeps)

func withQuota(max int) harnessOption {
	return func(d *CollectionDeps) { d.Quota = NewQuotaService(d.Vectors, max) }
}

func withMaxCollections(n int) harnessOption {
	return func(d *CollectionDeps) { d.Dataset.MaxCollections = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	db := testutil.NewDB(t)
	repos := NewRepositories(db)
	vectors := vectorstore.New(vectorstore.NewMemoryBackend())
	t.Cleanup(func() { _ = vectors.Close() })
	store := storage.NewMemoryStorage()
	embedder := &fakeEmbedder{}

	models, err := NewModelRegistry(&config.ModelsConfig{
		LLM: []config.LLMModelConfig{
			{Name: "test-llm", BaseURL: "http://unused", APIKey: "k", MaxContext: 16000, MaxResponse: 4000},
		},
		Embedding: []config.EmbeddingModelConfig{
			{Name: "test-embedding", BaseURL: "http://unused", APIKey: "k", Dimensions: 3, MaxToken: 512},
		},
	})
	require.NoError(t, err)

	deps := CollectionDeps{
		DB:      db,
		Repos:   repos,
		Vectors: vectors,
		Storage: store,
		Reader:  NewRawTextReader(store, &config.ReaderConfig{}),
		Data:    NewDataService(repos.Data, vectors, embedder),
		Usage:   NewUsageService(repos.Usage),
		Quota:   NewQuotaService(vectors, 0),
		Models:  models,
		Chunk:   config.ChunkConfig{DefaultSize: 512, TriggerMinSize: 1000},
		Delete:  config.DeleteConfig{RetryAttempts: 2, RetryDelay: 1},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	collections := NewCollectionService(deps)
	return &harness{
		db:          db,
		repos:       repos,
		vectors:     vectors,
		storage:     store,
		embedder:    embedder,
		collections: collections,
		datasets:    NewDatasetService(collections),
	}
}
