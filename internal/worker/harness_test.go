package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/enhance"
	"github.com/timmy/kbpipe/internal/service"
	"github.com/timmy/kbpipe/internal/storage"
	"github.com/timmy/kbpipe/internal/testutil"
	"github.com/timmy/kbpipe/internal/vectorstore"
	"gorm.io/gorm"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	failAll bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text, model string) (*service.EmbedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("embedding provider unavailable")
	}
	return &service.EmbedResult{
		Vector: []float32{float32(len(text)), 1, 1},
		Tokens: len(strings.Fields(text)),
	}, nil
}

// stubCompleter answers every prompt with the same question list.
type stubCompleter struct {
	answer string
}

func (s *stubCompleter) CompleteText(ctx context.Context, model, prompt string, temperature float32) (*enhance.Completion, error) {
	return &enhance.Completion{Text: s.answer, InputTokens: 10, OutputTokens: 5}, nil
}

type harness struct {
	db       *gorm.DB
	repos    *service.Repositories
	vectors  *vectorstore.Store
	storage  *storage.MemoryStorage
	embedder *fakeEmbedder
	deps     Deps
}

func newHarness(t *testing.T, maxVectors int) *harness {
	t.Helper()

	db := testutil.NewDB(t)
	repos := service.NewRepositories(db)
	vectors := vectorstore.New(vectorstore.NewMemoryBackend())
	t.Cleanup(func() { _ = vectors.Close() })
	store := storage.NewMemoryStorage()
	embedder := &fakeEmbedder{}

	models, err := service.NewModelRegistry(&config.ModelsConfig{
		LLM: []config.LLMModelConfig{
			{Name: "test-llm", BaseURL: "http://unused", APIKey: "k", MaxContext: 16000, MaxResponse: 4000},
		},
		Embedding: []config.EmbeddingModelConfig{
			{Name: "test-embedding", BaseURL: "http://unused", APIKey: "k", Dimensions: 3, MaxToken: 512},
		},
	})
	require.NoError(t, err)

	enhancer := enhance.NewGenerator(&stubCompleter{
		answer: `["How long is a lease?", "What happens to failed tasks?"]`,
	}, "test-llm")
	reader := service.NewRawTextReader(store, &config.ReaderConfig{})
	data := service.NewDataService(repos.Data, vectors, embedder)
	usage := service.NewUsageService(repos.Usage)
	quota := service.NewQuotaService(vectors, maxVectors)

	collections := service.NewCollectionService(service.CollectionDeps{
		DB:       db,
		Repos:    repos,
		Vectors:  vectors,
		Storage:  store,
		Reader:   reader,
		Data:     data,
		Usage:    usage,
		Quota:    quota,
		Enhancer: enhancer,
		Models:   models,
		Chunk:    config.ChunkConfig{DefaultSize: 512, TriggerMinSize: 1000},
	})

	return &harness{
		db:       db,
		repos:    repos,
		vectors:  vectors,
		storage:  store,
		embedder: embedder,
		deps: Deps{
			DB:          db,
			Repos:       repos,
			Collections: collections,
			Data:        data,
			Reader:      reader,
			Usage:       usage,
			Quota:       quota,
			Enhancer:    enhancer,
			Models:      models,
		},
	}
}

func (h *harness) runner(handler Handler) *Runner {
	r := NewRunner(h.repos.Training, handler, RunnerConfig{MaxAttempts: 20})
	r.sleep = func(context.Context, time.Duration) {}
	return r
}

const guideBody = "Workers claim one task at a time.\n\nLeases expire after ten minutes.\n\nFailed tasks are retried five times."

func (h *harness) seedFileCollection(t *testing.T, ds *domain.Dataset, fileID string, body string) *domain.Collection {
	t.Helper()
	if body != "" {
		require.NoError(t, h.storage.Upload(context.Background(), storage.RawFileKey(fileID),
			strings.NewReader(body), int64(len(body)), "text/plain"))
	}
	return testutil.SeedCollection(t, h.db, ds, func(c *domain.Collection) {
		c.Name = "guide.txt"
		c.Type = domain.CollectionTypeFile
		c.FileID = fileID
		c.ChunkTriggerType = domain.ChunkTriggerForceChunk
		c.ChunkSize = 40
		c.IndexSize = 40
	})
}

func (h *harness) enqueue(t *testing.T, tasks ...*domain.TrainingTask) {
	t.Helper()
	require.NoError(t, h.repos.Training.Enqueue(context.Background(), nil, tasks))
}
