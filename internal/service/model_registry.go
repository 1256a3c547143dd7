package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
)

const (
	// unknownModelMaxChunk is the chunk ceiling used when a completion model is not registered.
	unknownModelMaxChunk = 8000
	minModelMaxChunk     = 2000
)

// ModelRegistry holds every configured completion and embedding model by name.
type ModelRegistry struct {
	llms             map[string]*config.LLMModelConfig
	embeddings       map[string]*config.EmbeddingModelConfig
	defaultLLM       string
	defaultEmbedding string
	mu               sync.RWMutex
}

// NewModelRegistry registers every valid model in cfg.
// Invalid entries are logged and skipped rather than causing failure.
func NewModelRegistry(cfg *config.ModelsConfig) (*ModelRegistry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("models config is required")
	}

	r := &ModelRegistry{
		llms:       make(map[string]*config.LLMModelConfig),
		embeddings: make(map[string]*config.EmbeddingModelConfig),
	}

	for i := range cfg.LLM {
		m := cfg.LLM[i]
		if m.Name == "" {
			logger.Warn("Skipping llm model config without name: index=%d", i)
			continue
		}
		r.llms[m.Name] = &m
		if m.IsDefault || r.defaultLLM == "" {
			r.defaultLLM = m.Name
		}
		logger.Info("Registered llm model: name=%s, max_context=%d, max_response=%d, default=%v",
			m.Name, m.MaxContext, m.MaxResponse, m.IsDefault)
	}

	for i := range cfg.Embedding {
		m := cfg.Embedding[i]
		if m.Name == "" || m.Dimensions <= 0 {
			logger.Warn("Skipping invalid embedding model config: index=%d, name=%s", i, m.Name)
			continue
		}
		r.embeddings[m.Name] = &m
		if m.IsDefault || r.defaultEmbedding == "" {
			r.defaultEmbedding = m.Name
		}
		logger.Info("Registered embedding model: name=%s, dim=%d, max_token=%d, default=%v",
			m.Name, m.Dimensions, m.MaxToken, m.IsDefault)
	}

	return r, nil
}

// LLM returns the completion model config for name, or the default when name is empty.
func (r *ModelRegistry) LLM(name string) (*config.LLMModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultLLM
	}
	m, ok := r.llms[name]
	if !ok {
		return nil, fmt.Errorf("%w: llm %q", domain.ErrModelNotFound, name)
	}
	return m, nil
}

// Embedding returns the embedding model config for name, or the default when name is empty.
func (r *ModelRegistry) Embedding(name string) (*config.EmbeddingModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultEmbedding
	}
	m, ok := r.embeddings[name]
	if !ok {
		return nil, fmt.Errorf("%w: embedding %q", domain.ErrModelNotFound, name)
	}
	return m, nil
}

// DefaultLLM returns the name of the default completion model, empty when none is configured.
func (r *ModelRegistry) DefaultLLM() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultLLM
}

// DefaultEmbedding returns the name of the default embedding model.
func (r *ModelRegistry) DefaultEmbedding() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultEmbedding
}

// LLMMaxChunkSize is the largest chunk a completion model can take:
// max(maxContext - maxResponse, 2000), or 8000 for unknown models.
func (r *ModelRegistry) LLMMaxChunkSize(name string) int {
	m, err := r.LLM(name)
	if err != nil {
		return unknownModelMaxChunk
	}
	return max(m.MaxContext-m.MaxResponse, minModelMaxChunk)
}

// EmbeddingMaxToken returns the longest input an embedding model accepts, 0 when unknown.
func (r *ModelRegistry) EmbeddingMaxToken(name string) int {
	m, err := r.Embedding(name)
	if err != nil {
		return 0
	}
	return m.MaxToken
}

// Names returns all registered model names, completion models first.
func (r *ModelRegistry) Names() (llms []string, embeddings []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name := range r.llms {
		llms = append(llms, name)
	}
	for name := range r.embeddings {
		embeddings = append(embeddings, name)
	}
	sort.Strings(llms)
	sort.Strings(embeddings)
	return llms, embeddings
}
