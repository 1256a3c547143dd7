package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// EmbedResult is one embedding and the tokens it cost.
type EmbedResult struct {
	Vector []float32
	Tokens int
}

// Embedder turns text into a vector with a named embedding model.
type Embedder interface {
	Embed(ctx context.Context, text, model string) (*EmbedResult, error)
}

// EmbeddingService calls OpenAI-compatible /embeddings endpoints for registry models.
type EmbeddingService struct {
	registry *ModelRegistry
	clients  map[string]*resty.Client
	timeout  time.Duration
	mu       sync.Mutex
}

// NewEmbeddingService creates an embedding client over the registry's embedding models.
func NewEmbeddingService(registry *ModelRegistry) *EmbeddingService {
	return &EmbeddingService{
		registry: registry,
		clients:  make(map[string]*resty.Client),
		timeout:  60 * time.Second,
	}
}

// OpenAI-compatible embedding request/response structures
type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *EmbeddingService) client(model string) (*resty.Client, string, int, error) {
	cfg, err := s.registry.Embedding(model)
	if err != nil {
		return nil, "", 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[cfg.Name]; ok {
		return c, cfg.Name, cfg.Dimensions, nil
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(s.timeout)
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	s.clients[cfg.Name] = c
	return c, cfg.Name, cfg.Dimensions, nil
}

// Embed generates an embedding for a single text.
// Tokens fall back to a local estimate when the provider omits usage.
func (s *EmbeddingService) Embed(ctx context.Context, text, model string) (*EmbedResult, error) {
	client, name, dims, err := s.client(model)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	httpResp, err := client.R().
		SetContext(ctx).
		SetBody(embeddingRequest{Model: name, Input: []string{text}, Dimensions: dims}).
		SetResult(&resp).
		SetError(&resp).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}

	if httpResp.IsError() {
		if resp.Error != nil && resp.Error.Message != "" {
			return nil, fmt.Errorf("embedding API error: HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return nil, fmt.Errorf("embedding API error: HTTP %d", httpResp.StatusCode())
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens
	}
	if tokens == 0 {
		tokens = EstimateTokens(text)
	}
	return &EmbedResult{Vector: resp.Data[0].Embedding, Tokens: tokens}, nil
}
