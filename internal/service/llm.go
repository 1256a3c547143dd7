package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
	"github.com/timmy/kbpipe/internal/enhance"
	"github.com/timmy/kbpipe/internal/logger"
)

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Usage is the token accounting of one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionResult is the streamed answer and its usage.
type CompletionResult struct {
	Text  string
	Usage Usage
}

// LLMService calls OpenAI-compatible completion models registered in a ModelRegistry.
type LLMService struct {
	registry *ModelRegistry
	clients  map[string]*openai.Client
	mu       sync.Mutex
}

// NewLLMService creates a completion client over the registry's llm models.
func NewLLMService(registry *ModelRegistry) *LLMService {
	return &LLMService{
		registry: registry,
		clients:  make(map[string]*openai.Client),
	}
}

func (s *LLMService) client(model string) (*openai.Client, string, error) {
	cfg, err := s.registry.LLM(model)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[cfg.Name]; ok {
		return c, cfg.Name, nil
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	c := openai.NewClientWithConfig(clientConfig)
	s.clients[cfg.Name] = c
	return c, cfg.Name, nil
}

// Complete streams a chat completion and collects its text.
// Usage is read from the final stream chunk and estimated locally when the provider omits it.
func (s *LLMService) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	client, model, err := s.client(req.Model)
	if err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         model,
		Messages:      messages,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start completion stream: %w", err)
	}
	defer stream.Close()

	var (
		text  strings.Builder
		usage *openai.Usage
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read completion stream: %w", err)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			text.WriteString(choice.Delta.Content)
		}
	}

	result := &CompletionResult{Text: text.String()}
	if usage != nil && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		result.Usage = Usage{InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens}
	} else {
		result.Usage = Usage{
			InputTokens:  EstimateTokens(req.System) + EstimateTokens(req.Prompt),
			OutputTokens: EstimateTokens(result.Text),
		}
		logger.FromContext(ctx).WithField("model", model).Debug("Completion usage missing, using estimate")
	}
	return result, nil
}

// CompleteText implements enhance.Completer.
func (s *LLMService) CompleteText(ctx context.Context, model, prompt string, temperature float32) (*enhance.Completion, error) {
	res, err := s.Complete(ctx, CompletionRequest{Model: model, Prompt: prompt, Temperature: temperature})
	if err != nil {
		return nil, err
	}
	return &enhance.Completion{
		Text:         res.Text,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
	}, nil
}
