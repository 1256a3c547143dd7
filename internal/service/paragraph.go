package service

import (
	"context"
	"fmt"
	"regexp"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/prompts"
)

var markdownHeading = regexp.MustCompile(`^(#+)\s`)

// TextCompleter runs one chat completion.
type TextCompleter interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// ParagraphService restructures plain text into headed markdown before chunking.
type ParagraphService struct {
	llm     TextCompleter
	enabled bool
}

// NewParagraphService creates the paragraph pass. A disabled pass returns text unchanged.
func NewParagraphService(llm TextCompleter, enabled bool) *ParagraphService {
	return &ParagraphService{llm: llm, enabled: enabled}
}

// Apply runs the pass unless it is disabled, mode is forbid or empty, or mode is auto
// and the text already starts with a markdown heading.
func (s *ParagraphService) Apply(ctx context.Context, rawText string, mode domain.ParagraphAIMode, model string) (string, Usage, error) {
	if s == nil || !s.enabled || s.llm == nil || mode == "" || mode == domain.ParagraphAIForbid {
		return rawText, Usage{}, nil
	}
	if mode == domain.ParagraphAIAuto && markdownHeading.MatchString(rawText) {
		return rawText, Usage{}, nil
	}

	res, err := s.llm.Complete(ctx, CompletionRequest{
		Model:  model,
		System: prompts.ParagraphSystemPrompt,
		Prompt: prompts.Paragraph(rawText),
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to restructure paragraphs: %w", err)
	}
	if res.Text == "" {
		return rawText, res.Usage, nil
	}
	return res.Text, res.Usage, nil
}
