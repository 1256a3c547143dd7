// Package enhance generates extra search-question indexes for chunks with a completion model.
package enhance

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/prompts"
)

const (
	DefaultSize = 3
	MaxSize     = 20

	temperature = 0.3
)

var bulletPrefix = regexp.MustCompile(`^[\d.\-*\s]*`)

// Completion is the text and token usage of one completion call.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Completer issues a single-prompt completion against a named model.
type Completer interface {
	CompleteText(ctx context.Context, model, prompt string, temperature float32) (*Completion, error)
}

// Request describes one chunk to enhance.
type Request struct {
	Text     string
	Existing []string
	Model    string
	Size     int
}

// Result holds the new indexes and the tokens spent producing them.
type Result struct {
	Indexes      []string
	InputTokens  int
	OutputTokens int
}

// Generator produces paraphrase questions for chunks.
type Generator struct {
	completer    Completer
	defaultModel string
}

// NewGenerator creates a generator. defaultModel is used when a request names no model.
func NewGenerator(completer Completer, defaultModel string) *Generator {
	return &Generator{completer: completer, defaultModel: defaultModel}
}

// DefaultModel returns the model used when a request names none.
func (g *Generator) DefaultModel() string {
	return g.defaultModel
}

// Generate asks the model for up to Size new questions about req.Text.
// Failures are logged and yield an empty result; they never surface as errors.
func (g *Generator) Generate(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}
	}
	size := ClampSize(req.Size)
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		"model": model,
		"size":  size,
	})
	if model == "" {
		log.Warn("No model available for index enhancement")
		return Result{}
	}

	prompt := prompts.IndexEnhance(req.Text, req.Existing, size)
	completion, err := g.completer.CompleteText(ctx, model, prompt, temperature)
	if err != nil {
		log.WithError(err).Warn("Index enhancement completion failed")
		return Result{}
	}

	indexes := dedupe(parseQuestions(completion.Text), req.Existing, size)
	log.WithField(logger.FieldCount, len(indexes)).Debug("Index enhancement generated")
	return Result{
		Indexes:      indexes,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
	}
}

// ClampSize bounds a requested index count to 1..MaxSize, defaulting to DefaultSize.
func ClampSize(size int) int {
	switch {
	case size <= 0:
		return DefaultSize
	case size > MaxSize:
		return MaxSize
	default:
		return size
	}
}

// parseQuestions extracts the JSON array between the first '[' and the last ']',
// falling back to one question per line when that fails.
func parseQuestions(answer string) []string {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start != -1 && end > start {
		var items []any
		if err := json.Unmarshal([]byte(answer[start:end+1]), &items); err == nil {
			out := make([]string, 0, len(items))
			for _, item := range items {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}

	var out []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if line == "" || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "]") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// dedupe trims candidates and drops blanks, existing texts and repeats, keeping at most limit.
func dedupe(candidates, existing []string, limit int) []string {
	seen := make(map[string]struct{}, len(existing)+len(candidates))
	for _, e := range existing {
		seen[strings.TrimSpace(e)] = struct{}{}
	}
	out := make([]string, 0, limit)
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
