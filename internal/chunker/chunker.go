// Package chunker turns raw text into the ordered chunk sequence stored as dataset data.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/timmy/kbpipe/internal/domain"
)

const (
	DefaultChunkSize        = 512
	DefaultTriggerMinSize   = 1000
	DefaultMaxSize          = 16000
	DefaultParagraphDeep    = 5
	DefaultParagraphMinSize = 100

	// maxSizeRatio is the share of the model limit below which maxSize gating keeps text whole.
	maxSizeRatio = 0.7

	// ChunkOverlapRatio is applied to plain chunk training.
	ChunkOverlapRatio = 0.2
)

// CustomSplitSign separates worksheets in spreadsheet raw text and can be used as a manual split marker.
const CustomSplitSign = "-----CUSTOM_SPLIT_SIGN-----"

// Options controls one Split call.
type Options struct {
	RawText  string
	Filename string
	ImageIDs []string

	BackupParse bool

	TriggerType    domain.ChunkTriggerType
	TriggerMinSize int
	// MaxSize is the model-derived chunk ceiling used by maxSize gating.
	MaxSize int

	ChunkSize        int
	OverlapRatio     float64
	ParagraphDeep    int
	ParagraphMinSize int
	// CustomSeparators are regular expressions that always force a cut.
	CustomSeparators []string
}

// Chunk is one retrievable unit; its position in the result is its chunk index.
type Chunk struct {
	Q        string   `json:"q"`
	A        string   `json:"a"`
	Indexes  []string `json:"indexes,omitempty"`
	ImageIDs []string `json:"image_ids,omitempty"`
}

// Split applies, in order: backup parsing, spreadsheet row chunking,
// trigger gating and general splitting. The result depends only on opts.
func Split(opts Options) ([]Chunk, error) {
	if opts.BackupParse {
		return parseBackup(opts.RawText, opts.ImageIDs)
	}

	if isSpreadsheet(opts.Filename) {
		return parseSheetRows(opts.RawText, opts.ImageIDs), nil
	}

	if whole, ok := gate(opts); ok {
		return whole, nil
	}

	s, err := newSplitter(opts)
	if err != nil {
		return nil, err
	}

	texts := s.split(opts.RawText)
	chunks := make([]Chunk, 0, len(texts))
	for _, text := range texts {
		chunks = append(chunks, Chunk{Q: text, ImageIDs: opts.ImageIDs})
	}
	return chunks, nil
}

// gate reports whether the trigger policy keeps the text as one chunk.
func gate(opts Options) ([]Chunk, bool) {
	whole := []Chunk{{Q: opts.RawText, ImageIDs: opts.ImageIDs}}
	length := float64(runeLen(strings.TrimSpace(opts.RawText)))

	if opts.TriggerType == domain.ChunkTriggerMaxSize {
		limit := float64(DefaultMaxSize)
		if opts.MaxSize > 0 {
			limit = float64(opts.MaxSize) * maxSizeRatio
		}
		if length < limit {
			return whole, true
		}
	}

	if opts.TriggerType != domain.ChunkTriggerForceChunk {
		minSize := opts.TriggerMinSize
		if minSize <= 0 {
			minSize = DefaultTriggerMinSize
		}
		if length < float64(minSize) {
			return whole, true
		}
	}
	return nil, false
}

// OverlapFor returns the overlap ratio used for a training type.
func OverlapFor(t domain.TrainingType) float64 {
	if t == domain.TrainingTypeChunk {
		return ChunkOverlapRatio
	}
	return 0
}

func isSpreadsheet(filename string) bool {
	name := strings.ToLower(filename)
	return strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xls")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
