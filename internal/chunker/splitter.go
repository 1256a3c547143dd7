package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

type stepKind int

const (
	stepCustom stepKind = iota
	stepHeading
	stepSeparator
)

type splitStep struct {
	kind stepKind
	re   *regexp.Regexp
}

// Separator cascade tried after custom and heading cuts, coarsest first.
var separatorSteps = []string{
	`\n{2,}`,
	`\n`,
	`[。！？!?]+|\.\s|[;；]`,
	`[，,、]`,
	`\s+`,
}

type splitter struct {
	chunkSize        int
	overlap          int
	paragraphMinSize int
	steps            []splitStep
}

func newSplitter(opts Options) (*splitter, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	overlap := int(float64(chunkSize) * opts.OverlapRatio)
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	deep := opts.ParagraphDeep
	if deep <= 0 {
		deep = DefaultParagraphDeep
	}
	minSize := opts.ParagraphMinSize
	if minSize <= 0 {
		minSize = DefaultParagraphMinSize
	}

	s := &splitter{chunkSize: chunkSize, overlap: overlap, paragraphMinSize: minSize}

	for _, pattern := range opts.CustomSeparators {
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid custom split pattern %q: %w", pattern, err)
		}
		s.steps = append(s.steps, splitStep{kind: stepCustom, re: re})
	}
	for level := 1; level <= deep; level++ {
		re := regexp.MustCompile(fmt.Sprintf(`(?m)^#{%d}\s`, level))
		s.steps = append(s.steps, splitStep{kind: stepHeading, re: re})
	}
	for _, pattern := range separatorSteps {
		s.steps = append(s.steps, splitStep{kind: stepSeparator, re: regexp.MustCompile(pattern)})
	}
	return s, nil
}

// split returns trimmed, non-empty chunks no longer than chunkSize runes.
func (s *splitter) split(text string) []string {
	var out []string
	for _, chunk := range s.splitAt(text, 0) {
		if chunk = strings.TrimSpace(chunk); chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

func (s *splitter) splitAt(text string, i int) []string {
	if runeLen(text) <= s.chunkSize && (i >= len(s.steps) || s.steps[i].kind != stepCustom) {
		return []string{text}
	}
	if i >= len(s.steps) {
		return hardCut(text, s.chunkSize, s.overlap)
	}

	step := s.steps[i]
	switch step.kind {
	case stepCustom:
		var out []string
		for _, piece := range step.re.Split(text, -1) {
			out = append(out, s.splitAt(piece, i+1)...)
		}
		return out

	case stepHeading:
		pieces := cutBefore(text, step.re)
		if len(pieces) <= 1 {
			return s.splitAt(text, i+1)
		}
		var out []string
		for _, section := range mergeSmall(pieces, s.paragraphMinSize) {
			out = append(out, s.splitAt(section, i+1)...)
		}
		return out

	default:
		pieces := cutAfter(text, step.re)
		if len(pieces) <= 1 {
			return s.splitAt(text, i+1)
		}
		return s.merge(pieces, i)
	}
}

// merge packs separator pieces greedily into windows, carrying a tail of
// whole pieces from the previous window as overlap.
func (s *splitter) merge(pieces []string, i int) []string {
	var (
		out    []string
		cur    []string
		curLen int
		fresh  bool
	)
	emit := func(carry bool) {
		if !fresh {
			return
		}
		out = append(out, strings.Join(cur, ""))
		if carry {
			cur, curLen = overlapTail(cur, s.overlap)
		} else {
			cur, curLen = nil, 0
		}
		fresh = false
	}

	for _, piece := range pieces {
		n := runeLen(piece)
		if n > s.chunkSize {
			emit(false)
			cur, curLen = nil, 0
			out = append(out, s.splitAt(piece, i+1)...)
			continue
		}
		if curLen+n > s.chunkSize {
			emit(true)
			if curLen+n > s.chunkSize {
				cur, curLen = nil, 0
			}
		}
		cur = append(cur, piece)
		curLen += n
		fresh = true
	}
	emit(false)
	return out
}

// overlapTail returns the longest run of trailing pieces totalling at most limit runes.
func overlapTail(pieces []string, limit int) ([]string, int) {
	if limit <= 0 {
		return nil, 0
	}
	total := 0
	start := len(pieces)
	for start > 0 {
		n := runeLen(pieces[start-1])
		if total+n > limit {
			break
		}
		total += n
		start--
	}
	tail := make([]string, len(pieces)-start)
	copy(tail, pieces[start:])
	return tail, total
}

// mergeSmall folds sections shorter than minSize into the following section.
func mergeSmall(sections []string, minSize int) []string {
	var (
		out     []string
		pending string
	)
	for _, section := range sections {
		pending += section
		if runeLen(strings.TrimSpace(pending)) >= minSize {
			out = append(out, pending)
			pending = ""
		}
	}
	if pending != "" {
		if len(out) > 0 && runeLen(strings.TrimSpace(pending)) < minSize {
			out[len(out)-1] += pending
		} else {
			out = append(out, pending)
		}
	}
	return out
}

// cutAfter splits text after every match, keeping separators on the left piece.
func cutAfter(text string, re *regexp.Regexp) []string {
	var pieces []string
	prev := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if loc[1] <= prev {
			continue
		}
		pieces = append(pieces, text[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(text) {
		pieces = append(pieces, text[prev:])
	}
	return pieces
}

// cutBefore splits text before every match, so each piece starts with its heading.
func cutBefore(text string, re *regexp.Regexp) []string {
	var pieces []string
	prev := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if loc[0] <= prev {
			continue
		}
		pieces = append(pieces, text[prev:loc[0]])
		prev = loc[0]
	}
	pieces = append(pieces, text[prev:])
	return pieces
}

// hardCut slices text into fixed rune windows when no separator applies.
func hardCut(text string, size, overlap int) []string {
	runes := []rune(text)
	stride := size - overlap
	if stride <= 0 {
		stride = size
	}
	var out []string
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
