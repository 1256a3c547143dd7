package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/kbpipe/internal/domain"
)

func longText(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "Paragraph %d explains one part of the ingestion pipeline. ", i)
		b.WriteString("Workers claim tasks from the ledger, embed every index and store the vectors. ")
		b.WriteString("Failures are recorded and retried while attempts remain.\n\n")
	}
	return b.String()
}

func TestSplit_BelowMinSizeIsOneChunk(t *testing.T) {
	raw := strings.Repeat("a", 500)

	chunks, err := Split(Options{
		RawText:        raw,
		TriggerType:    domain.ChunkTriggerMinSize,
		TriggerMinSize: 1000,
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, raw, chunks[0].Q)
	assert.Equal(t, "", chunks[0].A)
}

func TestSplit_Gating(t *testing.T) {
	short := "  " + strings.Repeat("x", 300) + "  "

	tests := []struct {
		name      string
		opts      Options
		wantWhole bool
	}{
		{"minSize default", Options{RawText: short}, true},
		{"minSize explicit below", Options{RawText: short, TriggerType: domain.ChunkTriggerMinSize, TriggerMinSize: 301}, true},
		{"force chunk never gates", Options{RawText: short, TriggerType: domain.ChunkTriggerForceChunk, ChunkSize: 100}, false},
		{"maxSize below 70 percent", Options{RawText: longText(20), TriggerType: domain.ChunkTriggerMaxSize, MaxSize: 100000, ChunkSize: 200}, true},
		{"maxSize fallback limit", Options{RawText: longText(20), TriggerType: domain.ChunkTriggerMaxSize, ChunkSize: 200}, true},
		{"maxSize above limit then minSize", Options{RawText: longText(20), TriggerType: domain.ChunkTriggerMaxSize, MaxSize: 1000, ChunkSize: 200}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(tt.opts)
			require.NoError(t, err)
			if tt.wantWhole {
				require.Len(t, chunks, 1)
				assert.Equal(t, tt.opts.RawText, chunks[0].Q)
			} else {
				assert.Greater(t, len(chunks), 1)
			}
		})
	}
}

func TestSplit_ChunksRespectSize(t *testing.T) {
	raw := longText(40)

	for _, size := range []int{64, 128, 512} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			chunks, err := Split(Options{
				RawText:      raw,
				TriggerType:  domain.ChunkTriggerForceChunk,
				ChunkSize:    size,
				OverlapRatio: ChunkOverlapRatio,
			})
			require.NoError(t, err)
			require.NotEmpty(t, chunks)
			for _, c := range chunks {
				assert.LessOrEqual(t, runeLen(c.Q), size)
				assert.NotEmpty(t, strings.TrimSpace(c.Q))
			}
		})
	}
}

func TestSplit_Deterministic(t *testing.T) {
	opts := Options{
		RawText:      "# Title\n\n" + longText(30) + "## Part two\n\n" + longText(10),
		TriggerType:  domain.ChunkTriggerForceChunk,
		ChunkSize:    256,
		OverlapRatio: ChunkOverlapRatio,
	}

	first, err := Split(opts)
	require.NoError(t, err)
	second, err := Split(opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSplit_OverlapCarriesContext(t *testing.T) {
	raw := strings.Repeat("Short sentence here. ", 60)

	withOverlap, err := Split(Options{RawText: raw, TriggerType: domain.ChunkTriggerForceChunk, ChunkSize: 200, OverlapRatio: 0.2})
	require.NoError(t, err)
	without, err := Split(Options{RawText: raw, TriggerType: domain.ChunkTriggerForceChunk, ChunkSize: 200})
	require.NoError(t, err)

	assert.Greater(t, len(withOverlap), len(without))
	assert.True(t, strings.HasPrefix(withOverlap[1].Q, "Short sentence here."))
}

func TestSplit_MarkdownHeadings(t *testing.T) {
	section := func(title string) string {
		return title + "\n" + strings.Repeat("Body text for this section. ", 6) + "\n"
	}
	raw := section("# One") + section("# Two") + section("# Three")

	chunks, err := Split(Options{
		RawText:          raw,
		TriggerType:      domain.ChunkTriggerForceChunk,
		ChunkSize:        300,
		ParagraphMinSize: 50,
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.True(t, strings.HasPrefix(chunks[0].Q, "# One"))
	assert.True(t, strings.HasPrefix(chunks[1].Q, "# Two"))
	assert.True(t, strings.HasPrefix(chunks[2].Q, "# Three"))
}

func TestSplit_CustomSeparator(t *testing.T) {
	chunks, err := Split(Options{
		RawText:          "alpha===beta===gamma",
		TriggerType:      domain.ChunkTriggerForceChunk,
		CustomSeparators: []string{"==="},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, []string{chunks[0].Q, chunks[1].Q, chunks[2].Q})

	_, err = Split(Options{RawText: "x", TriggerType: domain.ChunkTriggerForceChunk, CustomSeparators: []string{"("}})
	assert.Error(t, err)
}

func TestSplit_HardCutWithoutSeparators(t *testing.T) {
	raw := strings.Repeat("字", 250)

	chunks, err := Split(Options{RawText: raw, TriggerType: domain.ChunkTriggerForceChunk, ChunkSize: 100})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 100, runeLen(chunks[0].Q))
	assert.Equal(t, 50, runeLen(chunks[2].Q))
}

func TestSplit_BackupCSV(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Chunk
	}{
		{
			name: "two rows with extra index columns",
			raw:  "q1,a1\nq2,a2,extra1,extra2",
			want: []Chunk{
				{Q: "q1", A: "a1"},
				{Q: "q2", A: "a2", Indexes: []string{"extra1", "extra2"}},
			},
		},
		{
			name: "header row skipped",
			raw:  "q,a,indexes\nwhat,this,alt",
			want: []Chunk{{Q: "what", A: "this", Indexes: []string{"alt"}}},
		},
		{
			name: "blank rows and blank index cells dropped",
			raw:  "Q,A\n,\n\"multi\nline\",answer, ,idx\n",
			want: []Chunk{{Q: "multi\nline", A: "answer", Indexes: []string{"idx"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(Options{RawText: tt.raw, BackupParse: true})
			require.NoError(t, err)
			assert.Equal(t, tt.want, chunks)
		})
	}
}

func TestSplit_SpreadsheetRows(t *testing.T) {
	raw := "=== 工作表: Sales ===\n--- 第1行数据 ---\nname: a\n--- 第2行数据 ---\n\n--- 第3行数据 ---\nname: c" +
		"\n\n" + CustomSplitSign + "\n\n" +
		"--- 第1行数据 ---\nonly row" +
		"\n\n" + CustomSplitSign + "\n\n" +
		"=== 工作表: Empty ===\n"

	chunks, err := Split(Options{
		RawText:        raw,
		Filename:       "Report.XLSX",
		ChunkSize:      1,
		TriggerType:    domain.ChunkTriggerMinSize,
		TriggerMinSize: 100000,
		ImageIDs:       []string{"img-1"},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "工作表: Sales\n第1行数据:\nname: a", chunks[0].Q)
	assert.Equal(t, "工作表: Sales\n第3行数据:\nname: c", chunks[1].Q)
	assert.Equal(t, "工作表: 未知工作表\n第1行数据:\nonly row", chunks[2].Q)
	for _, c := range chunks {
		assert.Equal(t, []string{"img-1"}, c.ImageIDs)
	}
}

func TestOverlapFor(t *testing.T) {
	assert.Equal(t, ChunkOverlapRatio, OverlapFor(domain.TrainingTypeChunk))
	assert.Zero(t, OverlapFor(domain.TrainingTypeQA))
}
