package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChunkText_SmallTextSinglePart(t *testing.T) {
	parts := SplitChunkText("func a() {\n}", 10, MaxChunkBytes)
	require.Len(t, parts, 1)
	assert.Equal(t, 10, parts[0].StartLine)
	assert.Equal(t, 11, parts[0].EndLine)
	assert.Equal(t, "func a() {\n}", parts[0].Text)
}

func TestSplitChunkText_SplitsOnBlankLines(t *testing.T) {
	// Two paragraphs of ~90 bytes each with a blank line between, forced
	// through a 100-byte ceiling: must split at the blank line.
	para := strings.TrimSpace(strings.Repeat("abcdefgh ", 10))
	text := para + "\n" + para + "\n\n" + para + "\n" + para

	parts := SplitChunkText(text, 1, 100)
	require.Greater(t, len(parts), 1)

	for _, p := range parts {
		assert.NotEqual(t, "", strings.TrimSpace(p.Text), "no empty parts")
	}
	// Line accounting stays monotonic and within the original span.
	last := 0
	for _, p := range parts {
		assert.Greater(t, p.StartLine, last)
		assert.GreaterOrEqual(t, p.EndLine, p.StartLine)
		last = p.EndLine
	}
}

func TestSplitChunkText_NoBlankLinesYieldsSinglePart(t *testing.T) {
	// Without a blank-line boundary the splitter refuses to cut
	// mid-statement and returns the text whole.
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("x := compute(input)\n")
	}
	parts := SplitChunkText(b.String(), 1, 100)
	require.Len(t, parts, 1)
	assert.Equal(t, b.String(), parts[0].Text)
}

func TestResidualChunk_BelowThresholdOmitted(t *testing.T) {
	lines := []string{"const a = 1", "const b = 2", "", "const c = 3"}
	chunks := residualChunk("x.ts", lines, map[int]bool{})
	assert.Empty(t, chunks)
}

func TestResidualChunk_EmittedForUncoveredCode(t *testing.T) {
	var lines []string
	for i := 0; i < MinResidualLines+5; i++ {
		lines = append(lines, "const x = 1;")
	}
	chunks := residualChunk("x.ts", lines, map[int]bool{})
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, len(lines), chunks[0].EndLine)
}

func TestResidualChunk_SkipsCoveredLines(t *testing.T) {
	covered := map[int]bool{}
	var lines []string
	for i := 0; i < MinResidualLines*2; i++ {
		lines = append(lines, "line")
		covered[i+1] = true
	}
	chunks := residualChunk("x.ts", lines, covered)
	assert.Empty(t, chunks, "fully covered file has no residual")
}
