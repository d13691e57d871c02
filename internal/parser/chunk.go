package parser

import (
	"strings"

	"github.com/codeindex/core/internal/model"
)

// MaxChunkBytes is the default chunk-size ceiling; symbols larger than
// this are split on statement boundaries into #n-suffixed sub-chunks.
const MaxChunkBytes = 8 * 1024

// MinResidualLines is the minimum count of non-blank lines outside any
// top-level symbol required before the walker emits a residual file-kind
// chunk for them (module-level constants, loose script statements).
const MinResidualLines = 40

// ChunkPart is one piece of a split-up oversized symbol.
type ChunkPart struct {
	Text      string
	StartLine int
	EndLine   int
}

// SplitChunkText divides text into parts no larger than maxBytes,
// splitting on blank-line boundaries so a sub-chunk never starts or ends
// mid-statement when the source follows ordinary formatting conventions.
// startLine is the 1-based line number of text's first line.
func SplitChunkText(text string, startLine, maxBytes int) []ChunkPart {
	if maxBytes <= 0 {
		maxBytes = MaxChunkBytes
	}
	if len(text) <= maxBytes {
		return []ChunkPart{{Text: text, StartLine: startLine, EndLine: startLine + strings.Count(text, "\n")}}
	}

	lines := strings.Split(text, "\n")
	var parts []ChunkPart
	var cur []string
	curBytes := 0
	curStart := startLine

	flush := func(endLine int) {
		if len(cur) == 0 {
			return
		}
		parts = append(parts, ChunkPart{Text: strings.Join(cur, "\n"), StartLine: curStart, EndLine: endLine})
		cur = nil
		curBytes = 0
	}

	for i, line := range lines {
		lineNo := startLine + i
		if curBytes+len(line)+1 > maxBytes && len(cur) > 0 && i < len(lines)-1 && strings.TrimSpace(line) == "" {
			flush(lineNo - 1)
			curStart = lineNo + 1
			continue
		}
		cur = append(cur, line)
		curBytes += len(line) + 1
	}
	flush(startLine + len(lines) - 1)

	if len(parts) == 0 {
		return []ChunkPart{{Text: text, StartLine: startLine, EndLine: startLine + len(lines) - 1}}
	}
	return parts
}

// residualChunk emits a single file-kind ProtoChunk covering the
// non-blank lines outside any emitted symbol, when there are at least
// MinResidualLines of them (module-level imports/constants/script code).
func residualChunk(relPath string, lines []string, covered map[int]bool) []ProtoChunk {
	var residualLines []string
	var firstLine, lastLine int
	nonBlank := 0
	for i, line := range lines {
		lineNo := i + 1
		if covered[lineNo] {
			continue
		}
		if strings.TrimSpace(line) != "" {
			nonBlank++
			if firstLine == 0 {
				firstLine = lineNo
			}
			lastLine = lineNo
		}
		residualLines = append(residualLines, line)
	}
	if nonBlank < MinResidualLines {
		return nil
	}
	text := strings.Join(lines[firstLine-1:lastLine], "\n")
	return []ProtoChunk{{Kind: model.ChunkFile, Name: relPath, StartLine: firstLine, EndLine: lastLine, Text: text}}
}
