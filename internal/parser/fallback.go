package parser

import (
	"path/filepath"
	"strings"

	"github.com/codeindex/core/internal/model"
)

// fallbackExtraction implements the unsupported-language and parse-failure
// path: a single file-kind chunk spanning the whole file, no symbols, no
// edges. Grounded on the teacher's plain-text fallback in
// internal/indexer/chunker (the "no grammar available" branch), which
// likewise emits one coarse chunk rather than refusing to index the file.
func fallbackExtraction(relPath string, source []byte) *Extraction {
	text := string(source)
	lines := strings.Split(text, "\n")
	end := len(lines)
	if end > 0 && lines[end-1] == "" {
		end--
	}
	if end == 0 {
		end = 1
	}
	return &Extraction{
		Chunks: []ProtoChunk{{
			Kind:      model.ChunkFile,
			Name:      filepath.Base(relPath),
			StartLine: 1,
			EndLine:   end,
			Text:      text,
		}},
	}
}
