// Package parser implements the per-language AST → symbols/edges/chunks
// extraction the spec calls the Parser & Symbol Extractor (§4.2). Grounded
// on the teacher's internal/indexer/parsers package (tree-sitter bindings
// wrapped in a shared treeSitterParser + per-language walkTree visitors);
// generalized here from the teacher's three-tier
// Symbols/Definitions/Data extraction (an MCP-response shape) to the
// spec's Node/Edge/ProtoChunk output, since the indexer persists directly
// into the graph and vector stores rather than serving a tool response.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/codeindex/core/internal/model"
)

// ProtoChunk is a chunk without its embedding, the parser's output unit
// before the indexer's embed stage fills in Chunk.Embedding.
type ProtoChunk struct {
	Kind      model.ChunkKind
	Name      string
	StartLine int
	EndLine   int
	Text      string
}

// Extraction is the parser's output for one file, per §4.2.
type Extraction struct {
	Symbols []model.Node
	Edges   []model.Edge
	Chunks  []ProtoChunk
}

// Tier reports how a language's structure is obtained, surfaced to
// callers through Status (§4.3) and recorded per the spec's quality-tier
// requirement.
type Tier = model.ParserTier

// Parser is implemented once per supported language.
type Parser interface {
	// Parse extracts symbols, edges, and chunk boundaries from source.
	// projectID and relPath are used only to derive node/edge identifiers
	// and chunk metadata — node ids hash (projectId, kind, qualifiedName)
	// so two projects sharing a relPath or symbol name never collide.
	// Parse never touches the filesystem.
	Parse(ctx context.Context, projectID, relPath string, source []byte) (*Extraction, error)
	Tier() Tier
}

// Registry maps a detected language name to its Parser. One process-wide
// Registry is built at startup (see Default) and shared read-only across
// every project's indexer, matching the spec's "registered map of
// language → parser" contract: the core specifies the interface, not a
// specific parser family.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	return &Registry{parsers: map[string]Parser{}}
}

func (r *Registry) Register(language string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[language] = p
}

func (r *Registry) Lookup(language string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[language]
	return p, ok
}

// Default builds the registry of every AST-tier language the teacher
// bundles tree-sitter grammars for (c, java, php, python, ruby, rust,
// typescript/javascript), each driven by the shared genericExtractor.
func Default() *Registry {
	r := NewRegistry()
	for lang, spec := range languageSpecs {
		r.Register(lang, newTreeSitterParser(spec))
	}
	return r
}

// DetectLanguage implements §4.2's "extension first, shebang second"
// rule. Unsupported languages return "" so the indexer falls back to the
// line-based chunker.
func DetectLanguage(relPath string, source []byte) string {
	ext := strings.ToLower(filepath.Ext(relPath))
	if lang, ok := extToLanguage[ext]; ok {
		return lang
	}
	return detectByShebang(source)
}

var extToLanguage = map[string]string{
	".py":   "python",
	".rb":   "ruby",
	".rs":   "rust",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".php":  "php",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "typescript",
	".jsx":  "typescript",
	".mjs":  "typescript",
}

var shebangToLanguage = map[string]string{
	"python":  "python",
	"python3": "python",
	"ruby":    "ruby",
	"node":    "typescript",
	"php":     "php",
}

func detectByShebang(source []byte) string {
	if len(source) < 2 || source[0] != '#' || source[1] != '!' {
		return ""
	}
	nl := strings.IndexByte(string(source), '\n')
	if nl < 0 {
		nl = len(source)
	}
	line := string(source[2:nl])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	interpreter := fields[len(fields)-1]
	if len(fields) > 1 && filepath.Base(fields[0]) == "env" {
		interpreter = fields[1]
	} else {
		interpreter = filepath.Base(fields[0])
	}
	return shebangToLanguage[interpreter]
}

// ParseFile runs language detection then the matching parser, falling
// back to the line-based chunker for unsupported languages or parser
// errors, per §4.2's failure policy: a parser error on a single file
// yields a fallback chunk plus a structured warning, never an abort.
func ParseFile(ctx context.Context, registry *Registry, projectID, relPath string, source []byte) (*Extraction, Tier, error) {
	lang := DetectLanguage(relPath, source)
	if lang == "" {
		return fallbackExtraction(relPath, source), model.TierFallback, nil
	}
	p, ok := registry.Lookup(lang)
	if !ok {
		return fallbackExtraction(relPath, source), model.TierFallback, nil
	}
	ext, err := p.Parse(ctx, projectID, relPath, source)
	if err != nil {
		return fallbackExtraction(relPath, source), model.TierFallback, fmt.Errorf("parse %s: %w", relPath, err)
	}
	return ext, p.Tier(), nil
}
