// Package standards mines recurring syntactic patterns (validation,
// error handling, logging, testing) from the indexed corpus and scores
// them as project-specific coding standards. Grounded on the teacher's
// internal/pattern package, which exposes structural code-shape search
// over the same corpus; reworked from the teacher's on-demand ast-grep
// subprocess to an in-process miner over already-indexed chunks, because
// the detector must be a deterministic function of index state, cacheable
// and re-runnable without shelling out.
package standards

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/storage"
)

const (
	// DefaultMinOccurrences is the floor below which a signature is noise.
	DefaultMinOccurrences = 2

	canonicalExampleLines = 40

	cacheTTL = 10 * time.Minute
)

// Detector mines standards from one backend's persisted index. It is
// stateless: two calls over the same index state return identical
// results, which is what makes the cache layer safe.
type Detector struct {
	vectors  storage.VectorStore
	registry storage.ProjectRegistry
	cache    storage.CacheStore

	minOccurrences int
}

func NewDetector(be storage.Backend, minOccurrences int) *Detector {
	if minOccurrences <= 0 {
		minOccurrences = DefaultMinOccurrences
	}
	return &Detector{
		vectors:        be.Vectors(),
		registry:       be.Registry(),
		cache:          be.Cache(),
		minOccurrences: minOccurrences,
	}
}

// GetStandards returns the scored patterns for one category, or for every
// category when category is empty. Results come from the cache when a
// prior call's entry survived; any file-level index write invalidates the
// project's cache prefix, so staleness is bounded by the ingest pipeline,
// not by TTL.
func (d *Detector) GetStandards(ctx context.Context, projectID string, category model.StandardCategory) ([]model.StandardPattern, error) {
	categories := AllCategories
	if category != "" {
		if _, ok := categoryRules[category]; !ok {
			return nil, fmt.Errorf("unknown standards category: %s", category)
		}
		categories = []model.StandardCategory{category}
	}

	var out []model.StandardPattern
	for _, cat := range categories {
		patterns, err := d.mineCategory(ctx, projectID, cat)
		if err != nil {
			return nil, err
		}
		out = append(out, patterns...)
	}
	return out, nil
}

func (d *Detector) mineCategory(ctx context.Context, projectID string, category model.StandardCategory) ([]model.StandardPattern, error) {
	cacheKey := fmt.Sprintf("%s:standards:%s", projectID, category)
	if data, hit, err := d.cache.Get(ctx, cacheKey); err == nil && hit {
		var cached []model.StandardPattern
		if json.Unmarshal(data, &cached) == nil {
			return cached, nil
		}
		// Corrupt cache entry: fall through and recompute; the Set below
		// overwrites it.
	}

	agg, err := d.aggregate(ctx, projectID, category)
	if err != nil {
		return nil, err
	}
	patterns := d.score(category, agg)

	// Cache is a pure performance layer; a failed write changes nothing
	// for the caller.
	if data, err := json.Marshal(patterns); err == nil {
		_ = d.cache.Set(ctx, cacheKey, data, cacheTTL)
	}
	return patterns, nil
}

// signatureAgg accumulates one signature's occurrences across the corpus.
type signatureAgg struct {
	occurrences []model.Occurrence
	files       map[string]bool
	bestExample string
	bestLen     int
}

// aggregate walks every indexed chunk once, matching the category's rules
// line by line and normalizing each match into a signature.
func (d *Detector) aggregate(ctx context.Context, projectID string, category model.StandardCategory) (map[string]*signatureAgg, error) {
	files, err := d.registry.ListFiles(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	rules := categoryRules[category]
	agg := map[string]*signatureAgg{}

	for _, f := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if category == model.CategoryTesting && !isTestFile(f.RelPath) {
			// Testing patterns outside test files are assertion-shaped
			// coincidences, not testing standards.
			continue
		}
		chunks, err := d.vectors.ListChunksByFile(ctx, projectID, f.RelPath)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			mineChunk(agg, rules, categoryVocab[category], c)
		}
	}
	return agg, nil
}

func mineChunk(agg map[string]*signatureAgg, rules []rule, vocab map[string]bool, c model.Chunk) {
	lines := strings.Split(c.Text, "\n")
	for i, line := range lines {
		for _, r := range rules {
			loc := r.pattern.FindStringIndex(line)
			if loc == nil {
				continue
			}
			sig := r.fixedSignature
			if sig == "" {
				sig = normalizeSignature(strings.TrimSpace(line[loc[0]:]), vocab)
			}
			if sig == "" {
				continue
			}
			a := agg[sig]
			if a == nil {
				a = &signatureAgg{files: map[string]bool{}}
				agg[sig] = a
			}
			a.occurrences = append(a.occurrences, model.Occurrence{
				RelPath:   c.RelPath,
				StartLine: c.StartLine + i,
			})
			a.files[c.RelPath] = true
			// The canonical example is the occurrence with the longest
			// surrounding body, truncated when attached below.
			if len(c.Text) > a.bestLen {
				a.bestLen = len(c.Text)
				a.bestExample = c.Text
			}
			break // one signature per line per category
		}
	}
}

// score turns aggregates into filtered, confidence-ranked patterns:
// confidence = min(1, log(1+n)/log(1+N) · fileDiversity · prior), with
// fileDiversity = distinctFiles/n clamped to [0.3, 1.0].
func (d *Detector) score(category model.StandardCategory, agg map[string]*signatureAgg) []model.StandardPattern {
	maxN := 0
	for _, a := range agg {
		if len(a.occurrences) > maxN {
			maxN = len(a.occurrences)
		}
	}
	if maxN == 0 {
		return []model.StandardPattern{}
	}

	prior := categoryPrior[category]
	var out []model.StandardPattern
	for sig, a := range agg {
		n := len(a.occurrences)
		distinct := len(a.files)
		if n < d.minOccurrences {
			continue
		}
		if distinct < 2 && n < 5 {
			continue
		}

		diversity := float64(distinct) / float64(n)
		if diversity < 0.3 {
			diversity = 0.3
		}
		if diversity > 1.0 {
			diversity = 1.0
		}
		confidence := math.Log(1+float64(n)) / math.Log(1+float64(maxN)) * diversity * prior
		if confidence > 1 {
			confidence = 1
		}

		occurrences := append([]model.Occurrence(nil), a.occurrences...)
		sort.Slice(occurrences, func(i, j int) bool {
			if occurrences[i].RelPath != occurrences[j].RelPath {
				return occurrences[i].RelPath < occurrences[j].RelPath
			}
			return occurrences[i].StartLine < occurrences[j].StartLine
		})

		out = append(out, model.StandardPattern{
			Category:         category,
			Signature:        sig,
			CanonicalExample: truncateLines(a.bestExample, canonicalExampleLines),
			Occurrences:      occurrences,
			Confidence:       confidence,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

var (
	stringLitRe = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|` + "`[^`]*`")
	numberRe    = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	identRe     = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// normalizeSignature reduces a matched expression to its shape: string
// literals become "…", numbers become 0, identifiers outside the category
// vocabulary become _ (except an identifier reached through a kept
// receiver's dot, which names the pattern and stays).
func normalizeSignature(expr string, vocab map[string]bool) string {
	expr = stringLitRe.ReplaceAllString(expr, `"…"`)
	expr = numberRe.ReplaceAllString(expr, "0")

	var prevKept bool
	var prevEnd int
	expr = identRe.ReplaceAllStringFunc(expr, func(id string) string {
		// Find this occurrence's position to inspect the joining character.
		idx := strings.Index(expr[prevEnd:], id)
		joiner := ""
		if idx > 0 {
			joiner = strings.TrimSpace(expr[prevEnd+idx-1 : prevEnd+idx])
		}
		keep := vocab[id] || (prevKept && joiner == ".")
		prevKept = keep
		prevEnd += idx + len(id)
		if keep {
			return id
		}
		return "_"
	})

	expr = spaceRe.ReplaceAllString(expr, " ")
	return strings.TrimRight(strings.TrimSpace(expr), ";, ")
}

func truncateLines(text string, max int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= max {
		return text
	}
	return strings.Join(lines[:max], "\n")
}

func isTestFile(relPath string) bool {
	base := strings.ToLower(relPath)
	return strings.HasSuffix(base, "_test.go") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.Contains(base, "/test_") ||
		strings.HasPrefix(base, "test_") ||
		strings.Contains(base, "/tests/") ||
		strings.Contains(base, "/__tests__/")
}
