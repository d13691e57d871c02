package standards

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeindex/core/internal/embed"
	"github.com/codeindex/core/internal/indexer"
	"github.com/codeindex/core/internal/model"
	"github.com/codeindex/core/internal/parser"
	"github.com/codeindex/core/internal/project"
	"github.com/codeindex/core/internal/storage/embedded"
)

func TestNormalizeSignature_Validation(t *testing.T) {
	vocab := categoryVocab[model.CategoryValidation]

	assert.Equal(t, "validator.isEmail(_)", normalizeSignature("validator.isEmail(input)", vocab))
	assert.Equal(t, "validator.isEmail(_)", normalizeSignature("validator.isEmail(user_email)", vocab))
	assert.Equal(t, `_.includes("…")`, normalizeSignature(`x.includes("@")`, vocab))
	assert.Equal(t, "schema.parse(_)", normalizeSignature("schema.parse(payload)", vocab))
}

func TestNormalizeSignature_LiteralsCollapse(t *testing.T) {
	vocab := categoryVocab[model.CategoryLogging]
	assert.Equal(t, `console.log("…", _)`, normalizeSignature(`console.log("user created", userId)`, vocab))
	assert.Equal(t, `console.log("…", 0)`, normalizeSignature(`console.log("retry", 42)`, vocab))
}

func TestNormalizeSignature_SameShapeSameSignature(t *testing.T) {
	vocab := categoryVocab[model.CategoryValidation]
	a := normalizeSignature(`validator.isEmail(alpha)`, vocab)
	b := normalizeSignature(`validator.isEmail(beta)`, vocab)
	assert.Equal(t, a, b, "identifier choice must not affect the signature")
}

type fixture struct {
	detector *Detector
	pid      string
}

// newFixture indexes a small corpus where validator.isEmail appears in
// five files and an ad-hoc includes("@") check in one.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	for i := 0; i < 5; i++ {
		src := fmt.Sprintf(`export function checkUser%d(email: string): boolean {
  return validator.isEmail(email);
}
`, i)
		write(t, root, fmt.Sprintf("user%d.ts", i), src)
	}
	write(t, root, "adhoc.ts", `export function looksLikeEmail(s: string): boolean {
  return s.includes("@");
}
`)

	pid, err := project.ID(root)
	require.NoError(t, err)
	be, err := embedded.Open(t.TempDir(), pid, 16)
	require.NoError(t, err)
	t.Cleanup(func() { be.Close() })
	_, err = be.Registry().Register(context.Background(), root)
	require.NoError(t, err)

	ix := indexer.New(root, pid, be, parser.Default(), embed.NewFakeProvider(16), indexer.Options{})
	_, err = ix.Init(context.Background())
	require.NoError(t, err)

	return &fixture{detector: NewDetector(be, 0), pid: pid}
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(root, rel)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
}

func TestGetStandards_RecurringPatternWins(t *testing.T) {
	f := newFixture(t)
	patterns, err := f.detector.GetStandards(context.Background(), f.pid, model.CategoryValidation)
	require.NoError(t, err)
	require.NotEmpty(t, patterns)

	top := patterns[0]
	assert.Equal(t, "validator.isEmail(_)", top.Signature)
	assert.GreaterOrEqual(t, top.Confidence, 0.7)
	assert.Len(t, top.Occurrences, 5)
	assert.NotEmpty(t, top.CanonicalExample)

	// The one-file ad-hoc check fails the diversity floor.
	for _, p := range patterns {
		assert.NotContains(t, p.Signature, "includes")
	}
}

func TestGetStandards_ConfidenceIsRecomputedDeterministically(t *testing.T) {
	f := newFixture(t)
	a, err := f.detector.GetStandards(context.Background(), f.pid, model.CategoryValidation)
	require.NoError(t, err)
	b, err := f.detector.GetStandards(context.Background(), f.pid, model.CategoryValidation)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGetStandards_UnknownCategory(t *testing.T) {
	f := newFixture(t)
	_, err := f.detector.GetStandards(context.Background(), f.pid, "astrology")
	assert.Error(t, err)
}

func TestGetStandards_AllCategoriesWhenUnset(t *testing.T) {
	f := newFixture(t)
	patterns, err := f.detector.GetStandards(context.Background(), f.pid, "")
	require.NoError(t, err)
	for _, p := range patterns {
		assert.Contains(t, AllCategories, p.Category)
	}
}

func TestGetStandards_EmptyProject(t *testing.T) {
	root := t.TempDir()
	pid, err := project.ID(root)
	require.NoError(t, err)
	be, err := embedded.Open(t.TempDir(), pid, 16)
	require.NoError(t, err)
	defer be.Close()
	_, err = be.Registry().Register(context.Background(), root)
	require.NoError(t, err)

	d := NewDetector(be, 0)
	patterns, err := d.GetStandards(context.Background(), pid, model.CategoryValidation)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}
