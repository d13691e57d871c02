package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_FillsEveryKnob(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ModeEmbedded, cfg.Storage.Mode)
	assert.Equal(t, 32, cfg.Indexing.EmbedBatchSize)
	assert.Equal(t, 4, cfg.Indexing.EmbedderConcurrency)
	assert.Equal(t, 8*1024, cfg.Indexing.MaxChunkBytes)
	assert.Equal(t, 2, cfg.Indexing.MinStandardOccurrences)
	assert.Equal(t, 2000, cfg.Timing.DebounceMs)
	assert.Equal(t, 5000, cfg.Timing.PollIntervalMs)
	assert.Equal(t, 120, cfg.Timing.OperationTimeout)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
}

func TestLoad_DefaultsWhenNoConfigFile(t *testing.T) {
	cfg, err := NewLoader(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Indexing.EmbedBatchSize, cfg.Indexing.EmbedBatchSize)
	assert.Equal(t, ModeEmbedded, cfg.Storage.Mode)
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".codeindex")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(`
storage:
  mode: auto
indexing:
  embed_batch_size: 64
timing:
  debounce_ms: 500
`), 0o644))

	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, cfg.Storage.Mode)
	assert.Equal(t, 64, cfg.Indexing.EmbedBatchSize)
	assert.Equal(t, 500, cfg.Timing.DebounceMs)
	// Untouched keys keep defaults.
	assert.Equal(t, 4, cfg.Indexing.EmbedderConcurrency)
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".codeindex")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("indexing:\n  embed_batch_size: 64\n"), 0o644))

	t.Setenv("CODEINDEX_INDEXING_EMBED_BATCH_SIZE", "16")
	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Indexing.EmbedBatchSize)
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".codeindex")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("storage: [unclosed"), 0o644))

	_, err := NewLoader(root).Load()
	assert.Error(t, err)
}

func TestValidate_RejectsBadMode(t *testing.T) {
	cfg := Default()
	cfg.Storage.Mode = "cloud"
	assert.Error(t, Validate(cfg))
}

func TestValidate_ServerModeNeedsConnectionParams(t *testing.T) {
	cfg := Default()
	cfg.Storage.Mode = ModeServer
	cfg.Storage.PgHost = ""
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Storage.Mode = ModeServer
	assert.NoError(t, Validate(cfg))
}

func TestValidate_RejectsNonPositiveDimensions(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Dimensions = 0
	assert.Error(t, Validate(cfg))
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "2s", cfg.Debounce().String())
	assert.Equal(t, "5s", cfg.PollInterval().String())
	assert.Equal(t, "2m0s", cfg.SearchTimeout().String())
}
