package server

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeindex/core/internal/storage/storagetest"
)

// TestServerBackend_Conformance runs the shared conformance vector
// against real Postgres/Neo4j/Redis instances. Skipped unless
// CODEINDEX_TEST_PG_HOST is set, since the services aren't part of the
// unit-test environment.
func TestServerBackend_Conformance(t *testing.T) {
	pgHost := os.Getenv("CODEINDEX_TEST_PG_HOST")
	if pgHost == "" {
		t.Skip("CODEINDEX_TEST_PG_HOST not set; skipping server-backend conformance")
	}

	pgPort, _ := strconv.Atoi(envOr("CODEINDEX_TEST_PG_PORT", "5432"))
	cachePort, _ := strconv.Atoi(envOr("CODEINDEX_TEST_REDIS_PORT", "6379"))

	be, err := Open(context.Background(),
		PGConfig{
			Host:     pgHost,
			Port:     pgPort,
			Database: envOr("CODEINDEX_TEST_PG_DB", "codeindex_test"),
			User:     envOr("CODEINDEX_TEST_PG_USER", "codeindex"),
			Password: os.Getenv("CODEINDEX_TEST_PG_PASSWORD"),
		},
		Neo4jConfig{
			URI:      envOr("CODEINDEX_TEST_GRAPH_URI", "bolt://localhost:7687"),
			User:     envOr("CODEINDEX_TEST_GRAPH_USER", "neo4j"),
			Password: os.Getenv("CODEINDEX_TEST_GRAPH_PASSWORD"),
		},
		RedisConfig{
			Host: envOr("CODEINDEX_TEST_REDIS_HOST", "localhost"),
			Port: cachePort,
		},
		8,
	)
	require.NoError(t, err)
	defer be.Close()

	storagetest.RunConformance(t, be, t.TempDir())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
