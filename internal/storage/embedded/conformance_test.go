package embedded

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeindex/core/internal/project"
	"github.com/codeindex/core/internal/storage/storagetest"
)

func TestEmbeddedBackend_Conformance(t *testing.T) {
	projectPath := t.TempDir()
	pid, err := project.ID(projectPath)
	require.NoError(t, err)

	be, err := Open(t.TempDir(), pid, 8)
	require.NoError(t, err)
	defer be.Close()

	storagetest.RunConformance(t, be, projectPath)
}
