package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIngestBatchFromArgs(t *testing.T) {
	origPlan := ingestPlanPath
	defer func() { ingestPlanPath = origPlan }()
	ingestPlanPath = ""

	batch, err := resolveIngestBatch([]string{"sess_1", "a.pdf", "b.md"})
	require.NoError(t, err)
	assert.Equal(t, "sess_1", batch.sessionID)
	assert.Equal(t, []string{"a.pdf", "b.md"}, batch.files)
}

func TestResolveIngestBatchRequiresFiles(t *testing.T) {
	origPlan := ingestPlanPath
	defer func() { ingestPlanPath = origPlan }()
	ingestPlanPath = ""

	_, err := resolveIngestBatch([]string{"sess_1"})
	assert.Error(t, err)
}

func TestResolveIngestBatchPlanAndArgsConflict(t *testing.T) {
	origPlan := ingestPlanPath
	defer func() { ingestPlanPath = origPlan }()
	ingestPlanPath = "plan.yaml"

	_, err := resolveIngestBatch([]string{"sess_1", "a.pdf"})
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestResolveIngestBatchFromPlan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.tmp"), []byte("x"), 0644))

	planPath := filepath.Join(dir, "plan.yaml")
	plan := `
session:
  id: sess_42
sources:
  includes: ["**/*.md"]
ingest:
  chunk_size: 500
  chunk_overlap: 50
`
	require.NoError(t, os.WriteFile(planPath, []byte(plan), 0644))

	origPlan := ingestPlanPath
	defer func() { ingestPlanPath = origPlan }()
	ingestPlanPath = planPath

	batch, err := resolveIngestBatch(nil)
	require.NoError(t, err)
	assert.Equal(t, "sess_42", batch.sessionID)
	assert.Equal(t, []string{filepath.Join(dir, "notes.md")}, batch.files)
	assert.Equal(t, 500, batch.opts.ChunkSize)
	assert.Equal(t, 50, batch.opts.ChunkOverlap)
}
