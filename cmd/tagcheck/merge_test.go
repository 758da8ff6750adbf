package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/store"
	"github.com/tagcheck/tagcheck/pkg/types"
)

func createTestDB(t *testing.T, path string, reports ...*types.Report) {
	t.Helper()
	s, err := store.NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	for _, r := range reports {
		require.NoError(t, s.AddReport(r))
	}
}

func matchedReport(scanID, name string) *types.Report {
	return &types.Report{
		ScanID:       scanID,
		ArtifactID:   "id-" + name,
		ArtifactName: name,
		Status:       types.StatusComplete,
		StartedAt:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Entries: []types.ReportEntry{{
			RuleID:   "block_art",
			Evidence: types.Evidence{Patterns: []types.PatternEvidence{{Pattern: "$block1", Count: 60}}},
		}},
	}
}

func TestRunMerge(t *testing.T) {
	dir := t.TempDir()
	db1 := filepath.Join(dir, "one.db")
	db2 := filepath.Join(dir, "two.db")
	createTestDB(t, db1, matchedReport("scan-a", "a.bin"), matchedReport("scan-shared", "s.bin"))
	createTestDB(t, db2, matchedReport("scan-b", "b.bin"), matchedReport("scan-shared", "s.bin"))

	mergeOutput = filepath.Join(dir, "merged.db")
	cmd, out, _ := newTestCommand("merge", runMerge, func(c *cobra.Command) { c.Args = cobra.MinimumNArgs(2) })
	cmd.SetArgs([]string{db1, db2})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Sources processed: 2")
	assert.Contains(t, out.String(), "Reports merged: 3")
	assert.Contains(t, out.String(), "Entries merged: 3")

	s, err := store.NewSQLite(mergeOutput)
	require.NoError(t, err)
	defer s.Close()
	reports, err := s.GetReports()
	require.NoError(t, err)
	assert.Len(t, reports, 3)
}

func TestRunMerge_MissingSource(t *testing.T) {
	dir := t.TempDir()
	db1 := filepath.Join(dir, "one.db")
	createTestDB(t, db1, matchedReport("scan-a", "a.bin"))

	mergeOutput = filepath.Join(dir, "merged.db")
	cmd, _, _ := newTestCommand("merge", runMerge, func(c *cobra.Command) { c.Args = cobra.MinimumNArgs(2) })
	cmd.SetArgs([]string{db1, filepath.Join(dir, "missing.db")})
	assert.ErrorContains(t, cmd.Execute(), "merge failed")
}
