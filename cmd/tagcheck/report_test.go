package main

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/store"
	"github.com/tagcheck/tagcheck/pkg/types"
)

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.db")
	s, err := store.New(store.Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddReport(&types.Report{
		ScanID:       "scan-1",
		ArtifactID:   "aa11",
		ArtifactName: "dropper.bin",
		Origin:       types.Origin{Kind: "git", Member: "bin/dropper.bin", Commit: "0123456789abcdef", Author: "Test User <test@example.com>"},
		Status:       types.StatusComplete,
		StartedAt:    start,
		Entries: []types.ReportEntry{{
			RuleID: "block_art",
			Tags:   []string{"art"},
			Meta:   types.Metadata{{Key: "description", Value: "Large run of block elements"}, {Key: "category", Value: "info"}},
			Evidence: types.Evidence{
				Patterns: []types.PatternEvidence{{Pattern: "$block1", Count: 1200, Offsets: []types.Offset{{Stream: "page/1", Offset: 7}}}},
				Facts:    []types.FactEvidence{{Field: "file_name", Predicate: `file_name endswith ".bin"`, Values: []string{"dropper.bin"}}},
				Rules:    []string{"helper_rule"},
			},
		}},
	}))
	require.NoError(t, s.AddReport(&types.Report{
		ScanID: "scan-2", ArtifactID: "bb22", ArtifactName: "clean.txt",
		Status: types.StatusComplete, StartedAt: start.Add(time.Second), Entries: []types.ReportEntry{},
	}))
	require.NoError(t, s.AddReport(&types.Report{
		ScanID: "scan-3", ArtifactID: "cc33", ArtifactName: "huge.iso",
		Status: types.StatusIncomplete, Reason: "context deadline exceeded", StartedAt: start.Add(2 * time.Second),
	}))
	return path
}

func runReportCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetGlobals(t)
	cmd, out, _ := newTestCommand("report", runReport, func(c *cobra.Command) {
		c.Flags().StringVar(&reportDatastore, "datastore", "tagcheck.db", "")
		c.Flags().StringVar(&reportFormat, "format", "human", "")
		c.Flags().StringVar(&reportColor, "color", "auto", "")
		c.Flags().BoolVar(&reportAll, "all", false, "")
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunReport_Human(t *testing.T) {
	out, err := runReportCommand(t, "--datastore", seedStore(t))
	require.NoError(t, err)

	assert.Contains(t, out, "Artifact 1/2 (scan scan-1)")
	assert.Contains(t, out, "Origin: git bin/dropper.bin @ 0123456789ab by Test User <test@example.com>")
	assert.Contains(t, out, "Rule: block_art [art]")
	assert.Contains(t, out, "Large run of block elements")
	assert.Contains(t, out, "$block1: 1,200, first at page/1+7")
	assert.Contains(t, out, `file_name endswith ".bin" dropper.bin`)
	assert.Contains(t, out, "via helper_rule")
	assert.Contains(t, out, "Incomplete: context deadline exceeded")
	assert.NotContains(t, out, "clean.txt")
}

func TestRunReport_JSON(t *testing.T) {
	path := seedStore(t)

	out, err := runReportCommand(t, "--datastore", path, "--format", "json")
	require.NoError(t, err)
	var reports []*types.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	assert.Len(t, reports, 2)

	out, err = runReportCommand(t, "--datastore", path, "--format", "json", "--all")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	assert.Len(t, reports, 3)
}

func TestRunReport_SARIF(t *testing.T) {
	out, err := runReportCommand(t, "--datastore", seedStore(t), "--format", "sarif")
	require.NoError(t, err)

	var log map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &log))
	assert.Equal(t, "2.1.0", log["version"])
	assert.Contains(t, out, `"ruleId": "block_art"`)
	assert.Contains(t, out, "dropper.bin!/page/1")
}

func TestRunReport_Errors(t *testing.T) {
	_, err := runReportCommand(t, "--datastore", ":memory:")
	assert.ErrorContains(t, err, "in-memory")

	_, err = runReportCommand(t, "--datastore", filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorContains(t, err, "datastore not found")

	_, err = runReportCommand(t, "--datastore", seedStore(t), "--format", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestDescribeOrigin(t *testing.T) {
	assert.Equal(t, "", describeOrigin(types.Origin{Kind: "inline", Path: "x"}))
	assert.Equal(t, "file /tmp/a.txt", describeOrigin(types.Origin{Kind: "file", Path: "/tmp/a.txt"}))
	assert.Equal(t, "git a.txt @ abc", describeOrigin(types.Origin{Kind: "git", Member: "a.txt", Commit: "abc"}))
	assert.Equal(t, "archive", describeOrigin(types.Origin{Kind: "archive"}))
}
