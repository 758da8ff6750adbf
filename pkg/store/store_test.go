package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/types"
)

func testReport(scanID, artifactID string, started time.Time, status types.ScanStatus) *types.Report {
	r := &types.Report{
		ScanID:       scanID,
		ArtifactID:   artifactID,
		ArtifactName: "bundle.zip",
		Origin:       types.Origin{Kind: "archive", Path: "/tmp/bundle.zip"},
		Status:       status,
		Entries:      []types.ReportEntry{},
		StartedAt:    started,
		Duration:     42 * time.Millisecond,
	}
	if status == types.StatusIncomplete {
		r.Reason = "context deadline exceeded"
		return r
	}
	r.Entries = append(r.Entries, types.ReportEntry{
		RuleID: "block_art",
		Tags:   []string{"art"},
		Meta:   types.Metadata{{Key: "score", Value: "10"}, {Key: "author", Value: "tagcheck"}},
		Evidence: types.Evidence{
			Patterns: []types.PatternEvidence{{
				Pattern: "$block1",
				Count:   20,
				Offsets: []types.Offset{{Stream: "a.txt", Offset: 0}, {Stream: "a.txt", Offset: 3}},
			}},
			Facts: []types.FactEvidence{{Field: "file_name", Predicate: `file_name matches /x/`, Values: []string{"x"}}},
		},
	}, types.ReportEntry{
		RuleID: "encoded_powershell",
		Evidence: types.Evidence{
			Rules: []string{"helper"},
		},
	})
	return r
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "tagcheck.db"))
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func TestStore_RoundTrip(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		t0 := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
		want := testReport("scan-1", "digest-1", t0, types.StatusComplete)
		require.NoError(t, s.AddReport(want))

		got, ok, err := s.GetReport("scan-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)

		_, ok, err = s.GetReport("missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_AddReportIsIdempotent(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		r := testReport("scan-1", "digest-1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), types.StatusComplete)
		require.NoError(t, s.AddReport(r))
		require.NoError(t, s.AddReport(r))

		reports, err := s.GetReports()
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Len(t, reports[0].Entries, 2)
	})
}

func TestStore_GetReportsOrdered(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.AddReport(testReport("c", "d3", base.Add(2*time.Second), types.StatusComplete)))
		require.NoError(t, s.AddReport(testReport("b", "d2", base, types.StatusComplete)))
		require.NoError(t, s.AddReport(testReport("a", "d1", base, types.StatusIncomplete)))

		reports, err := s.GetReports()
		require.NoError(t, err)
		require.Len(t, reports, 3)
		assert.Equal(t, "a", reports[0].ScanID)
		assert.Equal(t, "b", reports[1].ScanID)
		assert.Equal(t, "c", reports[2].ScanID)
		assert.Equal(t, types.StatusIncomplete, reports[0].Status)
		assert.Equal(t, "context deadline exceeded", reports[0].Reason)
		assert.Empty(t, reports[0].Entries)
	})
}

func TestStore_ArtifactScanned(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.AddReport(testReport("s1", "done", now, types.StatusComplete)))
		require.NoError(t, s.AddReport(testReport("s2", "partial", now, types.StatusIncomplete)))

		for id, want := range map[string]bool{"done": true, "partial": false, "unknown": false} {
			got, err := s.ArtifactScanned(id)
			require.NoError(t, err)
			assert.Equal(t, want, got, id)
		}
	})
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	s, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(Config{Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)
}

func TestSQLite_ReopenKeepsReports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagcheck.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.AddReport(testReport("s1", "d1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), types.StatusComplete)))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := schemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	reports, err := s.GetReports()
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	writeDB := func(name string, reports ...*types.Report) string {
		path := filepath.Join(dir, name)
		s, err := NewSQLite(path)
		require.NoError(t, err)
		defer s.Close()
		for _, r := range reports {
			require.NoError(t, s.AddReport(r))
		}
		return path
	}
	shared := testReport("shared", "d0", base, types.StatusComplete)
	src1 := writeDB("a.db", shared, testReport("one", "d1", base.Add(time.Second), types.StatusComplete))
	src2 := writeDB("b.db", shared, testReport("two", "d2", base.Add(2*time.Second), types.StatusIncomplete))

	dest := filepath.Join(dir, "merged.db")
	stats, err := Merge(MergeConfig{SourcePaths: []string{src1, src2}, DestPath: dest})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ReportsMerged)
	assert.Equal(t, 4, stats.EntriesMerged)
	assert.Equal(t, 2, stats.SourcesProcessed)

	s, err := NewSQLite(dest)
	require.NoError(t, err)
	defer s.Close()
	reports, err := s.GetReports()
	require.NoError(t, err)
	assert.Len(t, reports, 3)

	_, err = Merge(MergeConfig{SourcePaths: []string{filepath.Join(dir, "missing.db")}, DestPath: dest})
	assert.Error(t, err)
	_, err = Merge(MergeConfig{DestPath: dest})
	assert.Error(t, err)
}
