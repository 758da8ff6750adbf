package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tagcheck/tagcheck/pkg/ruleset"
	"github.com/tagcheck/tagcheck/pkg/scanner"
	"github.com/tagcheck/tagcheck/pkg/types"
)

var _ scanner.Recorder = (*Recorder)(nil)

func newRecorder(t *testing.T) (*Recorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	rec, err := NewRecorder(WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))
	require.NoError(t, err)
	return rec, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

// sums returns counter values keyed by the value of attribute key.
func sums(t *testing.T, data metricdata.Aggregation, key string) map[string]int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", data)
	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestRecorder_ScanFinished(t *testing.T) {
	rec, reader := newRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec.ScanFinished(ctx, &types.Report{
		Status:   types.StatusComplete,
		Duration: 20 * time.Millisecond,
		Entries:  []types.ReportEntry{{RuleID: "block_art"}, {RuleID: "abused_tld_domain"}},
	})
	rec.ScanFinished(ctx, &types.Report{Status: types.StatusComplete, Entries: []types.ReportEntry{{RuleID: "block_art"}}})
	rec.ScanFinished(ctx, &types.Report{Status: types.StatusIncomplete})

	m := collect(t, reader)
	assert.Equal(t, map[string]int64{"complete": 2, "incomplete": 1}, sums(t, m["tagcheck_artifacts_scanned_total"], "status"))
	assert.Equal(t, map[string]int64{"block_art": 2, "abused_tld_domain": 1}, sums(t, m["tagcheck_rule_matches_total"], "rule"))

	incomplete := m["tagcheck_scans_incomplete_total"].(metricdata.Sum[int64])
	require.Len(t, incomplete.DataPoints, 1)
	assert.Equal(t, int64(1), incomplete.DataPoints[0].Value)

	hist, ok := m["tagcheck_scan_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestRecorder_CacheLookup(t *testing.T) {
	rec, reader := newRecorder(t)
	rec.CacheLookup(false)
	rec.CacheLookup(true)
	rec.CacheLookup(true)

	m := collect(t, reader)
	assert.Equal(t, map[string]int64{"hit": 2, "miss": 1}, sums(t, m["tagcheck_matcher_cache_lookups_total"], "result"))
}

func TestRecorder_WithScanner(t *testing.T) {
	rec, reader := newRecorder(t)
	core, err := scanner.NewCore(nil, ruleset.DefaultOptions(), scanner.WithRecorder(rec))
	require.NoError(t, err)

	banner := strings.Repeat("░", 20) + strings.Repeat("▒", 20) + strings.Repeat("▓", 20)
	_, err = core.Scan(context.Background(), scanner.ContentItem{Name: "dropper.bin", Content: banner})
	require.NoError(t, err)

	m := collect(t, reader)
	assert.Equal(t, int64(1), sums(t, m["tagcheck_artifacts_scanned_total"], "status")["complete"])
	assert.Equal(t, int64(1), sums(t, m["tagcheck_rule_matches_total"], "rule")["block_art"])
	assert.Contains(t, m, "tagcheck_matcher_cache_lookups_total")
}

func TestNewRecorder_GlobalProvider(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)
	rec.CacheLookup(true)
	rec.ScanFinished(context.Background(), &types.Report{Status: types.StatusComplete})
}
