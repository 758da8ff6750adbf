package tagcheck

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func banner() string {
	return strings.Repeat("░", 20) + strings.Repeat("▒", 20) + strings.Repeat("▓", 20)
}

func TestNewScanner(t *testing.T) {
	scanner, err := NewScanner()
	require.NoError(t, err)
	defer scanner.Close()

	assert.Greater(t, scanner.RuleCount(), 5, "should have loaded the builtin rules")
	assert.Len(t, scanner.Rules(), scanner.RuleCount())
}

func TestScanString(t *testing.T) {
	scanner, err := NewScanner()
	require.NoError(t, err)
	defer scanner.Close()

	report, err := scanner.ScanString(banner())
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, report.Status)
	assert.Equal(t, []string{"block_art"}, report.RuleIDs())
}

func TestScanBytesWithFacts(t *testing.T) {
	scanner, err := NewScanner()
	require.NoError(t, err)
	defer scanner.Close()

	report, err := scanner.ScanBytes(nil, Facts{"network_static_domain": {"cdn.jsdelivr.net", "drop.xyz"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"abused_tld_domain"}, report.RuleIDs())
}

func TestScanBytesWithContext_Cancelled(t *testing.T) {
	scanner, err := NewScanner()
	require.NoError(t, err)
	defer scanner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := scanner.ScanBytesWithContext(ctx, []byte(banner()))
	assert.ErrorIs(t, err, ErrIncomplete)
	require.NotNil(t, report)
	assert.Equal(t, StatusIncomplete, report.Status)
}

func TestScanFile(t *testing.T) {
	scanner, err := NewScanner()
	require.NoError(t, err)
	defer scanner.Close()

	dir := t.TempDir()
	bin := filepath.Join(dir, "dropper.bin")
	readme := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(bin, []byte(banner()), 0o644))
	require.NoError(t, os.WriteFile(readme, []byte(banner()), 0o644))

	report, err := scanner.ScanFile(bin)
	require.NoError(t, err)
	assert.Equal(t, []string{"block_art"}, report.RuleIDs())
	assert.Equal(t, "file", report.Origin.Kind)

	report, err = scanner.ScanFile(readme)
	require.NoError(t, err)
	assert.Empty(t, report.Entries, "documentation files are suppressed")

	_, err = scanner.ScanFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestWithRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.rules")
	require.NoError(t, os.WriteFile(path, []byte(`
rule marker : custom {
    strings:
        $m = "MARKER" nocase
    condition:
        #m >= 2
}
`), 0o644))

	rules, err := LoadRulesFromFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	scanner, err := NewScanner(WithRules(rules))
	require.NoError(t, err)
	defer scanner.Close()

	report, err := scanner.ScanString("marker ... Marker")
	require.NoError(t, err)
	assert.Equal(t, []string{"marker"}, report.RuleIDs())

	report, err = scanner.ScanString("marker")
	require.NoError(t, err)
	assert.Empty(t, report.Entries)
}

func TestWithSelection(t *testing.T) {
	scanner, err := NewScanner(WithSelection([]string{"tag:network"}, []string{"raw_*"}))
	require.NoError(t, err)
	defer scanner.Close()

	report, err := scanner.ScanBytes([]byte(banner()), Facts{
		"network.static.uri":    {"https://pastebin.com/raw/abc"},
		"network.static.domain": {"a.ngrok.io"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tunnel_service_domain"}, report.RuleIDs())
}

func TestWithTolerant(t *testing.T) {
	src := `
rule good { condition: true }
rule bad { condition: missing_rule }
rule uses_bad { condition: bad }
`
	path := filepath.Join(t.TempDir(), "mixed.rules")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	rules, err := LoadRulesFromFile(path)
	require.NoError(t, err)

	_, err = NewScanner(WithRules(rules))
	require.Error(t, err)

	scanner, err := NewScanner(WithRules(rules), WithTolerant())
	require.NoError(t, err)
	defer scanner.Close()
	assert.Equal(t, 1, scanner.RuleCount())

	report, err := scanner.ScanString("")
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, report.RuleIDs())
}

func TestClose(t *testing.T) {
	scanner, err := NewScanner()
	require.NoError(t, err)
	require.NoError(t, scanner.Close())

	_, err = scanner.ScanString("x")
	assert.Error(t, err)
}

func TestLoadBuiltinRules(t *testing.T) {
	rules, err := LoadBuiltinRules()
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, r := range rules {
		ids[r.ID] = true
	}
	assert.True(t, ids["block_art"])
	assert.True(t, ids["suppression_rule"])
}
