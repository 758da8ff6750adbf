package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Empty(t, cfg.Rules.Paths)
	assert.Equal(t, Size(1<<20), cfg.Matcher.ChunkSize)
	assert.Zero(t, cfg.Matcher.MaxMatchesPerPattern)
	assert.Positive(t, cfg.Scan.Workers)
	assert.Equal(t, "info", cfg.Log.Level)

	rs := cfg.RuleSetOptions()
	assert.False(t, rs.Tolerant)
	assert.Equal(t, 5*time.Second, rs.Matcher.RegexTimeout)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
rules:
  paths: [./rules, ./extra.rules]
  include: ["tag:network"]
  exclude: ["raw_*"]
  tolerant: true
matcher:
  chunk_size: 4MiB
  regex_timeout: 2s
  backtracking_fallback: true
scan:
  workers: 3
  timeout: 30s
  max_file_size: 50MB
  extract: [zip, pdf]
  facts:
    submitter: [analyst]
  output: ""
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"./rules", "./extra.rules"}, cfg.Rules.Paths)
	assert.True(t, cfg.Rules.Tolerant)
	assert.Equal(t, Size(4<<20), cfg.Matcher.ChunkSize)
	assert.Equal(t, 16, cfg.Matcher.MaxOffsets, "unset fields keep defaults")
	assert.Equal(t, 3, cfg.Scan.Workers)
	assert.Equal(t, 30*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, Size(50_000_000), cfg.Scan.MaxFileSize)
	assert.Equal(t, []string{"analyst"}, cfg.Scan.Facts["submitter"])
	assert.Empty(t, cfg.Scan.Output)
	assert.Equal(t, "json", cfg.Log.Format)

	m := cfg.MatcherOptions()
	assert.Equal(t, 4<<20, m.ChunkSize)
	assert.Equal(t, 2*time.Second, m.RegexTimeout)
	assert.True(t, m.BacktrackingFallback)

	f := cfg.Filter()
	assert.Equal(t, []string{"tag:network"}, f.Include)
	assert.Equal(t, []string{"raw_*"}, f.Exclude)

	e := cfg.EnumConfig("/src")
	assert.Equal(t, "/src", e.Root)
	assert.Equal(t, "zip,pdf", e.Extract)
	assert.Equal(t, int64(50_000_000), e.MaxFileSize)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "scan:\n  wokers: 2\n", "wokers"},
		{"zero workers", "scan:\n  workers: 0\n", "Workers"},
		{"bad level", "log:\n  level: loud\n", "Level"},
		{"bad format", "log:\n  format: xml\n", "Format"},
		{"bad extract", "scan:\n  extract: [rar]\n", "Extract"},
		{"bad size", "scan:\n  max_file_size: lots\n", "invalid size"},
		{"bad selector", "rules:\n  include: [\"[\"]\n", "selector"},
		{"empty path", "rules:\n  paths: [\"\"]\n", "Paths"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scan:\n  workers: 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scan.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSize(t *testing.T) {
	s, err := ParseSize("10MB")
	require.NoError(t, err)
	assert.Equal(t, Size(10_000_000), s)

	var v struct {
		A Size `yaml:"a"`
		B Size `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 1024\nb: 1KiB\n"), &v))
	assert.Equal(t, Size(1024), v.A)
	assert.Equal(t, Size(1024), v.B)

	assert.Error(t, yaml.Unmarshal([]byte("a: [1]\n"), &v))

	out, err := yaml.Marshal(struct {
		A Size `yaml:"a"`
	}{A: 2_000_000})
	require.NoError(t, err)
	assert.Equal(t, "a: 2.0 MB\n", string(out))
}
