package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/types"
)

func TestParsePatterns(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string returns empty slice",
			input:    "",
			expected: []string{},
		},
		{
			name:     "single selector",
			input:    "network.*",
			expected: []string{"network.*"},
		},
		{
			name:     "selectors are trimmed",
			input:    " block_art , tag:network ,, ",
			expected: []string{"block_art", "tag:network"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParsePatterns(tt.input))
		})
	}
}

func filterRules() []*types.Rule {
	return []*types.Rule{
		{ID: "abused_tld_domain", Tags: []string{"network"}},
		{ID: "tunnel_service_domain", Tags: []string{"network"}},
		{ID: "block_art", Tags: []string{"art"}},
		{ID: "encoded_powershell", Tags: []string{"script"}},
	}
}

func ids(rules []*types.Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		config   FilterConfig
		expected []string
	}{
		{
			name:     "empty config keeps everything",
			expected: []string{"abused_tld_domain", "tunnel_service_domain", "block_art", "encoded_powershell"},
		},
		{
			name:     "include by suffix glob",
			config:   FilterConfig{Include: []string{"*_domain"}},
			expected: []string{"abused_tld_domain", "tunnel_service_domain"},
		},
		{
			name:     "include by tag",
			config:   FilterConfig{Include: []string{"tag:art", "tag:scr*"}},
			expected: []string{"block_art", "encoded_powershell"},
		},
		{
			name:     "exclude exact id",
			config:   FilterConfig{Exclude: []string{"block_art"}},
			expected: []string{"abused_tld_domain", "tunnel_service_domain", "encoded_powershell"},
		},
		{
			name:     "include then exclude",
			config:   FilterConfig{Include: []string{"tag:network"}, Exclude: []string{"tunnel*"}},
			expected: []string{"abused_tld_domain"},
		},
		{
			name:     "include matches none",
			config:   FilterConfig{Include: []string{"nomatch*"}},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered, err := Filter(filterRules(), tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(filtered))
		})
	}
}

func TestFilter_InvalidSelector(t *testing.T) {
	_, err := Filter(filterRules(), FilterConfig{Include: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestSelector_NilSelectsAll(t *testing.T) {
	var s *Selector
	assert.True(t, s.Selects(&types.Rule{ID: "x"}))
}
