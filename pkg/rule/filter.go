package rule

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// FilterConfig specifies include and exclude selectors for rules. A selector
// is a glob over rule IDs ("network.*", "*_domain"), or "tag:<glob>" to select
// by tag.
type FilterConfig struct {
	Include []string // only matching rules are selected
	Exclude []string // matching rules are dropped
}

// Empty reports whether the config selects every rule.
func (c FilterConfig) Empty() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0
}

// ParsePatterns splits a comma-separated string into individual selectors.
// Selectors are trimmed of whitespace.
func ParsePatterns(patterns string) []string {
	if patterns == "" {
		return []string{}
	}

	parts := strings.Split(patterns, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Selector is a compiled FilterConfig.
type Selector struct {
	include []matcher
	exclude []matcher
}

type matcher struct {
	tag bool
	g   glob.Glob
}

func (m matcher) match(r *types.Rule) bool {
	if !m.tag {
		return m.g.Match(r.ID)
	}
	for _, t := range r.Tags {
		if m.g.Match(t) {
			return true
		}
	}
	return false
}

// NewSelector compiles the selectors of config.
// Returns error if any selector is an invalid glob.
func NewSelector(config FilterConfig) (*Selector, error) {
	s := &Selector{}
	var err error
	if s.include, err = compileSelectors(config.Include); err != nil {
		return nil, err
	}
	if s.exclude, err = compileSelectors(config.Exclude); err != nil {
		return nil, err
	}
	return s, nil
}

func compileSelectors(patterns []string) ([]matcher, error) {
	out := make([]matcher, 0, len(patterns))
	for _, p := range patterns {
		m := matcher{}
		expr := p
		if rest, ok := strings.CutPrefix(p, "tag:"); ok {
			m.tag = true
			expr = rest
		}
		g, err := glob.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid rule selector %q: %w", p, err)
		}
		m.g = g
		out = append(out, m)
	}
	return out, nil
}

// Selects reports whether r passes the filter. Include is applied first,
// then exclude. Empty include means "include all".
func (s *Selector) Selects(r *types.Rule) bool {
	if s == nil {
		return true
	}
	if len(s.include) > 0 && !matchesAny(r, s.include) {
		return false
	}
	return !matchesAny(r, s.exclude)
}

// Filter applies include and exclude selectors to rules.
// Returns error if any selector is invalid.
func Filter(rules []*types.Rule, config FilterConfig) ([]*types.Rule, error) {
	if len(rules) == 0 {
		return rules, nil
	}
	s, err := NewSelector(config)
	if err != nil {
		return nil, err
	}
	result := make([]*types.Rule, 0, len(rules))
	for _, r := range rules {
		if s.Selects(r) {
			result = append(result, r)
		}
	}
	return result, nil
}

func matchesAny(r *types.Rule, ms []matcher) bool {
	for _, m := range ms {
		if m.match(r) {
			return true
		}
	}
	return false
}
