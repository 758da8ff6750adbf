package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/ruleset"
	"github.com/tagcheck/tagcheck/pkg/types"
)

var (
	// cachedBuiltinRules holds builtin rules loaded once per process
	cachedBuiltinRules []*types.Rule
	cachedRulesErr     error
	cacheOnce          sync.Once
)

// loadBuiltinRulesCached loads builtin rules once and caches them
func loadBuiltinRulesCached() ([]*types.Rule, error) {
	cacheOnce.Do(func() {
		loader := rule.NewLoader()
		cachedBuiltinRules, cachedRulesErr = loader.LoadBuiltinRules()
	})
	return cachedBuiltinRules, cachedRulesErr
}

// GetBuiltinRules returns the built-in rules (cached)
func GetBuiltinRules() ([]*types.Rule, error) {
	return loadBuiltinRulesCached()
}

// LoadRules reads rule files and directories, or the built-in rules when no
// path is given or the only path is "builtin". Parse errors come back as a
// rule.LoadErrors alongside the rules that did parse.
func LoadRules(paths ...string) ([]*types.Rule, error) {
	if len(paths) == 0 || (len(paths) == 1 && (paths[0] == "" || paths[0] == "builtin")) {
		return loadBuiltinRulesCached()
	}
	return rule.NewLoader().LoadPaths(paths...)
}

// Core wraps a compiled rule set and its scanner for request/response
// callers such as the NDJSON server.
type Core struct {
	scanner *Scanner
	paths   []string
}

// NewCore loads and compiles the rules at paths (built-in rules when empty)
// and creates a scanner over them. In tolerant mode load errors are logged
// and the sound rules are kept.
func NewCore(paths []string, rsOpts ruleset.Options, opts ...Option) (*Core, error) {
	rules, loadErr := LoadRules(paths...)
	var parseErrs rule.LoadErrors
	if loadErr != nil && (!rsOpts.Tolerant || !errors.As(loadErr, &parseErrs)) {
		return nil, fmt.Errorf("loading rules: %w", loadErr)
	}

	rs, err := ruleset.Compile(rules, rsOpts)
	if rs == nil {
		return nil, fmt.Errorf("compiling rules: %w", err)
	}
	s, serr := New(rs, opts...)
	if serr != nil {
		return nil, serr
	}
	for _, le := range append(rule.AsLoadErrors(loadErr), rule.AsLoadErrors(err)...) {
		s.logger.Warn().Str("rule", le.RuleID).Str("kind", string(le.Kind)).Msg(le.Error())
	}

	return &Core{scanner: s, paths: paths}, nil
}

// Scanner returns the underlying scanner.
func (c *Core) Scanner() *Scanner {
	return c.scanner
}

// Paths returns the rule paths the core was loaded from.
func (c *Core) Paths() []string {
	return c.paths
}

// Scan scans a single content item
func (c *Core) Scan(ctx context.Context, item ContentItem) (*types.Report, error) {
	a, err := item.Artifact()
	if err != nil {
		return nil, err
	}
	return c.scanner.Scan(ctx, a)
}

// ScanBatch scans multiple content items. Items that cannot be decoded fail
// the batch; incomplete scans are kept with their incomplete status.
func (c *Core) ScanBatch(ctx context.Context, items []ContentItem) (*BatchScanResult, error) {
	result := &BatchScanResult{Reports: make([]*types.Report, 0, len(items))}
	for _, item := range items {
		report, err := c.Scan(ctx, item)
		if report == nil {
			return nil, err
		}
		result.Reports = append(result.Reports, report)
		if len(report.Entries) > 0 {
			result.Matched++
		}
	}
	return result, nil
}
