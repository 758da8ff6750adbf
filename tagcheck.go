// Package tagcheck evaluates detection rules against artifacts.
//
// A rule combines string, byte and regex patterns with facts about the
// artifact (file name, extracted domains, ...) and with other rules. The
// scanner compiles every pattern of a rule set into one batch, runs it once
// per content stream and reports the public rules whose conditions hold,
// together with the evidence behind each verdict.
//
// # Basic Usage
//
// Create a scanner with builtin rules and scan content:
//
//	scanner, err := tagcheck.NewScanner()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer scanner.Close()
//
//	report, err := scanner.ScanString("powershell -enc SQBFAFgA...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, entry := range report.Entries {
//	    fmt.Printf("%s matched\n", entry.RuleID)
//	}
//
// # With Facts
//
// Facts extracted elsewhere are passed with the content:
//
//	report, err := scanner.ScanBytes(content, tagcheck.Facts{
//	    "network.static.domain": {"c2.example.top"},
//	})
package tagcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/ruleset"
	"github.com/tagcheck/tagcheck/pkg/scanner"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// Re-export commonly used types for convenience.
// Users can import just "github.com/tagcheck/tagcheck" without subpackages.
type (
	// Rule is a named detection rule.
	Rule = types.Rule

	// Artifact is the unit of scanning: content streams plus facts.
	Artifact = types.Artifact

	// Facts maps fact fields to their values.
	Facts = types.Facts

	// Report lists the public rules that matched an artifact.
	Report = types.Report

	// ReportEntry is one matched rule with its evidence.
	ReportEntry = types.ReportEntry

	// Evidence records the patterns, facts and rules behind a verdict.
	Evidence = types.Evidence

	// LoadError describes a rule rejected at load time.
	LoadError = rule.LoadError
)

// Re-export report status constants.
const (
	StatusComplete   = types.StatusComplete
	StatusIncomplete = types.StatusIncomplete
)

// ErrIncomplete is returned when a scan was cancelled or timed out, or when
// some pattern count is not exact.
var ErrIncomplete = scanner.ErrIncomplete

// Scanner scans content against a compiled rule set.
type Scanner struct {
	scanner *scanner.Scanner
	config  *scannerConfig
	mu      sync.RWMutex
	closed  bool
}

// scannerConfig holds scanner configuration.
type scannerConfig struct {
	rules     []*types.Rule
	selection rule.FilterConfig
	tolerant  bool
	timeout   time.Duration
	logger    zerolog.Logger
}

// Option configures a Scanner.
type Option func(*scannerConfig)

// WithRules uses custom rules instead of builtin rules.
func WithRules(rules []*Rule) Option {
	return func(c *scannerConfig) {
		c.rules = rules
	}
}

// WithSelection reports only the rules matched by include and not matched by
// exclude. Selectors are rule ID globs or "tag:<glob>".
func WithSelection(include, exclude []string) Option {
	return func(c *scannerConfig) {
		c.selection = rule.FilterConfig{Include: include, Exclude: exclude}
	}
}

// WithTolerant drops defective rules (and the rules depending on them)
// instead of failing.
func WithTolerant() Option {
	return func(c *scannerConfig) {
		c.tolerant = true
	}
}

// WithTimeout bounds each scan. A scan that runs out of time returns an
// incomplete report and ErrIncomplete.
func WithTimeout(d time.Duration) Option {
	return func(c *scannerConfig) {
		c.timeout = d
	}
}

// WithLogger sets the logger used for warnings such as regex timeouts.
func WithLogger(l zerolog.Logger) Option {
	return func(c *scannerConfig) {
		c.logger = l
	}
}

// NewScanner creates a new Scanner with the given options.
//
// By default, the scanner:
//   - Uses the builtin detection rules
//   - Reports every public rule
//   - Fails on any defective rule (enable WithTolerant to skip them)
//
// Example:
//
//	// Default scanner
//	scanner, err := tagcheck.NewScanner()
//
//	// Only network rules, with custom rules
//	scanner, err := tagcheck.NewScanner(
//	    tagcheck.WithRules(myRules),
//	    tagcheck.WithSelection([]string{"tag:network"}, nil),
//	)
func NewScanner(opts ...Option) (*Scanner, error) {
	config := &scannerConfig{
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(config)
	}

	// Load rules if not provided
	if config.rules == nil {
		rules, err := scanner.GetBuiltinRules()
		if err != nil {
			return nil, fmt.Errorf("loading builtin rules: %w", err)
		}
		config.rules = rules
	}

	rsOpts := ruleset.DefaultOptions()
	rsOpts.Tolerant = config.tolerant
	rs, err := ruleset.Compile(config.rules, rsOpts)
	if rs == nil {
		return nil, fmt.Errorf("compiling rules: %w", err)
	}
	for _, le := range rule.AsLoadErrors(err) {
		config.logger.Warn().Str("rule", le.RuleID).Str("kind", string(le.Kind)).Msg(le.Error())
	}

	s, err := scanner.New(rs,
		scanner.WithSelection(config.selection),
		scanner.WithTimeout(config.timeout),
		scanner.WithLogger(config.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scanner: %w", err)
	}

	return &Scanner{
		scanner: s,
		config:  config,
	}, nil
}

// ScanString scans a string and returns the report.
func (s *Scanner) ScanString(content string, facts ...Facts) (*Report, error) {
	return s.ScanBytes([]byte(content), facts...)
}

// ScanBytes scans raw bytes, with optional facts about them.
func (s *Scanner) ScanBytes(content []byte, facts ...Facts) (*Report, error) {
	return s.ScanBytesWithContext(context.Background(), content, facts...)
}

// ScanBytesWithContext scans raw bytes with a custom context for cancellation.
func (s *Scanner) ScanBytesWithContext(ctx context.Context, content []byte, facts ...Facts) (*Report, error) {
	a := types.NewArtifact("", content)
	for _, f := range facts {
		a.Facts.Merge(f)
	}
	return s.ScanArtifact(ctx, a)
}

// ScanFile reads and scans a file. The file name and size are available to
// rules as the file_name and file_size facts.
//
// Example:
//
//	report, err := scanner.ScanFile("/path/to/dropper.bin")
func (s *Scanner) ScanFile(path string) (*Report, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	a := types.NewArtifact(filepath.ToSlash(path), content)
	a.Origin = types.Origin{Kind: "file", Path: path}
	return s.ScanArtifact(context.Background(), a)
}

// ScanArtifact scans a prepared artifact, e.g. one with several streams.
func (s *Scanner) ScanArtifact(ctx context.Context, a *Artifact) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("scanner is closed")
	}
	return s.scanner.Scan(ctx, a)
}

// Close releases scanner resources.
// Scans after Close fail.
func (s *Scanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// RuleCount returns the number of rules in the compiled set, private rules
// included.
func (s *Scanner) RuleCount() int {
	return s.scanner.RuleSet().Len()
}

// Rules returns the compiled rules.
func (s *Scanner) Rules() []*Rule {
	rules := s.scanner.RuleSet().Rules()
	out := make([]*Rule, len(rules))
	copy(out, rules)
	return out
}

// LoadRulesFromFile loads rules from a .rules, .yar, .yara or YAML file.
// Use this with WithRules to create a scanner with custom rules.
//
// Example:
//
//	rules, err := tagcheck.LoadRulesFromFile("/path/to/custom.rules")
//	if err != nil {
//	    return err
//	}
//	scanner, err := tagcheck.NewScanner(tagcheck.WithRules(rules))
func LoadRulesFromFile(path string) ([]*Rule, error) {
	loader := rule.NewLoader()
	return loader.LoadRuleFile(path)
}

// LoadBuiltinRules returns all builtin detection rules.
// This can be used to inspect available rules or create a subset.
func LoadBuiltinRules() ([]*Rule, error) {
	return scanner.GetBuiltinRules()
}
