// Package ruletest runs the JSON test cases kept next to rule files.
//
// For a rule file dir/name.rules the cases live in dir/tests/name.json:
//
//	[
//	  {
//	    "name": "tunnel",
//	    "expects_match": ["tunnel_service_domain"],
//	    "expects_no_match": ["abused_tld_domain"],
//	    "data": {"al_network_static_domain": ["a.ngrok.io", "b.example.com"]},
//	    "content": "optional artifact text",
//	    "skip": false
//	  }
//	]
//
// Each case scans an artifact carrying exactly the given facts (no collectors
// run) and the optional content.
package ruletest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/ruleset"
	"github.com/tagcheck/tagcheck/pkg/scanner"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// TestsDir is the directory, next to a rule file, that holds its cases.
const TestsDir = "tests"

// Case is one test case.
type Case struct {
	Name           string            `json:"name"`
	ExpectsMatch   []string          `json:"expects_match,omitempty"`
	ExpectsNoMatch []string          `json:"expects_no_match,omitempty"`
	Data           map[string]Values `json:"data"`
	Content        string            `json:"content,omitempty"`
	Skip           bool              `json:"skip,omitempty"`
}

// Values holds the values of one fact. In JSON it may be a string, a number
// or a list of strings.
type Values []string

// UnmarshalJSON implements json.Unmarshaler.
func (v *Values) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*v = list
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Values{s}
	case 'n':
		*v = nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("fact value must be a string, number or list of strings: %s", data)
		}
		*v = Values{n.String()}
	}
	return nil
}

// Result holds the outcome of the cases of one rule file.
type Result struct {
	RulesPath string
	TestsPath string // empty when the file has no cases
	OK        []Outcome
	Fail      []Outcome
	Errors    []error
	Skipped   int
}

// Passed reports whether no case failed or errored.
func (r *Result) Passed() bool {
	return len(r.Fail) == 0 && len(r.Errors) == 0
}

// Outcome is a single expectation check.
type Outcome struct {
	Test    string
	RuleID  string
	Matched bool
}

// Runner runs rule tests from a filesystem.
type Runner struct {
	fsys   fs.FS
	opts   ruleset.Options
	logger zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithRuleSetOptions sets the options rule files are compiled with.
func WithRuleSetOptions(opts ruleset.Options) Option {
	return func(r *Runner) {
		r.opts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a runner over fsys, e.g. os.DirFS(dir) or
// rule.BuiltinFS().
func NewRunner(fsys fs.FS, opts ...Option) *Runner {
	r := &Runner{
		fsys:   fsys,
		opts:   ruleset.DefaultOptions(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	// A rule test must see every broken rule.
	r.opts.Tolerant = false
	return r
}

// Discover returns the rule files under root in lexical order.
func (r *Runner) Discover(root string) ([]string, error) {
	var paths []string
	err := fs.WalkDir(r.fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == TestsDir && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if rule.IsRuleFile(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering rule files under %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Run tests every rule file under root. When only is non-empty, just the
// rule file with that path or base name is tested.
func (r *Runner) Run(ctx context.Context, root, only string) ([]*Result, error) {
	paths, err := r.Discover(root)
	if err != nil {
		return nil, err
	}
	if only != "" {
		var selected []string
		for _, p := range paths {
			if p == only || path.Base(p) == only {
				selected = append(selected, p)
			}
		}
		if len(selected) == 0 {
			return nil, fmt.Errorf("rule file %s not found under %s", only, root)
		}
		paths = selected
	}

	results := make([]*Result, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, r.RunFile(ctx, p))
	}
	return results, nil
}

// TestsPath returns where the cases of a rule file are kept.
func TestsPath(rulesPath string) string {
	stem := strings.TrimSuffix(path.Base(rulesPath), path.Ext(rulesPath))
	return path.Join(path.Dir(rulesPath), TestsDir, stem+".json")
}

// RunFile compiles one rule file and runs its cases. A file that does not
// compile yields a result holding the load errors.
func (r *Runner) RunFile(ctx context.Context, rulesPath string) *Result {
	res := &Result{RulesPath: rulesPath}

	s, err := r.compile(rulesPath)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}

	testsPath := TestsPath(rulesPath)
	data, err := fs.ReadFile(r.fsys, testsPath)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Debug().Str("rules", rulesPath).Msg("no tests found")
		return res
	}
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}
	res.TestsPath = testsPath

	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("parsing %s: %w", testsPath, err))
		return res
	}

	for _, c := range cases {
		if c.Skip {
			res.Skipped++
			continue
		}
		if err := runCase(ctx, s, c, res); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("error in test %s: %w", c.Name, err))
		}
	}
	return res
}

func (r *Runner) compile(rulesPath string) (*scanner.Scanner, error) {
	src, err := fs.ReadFile(r.fsys, rulesPath)
	if err != nil {
		return nil, err
	}
	rules, err := rule.ParseBytes(src, rulesPath)
	if err != nil {
		return nil, err
	}
	rs, err := ruleset.Compile(rules, r.opts)
	if err != nil {
		return nil, err
	}
	return scanner.New(rs, scanner.WithCollectors(), scanner.WithLogger(r.logger))
}

func runCase(ctx context.Context, s *scanner.Scanner, c Case, res *Result) error {
	a := types.NewArtifact(c.Name, []byte(c.Content))
	for field, values := range c.Data {
		a.Facts.Add(field, values...)
	}

	// Unknown IDs would pass every expects_no_match silently.
	for _, id := range append(append([]string{}, c.ExpectsMatch...), c.ExpectsNoMatch...) {
		if _, ok := s.RuleSet().Rule(id); !ok {
			return fmt.Errorf("unknown rule %s", id)
		}
	}

	report, err := s.Scan(ctx, a)
	if err != nil {
		return err
	}
	found := make(map[string]bool, len(report.Entries))
	for _, id := range report.RuleIDs() {
		found[id] = true
	}

	for _, id := range c.ExpectsMatch {
		o := Outcome{Test: c.Name, RuleID: id, Matched: found[id]}
		if o.Matched {
			res.OK = append(res.OK, o)
		} else {
			res.Fail = append(res.Fail, o)
		}
	}
	for _, id := range c.ExpectsNoMatch {
		o := Outcome{Test: c.Name, RuleID: id, Matched: found[id]}
		if o.Matched {
			res.Fail = append(res.Fail, o)
		} else {
			res.OK = append(res.OK, o)
		}
	}
	return nil
}
