// Package ruleset compiles parsed rules into an immutable, index-addressed
// rule set and evaluates rule verdicts per artifact.
//
// Rules live in an arena in load order. Condition trees are cloned at compile
// time and bound to indexes: pattern references to rule-local pattern
// positions and rule references to arena positions. A RuleSet is never
// modified after Compile and may be shared by any number of concurrent scans.
package ruleset

import (
	"fmt"
	"sync"

	"github.com/tagcheck/tagcheck/pkg/condition"
	"github.com/tagcheck/tagcheck/pkg/matcher"
	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// Options configures rule set compilation.
type Options struct {
	// Tolerant drops defective rules, and every rule that depends on one,
	// instead of rejecting the whole set. All load errors are still returned.
	Tolerant bool

	// Matcher is used to check that every pattern compiles.
	Matcher matcher.Options
}

// DefaultOptions returns strict compilation with default matcher options.
func DefaultOptions() Options {
	return Options{Matcher: matcher.DefaultOptions()}
}

// RuleSet is a compiled, immutable collection of rules.
type RuleSet struct {
	rules []*types.Rule  // arena, load order; conditions are bound clones
	deps  [][]int        // direct rule references per rule, sorted
	index map[string]int // rule ID -> arena index
	opts  Options

	planOnce sync.Once
	plan     *Plan
	planErr  error
}

// Compile validates rules and builds a RuleSet.
//
// In strict mode any defect rejects the set: the result is nil and the error
// is a rule.LoadErrors. With Options.Tolerant the set holds every rule that
// is sound and does not depend on a rejected rule, and the error (if any)
// still lists every defect.
func Compile(rules []*types.Rule, opts Options) (*RuleSet, error) {
	var errs rule.LoadErrors
	bad := make(map[int]bool)

	// Per-rule checks and duplicate IDs. The first declaration of an ID wins.
	first := make(map[string]int)
	check := matcher.PatternCheck(opts.Matcher)
	for i, r := range rules {
		if le := rule.ValidateRule(r, check); len(le) > 0 {
			errs = append(errs, le...)
			bad[i] = true
		}
		if r == nil || r.ID == "" {
			bad[i] = true
			continue
		}
		if j, dup := first[r.ID]; dup {
			errs = append(errs, &rule.LoadError{
				RuleID: r.ID,
				Kind:   rule.KindDuplicateRule,
				Source: r.Source,
				Detail: fmt.Sprintf("already declared at %s", rules[j].Source),
			})
			bad[i] = true
			continue
		}
		first[r.ID] = i
	}

	// Reference graph over input positions.
	edges := make([][]int, len(rules))
	for i, r := range rules {
		if r == nil || r.Condition == nil || first[r.ID] != i {
			continue
		}
		for _, name := range condition.RuleRefs(r.Condition) {
			j, ok := first[name]
			if !ok {
				errs = append(errs, &rule.LoadError{
					RuleID: r.ID,
					Kind:   rule.KindUnresolvedReference,
					Source: r.Source,
					Detail: fmt.Sprintf("rule %s is not defined", name),
				})
				bad[i] = true
				continue
			}
			edges[i] = append(edges[i], j)
		}
	}

	for _, cycle := range findCycles(edges) {
		ids := make([]string, len(cycle))
		for k, i := range cycle {
			ids[k] = rules[i].ID
			bad[i] = true
		}
		r := rules[cycle[0]]
		errs = append(errs, &rule.LoadError{
			RuleID: r.ID,
			Kind:   rule.KindCycle,
			Source: r.Source,
			Detail: "rule references form a cycle",
			Cycle:  ids,
		})
	}

	if len(errs) > 0 && !opts.Tolerant {
		return nil, errs
	}

	// Rules depending on rejected rules cannot be evaluated either.
	for changed := true; changed; {
		changed = false
		for i := range rules {
			if bad[i] {
				continue
			}
			for _, j := range edges[i] {
				if bad[j] {
					bad[i], changed = true, true
					errs = append(errs, &rule.LoadError{
						RuleID: rules[i].ID,
						Kind:   rule.KindUnresolvedReference,
						Source: rules[i].Source,
						Detail: fmt.Sprintf("depends on rejected rule %s", rules[j].ID),
					})
					break
				}
			}
		}
	}

	rs := &RuleSet{index: make(map[string]int), opts: opts}
	for i, r := range rules {
		if bad[i] {
			continue
		}
		rs.index[r.ID] = len(rs.rules)
		rs.rules = append(rs.rules, r)
	}
	for i, r := range rs.rules {
		bound, deps, err := rs.bind(r)
		if err != nil {
			// ValidateRule accepted the rule, so binding cannot fail.
			return nil, fmt.Errorf("failed to bind rule %s: %w", r.ID, err)
		}
		rs.rules[i] = bound
		rs.deps = append(rs.deps, deps)
	}

	return rs, errs.OrNil()
}

// bind returns a copy of r whose condition is a bound clone, plus the arena
// indexes of the rules it references.
func (rs *RuleSet) bind(r *types.Rule) (*types.Rule, []int, error) {
	out := *r
	out.Condition = condition.Clone(r.Condition)

	var deps []int
	var err error
	seen := make(map[int]bool)
	condition.Walk(out.Condition, func(n condition.Node) bool {
		switch n := n.(type) {
		case *condition.PatternRef:
			n.Index = r.PatternIndex(n.Name)
		case *condition.Quantifier:
			n.Set.Indexes, err = rule.ResolvePatternSet(r, n.Set)
		case *condition.CountCompare:
			n.Set.Indexes, err = rule.ResolvePatternSet(r, n.Set)
		case *condition.FactMatch:
			n.Key = types.CanonicalField(n.Field)
		case *condition.FactCompare:
			n.Key = types.CanonicalField(n.Field)
		case *condition.RuleRef:
			idx, ok := rs.index[n.Name]
			if !ok {
				err = fmt.Errorf("rule %s is not defined", n.Name)
				return false
			}
			n.Index = idx
			if !seen[idx] {
				seen[idx] = true
				deps = append(deps, idx)
			}
		}
		return err == nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &out, sortedCopy(deps), nil
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Rules returns the rules in load order. Callers must not modify them.
func (rs *RuleSet) Rules() []*types.Rule {
	return rs.rules
}

// Rule returns the rule with the given ID.
func (rs *RuleSet) Rule(id string) (*types.Rule, bool) {
	i, ok := rs.index[id]
	if !ok {
		return nil, false
	}
	return rs.rules[i], true
}

// Index returns the arena index of a rule, or -1.
func (rs *RuleSet) Index(id string) int {
	if i, ok := rs.index[id]; ok {
		return i
	}
	return -1
}

// Dependencies returns the IDs of the rules id references directly.
func (rs *RuleSet) Dependencies(id string) []string {
	i, ok := rs.index[id]
	if !ok {
		return nil
	}
	out := make([]string, len(rs.deps[i]))
	for k, j := range rs.deps[i] {
		out[k] = rs.rules[j].ID
	}
	return out
}

// Options returns the options the set was compiled with.
func (rs *RuleSet) Options() Options {
	return rs.opts
}

// PatternCount returns the total number of patterns declared by all rules.
func (rs *RuleSet) PatternCount() int {
	n := 0
	for _, r := range rs.rules {
		n += len(r.Patterns)
	}
	return n
}

// DefaultPlan returns the plan selecting every public rule. It is built once.
func (rs *RuleSet) DefaultPlan() (*Plan, error) {
	rs.planOnce.Do(func() {
		rs.plan, rs.planErr = rs.Select(rule.FilterConfig{})
	})
	return rs.plan, rs.planErr
}
