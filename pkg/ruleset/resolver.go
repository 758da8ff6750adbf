package ruleset

import (
	"github.com/tagcheck/tagcheck/pkg/condition"
	"github.com/tagcheck/tagcheck/pkg/facts"
)

type verdict uint8

const (
	unknown verdict = iota
	evaluating
	verdictTrue
	verdictFalse
)

// Resolver evaluates rule verdicts for one artifact. Rules are evaluated
// lazily, each at most once; only rules reached from a requested verdict are
// evaluated at all. A Resolver belongs to a single scan and is not safe for
// concurrent use.
type Resolver struct {
	plan      *Plan
	counts    []int
	facts     facts.Provider
	memo      []verdict
	traces    []*condition.Trace
	evaluated int
}

// NewResolver creates a resolver over counts (indexed like Plan.Entries) and
// the artifact's facts.
func (p *Plan) NewResolver(counts []int, f facts.Provider) *Resolver {
	if f == nil {
		f = facts.MapProvider(nil)
	}
	return &Resolver{
		plan:   p,
		counts: counts,
		facts:  f,
		memo:   make([]verdict, len(p.rs.rules)),
		traces: make([]*condition.Trace, len(p.rs.rules)),
	}
}

// Verdict returns whether the rule at the arena index holds.
func (r *Resolver) Verdict(rule int) bool {
	switch r.memo[rule] {
	case verdictTrue:
		return true
	case verdictFalse, evaluating:
		// Reference cycles are rejected at compile time.
		return false
	}

	r.memo[rule] = evaluating
	r.evaluated++
	trace := &condition.Trace{}
	env := ruleEnv{r: r, rule: rule}
	if condition.Eval(r.plan.rs.rules[rule].Condition, env, trace) {
		r.memo[rule] = verdictTrue
		r.traces[rule] = trace
		return true
	}
	r.memo[rule] = verdictFalse
	return false
}

// Evidence returns the trace behind a true verdict, or nil. Pattern indexes
// in the trace are rule-local; use Plan.Slot to map them to the batch.
func (r *Resolver) Evidence(rule int) *condition.Trace {
	return r.traces[rule]
}

// Evaluated returns how many rules have been evaluated so far.
func (r *Resolver) Evaluated() int {
	return r.evaluated
}

// Count returns the match count of a rule's pattern.
func (r *Resolver) Count(rule, pattern int) int {
	slot := r.plan.Slot(rule, pattern)
	if slot < 0 || slot >= len(r.counts) {
		return 0
	}
	return r.counts[slot]
}

// ruleEnv adapts the resolver to condition.Env for one rule.
type ruleEnv struct {
	r    *Resolver
	rule int
}

func (e ruleEnv) Count(pattern int) int {
	return e.r.Count(e.rule, pattern)
}

func (e ruleEnv) Fact(key string) ([]string, bool) {
	return e.r.facts.Lookup(key)
}

func (e ruleEnv) Rule(rule int) bool {
	return e.r.Verdict(rule)
}
