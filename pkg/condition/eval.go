package condition

import (
	"strconv"
	"strings"
)

// Env supplies the inputs a condition is evaluated against. Pattern indexes
// are the rule-local indexes bound into PatternRef and PatternSet nodes; rule
// indexes are positions in the owning rule set.
type Env interface {
	// Count returns the occurrence count of a pattern, zero if it never matched.
	Count(pattern int) int
	// Fact returns the values of a fact, or false when the artifact lacks it.
	Fact(key string) ([]string, bool)
	// Rule returns the verdict of another rule for the same artifact.
	Rule(rule int) bool
}

// FactHit records the fact values that satisfied a fact predicate.
type FactHit struct {
	Node   Node
	Values []string
}

// Trace collects the evidence behind a true verdict: the patterns, facts and
// rules that positively contributed to it. Only sub-expressions that evaluated
// true outside any negation are kept.
type Trace struct {
	Patterns []int
	Facts    []FactHit
	Rules    []int
}

type traceMark struct{ patterns, facts, rules int }

func (t *Trace) mark() traceMark {
	return traceMark{len(t.Patterns), len(t.Facts), len(t.Rules)}
}

func (t *Trace) rollback(m traceMark) {
	t.Patterns = t.Patterns[:m.patterns]
	t.Facts = t.Facts[:m.facts]
	t.Rules = t.Rules[:m.rules]
}

// Reset empties the trace, keeping its storage.
func (t *Trace) Reset() {
	t.rollback(traceMark{})
}

// Eval evaluates n against env. When trace is non-nil it receives the evidence
// of a true verdict; on a false verdict it is left as it was.
func Eval(n Node, env Env, trace *Trace) bool {
	e := evaluator{env: env, trace: trace}
	return e.eval(n, true)
}

type evaluator struct {
	env   Env
	trace *Trace
}

// eval evaluates n. positive is false below an odd number of negations, where
// a true sub-result does not support the verdict and is not recorded.
func (e *evaluator) eval(n Node, positive bool) bool {
	record := positive && e.trace != nil
	var m traceMark
	if record {
		m = e.trace.mark()
	}
	v := e.evalNode(n, positive, record)
	if record && !v {
		e.trace.rollback(m)
	}
	return v
}

func (e *evaluator) evalNode(n Node, positive, record bool) bool {
	switch n := n.(type) {
	case *And:
		for _, t := range n.Terms {
			if !e.eval(t, positive) {
				return false
			}
		}
		return true

	case *Or:
		for _, t := range n.Terms {
			if e.eval(t, positive) {
				return true
			}
		}
		return false

	case *Not:
		return !e.eval(n.Term, !positive)

	case *Bool:
		return n.Value

	case *PatternRef:
		if e.env.Count(n.Index) == 0 {
			return false
		}
		if record {
			e.trace.Patterns = append(e.trace.Patterns, n.Index)
		}
		return true

	case *Quantifier:
		return e.quantifier(n, record)

	case *CountCompare:
		return e.countCompare(n, record)

	case *FactMatch:
		values, ok := e.env.Fact(factKey(n.Key, n.Field))
		if !ok {
			return false
		}
		var hits []string
		for _, v := range values {
			if n.matchValue(v) {
				hits = append(hits, v)
			}
		}
		if len(hits) == 0 {
			return false
		}
		if record {
			e.trace.Facts = append(e.trace.Facts, FactHit{Node: n, Values: hits})
		}
		return true

	case *FactCompare:
		values, ok := e.env.Fact(factKey(n.Key, n.Field))
		if !ok {
			return false
		}
		var hits []string
		for _, v := range values {
			num, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				continue
			}
			if n.Op.Compare(num, n.Value) {
				hits = append(hits, v)
			}
		}
		if len(hits) == 0 {
			return false
		}
		if record {
			e.trace.Facts = append(e.trace.Facts, FactHit{Node: n, Values: hits})
		}
		return true

	case *RuleRef:
		if !e.env.Rule(n.Index) {
			return false
		}
		if record {
			e.trace.Rules = append(e.trace.Rules, n.Index)
		}
		return true
	}
	return false
}

// quantifier counts every member before deciding so the evidence lists all
// satisfied members, not only the ones needed to cross the threshold.
func (e *evaluator) quantifier(n *Quantifier, record bool) bool {
	total := len(n.Set.Indexes)
	satisfied := 0
	for _, idx := range n.Set.Indexes {
		if e.env.Count(idx) > 0 {
			satisfied++
			if record {
				e.trace.Patterns = append(e.trace.Patterns, idx)
			}
		}
	}

	switch n.Kind {
	case QuantAll:
		return total > 0 && satisfied == total
	case QuantAny:
		return satisfied > 0
	case QuantNone:
		return satisfied == 0
	case QuantCount:
		return satisfied >= n.N
	case QuantPercent:
		return total > 0 && satisfied*100 >= n.N*total
	}
	return false
}

func (e *evaluator) countCompare(n *CountCompare, record bool) bool {
	var agg int64
	for i, idx := range n.Set.Indexes {
		c := int64(e.env.Count(idx))
		switch {
		case n.Agg == AggSum:
			agg += c
		case i == 0:
			agg = c
		case n.Agg == AggMax && c > agg:
			agg = c
		case n.Agg == AggMin && c < agg:
			agg = c
		}
	}
	if !n.Op.Compare(agg, n.Threshold) {
		return false
	}
	if record {
		for _, idx := range n.Set.Indexes {
			if e.env.Count(idx) > 0 {
				e.trace.Patterns = append(e.trace.Patterns, idx)
			}
		}
	}
	return true
}

func (n *FactMatch) matchValue(v string) bool {
	switch n.Op {
	case FactMatches:
		return n.Regex != nil && n.Regex.MatchString(v)
	case FactContains:
		return strings.Contains(v, n.Value)
	case FactIContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(n.Value))
	case FactStartsWith:
		return strings.HasPrefix(v, n.Value)
	case FactEndsWith:
		return strings.HasSuffix(v, n.Value)
	case FactIEquals:
		return strings.EqualFold(v, n.Value)
	case FactEquals:
		return v == n.Value
	case FactNotEquals:
		return v != n.Value
	}
	return false
}

func factKey(key, field string) string {
	if key != "" {
		return key
	}
	return field
}
