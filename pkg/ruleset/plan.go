package ruleset

import (
	"github.com/tagcheck/tagcheck/pkg/matcher"
	"github.com/tagcheck/tagcheck/pkg/rule"
)

// Plan is the work a scan does for a selection of rules: the selected public
// rules, the rules they reach through references, and the pattern batch those
// rules need. Identical pattern definitions share one batch entry.
type Plan struct {
	rs      *RuleSet
	targets []int
	closure []int
	entries []matcher.Entry
	slots   [][]int // arena index -> rule-local pattern -> batch index
}

// Select builds a plan for the public rules cfg selects. Private rules are
// never selected themselves; they enter the plan only when a selected rule
// references them.
func (rs *RuleSet) Select(cfg rule.FilterConfig) (*Plan, error) {
	sel, err := rule.NewSelector(cfg)
	if err != nil {
		return nil, err
	}

	p := &Plan{rs: rs, slots: make([][]int, len(rs.rules))}
	for i, r := range rs.rules {
		if !r.Private && sel.Selects(r) {
			p.targets = append(p.targets, i)
		}
	}
	p.closure = closure(rs.deps, p.targets)

	shared := make(map[string]int)
	for _, i := range p.closure {
		r := rs.rules[i]
		slots := make([]int, len(r.Patterns))
		for k, pat := range r.Patterns {
			key := pat.Kind.String() + "\x00" + pat.Modifiers.String() + "\x00" + pat.Raw
			idx, ok := shared[key]
			if !ok {
				idx = len(p.entries)
				shared[key] = idx
				p.entries = append(p.entries, matcher.Entry{Label: r.ID + ":$" + pat.Name, Pattern: pat})
			}
			slots[k] = idx
		}
		p.slots[i] = slots
	}
	return p, nil
}

// RuleSet returns the rule set the plan was built from.
func (p *Plan) RuleSet() *RuleSet {
	return p.rs
}

// Targets returns the arena indexes of the selected public rules in load order.
func (p *Plan) Targets() []int {
	return p.targets
}

// TargetIDs returns the IDs of the selected public rules in load order.
func (p *Plan) TargetIDs() []string {
	ids := make([]string, len(p.targets))
	for k, i := range p.targets {
		ids[k] = p.rs.rules[i].ID
	}
	return ids
}

// Closure returns the arena indexes of every rule the plan may evaluate.
func (p *Plan) Closure() []int {
	return p.closure
}

// Entries returns the pattern batch to hand to the matcher.
func (p *Plan) Entries() []matcher.Entry {
	return p.entries
}

// Slot returns the batch index of a rule's pattern, or -1 when the rule is
// outside the plan.
func (p *Plan) Slot(ruleIndex, pattern int) int {
	if ruleIndex < 0 || ruleIndex >= len(p.slots) {
		return -1
	}
	s := p.slots[ruleIndex]
	if pattern < 0 || pattern >= len(s) {
		return -1
	}
	return s[pattern]
}
