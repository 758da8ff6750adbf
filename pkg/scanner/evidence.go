package scanner

import (
	"github.com/tagcheck/tagcheck/pkg/condition"
	"github.com/tagcheck/tagcheck/pkg/ruleset"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// entry builds the report entry of a true rule from its evaluation trace.
func (s *Scanner) entry(ruleIndex int, res *ruleset.Resolver, ev *streamEvidence) types.ReportEntry {
	r := s.rules.Rules()[ruleIndex]
	e := types.ReportEntry{
		RuleID: r.ID,
		Tags:   r.Tags,
		Meta:   r.Meta,
	}
	trace := res.Evidence(ruleIndex)
	if trace == nil {
		return e
	}

	seen := make(map[int]bool)
	for _, p := range trace.Patterns {
		if seen[p] {
			continue
		}
		seen[p] = true
		slot := s.plan.Slot(ruleIndex, p)
		if slot < 0 {
			continue
		}
		e.Evidence.Patterns = append(e.Evidence.Patterns, types.PatternEvidence{
			Pattern: "$" + r.Patterns[p].Name,
			Count:   ev.counts[slot],
			Offsets: ev.offsets[slot],
		})
	}

	for _, hit := range trace.Facts {
		var field string
		switch n := hit.Node.(type) {
		case *condition.FactMatch:
			field = n.Key
		case *condition.FactCompare:
			field = n.Key
		}
		e.Evidence.Facts = append(e.Evidence.Facts, types.FactEvidence{
			Field:     field,
			Predicate: hit.Node.String(),
			Values:    hit.Values,
		})
	}

	ruleSeen := make(map[int]bool)
	for _, i := range trace.Rules {
		if ruleSeen[i] {
			continue
		}
		ruleSeen[i] = true
		e.Evidence.Rules = append(e.Evidence.Rules, s.rules.Rules()[i].ID)
	}
	return e
}
