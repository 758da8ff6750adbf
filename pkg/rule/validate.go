package rule

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/tagcheck/tagcheck/pkg/condition"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// PatternCheck validates one pattern definition, e.g. by compiling it.
type PatternCheck func(p *types.Pattern) error

// ValidateRule checks the parts of a rule that do not depend on other rules:
// required fields, pattern names, pattern definitions and pattern references
// in the condition. check may be nil to skip engine-specific pattern checks.
func ValidateRule(r *types.Rule, check PatternCheck) LoadErrors {
	if r == nil {
		return LoadErrors{{Kind: KindSyntax, Detail: "rule is nil"}}
	}

	var errs LoadErrors
	add := func(kind ErrorKind, err error, format string, args ...any) {
		errs = append(errs, &LoadError{
			RuleID: r.ID,
			Kind:   kind,
			Source: r.Source,
			Detail: fmt.Sprintf(format, args...),
			Err:    err,
		})
	}

	if r.ID == "" {
		add(KindSyntax, nil, "rule ID is required")
	}
	if r.Condition == nil {
		add(KindSyntax, nil, "rule has no condition")
	}

	seen := make(map[string]bool, len(r.Patterns))
	for i := range r.Patterns {
		p := &r.Patterns[i]
		if seen[p.Name] {
			add(KindDuplicatePattern, nil, "pattern $%s declared more than once", p.Name)
			continue
		}
		seen[p.Name] = true

		if err := checkLiteral(p); err != nil {
			add(KindMalformedPattern, err, "pattern $%s", p.Name)
			continue
		}
		if check != nil {
			if err := check(p); err != nil {
				add(KindMalformedPattern, err, "pattern $%s", p.Name)
			}
		}
	}

	if r.Condition != nil {
		condition.Walk(r.Condition, func(n condition.Node) bool {
			switch n := n.(type) {
			case *condition.PatternRef:
				if r.PatternIndex(n.Name) < 0 {
					add(KindUnknownPattern, nil, "$%s is not declared", n.Name)
				}
			case *condition.Quantifier:
				if _, err := ResolvePatternSet(r, n.Set); err != nil {
					add(KindUnknownPattern, nil, "%v", err)
				}
			case *condition.CountCompare:
				if _, err := ResolvePatternSet(r, n.Set); err != nil {
					add(KindUnknownPattern, nil, "%v", err)
				}
			}
			return true
		})
	}
	return errs
}

func checkLiteral(p *types.Pattern) error {
	switch p.Kind {
	case types.KindText:
		if p.Raw == "" {
			return fmt.Errorf("empty string matches nothing")
		}
	case types.KindHex:
		if _, err := types.ParseHex(p.Raw); err != nil {
			return err
		}
	case types.KindRegex:
		if p.Raw == "" {
			return fmt.Errorf("empty regular expression")
		}
	default:
		return fmt.Errorf("unknown pattern kind %d", p.Kind)
	}
	return nil
}

// ResolvePatternSet returns the rule-local indexes of the patterns a set
// names, in declaration order. "them" is every pattern; "$name*" is every
// pattern whose name matches the wildcard. Each item must select at least one
// pattern.
func ResolvePatternSet(r *types.Rule, s *condition.PatternSet) ([]int, error) {
	if s == nil {
		return nil, fmt.Errorf("missing pattern set")
	}
	if s.Them {
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("them used in a rule without patterns")
		}
		idx := make([]int, len(r.Patterns))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}

	picked := make([]bool, len(r.Patterns))
	for _, item := range s.Items {
		if !strings.ContainsAny(item, "*?[") {
			i := r.PatternIndex(item)
			if i < 0 {
				return nil, fmt.Errorf("$%s is not declared", item)
			}
			picked[i] = true
			continue
		}
		g, err := glob.Compile(item)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern wildcard $%s: %w", item, err)
		}
		found := false
		for i := range r.Patterns {
			if g.Match(r.Patterns[i].Name) {
				picked[i] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("$%s matches no declared pattern", item)
		}
	}

	var idx []int
	for i, ok := range picked {
		if ok {
			idx = append(idx, i)
		}
	}
	return idx, nil
}
