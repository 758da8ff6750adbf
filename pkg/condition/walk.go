package condition

// Walk visits n and its descendants depth-first, left to right. Children are
// skipped when fn returns false.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *And:
		for _, t := range n.Terms {
			Walk(t, fn)
		}
	case *Or:
		for _, t := range n.Terms {
			Walk(t, fn)
		}
	case *Not:
		Walk(n.Term, fn)
	}
}

// Clone returns a deep copy of n. Compiled regexes are shared since they are
// safe for concurrent use.
func Clone(n Node) Node {
	switch n := n.(type) {
	case *And:
		return &And{Terms: cloneTerms(n.Terms)}
	case *Or:
		return &Or{Terms: cloneTerms(n.Terms)}
	case *Not:
		return &Not{Term: Clone(n.Term)}
	case *Bool:
		c := *n
		return &c
	case *PatternRef:
		c := *n
		return &c
	case *Quantifier:
		c := *n
		c.Set = n.Set.clone()
		return &c
	case *CountCompare:
		c := *n
		c.Set = n.Set.clone()
		return &c
	case *FactMatch:
		c := *n
		return &c
	case *FactCompare:
		c := *n
		return &c
	case *RuleRef:
		c := *n
		return &c
	}
	return nil
}

func cloneTerms(terms []Node) []Node {
	out := make([]Node, len(terms))
	for i, t := range terms {
		out[i] = Clone(t)
	}
	return out
}

func (s *PatternSet) clone() *PatternSet {
	if s == nil {
		return nil
	}
	return &PatternSet{
		Them:    s.Them,
		Items:   append([]string(nil), s.Items...),
		Indexes: append([]int(nil), s.Indexes...),
	}
}

// RuleRefs returns the rule names referenced by n, in order of appearance and
// without duplicates.
func RuleRefs(n Node) []string {
	var names []string
	seen := make(map[string]bool)
	Walk(n, func(n Node) bool {
		if r, ok := n.(*RuleRef); ok && !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
		return true
	})
	return names
}
