// Package condition defines the condition expression tree of a rule and the
// evaluator that turns it into a verdict.
//
// A tree is produced by the rule parser with names only. Before evaluation the
// rule set binds every pattern and rule reference to an index (see the Index
// fields), so evaluation never resolves names or follows pointers between rules.
package condition

import (
	"regexp"
	"strconv"
	"strings"
)

// Node is a condition expression node.
type Node interface {
	node()
	String() string
}

// And is true when every term is true. Terms are evaluated left to right and
// evaluation stops at the first false term.
type And struct {
	Terms []Node
}

// Or is true when any term is true. Evaluation stops at the first true term.
type Or struct {
	Terms []Node
}

// Not negates its term.
type Not struct {
	Term Node
}

// Bool is a constant.
type Bool struct {
	Value bool
}

// PatternRef is true when the pattern occurs at least once ("$a").
type PatternRef struct {
	Name  string
	Index int
}

// PatternSet names a set of patterns: "them" or a list of names where a
// trailing "*" selects every pattern with that prefix.
type PatternSet struct {
	Them    bool
	Items   []string
	Indexes []int // bound pattern indexes, in declaration order
}

// QuantKind selects how many members of a set must be satisfied.
type QuantKind int

const (
	QuantAll QuantKind = iota
	QuantAny
	QuantNone
	QuantCount   // at least N members
	QuantPercent // at least N percent of the members
)

// Quantifier is "<all|any|none|N|N%> of <set>".
type Quantifier struct {
	Kind QuantKind
	N    int
	Set  *PatternSet
}

// Aggregation combines per-pattern occurrence counts.
type Aggregation int

const (
	AggSum Aggregation = iota
	AggMax
	AggMin
)

func (a Aggregation) String() string {
	switch a {
	case AggSum:
		return "sum"
	case AggMax:
		return "max"
	case AggMin:
		return "min"
	default:
		return "unknown"
	}
}

// CompareOp is a numeric comparison.
type CompareOp int

const (
	OpLT CompareOp = iota
	OpLE
	OpGT
	OpGE
	OpEQ
	OpNE
)

func (op CompareOp) String() string {
	switch op {
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	default:
		return "?"
	}
}

// ParseCompareOp maps an operator token to a CompareOp.
func ParseCompareOp(s string) (CompareOp, bool) {
	switch s {
	case "<":
		return OpLT, true
	case "<=":
		return OpLE, true
	case ">":
		return OpGT, true
	case ">=":
		return OpGE, true
	case "==":
		return OpEQ, true
	case "!=":
		return OpNE, true
	}
	return 0, false
}

// Compare applies op to (lhs, rhs).
func (op CompareOp) Compare(lhs, rhs int64) bool {
	switch op {
	case OpLT:
		return lhs < rhs
	case OpLE:
		return lhs <= rhs
	case OpGT:
		return lhs > rhs
	case OpGE:
		return lhs >= rhs
	case OpEQ:
		return lhs == rhs
	case OpNE:
		return lhs != rhs
	}
	return false
}

// CountCompare compares an aggregate occurrence count with a threshold.
// "#a + #b + #c > 50" is AggSum over (a, b, c); "max($x*) >= 3" is AggMax.
// The aggregation is always the one written in the rule.
type CountCompare struct {
	Agg       Aggregation
	Set       *PatternSet
	Op        CompareOp
	Threshold int64
	// Summed is true when the sum was written as a "+" chain of "#name" terms.
	Summed bool
}

// FactOp is a string predicate over fact values.
type FactOp int

const (
	FactMatches FactOp = iota
	FactContains
	FactIContains
	FactStartsWith
	FactEndsWith
	FactIEquals
	FactEquals
	FactNotEquals
)

var factOpNames = map[FactOp]string{
	FactMatches:    "matches",
	FactContains:   "contains",
	FactIContains:  "icontains",
	FactStartsWith: "startswith",
	FactEndsWith:   "endswith",
	FactIEquals:    "iequals",
	FactEquals:     "==",
	FactNotEquals:  "!=",
}

func (op FactOp) String() string {
	if s, ok := factOpNames[op]; ok {
		return s
	}
	return "?"
}

// ParseFactOp maps a keyword or operator to a FactOp.
func ParseFactOp(s string) (FactOp, bool) {
	for op, name := range factOpNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}

// FactMatch tests the values of a named fact. It is true when any value
// satisfies the operator and false when the fact is absent.
type FactMatch struct {
	Field string
	Key   string // canonical fact key, set when bound
	Op    FactOp
	Value string
	// Regex is the compiled operand of FactMatches.
	Regex *regexp.Regexp
	// RegexSource keeps the operand as written, including flags.
	RegexSource string
}

// FactCompare compares a numeric fact with a constant. Absent or non-numeric
// values compare false.
type FactCompare struct {
	Field string
	Key   string
	Op    CompareOp
	Value int64
}

// RuleRef evaluates to the verdict of another rule for the same artifact.
type RuleRef struct {
	Name  string
	Index int
}

func (*And) node()          {}
func (*Or) node()           {}
func (*Not) node()          {}
func (*Bool) node()         {}
func (*PatternRef) node()   {}
func (*Quantifier) node()   {}
func (*CountCompare) node() {}
func (*FactMatch) node()    {}
func (*FactCompare) node()  {}
func (*RuleRef) node()      {}

func (n *And) String() string { return joinTerms(n.Terms, " and ") }
func (n *Or) String() string  { return joinTerms(n.Terms, " or ") }
func (n *Not) String() string { return "not " + wrap(n.Term) }

func (n *Bool) String() string {
	if n.Value {
		return "true"
	}
	return "false"
}

func (n *PatternRef) String() string { return "$" + n.Name }

func (s *PatternSet) String() string {
	if s.Them {
		return "them"
	}
	items := make([]string, len(s.Items))
	for i, it := range s.Items {
		items[i] = "$" + it
	}
	return "(" + strings.Join(items, ", ") + ")"
}

func (n *Quantifier) String() string {
	var q string
	switch n.Kind {
	case QuantAll:
		q = "all"
	case QuantAny:
		q = "any"
	case QuantNone:
		q = "none"
	case QuantCount:
		q = strconv.Itoa(n.N)
	case QuantPercent:
		q = strconv.Itoa(n.N) + "%"
	}
	return q + " of " + n.Set.String()
}

func (n *CountCompare) String() string {
	var lhs string
	if n.Summed {
		terms := make([]string, len(n.Set.Items))
		for i, it := range n.Set.Items {
			terms[i] = "#" + it
		}
		lhs = strings.Join(terms, " + ")
		if len(terms) > 1 {
			lhs = "(" + lhs + ")"
		}
	} else {
		lhs = n.Agg.String() + n.Set.String()
		if n.Set.Them {
			lhs = n.Agg.String() + "(them)"
		}
	}
	return lhs + " " + n.Op.String() + " " + strconv.FormatInt(n.Threshold, 10)
}

func (n *FactMatch) String() string {
	if n.Op == FactMatches {
		return n.Field + " matches " + n.RegexSource
	}
	return n.Field + " " + n.Op.String() + " " + strconv.Quote(n.Value)
}

func (n *FactCompare) String() string {
	return n.Field + " " + n.Op.String() + " " + strconv.FormatInt(n.Value, 10)
}

func (n *RuleRef) String() string { return n.Name }

func joinTerms(terms []Node, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = wrap(t)
	}
	return strings.Join(parts, sep)
}

func wrap(n Node) string {
	switch n.(type) {
	case *And, *Or:
		return "(" + n.String() + ")"
	}
	return n.String()
}
