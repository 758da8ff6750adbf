package rule

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// ErrorKind classifies a load-time defect.
type ErrorKind string

const (
	KindSyntax              ErrorKind = "syntax"
	KindMalformedPattern    ErrorKind = "malformed_pattern"
	KindUnresolvedReference ErrorKind = "unresolved_reference"
	KindUnknownPattern      ErrorKind = "unknown_pattern"
	KindCycle               ErrorKind = "cycle"
	KindDuplicateRule       ErrorKind = "duplicate_rule"
	KindDuplicatePattern    ErrorKind = "duplicate_pattern"
)

// LoadError names the rule and defect that made loading fail.
type LoadError struct {
	RuleID string
	Kind   ErrorKind
	Source types.Source
	Detail string
	Cycle  []string // rule IDs along a reference cycle, first repeated last
	Err    error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.Source.File != "" || e.Source.Line != 0 {
		b.WriteString(e.Source.String())
		b.WriteString(": ")
	}
	if e.RuleID != "" {
		fmt.Fprintf(&b, "rule %s: ", e.RuleID)
	}
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Cycle) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Cycle, " -> "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadErrors aggregates every defect found while loading a rule set.
type LoadErrors []*LoadError

func (errs LoadErrors) Error() string {
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	}
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.Error()
	}
	return fmt.Sprintf("%d rule errors:\n  %s", len(errs), strings.Join(lines, "\n  "))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (errs LoadErrors) Unwrap() []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// RuleIDs returns the distinct rule IDs named by the errors, sorted.
func (errs LoadErrors) RuleIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range errs {
		if e.RuleID != "" && !seen[e.RuleID] {
			seen[e.RuleID] = true
			ids = append(ids, e.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

// OrNil returns nil for an empty list so callers can return it as an error.
func (errs LoadErrors) OrNil() error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// AsLoadErrors flattens err into its load errors. Errors that are not load
// errors are returned as a single syntax error without a rule.
func AsLoadErrors(err error) LoadErrors {
	if err == nil {
		return nil
	}
	var list LoadErrors
	if errors.As(err, &list) {
		return list
	}
	var one *LoadError
	if errors.As(err, &one) {
		return LoadErrors{one}
	}
	return LoadErrors{{Kind: KindSyntax, Err: err}}
}
