// Package facts supplies artifact metadata to rule conditions. Facts are
// keyed by canonical field name (see types.CanonicalField) and may hold
// several values.
package facts

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// Provider looks up the values of a fact. A missing fact reports false.
type Provider interface {
	Lookup(field string) ([]string, bool)
}

// Collector derives facts from an artifact.
type Collector interface {
	// Name identifies the collector in logs.
	Name() string

	// Collect returns the facts the collector knows about a.
	Collect(ctx context.Context, a *types.Artifact) (types.Facts, error)
}

// MapProvider is a Provider backed by a fact map.
type MapProvider types.Facts

// Lookup implements Provider.
func (m MapProvider) Lookup(field string) ([]string, bool) {
	return types.Facts(m).Lookup(field)
}

// Layered looks facts up in each provider in turn and returns the first hit.
type Layered []Provider

// Lookup implements Provider.
func (l Layered) Lookup(field string) ([]string, bool) {
	for _, p := range l {
		if p == nil {
			continue
		}
		if v, ok := p.Lookup(field); ok {
			return v, true
		}
	}
	return nil, false
}

// Static is a Collector that returns a fixed set of facts, e.g. facts given
// on the command line.
type Static types.Facts

// Name implements Collector.
func (Static) Name() string { return "static" }

// Collect implements Collector.
func (s Static) Collect(context.Context, *types.Artifact) (types.Facts, error) {
	return types.Facts(s).Clone(), nil
}

// Gather returns the facts of a for rule evaluation. Facts set on the
// artifact win over collected ones field by field, so a caller that supplies
// file_name replaces the collector's value instead of adding to it. Collector
// results are merged with each other. A failing collector contributes nothing
// and is logged; it never fails the scan.
func Gather(ctx context.Context, a *types.Artifact, collectors []Collector, logger zerolog.Logger) Provider {
	collected := types.Facts{}
	for _, c := range collectors {
		f, err := c.Collect(ctx, a)
		if err != nil {
			logger.Warn().Str("collector", c.Name()).Str("artifact", a.Name).Err(err).
				Msg("fact collection failed; facts left absent")
			continue
		}
		collected.Merge(f)
	}
	return Layered{MapProvider(a.Facts.Clone()), MapProvider(collected)}
}

// ParseAssignment parses a "field=value" fact assignment.
func ParseAssignment(s string) (field, value string, err error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			field, value = s[:i], s[i+1:]
			if types.CanonicalField(field) == "" {
				return "", "", fmt.Errorf("fact %q has an empty field name", s)
			}
			return field, value, nil
		}
	}
	return "", "", fmt.Errorf("fact %q is not of the form field=value", s)
}

// Int returns the first value of a fact parsed as an integer.
func Int(p Provider, field string) (int64, bool) {
	v, ok := p.Lookup(field)
	if !ok || len(v) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(v[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
