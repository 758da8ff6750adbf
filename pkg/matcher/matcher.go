// Package matcher finds every occurrence of a batch of literal and regex
// patterns in a buffer. A compiled Set is immutable and safe for concurrent
// use; each Scan returns per-pattern counts and offsets.
package matcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tagcheck/tagcheck/pkg/prefilter"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// Entry is one pattern of a batch. Label identifies it in logs and errors,
// e.g. "rule_id:$name".
type Entry struct {
	Label   string
	Pattern types.Pattern
}

// Set is a compiled pattern batch.
type Set struct {
	entries     []Entry
	opts        Options
	literals    []*literalAutomaton
	regexes     []*regexPattern
	prefilter   *prefilter.Prefilter
	fingerprint uint64
}

// Compile builds the automata and regexes for entries. Result slices of Scan
// are indexed like entries.
func Compile(entries []Entry, opts Options) (*Set, error) {
	opts = opts.withDefaults()
	s := &Set{
		entries:     entries,
		opts:        opts,
		fingerprint: Fingerprint(entries, opts),
	}

	exact, folded := newLiteralBuilder(), newLiteralBuilder()
	var candidates []prefilter.Candidate
	for i := range entries {
		p := &entries[i].Pattern
		if p.Kind == types.KindRegex {
			rp, err := compileRegex(p, opts)
			if err != nil {
				return nil, fmt.Errorf("pattern %s: %w", entries[i].Label, err)
			}
			rp.pattern, rp.label = i, entries[i].Label
			candidates = append(candidates, prefilter.Candidate{ID: len(s.regexes), Keywords: rp.keywords})
			s.regexes = append(s.regexes, rp)
			continue
		}

		encs, err := p.Encodings()
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", entries[i].Label, err)
		}
		b := exact
		if p.Kind == types.KindText && p.Modifiers.Nocase {
			b = folded
		}
		wideOnly := p.Modifiers.Wide && !p.Modifiers.Ascii
		for k, enc := range encs {
			if len(enc) == 0 {
				return nil, fmt.Errorf("pattern %s: empty literal", entries[i].Label)
			}
			// Encodings lists UTF-8 first and UTF-16LE last.
			wide := p.Kind == types.KindText && p.Modifiers.Wide && (wideOnly || k == len(encs)-1)
			b.add(enc, literalUse{pattern: i, fullword: p.Modifiers.Fullword, wide: wide})
		}
	}

	for _, a := range []*literalAutomaton{exact.build(false), folded.build(true)} {
		if a != nil {
			s.literals = append(s.literals, a)
		}
	}
	if len(s.regexes) > 0 {
		s.prefilter = prefilter.New(candidates)
	}
	return s, nil
}

// Len returns the number of patterns in the set.
func (s *Set) Len() int {
	return len(s.entries)
}

// Entries returns the patterns the set was compiled from.
func (s *Set) Entries() []Entry {
	return s.entries
}

// Fingerprint returns the cache key of the set.
func (s *Set) Fingerprint() uint64 {
	return s.fingerprint
}

// Scan counts every pattern of the set in content. If ctx ends first, Scan
// returns the partial result together with the context error; patterns that
// did not finish are marked PatternCanceled.
func (s *Set) Scan(ctx context.Context, content []byte) (*Result, error) {
	start := time.Now()
	res := newResult(len(s.entries), s.opts)
	err := s.scan(ctx, content, res)
	res.summarize(time.Since(start))
	return res, err
}

func (s *Set) scan(ctx context.Context, content []byte, res *Result) error {
	for i, a := range s.literals {
		if err := a.scan(ctx, content, s.opts.ChunkSize, res); err != nil {
			for _, rest := range s.literals[i:] {
				rest.markCanceled(res)
			}
			s.markRegexesCanceled(res, 0)
			return err
		}
	}
	if len(s.regexes) == 0 {
		return nil
	}

	run := make([]bool, len(s.regexes))
	for _, id := range s.prefilter.Filter(content) {
		run[id] = true
	}

	var runes *runeInput
	interval := s.opts.RegexCheckInterval
	for i, rp := range s.regexes {
		if err := ctx.Err(); err != nil {
			s.markRegexesCanceled(res, i)
			return err
		}
		if !run[i] {
			res.Status[rp.pattern] = PatternSkipped
			continue
		}

		if rp.std != nil {
			if err := rp.scanStd(ctx, content, res, s.opts); err != nil {
				s.markRegexesCanceled(res, i)
				return err
			}
			continue
		}

		if runes == nil {
			runes = decodeRunes(content)
		}
		status, err := rp.scanBacktracking(ctx, content, runes, res, interval)
		res.Status[rp.pattern] = status
		switch status {
		case PatternCanceled:
			s.markRegexesCanceled(res, i)
			return err
		case PatternTimedOut:
			s.opts.Logger.Warn().Str("pattern", rp.label).Dur("timeout", s.opts.RegexTimeout).
				Msg("regex timeout, keeping matches found so far")
		case PatternError:
			s.opts.Logger.Warn().Str("pattern", rp.label).Err(err).Msg("regex error")
		}
	}
	return nil
}

func (a *literalAutomaton) markCanceled(res *Result) {
	for _, uses := range a.uses {
		for _, use := range uses {
			res.Status[use.pattern] = PatternCanceled
		}
	}
}

func (s *Set) markRegexesCanceled(res *Result, from int) {
	for _, rp := range s.regexes[from:] {
		res.Status[rp.pattern] = PatternCanceled
	}
}

// Fingerprint hashes everything that influences compilation and results:
// pattern order and labels, definitions, modifiers and result limits.
func Fingerprint(entries []Entry, opts Options) uint64 {
	opts = opts.withDefaults()
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	write(strconv.Itoa(opts.MaxOffsets))
	write(strconv.Itoa(opts.MaxMatchesPerPattern))
	write(strconv.FormatBool(opts.BacktrackingFallback))
	write(opts.RegexTimeout.String())
	for _, e := range entries {
		write(e.Label)
		write(e.Pattern.Kind.String())
		write(e.Pattern.Raw)
		write(e.Pattern.Modifiers.String())
	}
	return d.Sum64()
}

// Options returns the options the set was compiled with, defaults applied.
func (s *Set) Options() Options {
	return s.opts
}
