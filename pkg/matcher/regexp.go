package matcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// minKeywordLen is the shortest literal prefix worth gating a regex on.
const minKeywordLen = 3

// maxOverlapSpan is the longest match, in bytes, for which overlapping
// occurrences are counted. Each re-search then costs at most the gap to the
// next match plus this span, which keeps counting linear in the buffer.
// Longer or unbounded regexes count non-overlapping matches.
const maxOverlapSpan = 256

// errEmptyMatch rejects regexes that can match without consuming input.
var errEmptyMatch = errors.New("regular expression can match the empty string")

// regexPattern is a compiled regex pattern. Exactly one of std and bt is set.
type regexPattern struct {
	pattern  int
	label    string
	std      *regexp.Regexp
	bt       *regexp2.Regexp
	overlap  bool // re-search from start+1 to find overlapping matches
	anchored bool // looks behind the match start; cannot run on a suffix
	windowed bool // overlapping and free of end assertions; may search a window
	fullword bool
	keywords []string
}

// regexSource returns the RE2 source of p with its modifiers as inline flags.
func regexSource(p *types.Pattern) string {
	var flags strings.Builder
	if p.Modifiers.Nocase {
		flags.WriteByte('i')
	}
	if p.Modifiers.Dotall {
		flags.WriteByte('s')
	}
	if p.Modifiers.Multiline {
		flags.WriteByte('m')
	}
	if flags.Len() == 0 {
		return p.Raw
	}
	return "(?" + flags.String() + ")" + p.Raw
}

// compileRegex compiles p with Go's RE2 engine, falling back to regexp2 for
// constructs RE2 rejects when opts allows it.
func compileRegex(p *types.Pattern, opts Options) (*regexPattern, error) {
	if p.Modifiers.Wide {
		return nil, fmt.Errorf("wide is not supported for regular expressions")
	}
	rp := &regexPattern{fullword: p.Modifiers.Fullword}

	src := regexSource(p)
	std, err := regexp.Compile(src)
	if err == nil {
		parsed, perr := syntax.Parse(src, syntax.Perl)
		if perr != nil {
			return nil, fmt.Errorf("invalid regular expression: %w", perr)
		}
		if minLen(parsed) == 0 {
			return nil, errEmptyMatch
		}
		rp.std = std
		rp.anchored = hasPositionAssertion(parsed)
		if span := maxLen(parsed); !rp.anchored && span > 0 && span <= maxOverlapSpan {
			rp.overlap = true
			rp.windowed = !hasEndAssertion(parsed)
		}
		if prefix, _ := std.LiteralPrefix(); len(prefix) >= minKeywordLen && !p.Modifiers.Nocase {
			rp.keywords = []string{prefix}
		}
		return rp, nil
	}
	if !opts.BacktrackingFallback {
		return nil, fmt.Errorf("invalid regular expression: %w", err)
	}

	var ro regexp2.RegexOptions
	if p.Modifiers.Nocase {
		ro |= regexp2.IgnoreCase
	}
	if p.Modifiers.Dotall {
		ro |= regexp2.Singleline
	}
	if p.Modifiers.Multiline {
		ro |= regexp2.Multiline
	}
	bt, btErr := regexp2.Compile(p.Raw, ro)
	if btErr != nil {
		return nil, fmt.Errorf("invalid regular expression: %w", btErr)
	}
	bt.MatchTimeout = opts.RegexTimeout
	if ok, _ := bt.MatchString(""); ok {
		return nil, errEmptyMatch
	}
	rp.bt = bt
	return rp, nil
}

// minLen returns the length of the shortest string re can match.
func minLen(re *syntax.Regexp) int {
	switch re.Op {
	case syntax.OpLiteral:
		return len(re.Rune)
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL, syntax.OpNoMatch:
		return 1
	case syntax.OpCapture, syntax.OpPlus:
		return minLen(re.Sub[0])
	case syntax.OpRepeat:
		return re.Min * minLen(re.Sub[0])
	case syntax.OpConcat:
		n := 0
		for _, sub := range re.Sub {
			n += minLen(sub)
		}
		return n
	case syntax.OpAlternate:
		n := -1
		for _, sub := range re.Sub {
			if l := minLen(sub); n < 0 || l < n {
				n = l
			}
		}
		return max(n, 0)
	}
	// Star, Quest, EmptyMatch and zero-width assertions.
	return 0
}

// maxLen returns the length in bytes of the longest string re can match, or
// -1 if it is unbounded.
func maxLen(re *syntax.Regexp) int {
	switch re.Op {
	case syntax.OpLiteral:
		n := 0
		for _, r := range re.Rune {
			if re.Flags&syntax.FoldCase != 0 {
				n += utf8.UTFMax
			} else {
				n += utf8.RuneLen(r)
			}
		}
		return n
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return utf8.UTFMax
	case syntax.OpStar, syntax.OpPlus:
		return -1
	case syntax.OpCapture, syntax.OpQuest:
		return maxLen(re.Sub[0])
	case syntax.OpRepeat:
		sub := maxLen(re.Sub[0])
		if re.Max < 0 || sub < 0 {
			return -1
		}
		return re.Max * sub
	case syntax.OpConcat:
		n := 0
		for _, sub := range re.Sub {
			l := maxLen(sub)
			if l < 0 {
				return -1
			}
			n += l
		}
		return n
	case syntax.OpAlternate:
		n := 0
		for _, sub := range re.Sub {
			l := maxLen(sub)
			if l < 0 {
				return -1
			}
			n = max(n, l)
		}
		return n
	}
	// EmptyMatch, NoMatch and zero-width assertions.
	return 0
}

// hasPositionAssertion reports whether re looks at the bytes before a match
// start. Such regexes cannot be re-run on a suffix of the buffer.
func hasPositionAssertion(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpBeginLine, syntax.OpBeginText, syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return true
	}
	for _, sub := range re.Sub {
		if hasPositionAssertion(sub) {
			return true
		}
	}
	return false
}

// hasEndAssertion reports whether re looks at the bytes after a match end.
// Such regexes cannot be run on a window that ends before the buffer does.
func hasEndAssertion(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpEndLine, syntax.OpEndText:
		return true
	}
	for _, sub := range re.Sub {
		if hasEndAssertion(sub) {
			return true
		}
	}
	return false
}

// scanStd counts matches of an RE2 regex. Bounded regexes count overlapping
// matches by re-searching from start+1; others count non-overlapping ones.
// The context is checked every opts.RegexCheckInterval matches and whenever
// the search has advanced opts.RegexCheckBytes since the last check.
func (rp *regexPattern) scanStd(ctx context.Context, content []byte, res *Result, opts Options) error {
	if rp.anchored {
		return rp.scanAnchored(ctx, content, res, opts.RegexCheckInterval)
	}

	pos, checked := 0, 0
	for k := 1; pos < len(content); k++ {
		if k%opts.RegexCheckInterval == 0 || pos-checked >= opts.RegexCheckBytes {
			if err := ctx.Err(); err != nil {
				return err
			}
			checked = pos
		}

		// A windowed search only accepts matches starting in the first
		// RegexCheckBytes of the window; those fit in it whole.
		hi := len(content)
		if rp.windowed && pos+opts.RegexCheckBytes+maxOverlapSpan < hi {
			hi = pos + opts.RegexCheckBytes + maxOverlapSpan
		}
		loc := rp.std.FindIndex(content[pos:hi])
		if loc == nil || (hi < len(content) && loc[0] >= opts.RegexCheckBytes) {
			if hi == len(content) {
				break
			}
			pos += opts.RegexCheckBytes
			continue
		}

		start, end := pos+loc[0], pos+loc[1]
		if !rp.fullword || isFullword(content, start, end, false) {
			if !res.add(rp.pattern, int64(start)) {
				break
			}
		}
		if rp.overlap {
			pos = start + 1
		} else {
			pos = end
		}
	}
	return nil
}

// scanAnchored counts non-overlapping matches of a regex that inspects the
// bytes before its match start, which rules out searching suffixes. The
// fullword filter runs before the match limit so rejected hits do not use
// it up.
func (rp *regexPattern) scanAnchored(ctx context.Context, content []byte, res *Result, interval int) error {
	limit := -1
	if res.maxMatches > 0 && !rp.fullword {
		limit = res.maxMatches + 1
	}
	for k, loc := range rp.std.FindAllIndex(content, limit) {
		if k > 0 && k%interval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if rp.fullword && !isFullword(content, loc[0], loc[1], false) {
			continue
		}
		if !res.add(rp.pattern, int64(loc[0])) {
			break
		}
	}
	return nil
}

// runeInput is content decoded for regexp2, which indexes by rune.
type runeInput struct {
	runes   []rune
	offsets []int // byte offset of each rune, plus len(content)
}

func decodeRunes(content []byte) *runeInput {
	in := &runeInput{
		runes:   make([]rune, 0, len(content)),
		offsets: make([]int, 0, len(content)+1),
	}
	for i := 0; i < len(content); {
		r, size := utf8.DecodeRune(content[i:])
		in.runes = append(in.runes, r)
		in.offsets = append(in.offsets, i)
		i += size
	}
	in.offsets = append(in.offsets, len(content))
	return in
}

// scanBacktracking counts non-overlapping matches of a regexp2 regex. A
// timeout or engine error keeps the matches found so far.
func (rp *regexPattern) scanBacktracking(ctx context.Context, content []byte, in *runeInput, res *Result, interval int) (PatternStatus, error) {
	m, err := rp.bt.FindRunesMatch(in.runes)
	for k := 1; err == nil && m != nil; k++ {
		if k%interval == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return PatternCanceled, cerr
			}
		}
		start := in.offsets[m.Index]
		end := in.offsets[m.Index+m.Length]
		if !rp.fullword || isFullword(content, start, end, false) {
			if !res.add(rp.pattern, int64(start)) {
				return PatternCompleted, nil
			}
		}
		m, err = rp.bt.FindNextMatch(m)
	}
	if err != nil {
		if strings.Contains(err.Error(), "match timeout") {
			return PatternTimedOut, err
		}
		return PatternError, err
	}
	return PatternCompleted, nil
}
