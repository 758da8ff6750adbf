package matcher

import (
	"context"

	ac "github.com/petar-dambovaliev/aho-corasick"
)

// literalUse is one pattern encoding behind an automaton string. Several
// patterns may share a string; each one is credited on every hit.
type literalUse struct {
	pattern  int
	fullword bool
	wide     bool
}

// literalAutomaton is an Aho-Corasick automaton over the distinct literal
// encodings of one case mode.
type literalAutomaton struct {
	ac     ac.AhoCorasick
	nocase bool
	uses   [][]literalUse // by automaton pattern index
	maxLen int
}

type literalBuilder struct {
	index  map[string]int
	strs   []string
	uses   [][]literalUse
	maxLen int
}

func newLiteralBuilder() *literalBuilder {
	return &literalBuilder{index: make(map[string]int)}
}

func (b *literalBuilder) add(enc []byte, use literalUse) {
	s := string(enc)
	i, ok := b.index[s]
	if !ok {
		i = len(b.strs)
		b.index[s] = i
		b.strs = append(b.strs, s)
		b.uses = append(b.uses, nil)
		b.maxLen = max(b.maxLen, len(enc))
	}
	b.uses[i] = append(b.uses[i], use)
}

func (b *literalBuilder) build(nocase bool) *literalAutomaton {
	if len(b.strs) == 0 {
		return nil
	}
	builder := ac.NewAhoCorasickBuilder(ac.Opts{
		AsciiCaseInsensitive: nocase,
		MatchKind:            ac.StandardMatch,
		DFA:                  true,
	})
	return &literalAutomaton{
		ac:     builder.Build(b.strs),
		nocase: nocase,
		uses:   b.uses,
		maxLen: b.maxLen,
	}
}

// scan runs the automaton over content chunk by chunk, crediting every
// overlapping occurrence exactly once. It returns the context error if the
// scan was cut short.
func (a *literalAutomaton) scan(ctx context.Context, content []byte, chunkSize int, res *Result) error {
	chunks := ChunkContent(content, ChunkConfig{MaxChunkSize: chunkSize, Overlap: a.maxLen - 1})
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		iter := a.ac.IterOverlappingByte(chunk.Content)
		for m := iter.Next(); m != nil; m = iter.Next() {
			if !chunk.Owns(m.Start()) {
				continue
			}
			start := chunk.StartOffset + m.Start()
			end := chunk.StartOffset + m.End()
			for _, use := range a.uses[m.Pattern()] {
				if use.fullword && !isFullword(content, start, end, use.wide) {
					continue
				}
				res.add(use.pattern, int64(start))
			}
		}
	}
	return nil
}

// isFullword reports whether content[start:end] is delimited by non
// alphanumeric characters. For wide strings the neighbouring character is
// the UTF-16LE unit next to the match.
func isFullword(content []byte, start, end int, wide bool) bool {
	if wide {
		if start >= 2 && content[start-1] == 0 && isWordByte(content[start-2]) {
			return false
		}
		if end+1 < len(content) && content[end+1] == 0 && isWordByte(content[end]) {
			return false
		}
		return true
	}
	if start > 0 && isWordByte(content[start-1]) {
		return false
	}
	if end < len(content) && isWordByte(content[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}
