package matcher

import (
	"sort"
	"time"
)

// PatternStatus represents how scanning of a single pattern ended
type PatternStatus int

const (
	// PatternCompleted indicates the pattern was searched through the whole buffer
	PatternCompleted PatternStatus = iota
	// PatternSkipped indicates the regex prefilter ruled the pattern out
	PatternSkipped
	// PatternTimedOut indicates a backtracking search exceeded its timeout
	PatternTimedOut
	// PatternError indicates the regex engine returned an error
	PatternError
	// PatternCanceled indicates the context ended before the pattern finished
	PatternCanceled
)

// String returns the string representation of PatternStatus
func (ps PatternStatus) String() string {
	switch ps {
	case PatternCompleted:
		return "completed"
	case PatternSkipped:
		return "skipped"
	case PatternTimedOut:
		return "timeout"
	case PatternError:
		return "error"
	case PatternCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ResultSummary provides aggregate statistics for a scan
type ResultSummary struct {
	Patterns  int           // Total number of patterns in the set
	Matched   int           // Patterns with at least one match
	Skipped   int           // Regexes ruled out by the prefilter
	TimedOut  int           // Regexes that timed out
	Errors    int           // Regexes that failed
	Truncated int           // Patterns that hit MaxMatchesPerPattern
	Duration  time.Duration // Wall time of the scan
}

// Result holds per-pattern counts and offsets for one buffer. Slices are
// indexed like the entries passed to Compile.
type Result struct {
	Counts    []int
	Offsets   [][]int64 // ascending, at most MaxOffsets per pattern
	Truncated []bool
	Status    []PatternStatus
	Summary   ResultSummary

	maxOffsets int
	maxMatches int
}

func newResult(n int, opts Options) *Result {
	return &Result{
		Counts:     make([]int, n),
		Offsets:    make([][]int64, n),
		Truncated:  make([]bool, n),
		Status:     make([]PatternStatus, n),
		maxOffsets: opts.MaxOffsets,
		maxMatches: opts.MaxMatchesPerPattern,
	}
}

// Count returns the number of matches of pattern i.
func (r *Result) Count(i int) int {
	if i < 0 || i >= len(r.Counts) {
		return 0
	}
	return r.Counts[i]
}

// full reports whether pattern i reached the match limit.
func (r *Result) full(i int) bool {
	return r.maxMatches > 0 && r.Counts[i] >= r.maxMatches
}

// add records a match of pattern i at offset. It reports false once the
// pattern is full, after which callers may stop searching for it.
func (r *Result) add(i int, offset int64) bool {
	if r.full(i) {
		r.Truncated[i] = true
		return false
	}
	r.Counts[i]++
	r.insertOffset(i, offset)
	return true
}

// insertOffset keeps the smallest maxOffsets offsets of pattern i, sorted.
func (r *Result) insertOffset(i int, offset int64) {
	offs := r.Offsets[i]
	if r.maxOffsets == 0 || (len(offs) == r.maxOffsets && offset >= offs[len(offs)-1]) {
		return
	}
	pos := sort.Search(len(offs), func(k int) bool { return offs[k] >= offset })
	if len(offs) < r.maxOffsets {
		offs = append(offs, 0)
	}
	copy(offs[pos+1:], offs[pos:])
	offs[pos] = offset
	r.Offsets[i] = offs
}

func (r *Result) summarize(d time.Duration) {
	s := ResultSummary{Patterns: len(r.Counts), Duration: d}
	for i, c := range r.Counts {
		if c > 0 {
			s.Matched++
		}
		if r.Truncated[i] {
			s.Truncated++
		}
		switch r.Status[i] {
		case PatternSkipped:
			s.Skipped++
		case PatternTimedOut:
			s.TimedOut++
		case PatternError:
			s.Errors++
		}
	}
	r.Summary = s
}
