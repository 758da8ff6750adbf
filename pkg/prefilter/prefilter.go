// Package prefilter gates expensive regex patterns behind a cheap keyword
// scan: a pattern is only executed when one of its literal keywords occurs in
// the content.
package prefilter

import (
	"sort"

	"github.com/cloudflare/ahocorasick"
)

// Candidate is a pattern that may be gated. A candidate without keywords is
// always returned by Filter.
type Candidate struct {
	ID       int
	Keywords []string
}

// Prefilter uses Aho-Corasick for efficient keyword matching.
type Prefilter struct {
	matcher      *ahocorasick.Matcher
	keywords     []string         // keyword at each index
	keywordIDs   map[string][]int // keyword -> candidates needing it
	noKeywordIDs []int            // candidates without keywords (always checked)
}

// New creates a prefilter from candidates.
func New(candidates []Candidate) *Prefilter {
	pf := &Prefilter{
		keywordIDs: make(map[string][]int),
	}

	keywordSet := make(map[string]bool)
	for _, c := range candidates {
		if len(c.Keywords) == 0 {
			pf.noKeywordIDs = append(pf.noKeywordIDs, c.ID)
			continue
		}
		for _, keyword := range c.Keywords {
			if !keywordSet[keyword] {
				keywordSet[keyword] = true
				pf.keywords = append(pf.keywords, keyword)
			}
			pf.keywordIDs[keyword] = append(pf.keywordIDs[keyword], c.ID)
		}
	}

	if len(pf.keywords) > 0 {
		pf.matcher = ahocorasick.NewStringMatcher(pf.keywords)
	}

	return pf
}

// Keywords returns the number of distinct keywords.
func (pf *Prefilter) Keywords() int {
	return len(pf.keywords)
}

// Filter returns the IDs of candidates that might match content, in
// ascending order. It is safe for concurrent use.
func (pf *Prefilter) Filter(content []byte) []int {
	result := make([]int, 0, len(pf.noKeywordIDs))
	result = append(result, pf.noKeywordIDs...)

	if pf.matcher == nil {
		return result
	}

	seen := make(map[int]bool, len(result))
	for _, id := range result {
		seen[id] = true
	}
	for _, hit := range pf.matcher.MatchThreadSafe(content) {
		for _, id := range pf.keywordIDs[pf.keywords[hit]] {
			if !seen[id] {
				seen[id] = true
				result = append(result, id)
			}
		}
	}

	sort.Ints(result)
	return result
}
