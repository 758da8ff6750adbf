package types

import "time"

// ScanStatus tells whether a scan ran to completion.
type ScanStatus string

const (
	StatusComplete   ScanStatus = "complete"
	StatusIncomplete ScanStatus = "incomplete" // cancelled, timed out or inexact counts; not a clean negative
)

// Offset is a match position inside a named stream.
type Offset struct {
	Stream string `json:"stream,omitempty"`
	Offset int64  `json:"offset"`
}

// PatternEvidence is the hit count of a pattern and its first offsets.
type PatternEvidence struct {
	Pattern string   `json:"pattern"`
	Count   int      `json:"count"`
	Offsets []Offset `json:"offsets,omitempty"`
}

// FactEvidence is a fact predicate that held and the values that satisfied it.
type FactEvidence struct {
	Field     string   `json:"field"`
	Predicate string   `json:"predicate"`
	Values    []string `json:"values"`
}

// Evidence is what made a rule true.
type Evidence struct {
	Patterns []PatternEvidence `json:"patterns,omitempty"`
	Facts    []FactEvidence    `json:"facts,omitempty"`
	Rules    []string          `json:"rules,omitempty"` // referenced rules that held
}

// ReportEntry is one matched public rule.
type ReportEntry struct {
	RuleID   string   `json:"rule_id"`
	Tags     []string `json:"tags,omitempty"`
	Meta     Metadata `json:"meta,omitempty"`
	Evidence Evidence `json:"evidence"`
}

// Report is the result of scanning one artifact. Entries follow rule load
// order; an empty list means no public rule matched.
type Report struct {
	ScanID       string        `json:"scan_id"`
	ArtifactID   string        `json:"artifact_id"`
	ArtifactName string        `json:"artifact_name"`
	Origin       Origin        `json:"origin"`
	Status       ScanStatus    `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	Entries      []ReportEntry `json:"entries"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Complete reports whether the scan finished.
func (r *Report) Complete() bool {
	return r.Status == StatusComplete
}

// RuleIDs returns the matched rule IDs in report order.
func (r *Report) RuleIDs() []string {
	ids := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		ids[i] = e.RuleID
	}
	return ids
}

// Entry returns the entry for a rule.
func (r *Report) Entry(ruleID string) (*ReportEntry, bool) {
	for i := range r.Entries {
		if r.Entries[i].RuleID == ruleID {
			return &r.Entries[i], true
		}
	}
	return nil, false
}
