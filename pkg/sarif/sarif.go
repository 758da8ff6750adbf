// Package sarif renders scan reports as SARIF 2.1.0.
package sarif

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// SARIF 2.1.0 constants
const (
	SchemaURI = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"
	Version   = "2.1.0"
	ToolName  = "tagcheck"
)

// ToolVersion is reported in the driver block; the CLI sets it at startup.
var ToolVersion = "dev"

// Report is the top-level SARIF report structure
type Report struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

// Run represents a single invocation of the tool
type Run struct {
	Tool    Tool     `json:"tool"`
	Results []Result `json:"results"`
}

// Tool describes the analysis tool
type Tool struct {
	Driver Driver `json:"driver"`
}

// Driver contains tool metadata
type Driver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Rules   []Rule `json:"rules,omitempty"`
}

// Rule represents a detection rule
type Rule struct {
	ID               string           `json:"id"`
	ShortDescription ShortDescription `json:"shortDescription"`
	Properties       *RuleProperties  `json:"properties,omitempty"`
}

// RuleProperties carries rule tags and metadata.
type RuleProperties struct {
	Tags []string          `json:"tags,omitempty"`
	Meta map[string]string `json:"meta,omitempty"`
}

// ShortDescription contains rule description text
type ShortDescription struct {
	Text string `json:"text"`
}

// Result represents a single matched rule on one artifact
type Result struct {
	RuleID     string            `json:"ruleId"`
	Level      string            `json:"level"`
	Message    Message           `json:"message"`
	Locations  []Location        `json:"locations"`
	Properties *ResultProperties `json:"properties,omitempty"`
}

// ResultProperties carries the verdict's evidence.
type ResultProperties struct {
	ScanID   string         `json:"scanId"`
	Evidence types.Evidence `json:"evidence"`
}

// Message contains the result message
type Message struct {
	Text string `json:"text"`
}

// Location describes where a result was found
type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation"`
}

// PhysicalLocation specifies file location
type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           *Region          `json:"region,omitempty"`
}

// ArtifactLocation identifies the file
type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Region specifies the byte offset of the first pattern hit
type Region struct {
	ByteOffset int64 `json:"byteOffset"`
}

// NewReport creates a new SARIF report with initialized structure
func NewReport() *Report {
	return &Report{
		Schema:  SchemaURI,
		Version: Version,
		Runs: []Run{
			{
				Tool: Tool{
					Driver: Driver{
						Name:    ToolName,
						Version: ToolVersion,
						Rules:   []Rule{},
					},
				},
				Results: []Result{},
			},
		},
	}
}

// AddRule adds a detection rule to the report
func (r *Report) AddRule(rule *types.Rule) {
	sarifRule := Rule{
		ID: rule.ID,
		ShortDescription: ShortDescription{
			Text: description(rule.Meta, rule.ID),
		},
	}
	if len(rule.Tags) > 0 || len(rule.Meta) > 0 {
		props := &RuleProperties{Tags: rule.Tags}
		if len(rule.Meta) > 0 {
			props.Meta = make(map[string]string, len(rule.Meta))
			for _, e := range rule.Meta {
				if _, ok := props.Meta[e.Key]; !ok {
					props.Meta[e.Key] = e.Value
				}
			}
		}
		sarifRule.Properties = props
	}

	r.Runs[0].Tool.Driver.Rules = append(r.Runs[0].Tool.Driver.Rules, sarifRule)
}

// AddReport adds one result per entry of a scan report.
func (r *Report) AddReport(report *types.Report) {
	for _, e := range report.Entries {
		r.AddResult(report, e)
	}
}

// AddResult adds a matched rule result to the report
func (r *Report) AddResult(report *types.Report, e types.ReportEntry) {
	loc := PhysicalLocation{
		ArtifactLocation: ArtifactLocation{URI: artifactURI(report)},
	}

	// Point at the first offset of the first pattern, if any.
	for _, p := range e.Evidence.Patterns {
		if len(p.Offsets) == 0 {
			continue
		}
		first := p.Offsets[0]
		if first.Stream != "" {
			loc.ArtifactLocation.URI += "!/" + first.Stream
		}
		loc.Region = &Region{ByteOffset: first.Offset}
		break
	}

	result := Result{
		RuleID: e.RuleID,
		Level:  level(e.Meta),
		Message: Message{
			Text: fmt.Sprintf("%s: %s", e.RuleID, description(e.Meta, "rule matched")),
		},
		Locations: []Location{{PhysicalLocation: loc}},
		Properties: &ResultProperties{
			ScanID:   report.ScanID,
			Evidence: e.Evidence,
		},
	}

	r.Runs[0].Results = append(r.Runs[0].Results, result)
}

// ToJSON serializes the report to JSON bytes
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func description(meta types.Metadata, fallback string) string {
	if d, ok := meta.Get("description"); ok {
		return d
	}
	return fallback
}

// level maps the rule category to a SARIF level.
func level(meta types.Metadata) string {
	category, _ := meta.Get("category")
	switch strings.ToLower(category) {
	case "malicious":
		return "error"
	case "info", "informational":
		return "note"
	default:
		return "warning"
	}
}

func artifactURI(report *types.Report) string {
	o := report.Origin
	switch {
	case o.Kind == "git" && o.Member != "":
		return filepath.ToSlash(o.Member)
	case o.Path != "":
		return formatFileURI(o.Path)
	default:
		return report.ArtifactName
	}
}

// formatFileURI converts a file path to SARIF URI format
// Absolute paths get file:// prefix, relative paths stay as-is
func formatFileURI(path string) string {
	if filepath.IsAbs(path) {
		// Normalize path separators for URI format
		path = filepath.ToSlash(path)
		// Ensure path starts with /
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return "file://" + path
	}
	// Relative paths stay as-is
	return filepath.ToSlash(path)
}
