package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tagcheck/tagcheck/pkg/sarif"
	"github.com/tagcheck/tagcheck/pkg/store"
	"github.com/tagcheck/tagcheck/pkg/types"
)

var (
	reportDatastore string
	reportFormat    string
	reportColor     string
	reportAll       bool
)

// styles holds color formatters for report output
type styles struct {
	matchHeading *color.Color
	id           *color.Color
	ruleName     *color.Color
	heading      *color.Color
	evidence     *color.Color
	metadata     *color.Color
	warning      *color.Color
}

// newStyles creates color formatters for report output. They follow
// color.NoColor, which setColor derives from --color and NO_COLOR.
func newStyles() *styles {
	return &styles{
		matchHeading: color.New(color.Bold, color.FgHiWhite),
		id:           color.New(color.FgHiGreen),
		ruleName:     color.New(color.Bold, color.FgHiBlue),
		heading:      color.New(color.Bold),
		evidence:     color.New(color.FgYellow),
		metadata:     color.New(color.FgHiBlue),
		warning:      color.New(color.Bold, color.FgRed),
	}
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show stored scan reports",
	Long:  "Read scan reports from a report database and print them",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDatastore, "datastore", "tagcheck.db", "Path to the report database")
	reportCmd.Flags().StringVar(&reportFormat, "format", "human", "Output format: human, json, sarif")
	reportCmd.Flags().StringVar(&reportColor, "color", "auto", "Color output: auto, always, never")
	reportCmd.Flags().BoolVar(&reportAll, "all", false, "Include reports without matches (json only)")
}

func runReport(cmd *cobra.Command, args []string) error {
	// Check if it's :memory: (invalid for report)
	if reportDatastore == ":memory:" {
		return fmt.Errorf("cannot report from in-memory store")
	}
	if _, err := os.Stat(reportDatastore); err != nil {
		return fmt.Errorf("datastore not found: %s", reportDatastore)
	}

	s, err := store.New(store.Config{Path: reportDatastore})
	if err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer s.Close()

	reports, err := s.GetReports()
	if err != nil {
		return fmt.Errorf("retrieving reports: %w", err)
	}

	switch reportFormat {
	case "json":
		if !reportAll {
			reports = matchedOrIncomplete(reports)
		}
		return outputReportsJSON(cmd.OutOrStdout(), reports)
	case "sarif":
		return writeSARIF(cmd.OutOrStdout(), sarifFromReports(reports))
	case "human":
		if err := setColor(reportColor, cmd.OutOrStdout()); err != nil {
			return err
		}
		printReports(cmd.OutOrStdout(), reports)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", reportFormat)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func matchedOrIncomplete(reports []*types.Report) []*types.Report {
	out := make([]*types.Report, 0, len(reports))
	for _, r := range reports {
		if len(r.Entries) > 0 || !r.Complete() {
			out = append(out, r)
		}
	}
	return out
}

// sarifFromReports builds a SARIF log from stored reports alone. The rule
// list is rebuilt from the tags and metadata the entries carry.
func sarifFromReports(reports []*types.Report) *sarif.Report {
	out := sarif.NewReport()
	seen := make(map[string]bool)
	for _, r := range reports {
		for _, e := range r.Entries {
			if seen[e.RuleID] {
				continue
			}
			seen[e.RuleID] = true
			out.AddRule(&types.Rule{ID: e.RuleID, Tags: e.Tags, Meta: e.Meta})
		}
		out.AddReport(r)
	}
	return out
}

// printReports writes matched and incomplete reports in human-readable form.
func printReports(out io.Writer, reports []*types.Report) {
	s := newStyles()

	shown := matchedOrIncomplete(reports)
	if len(shown) == 0 {
		fmt.Fprintf(out, "\nNo matches.\n")
		return
	}

	for i, r := range shown {
		fmt.Fprintf(out, "%s (%s %s)\n",
			s.matchHeading.Sprintf("Artifact %d/%d", i+1, len(shown)),
			s.heading.Sprint("scan"),
			s.id.Sprint(r.ScanID))
		fmt.Fprintf(out, "%s %s\n", s.heading.Sprint("Name:"), s.metadata.Sprint(r.ArtifactName))
		if o := describeOrigin(r.Origin); o != "" {
			fmt.Fprintf(out, "%s %s\n", s.heading.Sprint("Origin:"), s.metadata.Sprint(o))
		}
		fmt.Fprintf(out, "%s %s\n", s.heading.Sprint("Digest:"), s.metadata.Sprint(r.ArtifactID))

		if !r.Complete() {
			fmt.Fprintf(out, "%s %s\n", s.warning.Sprint("Incomplete:"), r.Reason)
		}

		for _, e := range r.Entries {
			fmt.Fprintf(out, "\n    %s %s", s.heading.Sprint("Rule:"), s.ruleName.Sprint(e.RuleID))
			if len(e.Tags) > 0 {
				fmt.Fprintf(out, " [%s]", strings.Join(e.Tags, ", "))
			}
			fmt.Fprintln(out)
			if d, ok := e.Meta.Get("description"); ok {
				fmt.Fprintf(out, "    %s\n", d)
			}
			printEvidence(out, s, e.Evidence)
		}

		fmt.Fprintf(out, "\n\n")
	}
}

func printEvidence(out io.Writer, s *styles, ev types.Evidence) {
	for _, p := range ev.Patterns {
		line := fmt.Sprintf("%s: %s", p.Pattern, humanize.Comma(int64(p.Count)))
		if len(p.Offsets) > 0 {
			first := p.Offsets[0]
			if first.Stream != "" {
				line += fmt.Sprintf(", first at %s+%d", first.Stream, first.Offset)
			} else {
				line += fmt.Sprintf(", first at %d", first.Offset)
			}
		}
		fmt.Fprintf(out, "        %s\n", s.evidence.Sprint(line))
	}
	for _, f := range ev.Facts {
		fmt.Fprintf(out, "        %s %s\n", s.evidence.Sprint(f.Predicate), s.metadata.Sprint(strings.Join(f.Values, " | ")))
	}
	for _, id := range ev.Rules {
		fmt.Fprintf(out, "        %s %s\n", s.heading.Sprint("via"), s.ruleName.Sprint(id))
	}
}

func describeOrigin(o types.Origin) string {
	switch o.Kind {
	case "", "inline":
		return ""
	case "git":
		desc := fmt.Sprintf("git %s", o.Member)
		if len(o.Commit) >= 12 {
			desc += " @ " + o.Commit[:12]
		} else if o.Commit != "" {
			desc += " @ " + o.Commit
		}
		if o.Author != "" {
			desc += " by " + o.Author
		}
		return desc
	default:
		if o.Path == "" {
			return o.Kind
		}
		return fmt.Sprintf("%s %s", o.Kind, o.Path)
	}
}
