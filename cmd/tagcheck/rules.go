package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/ruleset"
	"github.com/tagcheck/tagcheck/pkg/ruletest"
	"github.com/tagcheck/tagcheck/pkg/scanner"
	"github.com/tagcheck/tagcheck/pkg/types"
)

var (
	rulesPaths   []string
	outputFormat string
	listPrivate  bool
	testFile     string
	testSkipOK   bool
	testColor    string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage detection rules",
	Long:  "Commands for listing, validating and testing detection rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available rules",
	Long:  "Display the detection rules with their tags, patterns and descriptions",
	RunE:  runRulesList,
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a rule set",
	Long: `Compile a rule set and report every defect: syntax errors, malformed
patterns, unresolved references, reference cycles and duplicates.`,
	RunE: runRulesCheck,
}

var rulesTestCmd = &cobra.Command{
	Use:   "test [rules-dir]",
	Short: "Run rule test cases",
	Long: `Run the JSON test cases kept next to rule files. For dir/name.rules the
cases are read from dir/tests/name.json. Without a directory the built-in
rules are tested.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesTest,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesTestCmd)

	for _, c := range []*cobra.Command{rulesListCmd, rulesCheckCmd} {
		c.Flags().StringSliceVar(&rulesPaths, "rules", nil, "Rule files or directories (default: built-in rules)")
	}
	rulesListCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format: table, json")
	rulesListCmd.Flags().BoolVar(&listPrivate, "private", false, "Include private rules")

	rulesTestCmd.Flags().StringVar(&testFile, "file", "", "Only test this rule file (path or base name)")
	rulesTestCmd.Flags().BoolVar(&testSkipOK, "skip-ok", false, "Do not print rule files whose tests passed")
	rulesTestCmd.Flags().StringVar(&testColor, "color", "auto", "Color output: auto, always, never")
}

func runRulesList(cmd *cobra.Command, args []string) error {
	rules, err := scanner.LoadRules(rulesPaths...)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	if !listPrivate {
		public := rules[:0:0]
		for _, r := range rules {
			if !r.Private {
				public = append(public, r)
			}
		}
		rules = public
	}

	// Output based on format
	switch outputFormat {
	case "json":
		return outputRulesJSON(cmd, rules)
	case "table":
		return outputRulesTable(cmd, rules)
	default:
		return fmt.Errorf("unknown output format: %s", outputFormat)
	}
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	rules, loadErr := scanner.LoadRules(rulesPaths...)
	var parseErrs rule.LoadErrors
	if loadErr != nil && !errors.As(loadErr, &parseErrs) {
		return loadErr
	}

	// Compile tolerantly so every defect is listed, not just the first set.
	opts := cfg.RuleSetOptions()
	opts.Tolerant = true
	rs, compileErr := ruleset.Compile(rules, opts)

	errs := append(rule.AsLoadErrors(loadErr), rule.AsLoadErrors(compileErr)...)
	for _, e := range errs {
		fmt.Fprintf(out, "%s %s\n", color.New(color.FgRed, color.Bold).Sprint("[E]"), e.Error())
	}
	if len(errs) > 0 {
		sound := 0
		if rs != nil {
			sound = rs.Len()
		}
		return fmt.Errorf("%d rule errors (%d sound rules)", len(errs), sound)
	}

	fmt.Fprintf(out, "%s: %d rules, %d patterns\n", color.New(color.FgGreen).Sprint("OK"), rs.Len(), rs.PatternCount())
	return nil
}

func runRulesTest(cmd *cobra.Command, args []string) error {
	if err := setColor(testColor, cmd.OutOrStdout()); err != nil {
		return err
	}

	var fsys fs.FS
	root := "."
	if len(args) == 1 {
		if _, err := os.Stat(args[0]); err != nil {
			return fmt.Errorf("rules directory does not exist: %s", args[0])
		}
		fsys = os.DirFS(args[0])
	} else {
		fsys, root = rule.BuiltinFS(), "rules"
	}

	runner := ruletest.NewRunner(fsys,
		ruletest.WithRuleSetOptions(cfg.RuleSetOptions()),
		ruletest.WithLogger(logger))
	results, err := runner.Run(commandContext(cmd), root, testFile)
	if err != nil {
		return err
	}

	if failed := ruletest.Print(cmd.OutOrStdout(), results, testSkipOK); failed > 0 {
		return fmt.Errorf("%d rule files failed", failed)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func outputRulesJSON(cmd *cobra.Command, rules []*types.Rule) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(rules)
}

func outputRulesTable(cmd *cobra.Command, rules []*types.Rule) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "ID\tTags\tPatterns\tDescription\n")
	fmt.Fprintf(w, "--\t----\t--------\t-----------\n")

	for _, r := range rules {
		id := r.ID
		if r.Private {
			id += " (private)"
		}
		desc, _ := r.Meta.Get("description")
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", id, strings.Join(r.Tags, ","), len(r.Patterns), desc)
	}

	return nil
}
