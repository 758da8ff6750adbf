package ruletest

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	okLabel   = color.New(color.FgGreen)
	failLabel = color.New(color.FgRed, color.Bold)
	ruleName  = color.New(color.FgBlue)
)

func describe(o Outcome) string {
	if o.Matched {
		return fmt.Sprintf("matched %s in %s", ruleName.Sprint(o.RuleID), o.Test)
	}
	return fmt.Sprintf("not matched %s in %s", ruleName.Sprint(o.RuleID), o.Test)
}

// Print writes a summary of results to w and returns the number of rule files
// that failed. Passing files are listed with their checks unless skipOK is
// set.
func Print(w io.Writer, results []*Result, skipOK bool) int {
	failed := 0
	for _, r := range results {
		if r.Passed() {
			if skipOK {
				continue
			}
			if r.TestsPath == "" {
				fmt.Fprintf(w, "%s: No tests found for %s\n", okLabel.Sprint("OK"), r.RulesPath)
				continue
			}
			fmt.Fprintf(w, "%s: All tests passed for %s\n", okLabel.Sprint("OK"), r.RulesPath)
			for _, o := range r.OK {
				fmt.Fprintf(w, "   [%s] %s\n", okLabel.Sprint("O"), describe(o))
			}
			continue
		}

		failed++
		fmt.Fprintf(w, "%s: Some tests failed for %s\n", failLabel.Sprint("FAIL"), r.RulesPath)
		for _, o := range r.Fail {
			fmt.Fprintf(w, "   [%s] %s\n", failLabel.Sprint("X"), describe(o))
		}
		for _, err := range r.Errors {
			fmt.Fprintf(w, "   [%s] %v\n", failLabel.Sprint("E"), err)
		}
	}
	fmt.Fprintf(w, "Total: %d files, %d failed\n", len(results), failed)
	return failed
}
