package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tagcheck/tagcheck/pkg/config"
	"github.com/tagcheck/tagcheck/pkg/facts"
	"github.com/tagcheck/tagcheck/pkg/matcher"
	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/scanner"
	"github.com/tagcheck/tagcheck/pkg/telemetry"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// ruleFlags are the rule selection flags shared by scan, serve and rules.
type ruleFlags struct {
	paths    []string
	include  string
	exclude  string
	tolerant bool
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.paths, "rules", nil, "Rule files or directories (default: built-in rules)")
	cmd.Flags().StringVar(&f.include, "rules-include", "", "Only report rules matching these globs (comma-separated, tag:<glob> selects by tag)")
	cmd.Flags().StringVar(&f.exclude, "rules-exclude", "", "Do not report rules matching these globs (comma-separated, tag:<glob> selects by tag)")
	cmd.Flags().BoolVar(&f.tolerant, "tolerant", false, "Drop broken rules instead of rejecting the rule set")
}

// apply overrides c with the flags the user set.
func (f *ruleFlags) apply(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("rules") {
		c.Rules.Paths = f.paths
	}
	if cmd.Flags().Changed("rules-include") {
		c.Rules.Include = rule.ParsePatterns(f.include)
	}
	if cmd.Flags().Changed("rules-exclude") {
		c.Rules.Exclude = rule.ParsePatterns(f.exclude)
	}
	if cmd.Flags().Changed("tolerant") {
		c.Rules.Tolerant = f.tolerant
	}
}

// staticFacts parses repeated "field=value" flags over the configured facts.
func staticFacts(c *config.Config, assignments []string) (types.Facts, error) {
	f := types.Facts{}
	for field, values := range c.Scan.Facts {
		f.Add(field, values...)
	}
	for _, a := range assignments {
		field, value, err := facts.ParseAssignment(a)
		if err != nil {
			return nil, err
		}
		f.Add(field, value)
	}
	return f, nil
}

// newCore compiles the configured rules into a scanner core. Recorded
// metrics go to the global OpenTelemetry meter provider.
func newCore(c *config.Config, static types.Facts) (*scanner.Core, error) {
	rec, err := telemetry.NewRecorder()
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	cache, err := matcher.NewCache(c.Matcher.CacheSize, matcher.WithCacheObserver(rec.CacheLookup))
	if err != nil {
		return nil, err
	}

	collectors := []facts.Collector{facts.FileCollector{}}
	if len(static) > 0 {
		collectors = append(collectors, facts.Static(static))
	}

	return scanner.NewCore(c.Rules.Paths, c.RuleSetOptions(),
		scanner.WithSelection(c.Filter()),
		scanner.WithTimeout(c.Scan.Timeout),
		scanner.WithCollectors(collectors...),
		scanner.WithCache(cache),
		scanner.WithRecorder(rec),
		scanner.WithLogger(logger),
	)
}

// setColor enables or disables colored output. "auto" colors only a
// terminal and honors NO_COLOR.
func setColor(mode string, out any) error {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	case "auto", "":
		f, ok := out.(*os.File)
		color.NoColor = !ok || !term.IsTerminal(int(f.Fd())) || os.Getenv("NO_COLOR") != ""
	default:
		return fmt.Errorf("unknown color mode: %s", mode)
	}
	return nil
}
