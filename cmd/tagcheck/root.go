package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tagcheck/tagcheck/pkg/config"
	"github.com/tagcheck/tagcheck/pkg/logging"
)

var (
	verbose    bool
	quiet      bool
	configPath string
	logFormat  string

	// Set by the root command before any subcommand runs.
	cfg    = config.Default()
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "tagcheck",
	Short: "tagcheck - static detection rules over artifacts and their facts",
	Long: `tagcheck evaluates detection rules against files, archives and git history.

A rule combines byte patterns (text, hex and regex) with predicates over facts
extracted from the artifact, such as its file name or the domains it contacts.
Rules may reference other rules, which is how suppression rules are written.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console, json")

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration file and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = c

	level := cfg.Log.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	format := cfg.Log.Format
	if logFormat != "" {
		format = logFormat
	}
	l, err := logging.New(logging.Config{Level: level, Format: format, Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return c, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
