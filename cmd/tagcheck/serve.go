package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tagcheck/tagcheck/pkg/scanner"
	"github.com/tagcheck/tagcheck/pkg/serve"
)

var (
	serveRules ruleFlags
	serveFacts []string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a streaming NDJSON scan server",
	Long: `Run tagcheck as a long-lived server that accepts scan requests via stdin
and writes reports to stdout, one JSON object per line.

The process loads rules once at startup and processes requests until stdin
closes or SIGTERM is received. With --watch, rule files given with --rules
are reloaded when they change.`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	serveRules.register(cmd)
	cmd.Flags().StringArrayVar(&serveFacts, "fact", nil, "Fact added to every artifact, as field=value (repeatable)")
	cmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload rules when rule files change")
}

func runServe(cmd *cobra.Command, args []string) error {
	serveRules.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if serveWatch && len(cfg.Rules.Paths) == 0 {
		return fmt.Errorf("--watch needs rule paths (--rules)")
	}

	static, err := staticFacts(cfg, serveFacts)
	if err != nil {
		return err
	}
	reload := func() (*scanner.Core, error) {
		return newCore(cfg, static)
	}
	core, err := reload()
	if err != nil {
		return err
	}

	// Set up signal handling
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create and run server
	srv := serve.NewServer(core, cmd.InOrStdin(), cmd.OutOrStdout(),
		serve.WithReloader(reload),
		serve.WithLogger(logger))

	if serveWatch {
		go func() {
			if err := srv.Watch(ctx, cfg.Rules.Paths, serve.DefaultDebounce); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("rule watcher stopped")
			}
		}()
	}

	err = srv.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
