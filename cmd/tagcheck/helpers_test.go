package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/config"
)

// banner is 60 block elements, enough for block_art.
var banner = strings.Repeat("░", 20) + strings.Repeat("▒", 20) + strings.Repeat("▓", 20)

// resetGlobals restores the state the root command would set up.
func resetGlobals(t *testing.T) {
	t.Helper()
	cfg = config.Default()
	cfg.Scan.Workers = 2
	logger = zerolog.Nop()
	color.NoColor = true
}

// newTestCommand builds a fresh command so flag state never leaks between
// tests.
func newTestCommand(use string, run func(*cobra.Command, []string) error, flags func(*cobra.Command)) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{Use: use, RunE: run, SilenceUsage: true, SilenceErrors: true}
	if flags != nil {
		flags(cmd)
	}
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd, out, errOut
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
