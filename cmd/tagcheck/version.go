package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tagcheck/tagcheck/pkg/sarif"
	"github.com/tagcheck/tagcheck/pkg/serve"
)

var (
	version = "dev"
	commit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display the version of tagcheck",
	RunE:  runVersion,
}

func init() {
	sarif.ToolVersion = version
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tagcheck v%s\n", version)
	fmt.Fprintf(out, "Commit: %s\n", commit)
	fmt.Fprintf(out, "Serve protocol: %s\n", serve.Version)
	fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}
