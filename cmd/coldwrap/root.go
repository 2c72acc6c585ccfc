// SPDX-License-Identifier: MPL-2.0

// Command coldwrap packages an application and its runtime dependencies into
// a standalone executable or distribution directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"coldwrap/internal/config"
	"coldwrap/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables debug output.
	verbose bool
	// cfgFile allows specifying a custom config file.
	cfgFile string

	// cfg is the configuration resolved once before any RunE handler runs.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "coldwrap",
		Short: "Package an application into a standalone executable",
		Long: TitleStyle.Render("coldwrap") + SubtitleStyle.Render(" - standalone application packager") + `

coldwrap bundles an application's modules, native libraries, and data
files into a single self-contained executable, or into an unpacked
distribution directory. Build descriptions live in CUE spec files and
builds are incremental: targets whose inputs are unchanged are skipped.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Write a coldwrap.cue describing your app
  2. Run: coldwrap build
  3. Find the result under dist/

` + SubtitleStyle.Render("Examples:") + `
  coldwrap build                Build every app in ./coldwrap.cue
  coldwrap build my-spec.cue    Build from a specific spec file
  coldwrap inspect dist/app     List the entries inside an artifact
  coldwrap clean                Remove the intermediate build directory`,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(cleanCmd)
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command. Called once, by main.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig resolves configuration before any command runs.
func initRootConfig() {
	provider := config.NewProvider()
	loaded, err := provider.Load(context.Background(), config.LoadOptions{
		ConfigFilePath: cfgFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
		os.Exit(1)
	}
	cfg = loaded

	if !verbose {
		verbose = cfg.Verbose
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// formatErrorForDisplay renders an error for the user; ActionableErrors get
// their suggestion list, and verbose mode shows the full cause chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
