// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coldwrap/pkg/fspath"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the intermediate build directory",
	Long: `Remove the intermediate build directory.

Finished artifacts under the dist path are left alone; only intermediate
archives, guts records, and scratch files are deleted. The next build
starts from scratch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runClean(); err != nil {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
			return &ExitError{Code: 1, Err: err}
		}
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func runClean() error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	// Same containment guard as the collect target: never delete a
	// directory that is, or contains, the working directory.
	if err := fspath.CheckOverlap(cfg.WorkPath, cwd); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.WorkPath); os.IsNotExist(err) {
		fmt.Println(SubtitleStyle.Render("nothing to clean"))
		return nil
	}
	if err := os.RemoveAll(cfg.WorkPath); err != nil {
		return fmt.Errorf("removing work directory: %w", err)
	}
	fmt.Println(SuccessStyle.Render("✓ ") + "removed " + PathStyle.Render(cfg.WorkPath))
	return nil
}
