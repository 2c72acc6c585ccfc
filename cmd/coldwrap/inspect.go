// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coldwrap/pkg/archive"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <artifact>",
	Short: "List the entries inside a built artifact",
	Long: `List the entries inside a built artifact.

Works on package archives (including executables carrying an appended
archive) and on module archives. The archive directory is read directly;
no payload is extracted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runInspect(args[0]); err != nil {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
			return &ExitError{Code: 1, Err: err}
		}
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func runInspect(path string) error {
	// A module archive declares itself with a leading magic; anything else
	// is treated as a package archive (possibly appended to a stub) and
	// located via its trailer cookie.
	if isModuleArchive(path) {
		return inspectModuleArchive(path)
	}
	return inspectPackageArchive(path)
}

func isModuleArchive(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [4]byte
	if _, err := f.Read(magic[:]); err != nil {
		return false
	}
	return magic == archive.ModuleMagic
}

func inspectModuleArchive(path string) error {
	r, err := archive.OpenModuleArchive(path)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Println(TitleStyle.Render("module archive ") + PathStyle.Render(path))
	for _, e := range r.Entries() {
		var flags []byte
		if e.IsPackage {
			flags = append(flags, 'P')
		}
		if e.Compressed {
			flags = append(flags, 'C')
		}
		if e.Encrypted {
			flags = append(flags, 'E')
		}
		fmt.Printf("  %-40s %8d bytes  %s\n", e.Name, e.Length, flags)
	}
	fmt.Println(SubtitleStyle.Render(fmt.Sprintf("%d entries", len(r.Entries()))))
	return nil
}

func inspectPackageArchive(path string) error {
	r, err := archive.OpenPackage(path)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Println(TitleStyle.Render("package archive ") + PathStyle.Render(path))
	for _, e := range r.Entries() {
		compressed := " "
		if e.Compressed {
			compressed = "C"
		}
		fmt.Printf("  %c %s %-40s %8d -> %8d bytes\n",
			e.TypeCode, compressed, e.Name, e.CompressedLen, e.UncompressedLen)
	}
	fmt.Println(SubtitleStyle.Render(fmt.Sprintf("%d entries", len(r.Entries()))))
	return nil
}
