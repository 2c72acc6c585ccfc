// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"coldwrap/internal/config"
	"coldwrap/internal/target"
	"coldwrap/pkg/archive"
	"coldwrap/pkg/manifest"
	"coldwrap/pkg/specfile"
)

// defaultSpecFile is looked for in the working directory when the build
// command is given no argument.
const defaultSpecFile = "coldwrap.cue"

var buildCmd = &cobra.Command{
	Use:   "build [spec-file]",
	Short: "Build every app described by a spec file",
	Long: `Build every application described by a coldwrap spec file.

Targets are incremental: an archive or executable whose recorded inputs
are unchanged is skipped. Pass --verbose to see why targets rebuild.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specPath := defaultSpecFile
		if len(args) == 1 {
			specPath = args[0]
		}
		if err := runBuild(specPath); err != nil {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
			return &ExitError{Code: 1, Err: err}
		}
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func runBuild(specPath string) error {
	spec, err := specfile.Parse(specPath)
	if err != nil {
		return err
	}

	buildCfg := *cfg
	if spec.WorkPath != "" {
		buildCfg.WorkPath = spec.WorkPath
	}
	if spec.DistPath != "" {
		buildCfg.DistPath = spec.DistPath
	}

	graphs := specGraphs(spec)
	if spec.Merge {
		if err := target.Merge(graphs); err != nil {
			return err
		}
	}

	for i, app := range spec.Apps {
		if err := buildApp(&buildCfg, app, graphs[i]); err != nil {
			return err
		}
		fmt.Println(SuccessStyle.Render("✓ ") + app.Name)
	}
	return nil
}

// specGraphs lifts each app's binary and data manifests into merge graphs.
// Without merging these are just carriers; with merging enabled the merge
// pass rewrites them in place before any target is constructed.
func specGraphs(spec *specfile.Spec) []*target.MergeGraph {
	graphs := make([]*target.MergeGraph, len(spec.Apps))
	for i, app := range spec.Apps {
		graphs[i] = &target.MergeGraph{
			Script:   app.Script,
			ID:       app.Name,
			OutPath:  app.Name,
			Binaries: app.BinaryManifest(),
			Datas:    app.DataManifest(),
			Depends:  manifest.New(),
		}
	}
	return graphs
}

func buildApp(cfg *config.Config, app specfile.App, mg *target.MergeGraph) error {
	log.Info("building app", "name", app.Name, "onefile", app.OneFile)

	mods := app.ModuleManifest()
	code, err := readCodeObjects(mods)
	if err != nil {
		return err
	}
	cwz := target.NewModuleArchive(cfg, app.Name, mods, code, []byte(app.EncryptKey))

	inputs := []target.Input{
		target.FromEntries(manifest.Entry{
			Name: filepath.Base(app.Script),
			Path: app.Script,
			Kind: manifest.Source,
		}),
		target.FromTarget(cwz),
		target.FromManifest(mg.Binaries),
		target.FromManifest(mg.Datas),
		target.FromManifest(mg.Depends),
	}

	exe := target.NewExecutable(cfg, app.Name, inputs, target.ExecutableOpts{
		Console:         app.Console,
		Debug:           app.Debug,
		Icon:            app.Icon,
		VersionInfo:     app.VersionInfo,
		ManifestXML:     app.ManifestXML,
		Resources:       app.Resources,
		Strip:           app.Strip,
		Pack:            app.Pack,
		AppendPkg:       app.OneFile,
		ExcludeBinaries: !app.OneFile,
	}, nil)

	g := target.NewGraph(cfg)
	g.Add(cwz, exe.Pkg(), exe)
	if !app.OneFile {
		g.Add(target.NewCollect(cfg, app.Name,
			[]target.Input{target.FromTarget(exe)},
			target.CollectOpts{Strip: app.Strip, Pack: app.Pack}))
	}
	return g.Run()
}

// readCodeObjects loads each module's compiled payload from its source path.
// Compilation itself is the job of an external toolchain; by the time a spec
// reaches coldwrap the listed module files already hold compiled code.
func readCodeObjects(mods *manifest.Manifest) (map[string]archive.CodeObject, error) {
	code := make(map[string]archive.CodeObject, mods.Len())
	for _, e := range mods.Entries() {
		data, err := os.ReadFile(e.Path)
		if err != nil {
			return nil, fmt.Errorf("reading module %s: %w", e.Name, err)
		}
		code[e.Name] = archive.CodeObject{
			Code:      data,
			IsPackage: isPackageFile(e.Path),
		}
	}
	return code, nil
}

// isPackageFile reports whether a module file is a package initializer.
func isPackageFile(path string) bool {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) == "__init__"
}
