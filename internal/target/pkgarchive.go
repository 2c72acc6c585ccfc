// SPDX-License-Identifier: MPL-2.0

package target

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/exp/slices"

	"coldwrap/internal/cache"
	"coldwrap/internal/config"
	"coldwrap/internal/guts"
	"coldwrap/internal/issue"
	"coldwrap/pkg/archive"
	"coldwrap/pkg/manifest"
)

// PackageArchiveOpts tunes a package-archive build.
type PackageArchiveOpts struct {
	// CDict overrides the per-kind compression policy. Nil selects the
	// defaults: everything compressed except embedded module archives,
	// whose contents are already individually compressed.
	CDict map[manifest.Kind]bool
	// ExcludeBinaries withholds binary and extension entries and forwards
	// them to the enclosing collect target (onedir mode). Dependency
	// references are kept, they have no payload to exclude.
	ExcludeBinaries bool
	// Strip runs the external strip tool on native binaries.
	Strip bool
	// Pack runs the external packer on native binaries.
	Pack bool
}

// PackageArchive builds the .cwp container embedded into or shipped beside
// an executable.
type PackageArchive struct {
	cfg   *config.Config
	name  string
	out   string
	toc   *manifest.Manifest
	deps  *manifest.Manifest
	opts  PackageArchiveOpts
	cache *cache.Cache
}

// NewPackageArchive creates the target from build inputs.
func NewPackageArchive(cfg *config.Config, name string, inputs []Input, opts PackageArchiveOpts) *PackageArchive {
	if opts.CDict == nil {
		opts.CDict = map[manifest.Kind]bool{
			manifest.Module:     true,
			manifest.Source:     true,
			manifest.Extension:  true,
			manifest.Data:       true,
			manifest.Binary:     true,
			manifest.Executable: true,
			manifest.Zip:        true,
			manifest.Package:    true,
			manifest.ModuleSet:  false,
		}
	}
	t := &PackageArchive{
		cfg:  cfg,
		name: name,
		out:  filepath.Join(cfg.WorkPath, name+".cwp"),
		toc:  manifest.New(),
		deps: manifest.New(),
		opts: opts,
		cache: &cache.Cache{
			Dir:      cfg.CacheDir,
			StripCmd: cfg.StripCmd,
			PackCmd:  cfg.PackCmd,
		},
	}
	resolve(t.toc, inputs)
	if opts.ExcludeBinaries {
		// Partition up front so consumers constructed afterwards (the
		// collect target snapshots Dependencies) see the withheld
		// binaries even when the archive itself is still fresh.
		kept := manifest.New()
		for _, e := range t.toc.Entries() {
			if e.Kind == manifest.Binary || e.Kind == manifest.Extension {
				t.deps.Append(e)
				continue
			}
			kept.Append(e)
		}
		t.toc = kept
	}
	return t
}

// Name implements Target.
func (t *PackageArchive) Name() string { return t.name }

// Kind implements Target.
func (t *PackageArchive) Kind() string { return "CWP" }

// OutPath implements Target.
func (t *PackageArchive) OutPath() string { return t.out }

// EntryKind marks the archive as a nested package when referenced by a
// consuming target.
func (t *PackageArchive) EntryKind() manifest.Kind { return manifest.Package }

// Dependencies returns the binaries withheld by ExcludeBinaries.
func (t *PackageArchive) Dependencies() *manifest.Manifest { return t.deps }

// GutsSchema implements Target.
func (t *PackageArchive) GutsSchema() []guts.Field {
	return []guts.Field{
		{Name: "name", Check: guts.CheckEq},
		{Name: "cdict", Check: guts.CheckEq},
		{Name: "toc", Check: guts.CheckManifest},
		{Name: "exclude_binaries", Check: guts.CheckEq},
		{Name: "strip", Check: guts.CheckEq},
		{Name: "pack", Check: guts.CheckEq},
	}
}

// CheckStale implements Target. Beyond the shared field compare, the archive
// is stale whenever any input file is newer than the built archive.
func (t *PackageArchive) CheckStale(prev *guts.Record) bool {
	if staleByGuts(t, prev, t.gutsValues()) {
		return true
	}
	outTime := time.Unix(0, mtimeOf(t.out))
	cur := guts.TOC("toc", t.toc)
	if path, newer := guts.NewerThan(cur.Toc, outTime); newer {
		log.Info("rebuilding, input newer than archive", "name", t.name, "input", path)
		return true
	}
	return false
}

// Assemble implements Target.
func (t *PackageArchive) Assemble() error {
	entries, err := t.plan()
	if err != nil {
		return err
	}

	w := &archive.PackageWriter{RuntimeLib: t.cfg.RuntimeLib}
	if err := w.Build(t.out, entries); err != nil {
		return issue.NewErrorContext().
			WithOperation("assemble package archive").
			WithResource(t.out).
			Wrap(err).
			BuildError()
	}
	return guts.Save(GutsPath(t.cfg, t), t.Kind(), t.gutsValues())
}

// plan turns the manifest into writer entries, applying the missing-source,
// duplicate, and content-cache rules in manifest order.
func (t *PackageArchive) plan() ([]archive.PackageEntry, error) {
	var entries []archive.PackageEntry
	seenNames := map[string]string{}
	seenPaths := map[string]string{}

	for _, e := range t.toc.Entries() {
		if e.Path != "" {
			if _, err := os.Stat(e.Path); err != nil {
				if isZipResolvable(e.Path) {
					// Resolved from the zipped dependency at load time.
					continue
				}
				return nil, issue.NewErrorContext().
					WithOperation("assemble package archive").
					WithResource(e.Path).
					WithSuggestion("Check the entry's source path in the build spec").
					Wrap(fmt.Errorf("missing source for entry %s", e.Name)).
					BuildError()
			}
		}

		switch e.Kind {
		case manifest.Binary, manifest.Extension, manifest.Dependency:
			if e.Kind == manifest.Binary {
				if prev, dup := seenNames[e.Name]; dup {
					log.Warn("two binaries with one logical name, skipping the second",
						"name", e.Name, "kept", prev, "skipped", e.Path)
					continue
				}
				if prev, dup := seenPaths[e.Path]; dup {
					log.Warn("one binary stored under two logical names",
						"path", e.Path, "previous", prev, "also", e.Name)
				}
			}
			seenNames[e.Name] = e.Path
			seenPaths[e.Path] = e.Name

			src := e.Path
			if e.Kind != manifest.Dependency {
				var err error
				src, err = t.cache.Transform(e.Path, t.opts.Strip, t.opts.Pack, e.Name)
				if err != nil {
					return nil, issue.WrapWithContext(err, "transform binary", e.Path)
				}
			}
			entries = append(entries, archive.PackageEntry{
				Name:     e.Name,
				Path:     src,
				Compress: t.opts.CDict[e.Kind],
				TypeCode: archive.TypeCodeFor(e.Kind),
			})
		case manifest.Option:
			entries = append(entries, archive.PackageEntry{
				Name:     e.Name,
				TypeCode: archive.TypeOption,
			})
		default:
			entries = append(entries, archive.PackageEntry{
				Name:     e.Name,
				Path:     e.Path,
				Compress: t.opts.CDict[e.Kind],
				TypeCode: archive.TypeCodeFor(e.Kind),
			})
		}
	}
	return entries, nil
}

func (t *PackageArchive) gutsValues() []guts.Value {
	return []guts.Value{
		guts.String("name", t.out),
		guts.String("cdict", t.cdictString()),
		guts.TOC("toc", t.toc),
		guts.Bool("exclude_binaries", t.opts.ExcludeBinaries),
		guts.Bool("strip", t.opts.Strip),
		guts.Bool("pack", t.opts.Pack),
	}
}

// cdictString encodes the compression policy deterministically for the guts
// record.
func (t *PackageArchive) cdictString() string {
	parts := make([]string, 0, len(t.opts.CDict))
	for k, v := range t.opts.CDict {
		parts = append(parts, fmt.Sprintf("%s=%t", k, v))
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}
