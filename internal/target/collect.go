// SPDX-License-Identifier: MPL-2.0

package target

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"coldwrap/internal/cache"
	"coldwrap/internal/config"
	"coldwrap/internal/guts"
	"coldwrap/internal/issue"
	"coldwrap/pkg/fspath"
	"coldwrap/pkg/manifest"
)

// Collect materializes the unpacked distribution tree (onedir mode).
//
// Collect is always stale: verifying a whole directory tree entry by entry
// costs as much as rebuilding it, and stale cruft left in the output would
// ship to users. Every run deletes and recreates the tree.
type Collect struct {
	cfg   *config.Config
	name  string
	out   string
	toc   *manifest.Manifest
	strip bool
	pack  bool
	cache *cache.Cache
}

// CollectOpts tunes a collect build.
type CollectOpts struct {
	Strip bool
	Pack  bool
}

// NewCollect creates the target. name is the output directory base name
// under the dist path.
func NewCollect(cfg *config.Config, name string, inputs []Input, opts CollectOpts) *Collect {
	t := &Collect{
		cfg:   cfg,
		name:  name,
		out:   filepath.Join(cfg.DistPath, filepath.Base(name)),
		toc:   manifest.New(),
		strip: opts.Strip,
		pack:  opts.Pack,
		cache: &cache.Cache{
			Dir:      cfg.CacheDir,
			StripCmd: cfg.StripCmd,
			PackCmd:  cfg.PackCmd,
		},
	}
	for _, in := range inputs {
		if exe, ok := in.tgt.(*Executable); ok {
			// A referenced executable contributes itself, and its
			// side-placed archive when it does not embed one.
			t.toc.Append(manifest.Entry{
				Name: filepath.Base(exe.OutPath()),
				Path: exe.OutPath(),
				Kind: manifest.Executable,
			})
			if !exe.opts.AppendPkg {
				t.toc.Append(manifest.Entry{
					Name: filepath.Base(exe.PkgSidePath()),
					Path: exe.PkgSidePath(),
					Kind: manifest.Package,
				})
			}
			t.toc.Extend(exe.Dependencies())
			continue
		}
		resolve(t.toc, []Input{in})
	}
	return t
}

// Name implements Target.
func (t *Collect) Name() string { return t.name }

// Kind implements Target.
func (t *Collect) Kind() string { return "COLLECT" }

// OutPath implements Target.
func (t *Collect) OutPath() string { return t.out }

// GutsSchema implements Target.
func (t *Collect) GutsSchema() []guts.Field {
	return []guts.Field{
		{Name: "name", Check: guts.CheckEq},
		{Name: "strip", Check: guts.CheckEq},
		{Name: "pack", Check: guts.CheckEq},
		{Name: "toc", Check: guts.CheckEq},
	}
}

// CheckStale implements Target: a collect target always rebuilds.
func (t *Collect) CheckStale(prev *guts.Record) bool {
	return true
}

// Assemble implements Target.
func (t *Collect) Assemble() error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	// The delete guard. A violation aborts the whole build; there is no
	// prompt and no retry.
	if err := fspath.CheckOverlap(t.out, cwd, t.cfg.WorkPath); err != nil {
		return issue.NewErrorContext().
			WithOperation("clear collect output directory").
			WithResource(t.out).
			WithSuggestion("Choose a dedicated dist_path in the coldwrap config").
			Wrap(err).
			BuildError()
	}
	// Reject bad logical names before touching the existing tree, so a
	// poisoned manifest cannot leave the user with a half-deleted dist.
	for _, e := range t.toc.Entries() {
		if e.Kind == manifest.Option || e.Kind == manifest.Dependency {
			continue
		}
		if err := fspath.ValidateRelName(e.Name); err != nil {
			return issue.NewErrorContext().
				WithOperation("collect distribution tree").
				WithResource(e.Name).
				Wrap(err).
				BuildError()
		}
	}
	if info, err := os.Stat(t.out); err == nil && info.IsDir() {
		if err := os.RemoveAll(t.out); err != nil {
			return fmt.Errorf("removing stale output directory: %w", err)
		}
	}
	if err := os.MkdirAll(t.out, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	for _, e := range t.toc.Entries() {
		if e.Kind == manifest.Option {
			continue
		}
		if e.Kind == manifest.Dependency {
			// Resolved against the owning build's archive at run
			// time; nothing to place on disk.
			continue
		}
		if _, err := os.Stat(e.Path); err != nil {
			if isZipResolvable(e.Path) {
				continue
			}
			return issue.NewErrorContext().
				WithOperation("collect distribution tree").
				WithResource(e.Path).
				Wrap(fmt.Errorf("missing source for entry %s", e.Name)).
				BuildError()
		}
		src := e.Path
		binary := e.Kind == manifest.Binary || e.Kind == manifest.Extension
		if binary {
			src, err = t.cache.Transform(e.Path, t.strip, t.pack, e.Name)
			if err != nil {
				return issue.WrapWithContext(err, "transform binary", e.Path)
			}
		}

		dst := filepath.Join(t.out, filepath.FromSlash(e.Name))
		perm := os.FileMode(0o644)
		if binary || e.Kind == manifest.Executable {
			perm = 0o755
		}
		if err := copyFileChunked(src, dst, perm); err != nil {
			return fmt.Errorf("collecting %s: %w", e.Name, err)
		}
		if err := copyTimes(src, dst); err != nil {
			log.Warn("failed to copy file metadata", "name", e.Name, "err", err)
		}
	}

	return guts.Save(GutsPath(t.cfg, t), t.Kind(), []guts.Value{
		guts.String("name", t.out),
		guts.Bool("strip", t.strip),
		guts.Bool("pack", t.pack),
		guts.TOC("toc", t.toc),
	})
}

// copyTimes preserves the source timestamps on the copy, best effort.
func copyTimes(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
