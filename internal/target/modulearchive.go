// SPDX-License-Identifier: MPL-2.0

package target

import (
	"path/filepath"

	"coldwrap/internal/config"
	"coldwrap/internal/guts"
	"coldwrap/internal/issue"
	"coldwrap/pkg/archive"
	"coldwrap/pkg/manifest"
)

// bootstrapModules are required to initialize the archive-reading machinery
// inside the launcher. They can never live inside the archive they help read,
// so the module-archive target withholds them and forwards them to the
// package archive as standalone top-level entries.
var bootstrapModules = map[string]bool{
	"cwimp":         true,
	"cwimp.archive": true,
	"cwimp.inflate": true,
}

// ModuleArchive builds the .cwz container of compiled module code.
type ModuleArchive struct {
	cfg  *config.Config
	name string
	out  string
	toc  *manifest.Manifest
	deps *manifest.Manifest
	code map[string]archive.CodeObject
	key  []byte
}

// NewModuleArchive creates the target. name is the output base name
// (without extension); toc lists the modules; code maps each module name to
// its compiled payload; key optionally enables payload encryption.
func NewModuleArchive(cfg *config.Config, name string, toc *manifest.Manifest, code map[string]archive.CodeObject, key []byte) *ModuleArchive {
	t := &ModuleArchive{
		cfg:  cfg,
		name: name,
		out:  filepath.Join(cfg.WorkPath, name+".cwz"),
		toc:  manifest.New(),
		deps: manifest.New(),
		code: code,
		key:  key,
	}
	for _, e := range toc.Filter(manifest.Module).Entries() {
		if bootstrapModules[e.Name] {
			t.deps.Append(e)
		} else {
			t.toc.Append(e)
		}
	}
	return t
}

// Name implements Target.
func (t *ModuleArchive) Name() string { return t.name }

// Kind implements Target.
func (t *ModuleArchive) Kind() string { return "CWZ" }

// OutPath implements Target.
func (t *ModuleArchive) OutPath() string { return t.out }

// EntryKind marks the archive as one opaque module-set entry when referenced
// by a consuming target.
func (t *ModuleArchive) EntryKind() manifest.Kind { return manifest.ModuleSet }

// Dependencies returns the withheld bootstrap modules the package archive
// must carry as standalone entries.
func (t *ModuleArchive) Dependencies() *manifest.Manifest { return t.deps }

// GutsSchema implements Target.
func (t *ModuleArchive) GutsSchema() []guts.Field {
	return []guts.Field{
		{Name: "name", Check: guts.CheckEq},
		{Name: "encrypted", Check: guts.CheckEq},
		{Name: "toc", Check: guts.CheckManifest},
	}
}

// CheckStale implements Target.
func (t *ModuleArchive) CheckStale(prev *guts.Record) bool {
	return staleByGuts(t, prev, t.gutsValues())
}

// Assemble implements Target.
func (t *ModuleArchive) Assemble() error {
	w := &archive.ModuleWriter{Key: t.key}
	if err := w.Build(t.out, t.toc, t.code); err != nil {
		return issue.NewErrorContext().
			WithOperation("assemble module archive").
			WithResource(t.out).
			Wrap(err).
			BuildError()
	}
	return guts.Save(GutsPath(t.cfg, t), t.Kind(), t.gutsValues())
}

func (t *ModuleArchive) gutsValues() []guts.Value {
	return []guts.Value{
		guts.String("name", t.out),
		guts.Bool("encrypted", len(t.key) > 0),
		guts.TOC("toc", t.toc),
	}
}
