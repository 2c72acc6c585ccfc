// SPDX-License-Identifier: MPL-2.0

package target

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldwrap/internal/guts"
	"coldwrap/pkg/archive"
	"coldwrap/pkg/manifest"
)

func TestPackageArchiveRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.WorkPath, 0o755))
	src := t.TempDir()
	mod := writeSource(t, src, "a.mod", "module payload")
	lib := writeSource(t, src, "lib.so", "binary payload")

	toc := manifest.New(
		manifest.Entry{Name: "a.mod", Path: mod, Kind: manifest.Module},
		manifest.Entry{Name: "lib.so", Path: lib, Kind: manifest.Binary},
		manifest.Entry{Name: "no-user-site", Kind: manifest.Option},
	)
	tgt := NewPackageArchive(cfg, "app", []Input{FromManifest(toc)}, PackageArchiveOpts{})
	require.NoError(t, tgt.Assemble())

	r, err := archive.OpenPackage(tgt.OutPath())
	require.NoError(t, err)
	defer r.Close()

	payload, err := r.Extract("a.mod")
	require.NoError(t, err)
	assert.Equal(t, "module payload", string(payload))

	e, ok := r.Find("lib.so")
	require.True(t, ok)
	assert.EqualValues(t, archive.TypeBinary, e.TypeCode)

	opt, ok := r.Find("no-user-site")
	require.True(t, ok)
	assert.EqualValues(t, archive.TypeOption, opt.TypeCode)
	assert.Zero(t, opt.UncompressedLen)
}

func TestPackageArchiveStaleness(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.WorkPath, 0o755))
	src := writeSource(t, t.TempDir(), "data.bin", "v1")

	toc := manifest.New(manifest.Entry{Name: "data.bin", Path: src, Kind: manifest.Data})
	tgt := NewPackageArchive(cfg, "app", []Input{FromManifest(toc)}, PackageArchiveOpts{})
	require.NoError(t, tgt.Assemble())

	prev := guts.Load(GutsPath(cfg, tgt), tgt.Kind(), len(tgt.GutsSchema()))
	require.NotNil(t, prev)
	assert.False(t, tgt.CheckStale(prev))

	// Input newer than the archive forces a rebuild even though every
	// declared field still matches.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src, future, future))
	assert.True(t, tgt.CheckStale(prev))
}

func TestPackageArchiveMissingSourceIsFatal(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.WorkPath, 0o755))

	toc := manifest.New(manifest.Entry{
		Name: "gone.bin",
		Path: filepath.Join(t.TempDir(), "gone.bin"),
		Kind: manifest.Data,
	})
	tgt := NewPackageArchive(cfg, "app", []Input{FromManifest(toc)}, PackageArchiveOpts{})
	err := tgt.Assemble()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing source")
	assert.NoFileExists(t, tgt.OutPath())
}

func TestPackageArchiveExcludeBinaries(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.WorkPath, 0o755))
	src := t.TempDir()
	lib := writeSource(t, src, "lib.so", "binary payload")
	dat := writeSource(t, src, "data.bin", "data payload")

	toc := manifest.New(
		manifest.Entry{Name: "lib.so", Path: lib, Kind: manifest.Binary},
		manifest.Entry{Name: "data.bin", Path: dat, Kind: manifest.Data},
	)
	tgt := NewPackageArchive(cfg, "app", []Input{FromManifest(toc)},
		PackageArchiveOpts{ExcludeBinaries: true})

	// The binary is withheld at construction time: consumers snapshot
	// Dependencies before this target ever assembles, and a fresh archive
	// skips assembly entirely.
	require.Equal(t, 1, tgt.Dependencies().Len())
	assert.Equal(t, "lib.so", tgt.Dependencies().Entries()[0].Name)

	require.NoError(t, tgt.Assemble())

	r, err := archive.OpenPackage(tgt.OutPath())
	require.NoError(t, err)
	defer r.Close()
	_, ok := r.Find("lib.so")
	assert.False(t, ok)
	_, ok = r.Find("data.bin")
	assert.True(t, ok)
}

func TestPackageArchiveDuplicateBinaryName(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.WorkPath, 0o755))
	src := t.TempDir()
	first := writeSource(t, src, "one/lib.so", "first")
	second := writeSource(t, src, "two/lib.so", "second")

	toc := manifest.New(manifest.Entry{Name: "lib.so", Path: first, Kind: manifest.Binary})
	dup := NewPackageArchive(cfg, "dup", []Input{
		FromManifest(toc),
		FromEntries(manifest.Entry{Name: "lib.so", Path: second, Kind: manifest.Binary}),
	}, PackageArchiveOpts{})
	require.NoError(t, dup.Assemble())

	r, err := archive.OpenPackage(dup.OutPath())
	require.NoError(t, err)
	defer r.Close()
	payload, err := r.Extract("lib.so")
	require.NoError(t, err)
	assert.Equal(t, "first", string(payload))
}
