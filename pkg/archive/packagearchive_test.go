// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldwrap/pkg/manifest"
)

func writeSrc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func buildSample(t *testing.T, out string) []PackageEntry {
	t.Helper()
	dir := t.TempDir()
	entries := []PackageEntry{
		{Name: "a.cwc", Path: writeSrc(t, dir, "a.cwc", "module payload"), Compress: true, TypeCode: TypeModule},
		{Name: "lib.so", Path: writeSrc(t, dir, "lib.so", "binary payload"), Compress: true, TypeCode: TypeBinary},
		{Name: "mods.cwz", Path: writeSrc(t, dir, "mods.cwz", "nested module archive"), Compress: false, TypeCode: TypeModuleSet},
		{Name: "S", TypeCode: TypeOption},
		{Name: "../sibling/out:shared.so", TypeCode: TypeDependency},
	}
	w := &PackageWriter{RuntimeLib: "libcwrt.so"}
	require.NoError(t, w.Build(out, entries))
	return entries
}

func TestPackageArchiveRoundTrip(t *testing.T) {
	out := filepath.Join(t.TempDir(), "app.cwp")
	buildSample(t, out)

	r, err := OpenPackage(out)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "libcwrt.so", r.RuntimeLib)
	require.Len(t, r.Entries(), 5)

	mod, ok := r.Find("a.cwc")
	require.True(t, ok)
	assert.Equal(t, byte(TypeModule), mod.TypeCode)
	assert.True(t, mod.Compressed)
	data, err := r.Extract("a.cwc")
	require.NoError(t, err)
	assert.Equal(t, "module payload", string(data))

	bin, ok := r.Find("lib.so")
	require.True(t, ok)
	assert.Equal(t, byte(TypeBinary), bin.TypeCode)
	data, err = r.Extract("lib.so")
	require.NoError(t, err)
	assert.Equal(t, "binary payload", string(data))

	// Module set entries are stored raw.
	ms, ok := r.Find("mods.cwz")
	require.True(t, ok)
	assert.False(t, ms.Compressed)
	assert.Equal(t, ms.CompressedLen, ms.UncompressedLen)

	// Option and dependency entries carry no payload.
	opt, ok := r.Find("S")
	require.True(t, ok)
	assert.Zero(t, opt.CompressedLen)
	dep, ok := r.Find("../sibling/out:shared.so")
	require.True(t, ok)
	assert.Equal(t, byte(TypeDependency), dep.TypeCode)
	assert.Zero(t, dep.UncompressedLen)
}

func TestPackageArchiveAppendedToCarrier(t *testing.T) {
	dir := t.TempDir()
	arc := filepath.Join(dir, "app.cwp")
	buildSample(t, arc)

	// Simulate an assembled executable: stub bytes then the archive blob.
	carrier := filepath.Join(dir, "app")
	stub := []byte("LAUNCHER STUB BYTES OF ARBITRARY LENGTH 12345")
	blob, err := os.ReadFile(arc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(carrier, append(stub, blob...), 0o755))

	r, err := OpenPackage(carrier)
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Extract("lib.so")
	require.NoError(t, err)
	assert.Equal(t, "binary payload", string(data))
}

func TestPackageArchiveRejectsUnsafeNames(t *testing.T) {
	dir := t.TempDir()
	src := writeSrc(t, dir, "x", "payload")

	for _, name := range []string{"../escape", "/abs/path"} {
		out := filepath.Join(dir, "out.cwp")
		err := (&PackageWriter{RuntimeLib: "rt"}).Build(out, []PackageEntry{
			{Name: name, Path: src, Compress: true, TypeCode: TypeData},
		})
		require.Error(t, err, name)
		// Nothing may be written for a rejected manifest.
		_, statErr := os.Stat(out)
		assert.True(t, os.IsNotExist(statErr), name)
	}
}

func TestPackageArchiveRuntimeLibTooLong(t *testing.T) {
	err := (&PackageWriter{RuntimeLib: "a-very-long-runtime-library-name.so"}).
		Build(filepath.Join(t.TempDir(), "o.cwp"), nil)
	assert.Error(t, err)
}

func TestTypeCodeFor(t *testing.T) {
	assert.Equal(t, byte(TypeModule), TypeCodeFor(manifest.Module))
	assert.Equal(t, byte(TypeBinary), TypeCodeFor(manifest.Extension))
	assert.Equal(t, byte(TypeBinary), TypeCodeFor(manifest.Executable))
	assert.Equal(t, byte(TypeModuleSet), TypeCodeFor(manifest.ModuleSet))
	assert.Equal(t, byte(TypeOption), TypeCodeFor(manifest.Option))
	assert.Equal(t, byte(TypeDependency), TypeCodeFor(manifest.Dependency))
}
