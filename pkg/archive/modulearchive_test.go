// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldwrap/pkg/manifest"
)

func moduleToc() (*manifest.Manifest, map[string]CodeObject) {
	toc := manifest.New(
		manifest.Entry{Name: "app", Path: "/src/app.cwc", Kind: manifest.Module},
		manifest.Entry{Name: "app.util", Path: "/src/app/util.cwc", Kind: manifest.Module},
	)
	code := map[string]CodeObject{
		"app":      {Code: []byte("package app code"), IsPackage: true},
		"app.util": {Code: []byte("module util code")},
	}
	return toc, code
}

func TestModuleArchiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.cwz")
	toc, code := moduleToc()

	w := &ModuleWriter{}
	require.NoError(t, w.Build(path, toc, code))

	r, err := OpenModuleArchive(path)
	require.NoError(t, err)
	defer r.Close()

	e, ok := r.Entry("app")
	require.True(t, ok)
	assert.True(t, e.IsPackage)
	assert.True(t, e.Compressed)
	assert.False(t, e.Encrypted)

	data, err := r.Extract("app.util")
	require.NoError(t, err)
	assert.Equal(t, "module util code", string(data))

	// Index order matches layout order.
	var names []string
	for _, e := range r.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"app", "app.util"}, names)
}

func TestModuleArchiveEncrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.cwz")
	toc, code := moduleToc()
	key := []byte("0123456789abcdef")

	w := &ModuleWriter{Key: key}
	require.NoError(t, w.Build(path, toc, code))

	r, err := OpenModuleArchive(path)
	require.NoError(t, err)
	defer r.Close()

	// Key entry is first and unencrypted.
	entries := r.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, KeyEntryName, entries[0].Name)
	assert.False(t, entries[0].Encrypted)

	e, ok := r.Entry("app.util")
	require.True(t, ok)
	assert.True(t, e.Encrypted)

	data, err := r.Extract("app.util")
	require.NoError(t, err)
	assert.Equal(t, "module util code", string(data))
}

func TestModuleArchiveMissingCodeObjectFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.cwz")
	toc, code := moduleToc()
	delete(code, "app.util")

	err := (&ModuleWriter{}).Build(path, toc, code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.util")
}

func TestModuleArchiveBadKeyLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.cwz")
	toc, code := moduleToc()
	err := (&ModuleWriter{Key: []byte("short")}).Build(path, toc, code)
	assert.Error(t, err)
}
