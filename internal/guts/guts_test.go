// SPDX-License-Identifier: MPL-2.0

package guts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldwrap/pkg/manifest"
)

func sampleValues() []Value {
	toc := manifest.New(
		manifest.Entry{Name: "lib.so", Path: "/src/lib.so", Kind: manifest.Binary},
		manifest.Entry{Name: "data.bin", Path: "/src/data.bin", Kind: manifest.Data},
	)
	return []Value{
		String("name", "app.cwp"),
		Bool("strip", true),
		TOC("toc", toc),
	}
}

func sampleSchema() []Field {
	return []Field{
		{Name: "name", Check: CheckEq},
		{Name: "strip", Check: CheckEq},
		{Name: "toc", Check: CheckManifest},
	}
}

func TestRoundTripNotStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.guts")
	vals := sampleValues()
	require.NoError(t, Save(path, "PKG", vals))

	rec := Load(path, "PKG", len(vals))
	require.NotNil(t, rec)

	field, ok := Compare(sampleSchema(), rec, sampleValues())
	assert.True(t, ok)
	assert.Empty(t, field)
}

func TestLoadToleratesGarbage(t *testing.T) {
	dir := t.TempDir()

	// Missing file.
	assert.Nil(t, Load(filepath.Join(dir, "absent.guts"), "PKG", 3))

	// Corrupt TOML.
	bad := filepath.Join(dir, "bad.guts")
	require.NoError(t, os.WriteFile(bad, []byte("version = [broken"), 0o644))
	assert.Nil(t, Load(bad, "PKG", 3))

	// Valid record, wrong kind and wrong arity.
	good := filepath.Join(dir, "good.guts")
	require.NoError(t, Save(good, "PKG", sampleValues()))
	assert.Nil(t, Load(good, "EXE", 3))
	assert.Nil(t, Load(good, "PKG", 4))
}

func TestCompareDetectsMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.guts")
	require.NoError(t, Save(path, "PKG", sampleValues()))
	rec := Load(path, "PKG", 3)
	require.NotNil(t, rec)

	cur := sampleValues()
	cur[1] = Bool("strip", false)
	field, ok := Compare(sampleSchema(), rec, cur)
	assert.False(t, ok)
	assert.Equal(t, "strip", field)
}

func TestCompareManifestIgnoresOrderNotMembership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.guts")
	require.NoError(t, Save(path, "PKG", sampleValues()))
	rec := Load(path, "PKG", 3)
	require.NotNil(t, rec)

	reordered := manifest.New(
		manifest.Entry{Name: "data.bin", Path: "/src/data.bin", Kind: manifest.Data},
		manifest.Entry{Name: "lib.so", Path: "/src/lib.so", Kind: manifest.Binary},
	)
	cur := sampleValues()
	cur[2] = TOC("toc", reordered)
	_, ok := Compare(sampleSchema(), rec, cur)
	assert.True(t, ok)

	smaller := manifest.New(
		manifest.Entry{Name: "lib.so", Path: "/src/lib.so", Kind: manifest.Binary},
	)
	cur[2] = TOC("toc", smaller)
	field, ok := Compare(sampleSchema(), rec, cur)
	assert.False(t, ok)
	assert.Equal(t, "toc", field)
}

func TestSchemaArityChangeIsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.guts")
	require.NoError(t, Save(path, "PKG", sampleValues()))

	// The target later declares one more field: the old record no longer
	// loads at the new arity.
	assert.Nil(t, Load(path, "PKG", 4))
}

func TestNewerThan(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "input.bin")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	old := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	toc := []EntryRecord{
		{Name: "opt", Path: "", Kind: "OPTION"},
		{Name: "gone", Path: filepath.Join(dir, "missing"), Kind: "DATA"},
		{Name: "input.bin", Path: src, Kind: "DATA"},
	}

	p, newer := NewerThan(toc, old)
	assert.True(t, newer)
	assert.Equal(t, src, p)

	_, newer = NewerThan(toc, future)
	assert.False(t, newer)
}

func TestRecordGet(t *testing.T) {
	rec := &Record{Version: 1, Kind: "EXE", Fields: []Value{Mtime("mtm", time.Unix(10, 0))}}
	v, ok := rec.Get("mtm")
	require.True(t, ok)
	assert.Equal(t, time.Unix(10, 0).UnixNano(), v.Int)
	_, ok = rec.Get("nope")
	assert.False(t, ok)
}
