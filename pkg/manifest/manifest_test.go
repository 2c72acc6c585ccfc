// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDedupFirstWins(t *testing.T) {
	m := New()
	m.Append(Entry{Name: "x", Path: "/a/x.so", Kind: Binary})
	m.Append(Entry{Name: "x", Path: "/b/x.so", Kind: Binary})

	require.Equal(t, 1, m.Len())
	e, ok := m.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, "/a/x.so", e.Path)
}

func TestExtendPreservesOrder(t *testing.T) {
	a := New(
		Entry{Name: "one", Path: "/p/one", Kind: Data},
		Entry{Name: "two", Path: "/p/two", Kind: Data},
	)
	b := New(
		Entry{Name: "three", Path: "/p/three", Kind: Data},
		Entry{Name: "one", Path: "/other/one", Kind: Data},
	)
	a.Extend(b)

	names := make([]string, 0, a.Len())
	for _, e := range a.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"one", "two", "three"}, names)

	// The duplicate from b must not replace a's entry.
	e, _ := a.Lookup("one")
	assert.Equal(t, "/p/one", e.Path)
}

func TestExtendThenDifferenceRestoresOriginal(t *testing.T) {
	mk := func(names ...string) *Manifest {
		m := New()
		for _, n := range names {
			m.Append(Entry{Name: n, Path: "/src/" + n, Kind: Data})
		}
		return m
	}
	a := mk("a", "b", "c")
	b := mk("d", "e")

	a.Extend(b)
	got := a.Difference(b)

	var names []string
	for _, e := range got.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestDifferenceMatchesFullTuple(t *testing.T) {
	a := New(Entry{Name: "lib", Path: "/a/lib.so", Kind: Binary})
	// Same name but different path: not the same tuple, so it survives.
	other := New(Entry{Name: "lib", Path: "/b/lib.so", Kind: Binary})

	got := a.Difference(other)
	assert.Equal(t, 1, got.Len())

	same := New(Entry{Name: "lib", Path: "/a/lib.so", Kind: Binary})
	assert.Equal(t, 0, a.Difference(same).Len())
}

func TestUnionSkipsExistingNames(t *testing.T) {
	a := New(Entry{Name: "a", Path: "/1", Kind: Data})
	b := New(
		Entry{Name: "a", Path: "/2", Kind: Data},
		Entry{Name: "b", Path: "/3", Kind: Data},
	)
	u := a.Union(b)

	require.Equal(t, 2, u.Len())
	e, _ := u.Lookup("a")
	assert.Equal(t, "/1", e.Path)

	// Union must not mutate its receiver.
	assert.Equal(t, 1, a.Len())
}

func TestFilterKeepsOrder(t *testing.T) {
	m := New(
		Entry{Name: "m1", Path: "/m1", Kind: Module},
		Entry{Name: "d1", Path: "/d1", Kind: Data},
		Entry{Name: "m2", Path: "/m2", Kind: Module},
		Entry{Name: "b1", Path: "/b1", Kind: Binary},
	)
	got := m.Filter(Module)
	var names []string
	for _, e := range got.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"m1", "m2"}, names)
}

func TestOptionEntryAllowsEmptyPath(t *testing.T) {
	m := New(Entry{Name: "S", Kind: Option})
	e, ok := m.Lookup("S")
	require.True(t, ok)
	assert.Empty(t, e.Path)
}
