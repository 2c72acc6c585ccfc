// SPDX-License-Identifier: MPL-2.0

// Package manifest implements the table of contents shared by every assembling
// stage of a coldwrap build.
//
// A Manifest is an ordered, name-deduplicated list of entries. Order is load
// bearing: it determines archive layout and the tie-break on duplicate names,
// so no operation ever re-sorts existing entries.
package manifest

import (
	"github.com/charmbracelet/log"
)

// Kind classifies a manifest entry. It decides the archive type code, the
// default compression policy, and which assembling stages act on the entry.
type Kind string

const (
	// Module is a compiled interpreted-language module destined for the
	// module archive.
	Module Kind = "MODULE"
	// Source is a top-level entry script.
	Source Kind = "SOURCE"
	// Extension is a native extension loaded by qualified name.
	Extension Kind = "EXTENSION"
	// ModuleSet is a complete module archive embedded as one opaque entry.
	ModuleSet Kind = "MODULESET"
	// Package is a nested package archive.
	Package Kind = "PACKAGE"
	// Data is an opaque data file.
	Data Kind = "DATA"
	// Binary is a native shared library or other binary dependency.
	Binary Kind = "BINARY"
	// Zip is a zipped dependency importable in place.
	Zip Kind = "ZIP"
	// Executable is a fully assembled launcher.
	Executable Kind = "EXECUTABLE"
	// Dependency is a zero-payload reference into another build's archive,
	// produced by the cross-build merge pass.
	Dependency Kind = "DEPENDENCY"
	// Option is a payload-less runtime option for the launcher. It is the
	// only kind whose Path may be empty.
	Option Kind = "OPTION"
)

// Entry is one manifest row: a logical name, the file that backs it, and its
// kind. Name is the dedup key within one manifest.
type Entry struct {
	// Name is the logical name inside the produced artifact (a relative
	// path or a qualified module name).
	Name string
	// Path is the absolute source path on the build machine. Empty only
	// for Option entries.
	Path string
	// Kind classifies the entry.
	Kind Kind
}

// Manifest is an ordered, name-deduplicated entry list.
//
// The zero value is not usable; call New.
type Manifest struct {
	entries []Entry
	byName  map[string]int
}

// New creates a Manifest holding the given entries, applying the usual
// first-wins dedup rule.
func New(entries ...Entry) *Manifest {
	m := &Manifest{byName: make(map[string]int)}
	for _, e := range entries {
		m.Append(e)
	}
	return m
}

// Append inserts e at the end unless an entry with the same name is already
// present. The first occurrence wins; a dropped duplicate that points at a
// different source path is logged, since it usually means two dependency
// sources disagree.
func (m *Manifest) Append(e Entry) {
	if i, ok := m.byName[e.Name]; ok {
		if prev := m.entries[i]; prev.Path != e.Path {
			log.Warn("duplicate manifest entry dropped",
				"name", e.Name, "kept", prev.Path, "dropped", e.Path)
		}
		return
	}
	m.byName[e.Name] = len(m.entries)
	m.entries = append(m.entries, e)
}

// Extend appends every entry of other, preserving self's existing entries and
// order. Duplicates follow the Append rule.
func (m *Manifest) Extend(other *Manifest) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		m.Append(e)
	}
}

// Difference returns the entries of m whose full (name, path, kind) tuple does
// not appear in other, in m's order.
func (m *Manifest) Difference(other *Manifest) *Manifest {
	out := New()
	for _, e := range m.entries {
		if other != nil && other.containsTuple(e) {
			continue
		}
		out.Append(e)
	}
	return out
}

// Union returns m's entries followed by the entries of other not already
// present by name.
func (m *Manifest) Union(other *Manifest) *Manifest {
	out := New(m.entries...)
	out.Extend(other)
	return out
}

// Contains reports whether an entry with the given logical name is present.
func (m *Manifest) Contains(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Lookup returns the entry registered under name.
func (m *Manifest) Lookup(name string) (Entry, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Entry{}, false
	}
	return m.entries[i], true
}

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Entries returns the entries in insertion order. The returned slice is a
// copy; mutating it does not affect the manifest.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Filter returns the entries whose kind is one of kinds, order preserved.
func (m *Manifest) Filter(kinds ...Kind) *Manifest {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	out := New()
	for _, e := range m.entries {
		if want[e.Kind] {
			out.Append(e)
		}
	}
	return out
}

func (m *Manifest) containsTuple(e Entry) bool {
	i, ok := m.byName[e.Name]
	if !ok {
		return false
	}
	return m.entries[i] == e
}
