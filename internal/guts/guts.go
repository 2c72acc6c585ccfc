// SPDX-License-Identifier: MPL-2.0

// Package guts persists the input snapshot of a build target between runs.
//
// Each target declares an ordered schema of named fields; after a successful
// assemble the concrete values are written as a versioned TOML record next to
// the target's other intermediates. On the next run the record is compared
// field by field against the current values to decide whether the target can
// be skipped. The record is a coarse equality cache, not a content hash: any
// problem reading it (missing file, bad TOML, version/kind/arity mismatch)
// means "stale", never an error.
package guts

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"coldwrap/pkg/manifest"
)

// FormatVersion is the record format version. A bump invalidates every
// previously persisted record by design.
const FormatVersion = 1

// Check selects the comparison predicate for one schema field.
type Check int

const (
	// CheckEq compares the persisted and current values for full equality.
	CheckEq Check = iota
	// CheckManifest compares manifest-valued fields by entry membership,
	// ignoring cosmetic reordering.
	CheckManifest
	// CheckSkip records the value without comparing it here; the target
	// applies its own rule (used for output mtimes).
	CheckSkip
)

// Field is one declared schema slot: a name and how to compare it.
type Field struct {
	Name  string
	Check Check
}

// EntryRecord is the persisted form of a manifest entry.
type EntryRecord struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
	Kind string `toml:"kind"`
}

// Value is one persisted field value. Type tags which member is meaningful,
// so a record survives the TOML round trip without reflection guessing.
type Value struct {
	Name string        `toml:"name"`
	Type string        `toml:"type"`
	Str  string        `toml:"str,omitempty"`
	Bool bool          `toml:"bool,omitempty"`
	Int  int64         `toml:"int,omitempty"`
	Toc  []EntryRecord `toml:"toc,omitempty"`
}

// Record is the persisted guts document for one target.
type Record struct {
	Version int     `toml:"version"`
	Kind    string  `toml:"kind"`
	Fields  []Value `toml:"field"`
}

// String makes a string-typed Value.
func String(name, v string) Value {
	return Value{Name: name, Type: "string", Str: v}
}

// Bool makes a bool-typed Value.
func Bool(name string, v bool) Value {
	return Value{Name: name, Type: "bool", Bool: v}
}

// Int makes an int-typed Value.
func Int(name string, v int64) Value {
	return Value{Name: name, Type: "int", Int: v}
}

// Mtime makes an int-typed Value holding a file modification time.
func Mtime(name string, t time.Time) Value {
	return Value{Name: name, Type: "mtime", Int: t.UnixNano()}
}

// TOC makes a manifest-typed Value snapshotting m's entries in order.
func TOC(name string, m *manifest.Manifest) Value {
	v := Value{Name: name, Type: "toc"}
	for _, e := range m.Entries() {
		v.Toc = append(v.Toc, EntryRecord{Name: e.Name, Path: e.Path, Kind: string(e.Kind)})
	}
	return v
}

// Save writes a record for the given target kind to path.
func Save(path, kind string, values []Value) error {
	rec := Record{Version: FormatVersion, Kind: kind, Fields: values}
	data, err := toml.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a previously saved record. Any failure — missing file, TOML
// error, wrong version, wrong target kind, field count different from arity —
// returns nil: the caller treats that as a cache miss and rebuilds.
func Load(path, kind string, arity int) *Record {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var rec Record
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil
	}
	if rec.Version != FormatVersion || rec.Kind != kind || len(rec.Fields) != arity {
		return nil
	}
	return &rec
}

// Compare checks current values against a loaded record using the schema's
// per-field predicates. It returns the name of the first mismatching field
// and false, or "" and true when every compared field matches. A nil record,
// or any field-name drift between schema and record, is a mismatch.
func Compare(schema []Field, rec *Record, current []Value) (string, bool) {
	if rec == nil || len(rec.Fields) != len(schema) || len(current) != len(schema) {
		return "", false
	}
	for i, f := range schema {
		prev := rec.Fields[i]
		cur := current[i]
		if prev.Name != f.Name || cur.Name != f.Name {
			return f.Name, false
		}
		switch f.Check {
		case CheckEq:
			if !valueEq(prev, cur) {
				return f.Name, false
			}
		case CheckManifest:
			if !tocSetEq(prev.Toc, cur.Toc) {
				return f.Name, false
			}
		case CheckSkip:
			// Recorded for the target's own rule.
		}
	}
	return "", true
}

// Get returns the persisted value for a named field.
func (r *Record) Get(name string) (Value, bool) {
	for _, v := range r.Fields {
		if v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// NewerThan returns the first entry of toc whose source file has a
// modification time after t, if any. Entries without a source path and
// entries whose source is missing are ignored; a missing source is handled
// by the assemble step, not the staleness check.
func NewerThan(toc []EntryRecord, t time.Time) (string, bool) {
	for _, e := range toc {
		if e.Path == "" {
			continue
		}
		info, err := os.Stat(e.Path)
		if err != nil {
			continue
		}
		if info.ModTime().After(t) {
			return e.Path, true
		}
	}
	return "", false
}

func valueEq(a, b Value) bool {
	if a.Type != b.Type || a.Str != b.Str || a.Bool != b.Bool || a.Int != b.Int {
		return false
	}
	return tocExactEq(a.Toc, b.Toc)
}

func tocExactEq(a, b []EntryRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tocSetEq ignores order but not membership or multiplicity.
func tocSetEq(a, b []EntryRecord) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[EntryRecord]int, len(a))
	for _, e := range a {
		counts[e]++
	}
	for _, e := range b {
		counts[e]--
		if counts[e] < 0 {
			return false
		}
	}
	return true
}
