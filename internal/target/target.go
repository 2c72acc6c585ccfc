// SPDX-License-Identifier: MPL-2.0

// Package target implements the coldwrap build graph: incremental build
// targets that assemble archives, executables, and distribution directories,
// skipping work when their persisted guts record proves nothing changed.
package target

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"coldwrap/internal/config"
	"coldwrap/internal/guts"
	"coldwrap/pkg/manifest"
)

// Target is one node of the build graph. Targets execute sequentially in the
// dependency order supplied by the surrounding graph; one Assemble runs to
// completion before any dependent starts.
type Target interface {
	// Name is the target's display name (usually its output base name).
	Name() string
	// Kind tags the target type in logs and guts records.
	Kind() string
	// OutPath is the primary output file or directory.
	OutPath() string
	// GutsSchema declares the ordered staleness fields.
	GutsSchema() []guts.Field
	// CheckStale decides whether Assemble must run, given the previous
	// guts record (nil on any load problem).
	CheckStale(prev *guts.Record) bool
	// Assemble produces the output and persists a fresh guts record.
	Assemble() error
}

// Graph runs targets in insertion order. The order is a data dependency
// supplied by the caller, not a scheduling concern; nothing runs concurrently.
type Graph struct {
	cfg     *config.Config
	targets []Target
}

// NewGraph creates an empty graph bound to cfg.
func NewGraph(cfg *config.Config) *Graph {
	return &Graph{cfg: cfg}
}

// Add appends targets to the execution order.
func (g *Graph) Add(targets ...Target) {
	g.targets = append(g.targets, targets...)
}

// Run executes every target, consulting each one's guts record first. The
// first assemble error aborts the run.
func (g *Graph) Run() error {
	if err := os.MkdirAll(g.cfg.WorkPath, 0o755); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	for _, t := range g.targets {
		prev := guts.Load(GutsPath(g.cfg, t), t.Kind(), len(t.GutsSchema()))
		if !t.CheckStale(prev) {
			log.Info("up to date", "target", t.Kind(), "name", t.Name())
			continue
		}
		log.Info("building", "target", t.Kind(), "name", t.Name())
		if err := t.Assemble(); err != nil {
			return err
		}
	}
	return nil
}

// GutsPath returns where a target's guts record lives. The kind is part of
// the filename so the several targets an app produces (module archive,
// package archive, executable, collect) each keep their own record.
func GutsPath(cfg *config.Config, t Target) string {
	return filepath.Join(cfg.WorkPath, t.Name()+"."+strings.ToLower(t.Kind())+".guts")
}

// Input is the sum type of things a target can be constructed from: a raw
// entry list, a prior manifest, or a prior target whose output becomes one
// entry and whose forwarded dependencies tag along.
type Input struct {
	entries []manifest.Entry
	man     *manifest.Manifest
	tgt     dependencyTarget
}

// dependencyTarget is a Target that forwards extra entries to its consumer
// (the module archive forwards bootstrap modules, a binaries-excluding
// package archive forwards the excluded binaries).
type dependencyTarget interface {
	Target
	EntryKind() manifest.Kind
	Dependencies() *manifest.Manifest
}

// FromEntries builds an Input from raw entries.
func FromEntries(entries ...manifest.Entry) Input {
	return Input{entries: entries}
}

// FromManifest builds an Input from an existing manifest.
func FromManifest(m *manifest.Manifest) Input {
	return Input{man: m}
}

// FromTarget builds an Input referencing a previously constructed target.
func FromTarget(t interface {
	Target
	EntryKind() manifest.Kind
	Dependencies() *manifest.Manifest
}) Input {
	return Input{tgt: t}
}

// resolve folds inputs into dst, in order.
func resolve(dst *manifest.Manifest, inputs []Input) {
	for _, in := range inputs {
		switch {
		case in.man != nil:
			dst.Extend(in.man)
		case in.tgt != nil:
			dst.Append(manifest.Entry{
				Name: filepath.Base(in.tgt.OutPath()),
				Path: in.tgt.OutPath(),
				Kind: in.tgt.EntryKind(),
			})
			dst.Extend(in.tgt.Dependencies())
		default:
			for _, e := range in.entries {
				dst.Append(e)
			}
		}
	}
}

// staleByGuts applies the base staleness rules shared by every target:
// missing output, missing or mismatched record, or a failed field compare.
func staleByGuts(t Target, prev *guts.Record, current []guts.Value) bool {
	if _, err := os.Stat(t.OutPath()); err != nil {
		log.Info("rebuilding, output missing", "target", t.Kind(), "name", t.Name())
		return true
	}
	if prev == nil {
		log.Info("rebuilding, no usable guts record", "target", t.Kind(), "name", t.Name())
		return true
	}
	if field, ok := guts.Compare(t.GutsSchema(), prev, current); !ok {
		log.Info("rebuilding, input changed", "target", t.Kind(), "name", t.Name(), "field", field)
		return true
	}
	return false
}

// copyChunked copies src into w in bounded chunks so large payloads never
// sit in memory whole.
func copyChunked(w io.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, 64*1024)
	_, err = io.CopyBuffer(w, f, buf)
	return err
}

// copyFileChunked copies src to dst, creating parent directories.
func copyFileChunked(src, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err := copyChunked(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// isZipResolvable reports whether a missing source path points inside a
// zipped dependency, meaning the entry resolves at load time instead of
// build time.
func isZipResolvable(path string) bool {
	for dir := path; ; {
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		if filepath.Ext(parent) == ".zip" {
			if info, err := os.Stat(parent); err == nil && !info.IsDir() {
				return true
			}
		}
		dir = parent
	}
}

// mtimeOf returns the file's modification time in UnixNano, 0 when missing.
func mtimeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}
