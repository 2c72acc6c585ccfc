// SPDX-License-Identifier: MPL-2.0

package target

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"coldwrap/pkg/manifest"
)

// MergeGraph is one completed build graph handed to Merge: its primary entry
// script, an externally assigned id, the relative location of its final
// artifact, and the manifests the merge pass is allowed to rewrite.
type MergeGraph struct {
	Script   string
	ID       string
	OutPath  string
	Binaries *manifest.Manifest
	Datas    *manifest.Manifest
	// Depends receives the dependency-reference entries produced for this
	// graph. Allocated by Merge when nil.
	Depends *manifest.Manifest
}

// Merge deduplicates shared payloads across several build graphs before their
// final assembly. The first graph to reference a given absolute source path
// owns it; every later reference is pruned from its own manifest and recorded
// in that graph's Depends manifest as a reference the launcher resolves
// against the owner's archive at run time.
//
// Graph order is the ownership tie-break, so callers must pass graphs in a
// stable order.
func Merge(graphs []*MergeGraph) error {
	if len(graphs) < 2 {
		return nil
	}

	prefix, err := commonScriptPrefix(graphs)
	if err != nil {
		return err
	}

	idToPath := make(map[string]string, len(graphs))
	for _, g := range graphs {
		if g.ID != "" {
			idToPath[g.ID] = g.OutPath
		}
	}

	owners := make(map[string]ownerRef)
	for _, g := range graphs {
		key, err := graphKey(g, prefix, idToPath)
		if err != nil {
			return err
		}
		log.Debug("merging build graph", "id", g.ID, "key", key)
		if g.Depends == nil {
			g.Depends = manifest.New()
		}
		g.Binaries = dedupAgainst(g.Binaries, key, owners, g.Depends)
		g.Datas = dedupAgainst(g.Datas, key, owners, g.Depends)
	}
	return nil
}

// ownerRef records which graph first claimed a source path, and under what
// logical name.
type ownerRef struct {
	key  string
	name string
}

// dedupAgainst returns m with every entry whose source path already has an
// owner removed. Each removed entry becomes one dependency-reference entry in
// deps, named "<relative walk to owner>:<owner logical name>".
func dedupAgainst(m *manifest.Manifest, key string, owners map[string]ownerRef, deps *manifest.Manifest) *manifest.Manifest {
	if m == nil {
		return nil
	}
	out := manifest.New()
	for _, e := range m.Entries() {
		owner, claimed := owners[e.Path]
		if !claimed {
			owners[e.Path] = ownerRef{key: key, name: e.Name}
			out.Append(e)
			continue
		}
		log.Debug("payload owned elsewhere, referencing",
			"name", e.Name, "path", e.Path, "owner", owner.key)
		deps.Append(manifest.Entry{
			Name: referencePath(key, owner.key) + ":" + owner.name,
			Path: e.Path,
			Kind: manifest.Dependency,
		})
	}
	return out
}

// referencePath walks up from this graph's output location to the owner's:
// one ".." per directory level of from, then the owner's relative location.
// Always slash separated, since the launcher interprets it, not the build
// machine's filesystem.
func referencePath(from, to string) string {
	levels := strings.Count(filepath.ToSlash(from), "/")
	if levels == 0 {
		return filepath.ToSlash(to)
	}
	parts := make([]string, 0, levels+1)
	for range levels {
		parts = append(parts, "..")
	}
	return path.Join(append(parts, filepath.ToSlash(to))...)
}

// graphKey derives the stable relative key for a graph: its entry script
// relative to the common prefix, extension stripped. When the derived key
// matches a registered graph id, the id's declared output path wins, letting
// callers place artifacts away from the script layout.
func graphKey(g *MergeGraph, prefix string, idToPath map[string]string) (string, error) {
	abs, err := filepath.Abs(g.Script)
	if err != nil {
		return "", fmt.Errorf("resolving entry script %s: %w", g.Script, err)
	}
	rel, err := filepath.Rel(prefix, abs)
	if err != nil {
		return "", fmt.Errorf("relativizing entry script %s: %w", g.Script, err)
	}
	key := strings.TrimSuffix(rel, filepath.Ext(rel))
	if p, ok := idToPath[key]; ok && p != "" {
		key = p
	}
	return key, nil
}

// commonScriptPrefix computes the longest common directory prefix across all
// graphs' entry-script absolute paths.
func commonScriptPrefix(graphs []*MergeGraph) (string, error) {
	var dirs [][]string
	for _, g := range graphs {
		abs, err := filepath.Abs(g.Script)
		if err != nil {
			return "", fmt.Errorf("resolving entry script %s: %w", g.Script, err)
		}
		dirs = append(dirs, strings.Split(filepath.Dir(abs), string(os.PathSeparator)))
	}
	n := len(dirs[0])
	for _, d := range dirs[1:] {
		if len(d) < n {
			n = len(d)
		}
	}
	common := 0
	for i := 0; i < n; i++ {
		seg := dirs[0][i]
		same := true
		for _, d := range dirs[1:] {
			if d[i] != seg {
				same = false
				break
			}
		}
		if !same {
			break
		}
		common = i + 1
	}
	prefix := strings.Join(dirs[0][:common], string(os.PathSeparator))
	if prefix == "" {
		prefix = string(os.PathSeparator)
	}
	return prefix, nil
}
