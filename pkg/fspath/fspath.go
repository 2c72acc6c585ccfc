// SPDX-License-Identifier: MPL-2.0

// Package fspath provides the path-safety checks shared by the archive writer
// and the directory collector: logical-name validation, directory containment,
// and the overlap guard that protects destructive deletes.
package fspath

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateRelName checks that a logical name is safe to materialize under an
// output root: non-empty, relative, and free of parent-directory segments.
// These names end up joined to the output directory, so a violation here is a
// sandbox escape and must abort the build.
func ValidateRelName(name string) error {
	if name == "" {
		return fmt.Errorf("empty logical name")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(filepath.ToSlash(name), "/") {
		return fmt.Errorf("absolute logical name: %s", name)
	}
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return fmt.Errorf("parent-directory segment in logical name: %s", name)
		}
	}
	return nil
}

// IsWithinDir reports whether full resolves to a path inside dir.
func IsWithinDir(dir, full string) bool {
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// CheckOverlap guards the one destructive delete in a build: removing a stale
// output directory. It rejects dir when it equals, contains, or is a
// filesystem root or any of the protected paths. All paths are compared after
// Abs+Clean normalization.
func CheckOverlap(dir string, protected ...string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving output directory %s: %w", dir, err)
	}
	abs = filepath.Clean(abs)
	if abs == string(filepath.Separator) || abs == filepath.VolumeName(abs)+string(filepath.Separator) {
		return fmt.Errorf("refusing to remove filesystem root %s", abs)
	}
	for _, p := range protected {
		pabs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolving protected path %s: %w", p, err)
		}
		pabs = filepath.Clean(pabs)
		if pabs == abs {
			return fmt.Errorf("output directory %s overlaps protected path %s", abs, pabs)
		}
		// Deleting a parent of a protected path deletes the protected
		// path with it.
		if IsWithinDir(abs, pabs) {
			return fmt.Errorf("output directory %s contains protected path %s", abs, pabs)
		}
	}
	return nil
}
