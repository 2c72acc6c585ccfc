// SPDX-License-Identifier: MPL-2.0

// Package cache memoizes the strip/pack transforms applied to native
// binaries. The same shared library is routinely referenced by the package
// archive and the directory collector, often across several builds; running
// the external tools once per (source, flags) key and reusing the result is a
// large win on rebuilds.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"
)

// Cache applies strip/pack transforms to binary payloads, keyed by source
// path and transform flags, backed by a shared filesystem directory.
//
// The cache never mutates the original source file. Entries are validated by
// existence plus mtime on every lookup, so a half-written entry left by a
// concurrent process is simply redone.
type Cache struct {
	// Dir is the cache directory; created on first use.
	Dir string
	// StripCmd is the external strip tool. Empty disables stripping.
	StripCmd string
	// PackCmd is the external executable packer. Empty disables packing.
	PackCmd string
}

// Transform returns a path to the transformed copy of src. With neither
// transform requested the source path is returned untouched. distName is the
// logical name the file will have in the artifact; it participates in the key
// because some packers rename sections based on the file name.
func (c *Cache) Transform(src string, strip, pack bool, distName string) (string, error) {
	if !strip && !pack {
		return src, nil
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", src, err)
	}
	srcInfo, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}

	cached := filepath.Join(c.Dir, c.key(abs, strip, pack, distName))
	if info, err := os.Stat(cached); err == nil && !info.ModTime().Before(srcInfo.ModTime()) {
		return cached, nil
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}
	if err := copyFile(abs, cached); err != nil {
		return "", fmt.Errorf("copying %s into cache: %w", abs, err)
	}

	if strip {
		c.run(c.StripCmd, "strip", cached)
	}
	if pack {
		c.run(c.PackCmd, "pack", cached)
	}
	return cached, nil
}

// run invokes an external tool on the scratch copy. A missing or failing tool
// leaves the plain copy in place with a warning; shrinking is best effort.
func (c *Cache) run(cmd, what, target string) {
	if cmd == "" {
		log.Warn("no tool configured, keeping unmodified copy", "transform", what, "file", filepath.Base(target))
		return
	}
	out, err := exec.Command(cmd, target).CombinedOutput()
	if err != nil {
		log.Warn("transform failed, keeping unmodified copy",
			"transform", what, "tool", cmd, "file", filepath.Base(target), "err", err, "output", string(out))
	}
}

// key derives a stable cache file name from the full key tuple. The original
// base name is kept as a prefix so the cache directory stays inspectable.
func (c *Cache) key(abs string, strip, pack bool, distName string) string {
	h := sha256.New()
	io.WriteString(h, abs)
	io.WriteString(h, "\x00"+strconv.FormatBool(strip))
	io.WriteString(h, "\x00"+strconv.FormatBool(pack))
	io.WriteString(h, "\x00"+distName)
	return filepath.Base(abs) + "-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
