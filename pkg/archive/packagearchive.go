// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"coldwrap/pkg/fspath"
	"coldwrap/pkg/manifest"
)

// PackageCookie identifies the package archive trailer. The bytes after the
// name catch transfer corruption the same way the PNG signature does.
var PackageCookie = [8]byte{'C', 'W', 'P', 'K', '\r', '\n', 0x1a, '\n'}

// PackageFormatVersion is the current .cwp format version.
const PackageFormatVersion = 1

const (
	trailerSize    = 40
	runtimeLibSize = 16
	copyChunk      = 64 * 1024
)

// Type codes tag each directory entry with its payload category.
const (
	TypeModule     = 'm' // compiled module
	TypeSource     = 's' // entry script
	TypeBinary     = 'b' // native binary, extension, or executable
	TypeModuleSet  = 'z' // embedded module archive
	TypePackage    = 'a' // nested package archive
	TypeData       = 'x' // data file
	TypeZip        = 'Z' // zipped dependency
	TypeDependency = 'd' // cross-build reference, no payload
	TypeOption     = 'o' // runtime option, no payload
)

// TypeCodeFor maps a manifest kind to its archive type code.
func TypeCodeFor(k manifest.Kind) byte {
	switch k {
	case manifest.Module:
		return TypeModule
	case manifest.Source:
		return TypeSource
	case manifest.ModuleSet:
		return TypeModuleSet
	case manifest.Package:
		return TypePackage
	case manifest.Data:
		return TypeData
	case manifest.Zip:
		return TypeZip
	case manifest.Dependency:
		return TypeDependency
	case manifest.Option:
		return TypeOption
	default:
		// Extension, Binary, Executable, and anything new.
		return TypeBinary
	}
}

// PackageEntry is the writer's input: one directory entry and where its
// payload bytes come from. TypeOption and TypeDependency entries carry no
// payload at all.
type PackageEntry struct {
	Name     string
	Path     string
	Compress bool
	TypeCode byte
}

// DirEntry is one parsed directory record on the read side.
type DirEntry struct {
	Name            string
	Offset          uint32
	CompressedLen   uint32
	UncompressedLen uint32
	Compressed      bool
	TypeCode        byte
}

// PackageWriter serializes a package archive.
type PackageWriter struct {
	// RuntimeLib is the runtime library name embedded in the trailer, at
	// most 15 bytes.
	RuntimeLib string
}

// Build writes the archive to path. Entries are laid down in input order.
// Logical names of payload-bearing entries are validated before any byte is
// written; dependency references are exempt since their name encodes a
// relative walk to another build's output and is never joined to a path by
// the writer.
func (w *PackageWriter) Build(path string, entries []PackageEntry) error {
	if len(w.RuntimeLib) >= runtimeLibSize {
		return fmt.Errorf("runtime library name %q exceeds %d bytes", w.RuntimeLib, runtimeLibSize-1)
	}
	for _, e := range entries {
		if e.TypeCode == TypeOption || e.TypeCode == TypeDependency {
			continue
		}
		if err := fspath.ValidateRelName(e.Name); err != nil {
			return fmt.Errorf("unsafe archive entry: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating package archive: %w", err)
	}
	defer f.Close()

	cw := &countingWriter{w: f}
	buf := make([]byte, copyChunk)
	dir := make([]DirEntry, 0, len(entries))

	for _, e := range entries {
		de := DirEntry{
			Name:     e.Name,
			Offset:   uint32(cw.n),
			TypeCode: e.TypeCode,
		}
		if e.TypeCode != TypeOption && e.TypeCode != TypeDependency {
			clen, ulen, err := writePayload(cw, e, buf)
			if err != nil {
				return err
			}
			de.CompressedLen = clen
			de.UncompressedLen = ulen
			de.Compressed = e.Compress
		}
		dir = append(dir, de)
	}

	dirOffset := uint32(cw.n)
	var dirBuf bytes.Buffer
	for _, de := range dir {
		recLen := 4 + 4 + 4 + 4 + 1 + 1 + len(de.Name) + 1
		binary.Write(&dirBuf, binary.BigEndian, uint32(recLen))
		binary.Write(&dirBuf, binary.BigEndian, de.Offset)
		binary.Write(&dirBuf, binary.BigEndian, de.CompressedLen)
		binary.Write(&dirBuf, binary.BigEndian, de.UncompressedLen)
		if de.Compressed {
			dirBuf.WriteByte(1)
		} else {
			dirBuf.WriteByte(0)
		}
		dirBuf.WriteByte(de.TypeCode)
		dirBuf.WriteString(de.Name)
		dirBuf.WriteByte(0)
	}
	if _, err := cw.Write(dirBuf.Bytes()); err != nil {
		return fmt.Errorf("writing directory: %w", err)
	}

	trailer := make([]byte, trailerSize)
	copy(trailer, PackageCookie[:])
	binary.BigEndian.PutUint32(trailer[8:], uint32(cw.n)+trailerSize)
	binary.BigEndian.PutUint32(trailer[12:], dirOffset)
	binary.BigEndian.PutUint32(trailer[16:], uint32(dirBuf.Len()))
	binary.BigEndian.PutUint32(trailer[20:], PackageFormatVersion)
	copy(trailer[24:], w.RuntimeLib)
	if _, err := cw.Write(trailer); err != nil {
		return fmt.Errorf("writing trailer: %w", err)
	}
	return nil
}

func writePayload(cw *countingWriter, e PackageEntry, buf []byte) (clen, ulen uint32, err error) {
	src, err := os.Open(e.Path)
	if err != nil {
		return 0, 0, fmt.Errorf("opening source of %s: %w", e.Name, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("stat source of %s: %w", e.Name, err)
	}
	ulen = uint32(info.Size())

	before := cw.n
	if e.Compress {
		zw, err := zlib.NewWriterLevel(cw, zlib.BestCompression)
		if err != nil {
			return 0, 0, err
		}
		if _, err := io.CopyBuffer(zw, src, buf); err != nil {
			return 0, 0, fmt.Errorf("compressing %s: %w", e.Name, err)
		}
		if err := zw.Close(); err != nil {
			return 0, 0, fmt.Errorf("compressing %s: %w", e.Name, err)
		}
	} else {
		if _, err := io.CopyBuffer(cw, src, buf); err != nil {
			return 0, 0, fmt.Errorf("copying %s: %w", e.Name, err)
		}
	}
	return uint32(cw.n - before), ulen, nil
}

// PackageReader reads a package archive from its own file or from the tail of
// a carrying file such as an assembled executable.
type PackageReader struct {
	f       *os.File
	start   int64
	entries []DirEntry
	byName  map[string]int

	// RuntimeLib is the runtime library name from the trailer.
	RuntimeLib string
}

// OpenPackage locates and parses the archive inside path by scanning the tail
// of the file for the trailer cookie.
func OpenPackage(path string) (*PackageReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &PackageReader{f: f, byName: make(map[string]int)}
	if err := r.parse(); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading package archive %s: %w", path, err)
	}
	return r, nil
}

// Close releases the underlying file.
func (r *PackageReader) Close() error { return r.f.Close() }

// Entries returns the directory in layout order.
func (r *PackageReader) Entries() []DirEntry {
	out := make([]DirEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Find returns the directory entry for a logical name.
func (r *PackageReader) Find(name string) (DirEntry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return DirEntry{}, false
	}
	return r.entries[i], true
}

// Extract returns the decompressed payload of an entry.
func (r *PackageReader) Extract(name string) ([]byte, error) {
	e, ok := r.Find(name)
	if !ok {
		return nil, fmt.Errorf("entry %s not in archive", name)
	}
	data := make([]byte, e.CompressedLen)
	if _, err := r.f.ReadAt(data, r.start+int64(e.Offset)); err != nil {
		return nil, fmt.Errorf("reading payload of %s: %w", name, err)
	}
	if e.Compressed {
		return inflate(data)
	}
	return data, nil
}

func (r *PackageReader) parse() error {
	info, err := r.f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	window := int64(copyChunk)
	if window > size {
		window = size
	}
	tail := make([]byte, window)
	if _, err := r.f.ReadAt(tail, size-window); err != nil {
		return err
	}
	idx := bytes.LastIndex(tail, PackageCookie[:])
	if idx < 0 || int64(idx)+trailerSize > window {
		return fmt.Errorf("no trailer cookie found")
	}
	trailer := tail[idx : idx+trailerSize]
	archiveLen := int64(binary.BigEndian.Uint32(trailer[8:]))
	dirOffset := int64(binary.BigEndian.Uint32(trailer[12:]))
	dirLen := int64(binary.BigEndian.Uint32(trailer[16:]))
	if v := binary.BigEndian.Uint32(trailer[20:]); v != PackageFormatVersion {
		return fmt.Errorf("unsupported format version %d", v)
	}
	r.RuntimeLib = string(bytes.TrimRight(trailer[24:], "\x00"))

	archiveEnd := size - window + int64(idx) + trailerSize
	r.start = archiveEnd - archiveLen
	if r.start < 0 || dirOffset+dirLen > archiveLen {
		return fmt.Errorf("inconsistent trailer")
	}

	dir := make([]byte, dirLen)
	if _, err := r.f.ReadAt(dir, r.start+dirOffset); err != nil {
		return err
	}
	for len(dir) > 0 {
		if len(dir) < 4 {
			return fmt.Errorf("truncated directory record")
		}
		recLen := binary.BigEndian.Uint32(dir)
		if recLen < 19 || int(recLen) > len(dir) {
			return fmt.Errorf("bad directory record length %d", recLen)
		}
		rec := dir[:recLen]
		name := rec[18 : len(rec)-1]
		de := DirEntry{
			Name:            string(name),
			Offset:          binary.BigEndian.Uint32(rec[4:]),
			CompressedLen:   binary.BigEndian.Uint32(rec[8:]),
			UncompressedLen: binary.BigEndian.Uint32(rec[12:]),
			Compressed:      rec[16] == 1,
			TypeCode:        rec[17],
		}
		r.byName[de.Name] = len(r.entries)
		r.entries = append(r.entries, de)
		dir = dir[recLen:]
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
