// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"coldwrap/pkg/manifest"
)

// ModuleMagic identifies a module archive.
var ModuleMagic = [4]byte{'C', 'W', 'Z', 0}

// ModuleFormatVersion is the current .cwz format version.
const ModuleFormatVersion = 1

// KeyEntryName is the synthetic index entry holding the cipher key. When
// present it is always the first entry and its payload is stored as-is; every
// other payload in the archive is then encrypted.
const KeyEntryName = "cwkey"

const (
	flagPackage    = 1 << 0
	flagCompressed = 1 << 1
	flagEncrypted  = 1 << 2
)

// CodeObject is a compiled module payload handed to the writer.
type CodeObject struct {
	// Code is the compiled module bytes.
	Code []byte
	// IsPackage marks package (as opposed to plain module) entries, so the
	// loader can set up submodule resolution.
	IsPackage bool
}

// ModuleEntry describes one archive index entry on the read side.
type ModuleEntry struct {
	Name       string
	IsPackage  bool
	Compressed bool
	Encrypted  bool
	Offset     uint32
	Length     uint32
}

// ModuleWriter serializes a module archive. A non-nil Key (16 bytes) enables
// payload encryption and embeds the key as the leading KeyEntryName entry.
type ModuleWriter struct {
	Key []byte
}

// Build writes the archive to path. toc supplies the module names in layout
// order; code maps each name to its payload. A declared name missing from
// code is a caller contract violation and fails the build.
func (w *ModuleWriter) Build(path string, toc *manifest.Manifest, code map[string]CodeObject) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating module archive: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	copy(header, ModuleMagic[:])
	binary.BigEndian.PutUint32(header[4:], ModuleFormatVersion)
	if _, err := f.Write(header); err != nil {
		return err
	}

	type indexEntry struct {
		name   string
		flags  byte
		offset uint32
		length uint32
	}
	var index []indexEntry
	offset := uint32(len(header))

	writePayload := func(name string, data []byte, flags byte) error {
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("writing payload for %s: %w", name, err)
		}
		index = append(index, indexEntry{name: name, flags: flags, offset: offset, length: uint32(len(data))})
		offset += uint32(len(data))
		return nil
	}

	if len(w.Key) > 0 {
		if len(w.Key) != 16 {
			return fmt.Errorf("cipher key must be 16 bytes, got %d", len(w.Key))
		}
		if err := writePayload(KeyEntryName, w.Key, 0); err != nil {
			return err
		}
	}

	for _, e := range toc.Entries() {
		obj, ok := code[e.Name]
		if !ok {
			return fmt.Errorf("no code object for declared module %s", e.Name)
		}
		payload, err := deflate(obj.Code)
		if err != nil {
			return fmt.Errorf("compressing %s: %w", e.Name, err)
		}
		flags := byte(flagCompressed)
		if obj.IsPackage {
			flags |= flagPackage
		}
		if len(w.Key) > 0 {
			payload = cryptPayload(w.Key, e.Name, payload)
			flags |= flagEncrypted
		}
		if err := writePayload(e.Name, payload, flags); err != nil {
			return err
		}
	}

	// Index after the payload region; its offset backpatched into the header.
	var idx bytes.Buffer
	binary.Write(&idx, binary.BigEndian, uint32(len(index)))
	for _, e := range index {
		binary.Write(&idx, binary.BigEndian, uint16(len(e.name)))
		idx.WriteString(e.name)
		idx.WriteByte(e.flags)
		binary.Write(&idx, binary.BigEndian, e.offset)
		binary.Write(&idx, binary.BigEndian, e.length)
	}
	if _, err := f.Write(idx.Bytes()); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	indexOffset := make([]byte, 4)
	binary.BigEndian.PutUint32(indexOffset, offset)
	if _, err := f.WriteAt(indexOffset, 8); err != nil {
		return fmt.Errorf("patching index offset: %w", err)
	}
	return nil
}

// ModuleReader provides name-indexed access to a module archive.
type ModuleReader struct {
	f       *os.File
	entries []ModuleEntry
	byName  map[string]int
	key     []byte
}

// OpenModuleArchive opens path, parses the index, and captures the cipher key
// if the archive carries one.
func OpenModuleArchive(path string) (*ModuleReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &ModuleReader{f: f, byName: make(map[string]int)}
	if err := r.readIndex(); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading module archive %s: %w", path, err)
	}
	if e, ok := r.lookup(KeyEntryName); ok {
		key := make([]byte, e.Length)
		if _, err := f.ReadAt(key, int64(e.Offset)); err != nil {
			f.Close()
			return nil, fmt.Errorf("reading cipher key: %w", err)
		}
		r.key = key
	}
	return r, nil
}

// Close releases the underlying file.
func (r *ModuleReader) Close() error { return r.f.Close() }

// Entries returns the index in layout order.
func (r *ModuleReader) Entries() []ModuleEntry {
	out := make([]ModuleEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Entry returns the index entry for a module name.
func (r *ModuleReader) Entry(name string) (ModuleEntry, bool) {
	return r.lookup(name)
}

// Extract returns the decrypted, decompressed payload of a module.
func (r *ModuleReader) Extract(name string) ([]byte, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("module %s not in archive", name)
	}
	data := make([]byte, e.Length)
	if _, err := r.f.ReadAt(data, int64(e.Offset)); err != nil {
		return nil, fmt.Errorf("reading payload of %s: %w", name, err)
	}
	if e.Encrypted {
		if r.key == nil {
			return nil, fmt.Errorf("module %s is encrypted but the archive has no key entry", name)
		}
		data = cryptPayload(r.key, name, data)
	}
	if e.Compressed {
		return inflate(data)
	}
	return data, nil
}

func (r *ModuleReader) lookup(name string) (ModuleEntry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return ModuleEntry{}, false
	}
	return r.entries[i], true
}

func (r *ModuleReader) readIndex() error {
	header := make([]byte, 12)
	if _, err := r.f.ReadAt(header, 0); err != nil {
		return err
	}
	if !bytes.Equal(header[:4], ModuleMagic[:]) {
		return fmt.Errorf("bad magic")
	}
	if v := binary.BigEndian.Uint32(header[4:]); v != ModuleFormatVersion {
		return fmt.Errorf("unsupported format version %d", v)
	}
	indexOffset := binary.BigEndian.Uint32(header[8:])

	if _, err := r.f.Seek(int64(indexOffset), io.SeekStart); err != nil {
		return err
	}
	br := &binReader{r: r.f}
	count := br.uint32()
	for i := uint32(0); i < count; i++ {
		nameLen := br.uint16()
		name := br.bytes(int(nameLen))
		flags := br.byte()
		off := br.uint32()
		length := br.uint32()
		if br.err != nil {
			return br.err
		}
		r.byName[string(name)] = len(r.entries)
		r.entries = append(r.entries, ModuleEntry{
			Name:       string(name),
			IsPackage:  flags&flagPackage != 0,
			Compressed: flags&flagCompressed != 0,
			Encrypted:  flags&flagEncrypted != 0,
			Offset:     off,
			Length:     length,
		})
	}
	return br.err
}

// cryptPayload applies AES-CTR keyed by the archive key with an IV derived
// from the entry name. CTR makes this its own inverse.
func cryptPayload(key []byte, name string, data []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		// Key length is validated at build time; a bad key here means a
		// corrupt archive and there is no recovery.
		panic(fmt.Sprintf("archive: invalid cipher key: %v", err))
	}
	iv := sha256.Sum256([]byte(name))
	stream := cipher.NewCTR(block, iv[:aes.BlockSize])
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// binReader accumulates the first read error so index parsing can stay linear.
type binReader struct {
	r   io.Reader
	err error
}

func (b *binReader) uint32() uint32 {
	var v uint32
	if b.err == nil {
		b.err = binary.Read(b.r, binary.BigEndian, &v)
	}
	return v
}

func (b *binReader) uint16() uint16 {
	var v uint16
	if b.err == nil {
		b.err = binary.Read(b.r, binary.BigEndian, &v)
	}
	return v
}

func (b *binReader) byte() byte {
	var v [1]byte
	if b.err == nil {
		_, b.err = io.ReadFull(b.r, v[:])
	}
	return v[0]
}

func (b *binReader) bytes(n int) []byte {
	v := make([]byte, n)
	if b.err == nil {
		_, b.err = io.ReadFull(b.r, v)
	}
	return v
}
