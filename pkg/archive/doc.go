// SPDX-License-Identifier: MPL-2.0

// Package archive implements the two coldwrap container formats.
//
// The module archive (.cwz) is a single-file container of compiled module
// code, queryable by qualified module name:
//
//	offset 0   magic "CWZ\x00"
//	offset 4   format version, uint32 big-endian
//	offset 8   index offset,   uint32 big-endian
//	offset 12  payload blocks
//	index      uint32 entry count, then per entry:
//	           uint16 name length, name bytes,
//	           uint8 flags (bit0 package, bit1 compressed, bit2 encrypted),
//	           uint32 payload offset, uint32 payload length
//
// The package archive (.cwp) is a heterogeneous container designed to be
// relocatable as a byte blob: it can live in its own file or be appended to a
// launcher stub, and is located by scanning backwards for the trailer cookie:
//
//	[payload region][directory][trailer]
//	trailer (final 40 bytes):
//	    cookie "CWPK\r\n\x1a\n"
//	    uint32 archive length (trailer inclusive)
//	    uint32 directory offset, relative to archive start
//	    uint32 directory length
//	    uint32 format version
//	    runtime library name, NUL-padded to 16 bytes
//	directory, per entry:
//	    uint32 record length (length field inclusive),
//	    uint32 payload offset relative to archive start,
//	    uint32 compressed length, uint32 uncompressed length,
//	    uint8 compression flag, one type code byte,
//	    name bytes, NUL terminator
//
// All integers are big-endian. Type codes are listed with TypeCodeFor.
package archive
