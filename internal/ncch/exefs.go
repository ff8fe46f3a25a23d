// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ncch

import (
	"bytes"
	"fmt"
)

// ExefsHeaderSize is the fixed, on-wire size of an ExefsHeader.
const ExefsHeaderSize = 0x200

var _ [ExefsHeaderSize - 0x200]byte
var _ [0x200 - ExefsHeaderSize]byte

// exefsFileCount is the number of file-table entries an ExefsHeader carries,
// regardless of how many are actually populated (unused entries are
// all-zero).
const exefsFileCount = 10

// ExefsFile is one entry of the ExefsHeader's file table: a fixed 8-byte
// ASCII name (NUL-padded), a byte offset (relative to the end of the
// ExefsHeader) and a byte size, both in content-unit-relative raw bytes.
type ExefsFile struct {
	Name   [8]byte
	Offset uint32
	Size   uint32
}

// FileName returns name with trailing NUL bytes trimmed.
func (f ExefsFile) FileName() string {
	return string(bytes.TrimRight(f.Name[:], "\x00"))
}

// Empty reports whether this file-table slot is unused.
func (f ExefsFile) Empty() bool {
	return f.Name == [8]byte{} && f.Offset == 0 && f.Size == 0
}

// ExefsHeader is the fixed 0x200-byte embedded-filesystem header: ten
// file-table entries followed by ten 32-byte SHA-256 hashes stored in
// reverse order, i.e. Hashes[9-i] is the hash of Files[i]'s content.
type ExefsHeader struct {
	Files  [exefsFileCount]ExefsFile
	Hashes [exefsFileCount][32]byte
}

// ParseExefsHeader parses a 0x200-byte buffer into an ExefsHeader.
func ParseExefsHeader(buf []byte) (*ExefsHeader, error) {
	if len(buf) != ExefsHeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformed, len(buf), ExefsHeaderSize)
	}
	r := newReader(buf)

	h := &ExefsHeader{}
	for i := range h.Files {
		copy(h.Files[i].Name[:], r.bytes(8))
		h.Files[i].Offset = r.u32()
		h.Files[i].Size = r.u32()
	}
	r.skip(32) // reserved
	for i := range h.Hashes {
		copy(h.Hashes[i][:], r.bytes(32))
	}
	return h, nil
}

// Serialize writes h back to a fresh 0x200-byte buffer.
func (h *ExefsHeader) Serialize() []byte {
	w := newWriter(ExefsHeaderSize)
	for _, f := range h.Files {
		w.putBytes(f.Name[:])
		w.putU32(f.Offset)
		w.putU32(f.Size)
	}
	w.skip(32)
	for _, hash := range h.Hashes {
		w.putBytes(hash[:])
	}
	return w.buf
}

// FileByName returns the file-table entry named name and its hash, or false
// if no populated entry has that name. Used by the upload session to locate
// the "icon" entry (name "icon", NUL-padded) inside a parsed exefs header.
func (h *ExefsHeader) FileByName(name string) (ExefsFile, [32]byte, bool) {
	for i, f := range h.Files {
		if f.Empty() {
			continue
		}
		if f.FileName() == name {
			return f, h.Hashes[exefsFileCount-1-i], true
		}
	}
	return ExefsFile{}, [32]byte{}, false
}
