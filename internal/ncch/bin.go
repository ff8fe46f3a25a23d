// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ncch

import "encoding/binary"

// reader walks a fixed-layout little-endian buffer sequentially. It never
// errors: every NCCH-family struct has a fixed, compile-time-known size,
// and callers are expected to size the backing buffer accordingly (the
// session layer refuses to parse anything shorter than the declared
// length before a reader is ever constructed).
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) bytes(n int) []byte {
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *reader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) skip(n int) { r.off += n }

// writer is the inverse of reader: it serializes a struct back into a
// fixed-size little-endian buffer.
type writer struct {
	buf []byte
	off int
}

func newWriter(size int) *writer { return &writer{buf: make([]byte, size)} }

func (w *writer) putBytes(b []byte) {
	copy(w.buf[w.off:], b)
	w.off += len(b)
}

func (w *writer) putU8(v uint8) {
	w.buf[w.off] = v
	w.off++
}

func (w *writer) putU16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

func (w *writer) putU32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *writer) putU64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *writer) skip(n int) { w.off += n }
