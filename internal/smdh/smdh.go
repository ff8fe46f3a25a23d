// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package smdh implements the SMDH title-metadata and icon format embedded
// in an NCCH's exefs as the "icon" file.
package smdh

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf16"
)

// HeaderSize is the fixed, on-wire size of an SMDH.
const HeaderSize = 0x36C0

var _ [HeaderSize - 0x36C0]byte
var _ [0x36C0 - HeaderSize]byte

// Magic is the fixed 4-byte SMDH magic value.
var Magic = [4]byte{'S', 'M', 'D', 'H'}

// titleCount is the number of per-language title blocks an SMDH carries
// (one per supported system language, in a fixed order).
const titleCount = 16

const (
	shortTitleLen     = 64
	longTitleLen      = 128
	publisherTitleLen = 64
)

// Title is one language's worth of title metadata, stored as the raw
// UTF-16LE code units the wire format carries (NUL-padded to a fixed
// length). Parse/Serialize never decode these to Go strings: arbitrary
// 16-bit data past a logical NUL terminator need not be valid UTF-16, and
// decoding it would replace ill-formed code units with U+FFFD, which would
// then re-encode differently on Serialize and break the codec's
// byte-for-byte round trip. Callers that want display strings use
// Short()/Long()/Publisher().
type Title struct {
	ShortRaw     [shortTitleLen]uint16
	LongRaw      [longTitleLen]uint16
	PublisherRaw [publisherTitleLen]uint16
}

// decodeUTF16 turns a NUL-padded UTF-16LE code-unit array into a string,
// trimming the trailing run of NULs before decoding.
func decodeUTF16(raw []uint16) string {
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return string(utf16.Decode(raw[:end]))
}

// Short decodes the short title as a Go string.
func (t Title) Short() string { return decodeUTF16(t.ShortRaw[:]) }

// Long decodes the long title as a Go string.
func (t Title) Long() string { return decodeUTF16(t.LongRaw[:]) }

// Publisher decodes the publisher name as a Go string.
func (t Title) Publisher() string { return decodeUTF16(t.PublisherRaw[:]) }

func encodeUTF16(dst []uint16, s string) {
	raw := utf16.Encode([]rune(s))
	if len(raw) > len(dst) {
		raw = raw[:len(dst)]
	}
	copy(dst, raw)
}

// NewTitle encodes short/long/publisher strings into a Title's fixed-width
// UTF-16LE arrays, truncating any string that overruns its code-unit
// length. Used when constructing an SMDH programmatically; Parse never
// calls this since it reads raw code units directly off the wire.
func NewTitle(short, long, publisher string) Title {
	var t Title
	encodeUTF16(t.ShortRaw[:], short)
	encodeUTF16(t.LongRaw[:], long)
	encodeUTF16(t.PublisherRaw[:], publisher)
	return t
}

// ratingCount is the number of per-rating-board bytes the wire format
// carries. The specification's region-agnostic description only names 11
// boards in active use (CERO, ESRB, USK, PEGI-GEN, PEGI-PRT, PEGI-BBFC,
// COB, GRB, CGSRR, and two reserved slots); the remaining 5 bytes of this
// 16-byte array are unused reserved padding carried for wire compatibility.
const ratingCount = 16

// Rating is one rating board's entry: age(5) | no_age_restriction(1) |
// reserved(1) | rating_pending(1).
type Rating uint8

func (r Rating) Age() uint8            { return uint8(r & 0x1F) }
func (r Rating) NoAgeRestriction() bool { return r&0x20 != 0 }
func (r Rating) RatingPending() bool    { return r&0x80 != 0 }

// RegionLockout is the region-lockout bitfield: one bit per region. A value
// with no region bit set is treated as region free.
type RegionLockout uint32

const (
	RegionJapan = 1 << iota
	RegionNorthAmerica
	RegionEurope
	_ // unused region bit
	RegionAustralia
	_
	RegionChina
	RegionKorea
	RegionTaiwan
)

// RegionFree reports whether the title is not restricted to any region
// (all region bits clear).
func (r RegionLockout) RegionFree() bool { return r == 0 }

// Header is the fixed 0x36C0-byte SMDH structure: per-language titles,
// rating-board bytes, region lockout, and the small/large tiled-RGB565 icon
// bitmaps.
type Header struct {
	Version              uint16
	ReservedA            [2]byte
	Titles               [titleCount]Title
	Ratings              [ratingCount]Rating
	RegionLockout        RegionLockout
	MatchMakerID         uint32
	MatchMakerBitID      uint64
	Flags                uint32
	EulaVersion          uint16
	ReservedB            [2]byte
	BannerAnimationFrame float32
	CecID                uint32
	ReservedC            [8]byte
	SmallIcon            [24 * 24]uint16 // RGB565, tiled
	LargeIcon            [48 * 48]uint16 // RGB565, tiled
}

// ErrMalformed is returned by Parse when the buffer's length or magic does
// not match the format.
var ErrMalformed = errors.New("smdh: malformed header")

// Parse parses a 0x36C0-byte buffer into a Header.
func Parse(buf []byte) (*Header, error) {
	if len(buf) != HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformed, len(buf), HeaderSize)
	}
	off := 0
	readN := func(n int) []byte {
		b := buf[off : off+n]
		off += n
		return b
	}
	u16 := func() uint16 {
		b := readN(2)
		return uint16(b[0]) | uint16(b[1])<<8
	}
	u32 := func() uint32 {
		b := readN(4)
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	u64 := func() uint64 {
		lo := uint64(u32())
		hi := uint64(u32())
		return lo | hi<<32
	}
	readUTF16 := func(dst []uint16) {
		for i := range dst {
			dst[i] = u16()
		}
	}

	var magic [4]byte
	copy(magic[:], readN(4))
	if magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrMalformed, magic)
	}

	h := &Header{}
	h.Version = u16()
	copy(h.ReservedA[:], readN(2))

	for i := range h.Titles {
		readUTF16(h.Titles[i].ShortRaw[:])
		readUTF16(h.Titles[i].LongRaw[:])
		readUTF16(h.Titles[i].PublisherRaw[:])
	}

	for i := range h.Ratings {
		h.Ratings[i] = Rating(readN(1)[0])
	}

	h.RegionLockout = RegionLockout(u32())
	h.MatchMakerID = u32()
	h.MatchMakerBitID = u64()
	h.Flags = u32()
	h.EulaVersion = u16()
	copy(h.ReservedB[:], readN(2))
	h.BannerAnimationFrame = math.Float32frombits(u32())
	h.CecID = u32()
	copy(h.ReservedC[:], readN(8))

	for i := range h.SmallIcon {
		h.SmallIcon[i] = u16()
	}
	for i := range h.LargeIcon {
		h.LargeIcon[i] = u16()
	}

	if off != HeaderSize {
		return nil, fmt.Errorf("%w: internal layout mismatch, consumed %d of %d bytes", ErrMalformed, off, HeaderSize)
	}
	return h, nil
}

// Serialize writes h back to a fresh 0x36C0-byte buffer.
func (h *Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	off := 0
	putN := func(b []byte) {
		copy(buf[off:], b)
		off += len(b)
	}
	putU16 := func(v uint16) {
		buf[off], buf[off+1] = byte(v), byte(v>>8)
		off += 2
	}
	putU32 := func(v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
		off += 4
	}
	putU64 := func(v uint64) {
		putU32(uint32(v))
		putU32(uint32(v >> 32))
	}
	putUTF16 := func(raw []uint16) {
		for _, u := range raw {
			putU16(u)
		}
	}

	putN(Magic[:])
	putU16(h.Version)
	putN(h.ReservedA[:])

	for _, t := range h.Titles {
		putUTF16(t.ShortRaw[:])
		putUTF16(t.LongRaw[:])
		putUTF16(t.PublisherRaw[:])
	}

	for _, r := range h.Ratings {
		buf[off] = byte(r)
		off++
	}

	putU32(uint32(h.RegionLockout))
	putU32(h.MatchMakerID)
	putU64(h.MatchMakerBitID)
	putU32(h.Flags)
	putU16(h.EulaVersion)
	putN(h.ReservedB[:])
	putU32(math.Float32bits(h.BannerAnimationFrame))
	putU32(h.CecID)
	putN(h.ReservedC[:])

	for _, v := range h.SmallIcon {
		putU16(v)
	}
	for _, v := range h.LargeIcon {
		putU16(v)
	}

	return buf
}

// TitleForLanguage returns the title block for the given system-language
// index (0 = Japanese .. 15, the fixed order the format defines), or false
// if idx is out of range.
func (h *Header) TitleForLanguage(idx int) (Title, bool) {
	if idx < 0 || idx >= len(h.Titles) {
		return Title{}, false
	}
	return h.Titles[idx], true
}
