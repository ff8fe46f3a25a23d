// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package ncch implements the binary layout of the NCCH container format:
// the NCCH header itself, the extended header ("exheader"), the embedded
// filesystem header ("exefs"), plus a magic check that tells an NCSD
// multi-partition wrapper apart from a bare NCCH (the NCSD partition table
// itself is not parsed).
//
// Every struct here has a fixed, specification-mandated byte length;
// Parse/Serialize round-trip any conforming buffer byte-for-byte.
package ncch

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// HeaderSize is the fixed, on-wire size of an NCCH header.
const HeaderSize = 0x200

// compile-time assertion that HeaderSize matches the format this package
// implements: either operand of the subtraction going negative is a
// compile error.
var (
	_ [0x200 - HeaderSize]byte
	_ [HeaderSize - 0x200]byte
)

// Magic is the fixed 4-byte NCCH magic value.
var Magic = [4]byte{'N', 'C', 'C', 'H'}

// ContentType is the content-type bitfield: is_data(1) | is_executable(1) | category(6).
type ContentType uint8

func (c ContentType) IsData() bool       { return c&0x01 != 0 }
func (c ContentType) IsExecutable() bool { return c&0x02 != 0 }
func (c ContentType) Category() uint8    { return uint8(c >> 2) }

// KeyConfig is the key-configuration bitfield: fixed_key(1) | no_romfs(1) |
// no_crypto(1) | reserved(2) | seed_crypto(1) | reserved(2).
type KeyConfig uint8

const (
	keyConfigFixedKey   = 1 << 0
	keyConfigNoRomfs    = 1 << 1
	keyConfigNoCrypto   = 1 << 2
	keyConfigSeedCrypto = 1 << 5
)

func (k KeyConfig) FixedKey() bool   { return k&keyConfigFixedKey != 0 }
func (k KeyConfig) NoRomfs() bool    { return k&keyConfigNoRomfs != 0 }
func (k KeyConfig) NoCrypto() bool   { return k&keyConfigNoCrypto != 0 }
func (k KeyConfig) SeedCrypto() bool { return k&keyConfigSeedCrypto != 0 }

func (k KeyConfig) withFixedKey(v bool) KeyConfig   { return setBit(k, keyConfigFixedKey, v) }
func (k KeyConfig) withNoCrypto(v bool) KeyConfig   { return setBit(k, keyConfigNoCrypto, v) }
func (k KeyConfig) withSeedCrypto(v bool) KeyConfig { return setBit(k, keyConfigSeedCrypto, v) }

func setBit(k KeyConfig, mask uint8, v bool) KeyConfig {
	if v {
		return k | KeyConfig(mask)
	}
	return k &^ KeyConfig(mask)
}

// Header is the fixed 0x200-byte NCCH header.
type Header struct {
	Signature           [256]byte
	Magic               [4]byte
	ContentSize         uint32 // media units
	PartitionID         uint64
	MakerCode           uint16
	Version             uint16
	SeedVerifier        [4]byte
	ProgramID           uint64
	ReservedA           [16]byte
	LogoHash            [32]byte
	ProductCode         [16]byte
	ExheaderHash        [32]byte
	ExheaderSize        uint32
	ReservedB           [4]byte
	Flag0               uint8
	Flag1               uint8
	Flag2               uint8
	SecondaryKeySlot    uint8
	Platform            uint8
	ContentType         ContentType
	ContentUnitSize     uint8
	KeyConfig           KeyConfig
	SdkInfoOffset       uint32
	SdkInfoSize         uint32
	LogoOffset          uint32 // media units
	LogoSize            uint32 // media units
	ExefsOffset         uint32 // media units
	ExefsSize           uint32 // media units
	ExefsHashRegionSize uint32 // media units
	ReservedC           [4]byte
	RomfsOffset         uint32 // media units
	RomfsSize           uint32 // media units
	RomfsHashRegionSize uint32 // media units
	ReservedD           [4]byte
	ExefsHash           [32]byte
	RomfsHash           [32]byte
}

// UnitSize returns the content unit size in bytes: 0x200 << content_unit_size.
func (h *Header) UnitSize() uint32 {
	return 0x200 << uint(h.ContentUnitSize)
}

// HasExheader reports whether this NCCH carries an executable extended
// header (CXI) as opposed to being a plain content archive (CFA).
func (h *Header) HasExheader() bool {
	return h.ExheaderSize == 0x400
}

// ErrMalformed is returned by Parse when the buffer's length or a
// structural invariant (magic, exheader_size) does not match the format.
var ErrMalformed = errors.New("ncch: malformed header")

// ParseHeader parses a 0x200-byte buffer into a Header. It validates the
// magic and exheader_size invariants from the specification; callers that
// want the "flag repair" retry policy apply it on top of a successfully
// parsed Header (see package verify).
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) != HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformed, len(buf), HeaderSize)
	}
	r := newReader(buf)

	h := &Header{}
	copy(h.Signature[:], r.bytes(256))
	copy(h.Magic[:], r.bytes(4))
	h.ContentSize = r.u32()
	h.PartitionID = r.u64()
	h.MakerCode = r.u16()
	h.Version = r.u16()
	copy(h.SeedVerifier[:], r.bytes(4))
	h.ProgramID = r.u64()
	copy(h.ReservedA[:], r.bytes(16))
	copy(h.LogoHash[:], r.bytes(32))
	copy(h.ProductCode[:], r.bytes(16))
	copy(h.ExheaderHash[:], r.bytes(32))
	h.ExheaderSize = r.u32()
	copy(h.ReservedB[:], r.bytes(4))
	h.Flag0 = r.u8()
	h.Flag1 = r.u8()
	h.Flag2 = r.u8()
	h.SecondaryKeySlot = r.u8()
	h.Platform = r.u8()
	h.ContentType = ContentType(r.u8())
	h.ContentUnitSize = r.u8()
	h.KeyConfig = KeyConfig(r.u8())
	h.SdkInfoOffset = r.u32()
	h.SdkInfoSize = r.u32()
	h.LogoOffset = r.u32()
	h.LogoSize = r.u32()
	h.ExefsOffset = r.u32()
	h.ExefsSize = r.u32()
	h.ExefsHashRegionSize = r.u32()
	copy(h.ReservedC[:], r.bytes(4))
	h.RomfsOffset = r.u32()
	h.RomfsSize = r.u32()
	h.RomfsHashRegionSize = r.u32()
	copy(h.ReservedD[:], r.bytes(4))
	copy(h.ExefsHash[:], r.bytes(32))
	copy(h.RomfsHash[:], r.bytes(32))

	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrMalformed, h.Magic)
	}
	if h.ExheaderSize != 0 && h.ExheaderSize != 0x400 {
		return nil, fmt.Errorf("%w: exheader_size %#x", ErrMalformed, h.ExheaderSize)
	}
	return h, nil
}

// Serialize writes h back to a fresh 0x200-byte buffer.
func (h *Header) Serialize() []byte {
	w := newWriter(HeaderSize)
	w.putBytes(h.Signature[:])
	w.putBytes(h.Magic[:])
	w.putU32(h.ContentSize)
	w.putU64(h.PartitionID)
	w.putU16(h.MakerCode)
	w.putU16(h.Version)
	w.putBytes(h.SeedVerifier[:])
	w.putU64(h.ProgramID)
	w.putBytes(h.ReservedA[:])
	w.putBytes(h.LogoHash[:])
	w.putBytes(h.ProductCode[:])
	w.putBytes(h.ExheaderHash[:])
	w.putU32(h.ExheaderSize)
	w.putBytes(h.ReservedB[:])
	w.putU8(h.Flag0)
	w.putU8(h.Flag1)
	w.putU8(h.Flag2)
	w.putU8(h.SecondaryKeySlot)
	w.putU8(h.Platform)
	w.putU8(uint8(h.ContentType))
	w.putU8(h.ContentUnitSize)
	w.putU8(uint8(h.KeyConfig))
	w.putU32(h.SdkInfoOffset)
	w.putU32(h.SdkInfoSize)
	w.putU32(h.LogoOffset)
	w.putU32(h.LogoSize)
	w.putU32(h.ExefsOffset)
	w.putU32(h.ExefsSize)
	w.putU32(h.ExefsHashRegionSize)
	w.putBytes(h.ReservedC[:])
	w.putU32(h.RomfsOffset)
	w.putU32(h.RomfsSize)
	w.putU32(h.RomfsHashRegionSize)
	w.putBytes(h.ReservedD[:])
	w.putBytes(h.ExefsHash[:])
	w.putBytes(h.RomfsHash[:])
	return w.buf
}

// SignedBytes returns the 0x100-byte region (offsets 0x100..0x200) that
// the header's embedded signature covers.
func (h *Header) SignedBytes() []byte {
	return h.Serialize()[0x100:]
}

// SignatureIDHex returns the "{signature[0..16] as lowercase hex}" half of
// the catalog's stable record id.
func (h *Header) SignatureIDHex() string {
	return hex.EncodeToString(h.Signature[:16])
}

// WithFlags returns a copy of h with no_crypto, fixed_key, secondary_key_slot
// and seed_crypto replaced, used by the flag-repair retry sweep in package
// verify. The signature is left untouched; only the mutated copy's
// SignedBytes() differ from h's.
func (h *Header) WithFlags(noCrypto, fixedKey bool, secondaryKeySlot uint8, seedCrypto bool) *Header {
	cp := *h
	cp.KeyConfig = cp.KeyConfig.withNoCrypto(noCrypto).withFixedKey(fixedKey).withSeedCrypto(seedCrypto)
	cp.SecondaryKeySlot = secondaryKeySlot
	return &cp
}
