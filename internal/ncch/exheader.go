// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ncch

import "fmt"

// ExheaderSize is the fixed, on-wire size of an Exheader.
const ExheaderSize = 0x800

var _ [ExheaderSize - 0x800]byte
var _ [0x800 - ExheaderSize]byte

// CodeSegment describes one of the three loaded code segments (.text, .ro,
// .data): a load address, a page count, and the segment's size in bytes.
type CodeSegment struct {
	Address  uint32
	NumPages uint32
	CodeSize uint32
}

func readCodeSegment(r *reader) CodeSegment {
	return CodeSegment{Address: r.u32(), NumPages: r.u32(), CodeSize: r.u32()}
}

func writeCodeSegment(w *writer, s CodeSegment) {
	w.putU32(s.Address)
	w.putU32(s.NumPages)
	w.putU32(s.CodeSize)
}

// SystemControlFlag is the exheader's system-control-info flag byte:
// compress_code(1) | sd_app(1) | reserved(6).
type SystemControlFlag uint8

func (f SystemControlFlag) CompressCode() bool { return f&0x01 != 0 }
func (f SystemControlFlag) SDApp() bool        { return f&0x02 != 0 }

// CoreFlag is the exheader access control's core-info flag word:
// enable_l2_cache(1) | high_cpu_speed(1) | reserved(6) | n3ds_system_mode(4) |
// reserved(4) | ideal_processor(2) | affinity_mask(2) | system_mode(4) |
// priority(8).
type CoreFlag uint32

func (f CoreFlag) EnableL2Cache() bool   { return f&(1<<0) != 0 }
func (f CoreFlag) HighCPUSpeed() bool    { return f&(1<<1) != 0 }
func (f CoreFlag) N3dsSystemMode() uint8 { return uint8((f >> 8) & 0xF) }
func (f CoreFlag) IdealProcessor() uint8 { return uint8((f >> 16) & 0x3) }
func (f CoreFlag) AffinityMask() uint8   { return uint8((f >> 18) & 0x3) }
func (f CoreFlag) SystemMode() uint8     { return uint8((f >> 20) & 0xF) }
func (f CoreFlag) Priority() uint8       { return uint8((f >> 24) & 0xFF) }

// AccessControl is the fixed 0x200-byte access-control-info block. It
// appears twice in an Exheader: once as the descriptor the program runs
// under (AccessControl), and once as the descriptor's ceiling
// (AccessControlLimit) that the former must not exceed.
type AccessControl struct {
	ProgramID             uint64
	CoreVersion           uint32
	CoreFlag              CoreFlag
	ResourceLimitDesc     [16]uint16
	ExtdataID             uint64
	SystemSavedataID      [2]uint32
	StorageAccessID       uint64
	FilesystemFlag        uint64
	Services              [34][8]byte
	ResourceLimitCategory uint8
	KernelDesc            [28]uint32
	Arm9Flag              uint32
	Arm9FlagExt           [11]byte
	Arm9FlagVersion       uint8
}

func readAccessControl(r *reader) AccessControl {
	ac := AccessControl{}
	ac.ProgramID = r.u64()
	ac.CoreVersion = r.u32()
	ac.CoreFlag = CoreFlag(r.u32())
	for i := range ac.ResourceLimitDesc {
		ac.ResourceLimitDesc[i] = r.u16()
	}
	ac.ExtdataID = r.u64()
	ac.SystemSavedataID[0] = r.u32()
	ac.SystemSavedataID[1] = r.u32()
	ac.StorageAccessID = r.u64()
	ac.FilesystemFlag = r.u64()
	for i := range ac.Services {
		copy(ac.Services[i][:], r.bytes(8))
	}
	r.skip(15) // reserved_a
	ac.ResourceLimitCategory = r.u8()
	for i := range ac.KernelDesc {
		ac.KernelDesc[i] = r.u32()
	}
	r.skip(16) // reserved_b
	ac.Arm9Flag = r.u32()
	copy(ac.Arm9FlagExt[:], r.bytes(11))
	ac.Arm9FlagVersion = r.u8()
	return ac
}

func writeAccessControl(w *writer, ac AccessControl) {
	w.putU64(ac.ProgramID)
	w.putU32(ac.CoreVersion)
	w.putU32(uint32(ac.CoreFlag))
	for _, v := range ac.ResourceLimitDesc {
		w.putU16(v)
	}
	w.putU64(ac.ExtdataID)
	w.putU32(ac.SystemSavedataID[0])
	w.putU32(ac.SystemSavedataID[1])
	w.putU64(ac.StorageAccessID)
	w.putU64(ac.FilesystemFlag)
	for _, s := range ac.Services {
		w.putBytes(s[:])
	}
	w.skip(15)
	w.putU8(ac.ResourceLimitCategory)
	for _, v := range ac.KernelDesc {
		w.putU32(v)
	}
	w.skip(16)
	w.putU32(ac.Arm9Flag)
	w.putBytes(ac.Arm9FlagExt[:])
	w.putU8(ac.Arm9FlagVersion)
}

// Exheader is the fixed 0x800-byte extended header present on CXI (executable)
// NCCH partitions. It is split into a 0x200-byte process-info block, a
// 0x200-byte AccessControl descriptor, a 0x100-byte signature, a 0x100-byte
// public key, and a 0x200-byte AccessControlLimit — the signature covers
// PublicKey||AccessControlLimit (offsets 0x500..0x800).
type Exheader struct {
	Name               [8]byte
	SystemControlFlag  SystemControlFlag
	RemasterVersion    uint16
	SegmentText        CodeSegment
	StackSize          uint32
	SegmentRO          CodeSegment
	SegmentData        CodeSegment
	BSSSize            uint32
	Dependencies       [48]uint64
	SaveDataSize       uint64
	JumpID             uint64
	AccessControl      AccessControl
	Signature          [256]byte
	PublicKey          [256]byte
	AccessControlLimit AccessControl
}

// ParseExheader parses a 0x800-byte buffer into an Exheader.
func ParseExheader(buf []byte) (*Exheader, error) {
	if len(buf) != ExheaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformed, len(buf), ExheaderSize)
	}
	r := newReader(buf)

	e := &Exheader{}
	copy(e.Name[:], r.bytes(8))
	r.skip(5) // reserved_a
	e.SystemControlFlag = SystemControlFlag(r.u8())
	e.RemasterVersion = r.u16()
	e.SegmentText = readCodeSegment(r)
	e.StackSize = r.u32()
	e.SegmentRO = readCodeSegment(r)
	r.skip(4) // reserved_b
	e.SegmentData = readCodeSegment(r)
	e.BSSSize = r.u32()
	for i := range e.Dependencies {
		e.Dependencies[i] = r.u64()
	}
	e.SaveDataSize = r.u64()
	e.JumpID = r.u64()
	r.skip(48) // reserved_c

	e.AccessControl = readAccessControl(r)
	copy(e.Signature[:], r.bytes(256))
	copy(e.PublicKey[:], r.bytes(256))
	e.AccessControlLimit = readAccessControl(r)

	return e, nil
}

// Serialize writes e back to a fresh 0x800-byte buffer.
func (e *Exheader) Serialize() []byte {
	w := newWriter(ExheaderSize)
	w.putBytes(e.Name[:])
	w.skip(5)
	w.putU8(uint8(e.SystemControlFlag))
	w.putU16(e.RemasterVersion)
	writeCodeSegment(w, e.SegmentText)
	w.putU32(e.StackSize)
	writeCodeSegment(w, e.SegmentRO)
	w.skip(4)
	writeCodeSegment(w, e.SegmentData)
	w.putU32(e.BSSSize)
	for _, v := range e.Dependencies {
		w.putU64(v)
	}
	w.putU64(e.SaveDataSize)
	w.putU64(e.JumpID)
	w.skip(48)

	writeAccessControl(w, e.AccessControl)
	w.putBytes(e.Signature[:])
	w.putBytes(e.PublicKey[:])
	writeAccessControl(w, e.AccessControlLimit)

	return w.buf
}

// SignedBytes returns the 0x300-byte region (PublicKey || AccessControlLimit,
// offsets 0x500..0x800) that Signature covers.
func (e *Exheader) SignedBytes() []byte {
	return e.Serialize()[0x500:]
}
