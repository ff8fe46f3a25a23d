// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package catalogrecord builds the flat catalog record stored for each
// accepted NCCH upload: primitive fields canonicalized to widths the SQL
// catalog can hold, plus the derived stable id and free-text "keyword"
// search field.
package catalogrecord

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/wwylele/ncch-catalog/internal/ncch"
	"github.com/wwylele/ncch-catalog/internal/smdh"
)

// Record is the flat shape persisted to the catalog, one row per accepted
// upload. Pointer fields are nil when the corresponding optional stage
// (exheader, icon) was absent from the upload, matching the NCCH format's
// own optionality (CFA content has no exheader; a CXI with no "icon" exefs
// entry has no icon).
type Record struct {
	ID            string
	Signature     []byte
	ContentSize   uint32
	PartitionID   uint64
	MakerCode     uint16
	NcchVersion   uint16
	ProgramID     uint64
	ProductCode   string
	SecondaryKeySlot uint8
	Platform      uint8

	ContentIsData       bool
	ContentIsExecutable bool
	ContentCategory     uint8
	ContentUnitSize     uint8

	FixedKey   bool
	NoRomfs    bool
	NoCrypto   bool
	SeedCrypto bool

	Exheader *ExheaderFields
	Smdh     *SmdhFields

	Keyword string
}

// ExheaderFields is the subset of the exheader this record retains, present
// only for CXI uploads.
type ExheaderFields struct {
	Name                  string
	SDApp                 bool
	RemasterVersion       uint16
	Dependencies          []uint64
	SaveDataSize          uint64
	JumpID                uint64
	ProgramID             uint64
	CoreVersion           uint32
	EnableL2Cache         bool
	HighCPUSpeed          bool
	SystemMode            uint8
	N3dsSystemMode        uint8
	IdealProcessor        uint8
	AffinityMask          uint8
	ThreadPriority        uint8
	ResourceLimitDesc     []uint16
	ExtdataID             uint64
	SystemSavedataID      [2]uint32
	StorageAccessID       uint64
	FilesystemFlag        uint64
	Services              []string
	ResourceLimitCategory uint8
	KernelDesc            []uint32
	Arm9Flag              uint32
	Arm9FlagVersion       uint8
}

// SmdhFields is the subset of the SMDH this record retains, present only
// when the upload's exefs carried an "icon" file.
type SmdhFields struct {
	ShortTitles   []string
	LongTitles    []string
	Publishers    []string
	Ratings       [16]uint8
	RegionLockout uint32
	MatchMakerID  uint32
	MatchMakerBitID uint64
	Flags         uint32
	EulaVersion   uint16
	CecID         uint32
	SmallIcon     []uint16
	LargeIcon     []uint16
}

// trimTrailingZero drops a trailing run of zero-valued u64s, mirroring the
// original's "Dependencies" trimming (an all-zero dependency slot means
// unused).
func trimTrailingZero(s []uint64) []uint64 {
	end := len(s)
	for end > 0 && s[end-1] == 0 {
		end--
	}
	return s[:end]
}

func trimTrailingZeroU32(s []uint32) []uint32 {
	end := len(s)
	for end > 0 && s[end-1] == 0 {
		end--
	}
	return s[:end]
}

// trimTrailingKernelDescSentinel drops a trailing run of unused kernel
// capability descriptor slots. Unlike Dependencies/ResourceLimitDesc, an
// unused kernel_desc slot is encoded as the signed i32 sentinel -1
// (0xFFFFFFFF), not 0 — 0 is itself a meaningful descriptor value.
func trimTrailingKernelDescSentinel(s []uint32) []uint32 {
	const sentinel = 0xFFFFFFFF
	end := len(s)
	for end > 0 && s[end-1] == sentinel {
		end--
	}
	return s[:end]
}

func cStringFromBytes(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// normalize lowercases ASCII, folds 'é' to 'e', and turns embedded newlines
// into spaces, so substring search is accent- and case-insensitive and
// single-line.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == 'é' || r == 'É':
			b.WriteRune('e')
		case r == '\n':
			b.WriteRune(' ')
		default:
			b.WriteRune(toASCIILower(r))
		}
	}
	return b.String()
}

func toASCIILower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// Build canonicalizes a parsed header (and, if present, exheader and SMDH)
// into a Record. header must already be hash/signature verified by the
// caller; Build performs no verification of its own.
func Build(header *ncch.Header, exheader *ncch.Exheader, smdhHeader *smdh.Header) *Record {
	r := &Record{
		ID:                  StableID(header),
		Signature:           append([]byte(nil), header.Signature[:]...),
		ContentSize:         header.ContentSize,
		PartitionID:         header.PartitionID,
		MakerCode:           header.MakerCode,
		NcchVersion:         header.Version,
		ProgramID:           header.ProgramID,
		ProductCode:         cStringFromBytes(header.ProductCode[:]),
		SecondaryKeySlot:    header.SecondaryKeySlot,
		Platform:            header.Platform,
		ContentIsData:       header.ContentType.IsData(),
		ContentIsExecutable: header.ContentType.IsExecutable(),
		ContentCategory:     header.ContentType.Category(),
		ContentUnitSize:     header.ContentUnitSize,
		FixedKey:            header.KeyConfig.FixedKey(),
		NoRomfs:             header.KeyConfig.NoRomfs(),
		NoCrypto:            header.KeyConfig.NoCrypto(),
		SeedCrypto:          header.KeyConfig.SeedCrypto(),
	}

	if exheader != nil {
		deps := make([]uint64, len(exheader.Dependencies))
		copy(deps, exheader.Dependencies[:])

		services := make([]string, 0, len(exheader.AccessControl.Services))
		for _, s := range exheader.AccessControl.Services {
			name := cStringFromBytes(s[:])
			if name == "" {
				continue
			}
			services = append(services, name)
		}

		kernelDesc := make([]uint32, len(exheader.AccessControl.KernelDesc))
		copy(kernelDesc, exheader.AccessControl.KernelDesc[:])

		resourceLimitDesc := make([]uint16, len(exheader.AccessControl.ResourceLimitDesc))
		copy(resourceLimitDesc, exheader.AccessControl.ResourceLimitDesc[:])

		r.Exheader = &ExheaderFields{
			Name:                  cStringFromBytes(exheader.Name[:]),
			SDApp:                 exheader.SystemControlFlag.SDApp(),
			RemasterVersion:       exheader.RemasterVersion,
			Dependencies:          trimTrailingZero(deps),
			SaveDataSize:          exheader.SaveDataSize,
			JumpID:                exheader.JumpID,
			ProgramID:             exheader.AccessControl.ProgramID,
			CoreVersion:           exheader.AccessControl.CoreVersion,
			EnableL2Cache:         exheader.AccessControl.CoreFlag.EnableL2Cache(),
			HighCPUSpeed:          exheader.AccessControl.CoreFlag.HighCPUSpeed(),
			SystemMode:            exheader.AccessControl.CoreFlag.SystemMode(),
			N3dsSystemMode:        exheader.AccessControl.CoreFlag.N3dsSystemMode(),
			IdealProcessor:        exheader.AccessControl.CoreFlag.IdealProcessor(),
			AffinityMask:          exheader.AccessControl.CoreFlag.AffinityMask(),
			ThreadPriority:        exheader.AccessControl.CoreFlag.Priority(),
			ResourceLimitDesc:     resourceLimitDesc,
			ExtdataID:             exheader.AccessControl.ExtdataID,
			SystemSavedataID:      exheader.AccessControl.SystemSavedataID,
			StorageAccessID:       exheader.AccessControl.StorageAccessID,
			FilesystemFlag:        exheader.AccessControl.FilesystemFlag,
			Services:              services,
			ResourceLimitCategory: exheader.AccessControl.ResourceLimitCategory,
			KernelDesc:            trimTrailingKernelDescSentinel(kernelDesc),
			Arm9Flag:              exheader.AccessControl.Arm9Flag,
			Arm9FlagVersion:       exheader.AccessControl.Arm9FlagVersion,
		}
	}

	if smdhHeader != nil {
		shorts := make([]string, len(smdhHeader.Titles))
		longs := make([]string, len(smdhHeader.Titles))
		pubs := make([]string, len(smdhHeader.Titles))
		for i, t := range smdhHeader.Titles {
			shorts[i] = t.Short()
			longs[i] = t.Long()
			pubs[i] = t.Publisher()
		}

		var ratings [16]uint8
		for i, r := range smdhHeader.Ratings {
			ratings[i] = uint8(r)
		}

		r.Smdh = &SmdhFields{
			ShortTitles:     shorts,
			LongTitles:      longs,
			Publishers:      pubs,
			Ratings:         ratings,
			RegionLockout:   uint32(smdhHeader.RegionLockout),
			MatchMakerID:    smdhHeader.MatchMakerID,
			MatchMakerBitID: smdhHeader.MatchMakerBitID,
			Flags:           smdhHeader.Flags,
			EulaVersion:     smdhHeader.EulaVersion,
			CecID:           smdhHeader.CecID,
			SmallIcon:       append([]uint16(nil), smdhHeader.SmallIcon[:]...),
			LargeIcon:       append([]uint16(nil), smdhHeader.LargeIcon[:]...),
		}
	}

	r.Keyword = buildKeyword(header, exheader, smdhHeader)
	return r
}

// StableID returns the catalog's stable record identifier:
// "{partition_id as 016x}-{first 16 signature bytes as hex}".
func StableID(header *ncch.Header) string {
	return fmt.Sprintf("%016x-%s", header.PartitionID, header.SignatureIDHex())
}

// buildKeyword assembles the deduped, normalized, newline-joined free-text
// search field from every identifying string the upload carries.
func buildKeyword(header *ncch.Header, exheader *ncch.Exheader, smdhHeader *smdh.Header) string {
	seen := make(map[string]struct{})
	add := func(s string) {
		s = normalize(s)
		if s == "" {
			return
		}
		seen[s] = struct{}{}
	}

	add(fmt.Sprintf("%016x", header.PartitionID))
	add(fmt.Sprintf("%016x", header.ProgramID))
	add(cStringFromBytes(header.ProductCode[:]))

	if exheader != nil {
		add(fmt.Sprintf("%016x", exheader.AccessControl.ProgramID))
		add(cStringFromBytes(exheader.Name[:]))
	}

	if smdhHeader != nil {
		for _, t := range smdhHeader.Titles {
			add(t.Short())
			add(t.Long())
			add(t.Publisher())
		}
	}

	words := make([]string, 0, len(seen))
	for w := range seen {
		words = append(words, w)
	}
	sort.Strings(words)
	return strings.Join(words, "\n")
}
