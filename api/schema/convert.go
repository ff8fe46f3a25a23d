// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package schema

import (
	"fmt"

	"github.com/wwylele/ncch-catalog/internal/catalogrecord"
)

// NcchInfoFromRecord projects a stored catalog record into its wire shape.
func NcchInfoFromRecord(r *catalogrecord.Record) NcchInfo {
	info := NcchInfo{
		ID:                  r.ID,
		PartitionID:         fmt.Sprintf("%016x", r.PartitionID),
		ProgramID:           fmt.Sprintf("%016x", r.ProgramID),
		MakerCode:           r.MakerCode,
		NcchVersion:         r.NcchVersion,
		ProductCode:         r.ProductCode,
		SecondaryKeySlot:    r.SecondaryKeySlot,
		Platform:            r.Platform,
		ContentIsData:       r.ContentIsData,
		ContentIsExecutable: r.ContentIsExecutable,
		ContentCategory:     r.ContentCategory,
		ContentUnitSize:     r.ContentUnitSize,
		FixedKey:            r.FixedKey,
		NoRomfs:             r.NoRomfs,
		NoCrypto:            r.NoCrypto,
		SeedCrypto:          r.SeedCrypto,
	}

	if r.Exheader != nil {
		e := r.Exheader
		deps := make([]string, len(e.Dependencies))
		for i, d := range e.Dependencies {
			deps[i] = fmt.Sprintf("%016x", d)
		}
		info.Exheader = &ExheaderInfo{
			Name:            e.Name,
			SDApp:           e.SDApp,
			RemasterVersion: e.RemasterVersion,
			Dependencies:    deps,
			SaveDataSize:    e.SaveDataSize,
			JumpID:          fmt.Sprintf("%016x", e.JumpID),
			ProgramID:       fmt.Sprintf("%016x", e.ProgramID),
			CoreVersion:     e.CoreVersion,
			Services:        append([]string(nil), e.Services...),
		}
	}

	if r.Smdh != nil {
		s := r.Smdh
		info.Smdh = &SmdhInfo{
			ShortTitles:   append([]string(nil), s.ShortTitles...),
			LongTitles:    append([]string(nil), s.LongTitles...),
			Publishers:    append([]string(nil), s.Publishers...),
			Ratings:       s.Ratings,
			RegionLockout: s.RegionLockout,
			EulaVersion:   s.EulaVersion,
		}
		info.HasSmallIcon = hasNonZeroPixel(s.SmallIcon)
		info.HasLargeIcon = hasNonZeroPixel(s.LargeIcon)
	}

	return info
}

func hasNonZeroPixel(icon []uint16) bool {
	for _, v := range icon {
		if v != 0 {
			return true
		}
	}
	return false
}
