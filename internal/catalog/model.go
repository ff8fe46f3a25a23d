// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/wwylele/ncch-catalog/internal/catalogrecord"
)

// row is the gorm-mapped table schema. Nested optional structures
// (Exheader, Smdh fields) are stored as JSON text columns rather than
// normalized into their own tables: they are opaque payload as far as the
// catalog's query surface is concerned, which only ever filters on the
// flat scalar columns and the keyword search field.
type row struct {
	ID               string `gorm:"primaryKey"`
	Signature        []byte
	ContentSize      uint32
	PartitionID      uint64 `gorm:"uniqueIndex"`
	MakerCode        uint16
	NcchVersion      uint16
	ProgramID        uint64
	ProductCode      string `gorm:"index"`
	SecondaryKeySlot uint8
	Platform         uint8

	ContentIsData       bool
	ContentIsExecutable bool
	ContentCategory     uint8
	ContentUnitSize     uint8

	FixedKey   bool
	NoRomfs    bool
	NoCrypto   bool
	SeedCrypto bool

	ExheaderJSON string `gorm:"type:text"`
	SmdhJSON     string `gorm:"type:text"`

	Keyword string `gorm:"type:text;index"`
}

func (row) TableName() string { return "ncch_records" }

func rowFromRecord(r *catalogrecord.Record) (*row, error) {
	out := &row{
		ID:                  r.ID,
		Signature:           r.Signature,
		ContentSize:         r.ContentSize,
		PartitionID:         r.PartitionID,
		MakerCode:           r.MakerCode,
		NcchVersion:         r.NcchVersion,
		ProgramID:           r.ProgramID,
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
		Keyword:             r.Keyword,
	}

	if r.Exheader != nil {
		b, err := json.Marshal(r.Exheader)
		if err != nil {
			return nil, fmt.Errorf("catalog: marshal exheader fields: %w", err)
		}
		out.ExheaderJSON = string(b)
	}
	if r.Smdh != nil {
		b, err := json.Marshal(r.Smdh)
		if err != nil {
			return nil, fmt.Errorf("catalog: marshal smdh fields: %w", err)
		}
		out.SmdhJSON = string(b)
	}

	return out, nil
}

func (rw *row) toRecord() (*catalogrecord.Record, error) {
	r := &catalogrecord.Record{
		ID:                  rw.ID,
		Signature:           rw.Signature,
		ContentSize:         rw.ContentSize,
		PartitionID:         rw.PartitionID,
		MakerCode:           rw.MakerCode,
		NcchVersion:         rw.NcchVersion,
		ProgramID:           rw.ProgramID,
		ProductCode:         rw.ProductCode,
		SecondaryKeySlot:    rw.SecondaryKeySlot,
		Platform:            rw.Platform,
		ContentIsData:       rw.ContentIsData,
		ContentIsExecutable: rw.ContentIsExecutable,
		ContentCategory:     rw.ContentCategory,
		ContentUnitSize:     rw.ContentUnitSize,
		FixedKey:            rw.FixedKey,
		NoRomfs:             rw.NoRomfs,
		NoCrypto:            rw.NoCrypto,
		SeedCrypto:          rw.SeedCrypto,
		Keyword:             rw.Keyword,
	}

	if rw.ExheaderJSON != "" {
		var e catalogrecord.ExheaderFields
		if err := json.Unmarshal([]byte(rw.ExheaderJSON), &e); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal exheader fields: %w", err)
		}
		r.Exheader = &e
	}
	if rw.SmdhJSON != "" {
		var s catalogrecord.SmdhFields
		if err := json.Unmarshal([]byte(rw.SmdhJSON), &s); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal smdh fields: %w", err)
		}
		r.Smdh = &s
	}

	return r, nil
}
