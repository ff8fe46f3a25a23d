// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package crypto3ds

import "encoding/binary"

// CTRExheader derives the AES-CTR initial counter for an NCCH's exheader
// region, per the version table in the NCCH spec. Unknown versions return
// the zero counter: decryption proceeds but will not match the embedded
// hash, which is the intended "refuse to decrypt" behavior.
func CTRExheader(version uint16, partitionID uint64) Key128 {
	var ctr Key128
	switch version {
	case 0, 2:
		binary.BigEndian.PutUint64(ctr[0:8], partitionID)
		ctr[8] = 1
	case 1:
		binary.LittleEndian.PutUint64(ctr[0:8], partitionID)
		binary.BigEndian.PutUint32(ctr[12:16], 0x200)
	}
	return ctr
}

// CTRExefs derives the AES-CTR initial counter for an NCCH's exefs region.
// exefsSizeUnits is the exefs size field from the header (in content
// units); unitBytes is the expanded content unit size in bytes.
func CTRExefs(version uint16, partitionID uint64, exefsSizeUnits, unitBytes uint32) Key128 {
	var ctr Key128
	switch version {
	case 0, 2:
		binary.BigEndian.PutUint64(ctr[0:8], partitionID)
		ctr[8] = 2
	case 1:
		binary.LittleEndian.PutUint64(ctr[0:8], partitionID)
		binary.BigEndian.PutUint32(ctr[12:16], exefsSizeUnits*unitBytes)
	}
	return ctr
}

// SeekCounter advances ctr by the number of whole AES blocks needed to
// reach byte offset off within the region it counts, i.e. the counter
// value of the block containing off.
func SeekCounter(ctr Key128, off int64) Key128 {
	return addUint64(ctr, uint64(off/16))
}
