// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ncch

import "fmt"

// NcsdMagic is the fixed 4-byte NCSD magic value, found at offset 0x100 of
// an NCSD-wrapped container — the same offset an NCCH's own magic occupies,
// which is what lets a session tell the two apart from a single 0x200-byte
// read.
var NcsdMagic = [4]byte{'N', 'C', 'S', 'D'}

// ErrIsNcsd is returned by ProbeMagic when the buffer's magic identifies it
// as an NCSD container rather than a bare NCCH. This server ingests a single
// NCCH partition per upload session and has no partition-table parser: NCSD
// extraction is a client-side concern, matching the system this was
// distilled from, where NCSD-to-NCCH partition extraction happens entirely
// in the browser before upload.
var ErrIsNcsd = fmt.Errorf("ncch: container is NCSD, not NCCH")

// ProbeMagic reports which of NCCH or NCSD magic a 0x200-byte buffer
// carries. It returns ErrIsNcsd if the buffer is an NCSD wrapper, nil if it
// is a plain NCCH (magic check deferred to ParseHeader), and ErrMalformed if
// neither magic matches.
func ProbeMagic(buf []byte) error {
	if len(buf) < 0x104 {
		return fmt.Errorf("%w: buffer too short to contain a magic", ErrMalformed)
	}
	var magic [4]byte
	copy(magic[:], buf[0x100:0x104])
	switch magic {
	case NcsdMagic:
		return ErrIsNcsd
	case Magic:
		return nil
	default:
		return fmt.Errorf("%w: magic %q", ErrMalformed, magic)
	}
}
