// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package verify implements the NCCH/CXI verification pipeline: signature
// checking (with the flag-repair retry sweep), hash-first transparent
// AES-CTR decryption, and per-stage key/counter derivation.
package verify

import (
	"crypto/rsa"
	"crypto/sha256"

	"github.com/wwylele/ncch-catalog/internal/crypto3ds"
	"github.com/wwylele/ncch-catalog/internal/ncch"
)

// Keys carries the fixed cryptographic material this server is configured
// with at startup: the hardware key scrambler input, the RSA public key that
// verifies an exheader's signature, and the RSA public key that verifies a
// CFA header's signature (a CXI header is verified with the public key
// embedded in its exheader).
type Keys struct {
	KeyX              crypto3ds.Key128
	ScramblerConstant crypto3ds.Key128
	ExheaderPublicKey *rsa.PublicKey
	CFAPublicKey      *rsa.PublicKey
}

// secondaryKeySlotCandidates are the secondary_key_slot values the
// flag-repair sweep tries, in order, after clearing no_crypto and fixed_key
// and crossing with both values of seed_crypto.
var secondaryKeySlotCandidates = [4]uint8{0, 1, 10, 11}

// VerifyAndFixHeader reports whether h's embedded signature validates under
// pub, either as-is or after the flag-repair retry sweep. On success it
// returns the (possibly flag-corrected) header actually used for the
// passing signature; the caller must use that header's flags for all
// subsequent key/ctr derivation, since the original header's flags may have
// been wrong.
func VerifyAndFixHeader(h *ncch.Header, pub *rsa.PublicKey) (*ncch.Header, bool) {
	if crypto3ds.VerifySHA256(pub, h.SignedBytes(), h.Signature[:]) {
		return h, true
	}

	for _, secondaryKeySlot := range secondaryKeySlotCandidates {
		for _, seedCrypto := range [2]bool{false, true} {
			candidate := h.WithFlags(false, false, secondaryKeySlot, seedCrypto)
			if crypto3ds.VerifySHA256(pub, candidate.SignedBytes(), candidate.Signature[:]) {
				return candidate, true
			}
		}
	}

	return h, false
}

// HeaderKey returns the AES key to use for this header's exheader/exefs
// decryption: the all-zero fixed key if fixed_key is set, otherwise the
// key-scrambler output of KeyX and the header's embedded signature-derived
// keyY.
func (k Keys) HeaderKey(h *ncch.Header) crypto3ds.Key128 {
	if h.KeyConfig.FixedKey() {
		return crypto3ds.Key128{}
	}
	keyY := crypto3ds.NcchKeyY(h.Signature[:])
	return crypto3ds.Scramble(k.KeyX, keyY, k.ScramblerConstant)
}

// HashFirstDecrypt implements the upload protocol's "try plaintext first"
// policy. It hashes data[:hashLen] and compares against want; if it already
// matches, the region was not encrypted (or this session's partition uses
// no_crypto) and data is returned unchanged. Otherwise the full data buffer
// is decrypted with key/ctr starting at byte offset off (not just the hashed
// prefix — the hash only covers part of what is actually encrypted, e.g. an
// exheader's process-info/access-control half but not its trailing
// signature/public-key/access-control-limit half), and data[:hashLen] is
// hashed again. decrypted reports whether decryption was actually applied,
// which callers must carry forward to decrypt dependent regions (e.g. an
// icon file living later in the same encrypted exefs stream) at the correct
// counter offset.
func HashFirstDecrypt(data []byte, hashLen int, want [32]byte, key, ctr crypto3ds.Key128, off int64) (out []byte, decrypted bool, hashOK bool) {
	if sha256.Sum256(data[:hashLen]) == want {
		return data, false, true
	}

	decryptedData, err := crypto3ds.DecryptCTR(key, ctr, off, data)
	if err != nil {
		return data, false, false
	}
	if sha256.Sum256(decryptedData[:hashLen]) != want {
		return decryptedData, true, false
	}
	return decryptedData, true, true
}
