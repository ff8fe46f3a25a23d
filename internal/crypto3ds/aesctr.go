// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package crypto3ds

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// DecryptCTR XORs data with the AES-128-CTR keystream for key/ctr starting
// at block ⌊offset/16⌋, discarding offset%16 bytes of that block's
// keystream so arbitrary, non-block-aligned offsets are supported (icon
// decryption needs to start mid-exefs-file). It returns a new slice; data
// is not modified in place.
func DecryptCTR(key, ctr Key128, offset int64, data []byte) ([]byte, error) {
	if offset < 0 {
		return nil, fmt.Errorf("crypto3ds: negative offset %d", offset)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto3ds: new AES cipher: %w", err)
	}

	blockCtr := SeekCounter(ctr, offset)
	stream := cipher.NewCTR(block, blockCtr[:])

	if align := int(offset % 16); align > 0 {
		discard := make([]byte, align)
		stream.XORKeyStream(discard, discard)
	}

	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

// EncryptCTR is DecryptCTR under another name: AES-CTR is its own
// inverse. Kept separate so call sites read as intent, and so tests can
// exercise encrypt(decrypt(x)) == x without reading like a no-op.
func EncryptCTR(key, ctr Key128, offset int64, data []byte) ([]byte, error) {
	return DecryptCTR(key, ctr, offset, data)
}
