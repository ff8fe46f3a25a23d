// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package crypto3ds

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"
)

// PublicKeyFromModulus builds an *rsa.PublicKey from a raw big-endian
// modulus, under the fixed public exponent 65537 (0x10001) that every 3DS
// RSA-2048 key (NCCH header, CFA, exheader) uses.
func PublicKeyFromModulus(modulus []byte) *rsa.PublicKey {
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: 0x10001,
	}
}

// VerifySHA256 reports whether sig is a valid PKCS#1 v1.5 RSA signature
// over the SHA-256 digest of msg, under pub. Any structural or padding
// failure is reported as false, never as an error: callers treat this as
// a boolean check per the upload protocol's verification policy.
func VerifySHA256(pub *rsa.PublicKey, msg, sig []byte) bool {
	digest := sha256.Sum256(msg)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}
