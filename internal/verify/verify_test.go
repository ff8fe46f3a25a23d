// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package verify

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/wwylele/ncch-catalog/internal/crypto3ds"
	"github.com/wwylele/ncch-catalog/internal/ncch"
)

func rsaSignHeader(t *testing.T, h *ncch.Header, key *rsa.PrivateKey) []byte {
	t.Helper()
	digest := sha256.Sum256(h.SignedBytes())
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func signedHeader(t *testing.T, key *rsa.PrivateKey) *ncch.Header {
	t.Helper()
	h := &ncch.Header{}
	copy(h.Magic[:], ncch.Magic[:])
	h.PartitionID = 0x1122334455667788
	copy(h.Signature[:], rsaSignHeader(t, h, key))
	return h
}

func TestVerifyAndFixHeaderValidAsIs(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	h := signedHeader(t, key)

	fixed, ok := VerifyAndFixHeader(h, &key.PublicKey)
	if !ok {
		t.Fatal("expected valid signature to verify as-is")
	}
	if fixed.SecondaryKeySlot != h.SecondaryKeySlot {
		t.Fatal("header should be unchanged when signature already valid")
	}
}

func TestVerifyAndFixHeaderRepairsFlags(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	// Build a header signed with secondary_key_slot=10, seed_crypto=true,
	// then hand VerifyAndFixHeader a copy whose flags were corrupted to
	// something else; the sweep must recover the exact combination that
	// makes the embedded signature valid again.
	base := &ncch.Header{}
	copy(base.Magic[:], ncch.Magic[:])
	h := base.WithFlags(false, false, 10, true)
	copy(h.Signature[:], rsaSignHeader(t, h, key))

	corrupted := h.WithFlags(true, false, 99, false)
	copy(corrupted.Signature[:], h.Signature[:])

	fixed, ok := VerifyAndFixHeader(corrupted, &key.PublicKey)
	if !ok {
		t.Fatal("expected flag-repair sweep to find a valid combination")
	}
	if fixed.SecondaryKeySlot != 10 || !fixed.KeyConfig.SeedCrypto() {
		t.Fatalf("unexpected repaired flags: slot=%d seedCrypto=%v", fixed.SecondaryKeySlot, fixed.KeyConfig.SeedCrypto())
	}
}

func TestVerifyAndFixHeaderFailsForGarbage(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	h := &ncch.Header{}
	copy(h.Signature[:], []byte("not a valid signature"))

	_, ok := VerifyAndFixHeader(h, &key.PublicKey)
	if ok {
		t.Fatal("expected garbage signature to fail verification")
	}
}

func TestHeaderKeyFixedKey(t *testing.T) {
	k := Keys{KeyX: crypto3ds.Key128{1}, ScramblerConstant: crypto3ds.Key128{2}}
	base := &ncch.Header{}
	h := base.WithFlags(false, true, 0, false)
	key := k.HeaderKey(h)
	if key != (crypto3ds.Key128{}) {
		t.Fatalf("expected zero key for fixed_key, got %x", key)
	}
}

func TestHeaderKeyScrambled(t *testing.T) {
	k := Keys{KeyX: crypto3ds.Key128{1, 2, 3}, ScramblerConstant: crypto3ds.Key128{4, 5, 6}}
	h := &ncch.Header{}
	copy(h.Signature[:16], []byte("0123456789abcdef"))
	key := k.HeaderKey(h)
	want := crypto3ds.Scramble(k.KeyX, crypto3ds.NcchKeyY(h.Signature[:]), k.ScramblerConstant)
	if key != want {
		t.Fatal("HeaderKey should match direct Scramble() call")
	}
}

func TestHashFirstDecryptPlaintextMatch(t *testing.T) {
	plaintext := []byte("hello world, this is exheader-like data")
	want := sha256.Sum256(plaintext)

	var key, ctr crypto3ds.Key128
	out, decrypted, hashOK := HashFirstDecrypt(plaintext, len(plaintext), want, key, ctr, 0)
	if decrypted {
		t.Fatal("expected no decryption when plaintext already matches")
	}
	if !hashOK {
		t.Fatal("expected hash match")
	}
	if string(out) != string(plaintext) {
		t.Fatal("expected data unchanged")
	}
}

func TestHashFirstDecryptEncryptedMatch(t *testing.T) {
	plaintext := make([]byte, 64)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}
	want := sha256.Sum256(plaintext[:32])

	var key, ctr crypto3ds.Key128
	copy(key[:], []byte("key-material-123"))
	ciphertext, err := crypto3ds.EncryptCTR(key, ctr, 0, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	out, decrypted, hashOK := HashFirstDecrypt(ciphertext, 32, want, key, ctr, 0)
	if !decrypted {
		t.Fatal("expected decryption to be applied")
	}
	if !hashOK {
		t.Fatal("expected hash to match after decryption")
	}
	if string(out) != string(plaintext) {
		t.Fatal("expected decrypted output to match plaintext")
	}
}

func TestHashFirstDecryptMismatch(t *testing.T) {
	var key, ctr crypto3ds.Key128
	data := make([]byte, 32)
	_, decrypted, hashOK := HashFirstDecrypt(data, 32, [32]byte{0xFF}, key, ctr, 0)
	if !decrypted {
		t.Fatal("expected decryption attempted since plaintext hash did not match")
	}
	if hashOK {
		t.Fatal("expected hash mismatch after decryption too")
	}
}
