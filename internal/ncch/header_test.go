// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ncch

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randomValidHeaderBytes(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, HeaderSize)
	if _, err := rand.Read(buf); err != nil {
		t.Fatal(err)
	}
	copy(buf[0x100:0x104], Magic[:])
	// exheader_size must be 0 or 0x400
	buf[0x180], buf[0x181], buf[0x182], buf[0x183] = 0x00, 0x04, 0x00, 0x00
	return buf
}

func TestHeaderRoundTrip(t *testing.T) {
	orig := randomValidHeaderBytes(t)
	h, err := ParseHeader(orig)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	got := h.Serialize()
	if !bytes.Equal(got, orig) {
		t.Fatalf("round trip mismatch:\n got  %x\n want %x", got, orig)
	}
}

func TestHeaderSizeConstant(t *testing.T) {
	if HeaderSize != 0x200 {
		t.Fatalf("HeaderSize = %#x, want 0x200", HeaderSize)
	}
}

func TestParseHeaderRejectsWrongLength(t *testing.T) {
	if _, err := ParseHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error for short buffer")
	}
	if _, err := ParseHeader(make([]byte, HeaderSize+1)); err == nil {
		t.Fatal("expected error for long buffer")
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	buf := randomValidHeaderBytes(t)
	buf[0x100] = 'X'
	if _, err := ParseHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestParseHeaderRejectsBadExheaderSize(t *testing.T) {
	buf := randomValidHeaderBytes(t)
	buf[0x180], buf[0x181], buf[0x182], buf[0x183] = 0x01, 0x00, 0x00, 0x00
	if _, err := ParseHeader(buf); err == nil {
		t.Fatal("expected error for invalid exheader_size")
	}
}

func TestHeaderHasExheader(t *testing.T) {
	h := &Header{ExheaderSize: 0x400}
	if !h.HasExheader() {
		t.Fatal("expected HasExheader true")
	}
	h.ExheaderSize = 0
	if h.HasExheader() {
		t.Fatal("expected HasExheader false")
	}
}

func TestUnitSize(t *testing.T) {
	h := &Header{ContentUnitSize: 0}
	if h.UnitSize() != 0x200 {
		t.Fatalf("UnitSize() = %#x, want 0x200", h.UnitSize())
	}
	h.ContentUnitSize = 1
	if h.UnitSize() != 0x400 {
		t.Fatalf("UnitSize() = %#x, want 0x400", h.UnitSize())
	}
}

func TestKeyConfigBits(t *testing.T) {
	var k KeyConfig
	if k.FixedKey() || k.NoRomfs() || k.NoCrypto() || k.SeedCrypto() {
		t.Fatal("zero KeyConfig should have no bits set")
	}
	k = k.withFixedKey(true).withNoCrypto(true).withSeedCrypto(true)
	if !k.FixedKey() || !k.NoCrypto() || !k.SeedCrypto() {
		t.Fatal("expected bits to be set")
	}
	k = k.withNoCrypto(false)
	if k.NoCrypto() {
		t.Fatal("expected no_crypto cleared")
	}
	if !k.FixedKey() || !k.SeedCrypto() {
		t.Fatal("clearing no_crypto should not affect other bits")
	}
}

func TestWithFlagsLeavesSignatureUnchanged(t *testing.T) {
	buf := randomValidHeaderBytes(t)
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	mutated := h.WithFlags(false, false, 1, true)
	if mutated.Signature != h.Signature {
		t.Fatal("WithFlags must not mutate the signature")
	}
	if mutated.SecondaryKeySlot != 1 || !mutated.KeyConfig.SeedCrypto() {
		t.Fatal("WithFlags did not apply requested flags")
	}
}
