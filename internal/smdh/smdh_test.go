// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package smdh

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func validHeader() *Header {
	h := &Header{
		Version: 0,
	}
	h.Titles[1] = NewTitle("Test Game", "Test Game: The Long Title", "Nintendo")
	h.Ratings[0] = Rating(0x0A) // age 10, no special flags
	h.RegionLockout = RegionLockout(RegionNorthAmerica | RegionEurope)
	h.MatchMakerID = 0x1234
	h.BannerAnimationFrame = 0.5
	for i := range h.SmallIcon {
		h.SmallIcon[i] = uint16(i)
	}
	for i := range h.LargeIcon {
		h.LargeIcon[i] = uint16(i * 2)
	}
	return h
}

func TestHeaderSizeConstant(t *testing.T) {
	if HeaderSize != 0x36C0 {
		t.Fatalf("HeaderSize = %#x, want 0x36C0", HeaderSize)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	orig := validHeader()
	buf := orig.Serialize()
	if len(buf) != HeaderSize {
		t.Fatalf("Serialize produced %d bytes, want %d", len(buf), HeaderSize)
	}

	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got.Titles[1].Short() != orig.Titles[1].Short() {
		t.Fatalf("Short title = %q, want %q", got.Titles[1].Short(), orig.Titles[1].Short())
	}
	if got.Titles[1].Long() != orig.Titles[1].Long() {
		t.Fatalf("Long title = %q, want %q", got.Titles[1].Long(), orig.Titles[1].Long())
	}
	if got.Titles[1].Publisher() != orig.Titles[1].Publisher() {
		t.Fatalf("Publisher = %q, want %q", got.Titles[1].Publisher(), orig.Titles[1].Publisher())
	}
	if got.RegionLockout != orig.RegionLockout {
		t.Fatalf("RegionLockout = %v, want %v", got.RegionLockout, orig.RegionLockout)
	}
	if got.MatchMakerID != orig.MatchMakerID {
		t.Fatalf("MatchMakerID = %#x, want %#x", got.MatchMakerID, orig.MatchMakerID)
	}
	if got.BannerAnimationFrame != orig.BannerAnimationFrame {
		t.Fatalf("BannerAnimationFrame = %v, want %v", got.BannerAnimationFrame, orig.BannerAnimationFrame)
	}
	if got.SmallIcon != orig.SmallIcon {
		t.Fatal("SmallIcon mismatch")
	}
	if got.LargeIcon != orig.LargeIcon {
		t.Fatal("LargeIcon mismatch")
	}

	reserialized := got.Serialize()
	if !bytes.Equal(reserialized, buf) {
		t.Fatal("second round trip produced different bytes")
	}
}

// TestHeaderRoundTripRandomBytes exercises the byte-for-byte round-trip
// invariant against arbitrary buffers, including non-NUL garbage past a
// title's logical terminator and code units that are not valid UTF-16 (e.g.
// an unpaired surrogate). Parse/Serialize must carry title bytes through
// unchanged rather than decoding through a Go string, since decoding would
// replace ill-formed code units with U+FFFD and desync the second
// Serialize from the first.
func TestHeaderRoundTripRandomBytes(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := rand.Read(buf); err != nil {
		t.Fatal(err)
	}
	copy(buf[:4], Magic[:])

	h, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	reserialized := h.Serialize()
	if !bytes.Equal(reserialized, buf) {
		t.Fatal("round trip of random bytes produced different bytes")
	}
}

func TestParseRejectsWrongLength(t *testing.T) {
	if _, err := Parse(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	buf := validHeader().Serialize()
	buf[0] = 'X'
	if _, err := Parse(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestRatingFields(t *testing.T) {
	r := Rating(0x20 | 5) // no_age_restriction, age=5
	if r.Age() != 5 {
		t.Fatalf("Age() = %d, want 5", r.Age())
	}
	if !r.NoAgeRestriction() {
		t.Fatal("expected NoAgeRestriction true")
	}
	if r.RatingPending() {
		t.Fatal("expected RatingPending false")
	}
}

func TestRegionLockoutFree(t *testing.T) {
	var r RegionLockout
	if !r.RegionFree() {
		t.Fatal("zero RegionLockout should be region free")
	}
	r = RegionJapan
	if r.RegionFree() {
		t.Fatal("non-zero RegionLockout should not be region free")
	}
}

func TestTitleForLanguageBounds(t *testing.T) {
	h := validHeader()
	if _, ok := h.TitleForLanguage(-1); ok {
		t.Fatal("expected false for negative index")
	}
	if _, ok := h.TitleForLanguage(len(h.Titles)); ok {
		t.Fatal("expected false for out-of-range index")
	}
	title, ok := h.TitleForLanguage(1)
	if !ok || title.Short() != "Test Game" {
		t.Fatalf("TitleForLanguage(1) = %+v, %v", title, ok)
	}
}

func TestTitleTruncatesToFixedLength(t *testing.T) {
	h := &Header{}
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'a'
	}
	h.Titles[0] = NewTitle("", string(long), "")
	buf := h.Serialize()
	got, err := Parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len([]rune(got.Titles[0].Long())) != longTitleLen {
		t.Fatalf("expected title truncated to %d code units, got %d", longTitleLen, len([]rune(got.Titles[0].Long())))
	}
}
