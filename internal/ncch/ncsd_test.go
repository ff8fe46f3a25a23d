// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package ncch

import (
	"crypto/rand"
	"errors"
	"testing"
)

func randomNcsdHeaderBytes(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, HeaderSize)
	if _, err := rand.Read(buf); err != nil {
		t.Fatal(err)
	}
	copy(buf[0x100:0x104], NcsdMagic[:])
	return buf
}

func TestProbeMagicNcch(t *testing.T) {
	buf := randomValidHeaderBytes(t)
	if err := ProbeMagic(buf); err != nil {
		t.Fatalf("expected nil for NCCH magic, got %v", err)
	}
}

func TestProbeMagicNcsd(t *testing.T) {
	buf := randomNcsdHeaderBytes(t)
	if err := ProbeMagic(buf); !errors.Is(err, ErrIsNcsd) {
		t.Fatalf("expected ErrIsNcsd, got %v", err)
	}
}

func TestProbeMagicUnknown(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if err := ProbeMagic(buf); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestProbeMagicShortBuffer(t *testing.T) {
	if err := ProbeMagic(make([]byte, 0x10)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for short buffer, got %v", err)
	}
}
