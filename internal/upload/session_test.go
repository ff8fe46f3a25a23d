// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package upload

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/wwylele/ncch-catalog/internal/catalogrecord"
	"github.com/wwylele/ncch-catalog/internal/ncch"
	"github.com/wwylele/ncch-catalog/internal/verify"
)

type fakeStore struct {
	inserted []*catalogrecord.Record
	conflict string
}

func (f *fakeStore) Insert(r *catalogrecord.Record) (string, bool, error) {
	if f.conflict != "" {
		return f.conflict, true, nil
	}
	f.inserted = append(f.inserted, r)
	return "", false, nil
}

func sign(t *testing.T, key *rsa.PrivateKey, msg []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func TestSessionPlainCFAFinishesWithoutExtraStages(t *testing.T) {
	cfaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	h := &ncch.Header{}
	copy(h.Magic[:], ncch.Magic[:])
	h = h.WithFlags(true, false, 0, false)
	buf := h.Serialize()
	copy(buf[:256], sign(t, cfaKey, buf[0x100:]))

	store := &fakeStore{}
	keys := verify.Keys{CFAPublicKey: &cfaKey.PublicKey}
	s := New(1, keys, store)

	result := s.Next(buf)
	if result.Status != StatusFinished {
		t.Fatalf("expected Finished, got %v", result.Status)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected one inserted record, got %d", len(store.inserted))
	}
	if !s.Finished() {
		t.Fatal("expected session to report finished")
	}
}

func TestSessionRejectsWrongHeaderLength(t *testing.T) {
	s := New(1, verify.Keys{}, &fakeStore{})
	result := s.Next(make([]byte, 10))
	if result.Status != StatusUnexpectedLength {
		t.Fatalf("expected UnexpectedLength, got %v", result.Status)
	}
	if !s.Finished() {
		t.Fatal("expected session to finish on malformed input")
	}
}

func TestSessionRejectsBadMagic(t *testing.T) {
	s := New(1, verify.Keys{}, &fakeStore{})
	result := s.Next(make([]byte, ncch.HeaderSize))
	if result.Status != StatusUnexpectedFormat {
		t.Fatalf("expected UnexpectedFormat, got %v", result.Status)
	}
}

func TestSessionAlreadyFinishedAfterTerminal(t *testing.T) {
	s := New(1, verify.Keys{}, &fakeStore{})
	s.Next(make([]byte, 10)) // forces Finished via UnexpectedLength

	result := s.Next(make([]byte, ncch.HeaderSize))
	if result.Status != StatusAlreadyFinished {
		t.Fatalf("expected AlreadyFinished, got %v", result.Status)
	}
}

func TestSessionExheaderFlowFinishesWithoutExefs(t *testing.T) {
	cfaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	exheaderKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	e := &ncch.Exheader{}
	exheaderKey.PublicKey.N.FillBytes(e.PublicKey[:])
	eBuf := e.Serialize()
	copy(eBuf[0x400:0x500], sign(t, exheaderKey, eBuf[0x500:]))
	e2, err := ncch.ParseExheader(eBuf)
	if err != nil {
		t.Fatal(err)
	}
	eFinal := e2.Serialize()

	h := &ncch.Header{}
	copy(h.Magic[:], ncch.Magic[:])
	h.ExheaderSize = 0x400
	h = h.WithFlags(true, false, 0, false)
	digest := sha256.Sum256(eFinal[:0x400])
	h.ExheaderHash = digest
	hBuf := h.Serialize()
	copy(hBuf[:256], sign(t, exheaderKey, hBuf[0x100:]))

	store := &fakeStore{}
	keys := verify.Keys{CFAPublicKey: &cfaKey.PublicKey, ExheaderPublicKey: &exheaderKey.PublicKey}
	s := New(2, keys, store)

	result := s.Next(hBuf)
	if result.Status != StatusAppendNeeded || result.AppendOffset != 0x200 || result.AppendLen != ncch.ExheaderSize {
		t.Fatalf("expected AppendNeeded for exheader, got %+v", result)
	}

	result = s.Next(eFinal)
	if result.Status != StatusFinished {
		t.Fatalf("expected Finished after exheader with no exefs, got %+v", result)
	}
	if len(store.inserted) != 1 || store.inserted[0].Exheader == nil {
		t.Fatal("expected inserted record to carry exheader fields")
	}
}

func TestSessionConflictPropagatesExistingID(t *testing.T) {
	cfaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	h := &ncch.Header{}
	copy(h.Magic[:], ncch.Magic[:])
	h = h.WithFlags(true, false, 0, false)
	buf := h.Serialize()
	copy(buf[:256], sign(t, cfaKey, buf[0x100:]))

	store := &fakeStore{conflict: "existing-id"}
	keys := verify.Keys{CFAPublicKey: &cfaKey.PublicKey}
	s := New(3, keys, store)

	result := s.Next(buf)
	if result.Status != StatusConflict || result.RecordID != "existing-id" {
		t.Fatalf("expected Conflict with existing id, got %+v", result)
	}
}

func TestTryLockBlocksConcurrentAccess(t *testing.T) {
	s := New(1, verify.Keys{}, &fakeStore{})
	s.mu.Lock()
	ok := s.TryLock(func() {})
	s.mu.Unlock()
	if ok {
		t.Fatal("expected TryLock to fail while already held")
	}
	if !s.TryLock(func() {}) {
		t.Fatal("expected TryLock to succeed once released")
	}
}
