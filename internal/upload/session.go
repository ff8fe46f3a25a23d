// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package upload drives the chunked NCCH upload protocol: a session walks
// through header, exheader, exefs, and icon stages, hash-first-decrypting
// each region and re-verifying the header's signature as new key material
// (an exheader public key) becomes available.
package upload

import (
	"crypto/sha256"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wwylele/ncch-catalog/internal/catalogrecord"
	"github.com/wwylele/ncch-catalog/internal/crypto3ds"
	"github.com/wwylele/ncch-catalog/internal/ncch"
	"github.com/wwylele/ncch-catalog/internal/smdh"
	"github.com/wwylele/ncch-catalog/internal/verify"
)

// Status is the result discriminator returned by Session.Next.
type Status int

const (
	StatusAppendNeeded Status = iota
	StatusFinished
	StatusAlreadyFinished
	StatusUnexpectedLength
	StatusUnexpectedFormat
	StatusVerificationFailed
	StatusConflict
	StatusInternalServerError
)

// Result is what a single round-trip of the upload protocol produces.
type Result struct {
	Status Status

	// Valid when Status == StatusAppendNeeded: the byte range of the
	// container the client must upload next.
	AppendOffset uint32
	AppendLen    uint32

	// Valid when Status == StatusFinished or StatusConflict: the stable
	// catalog id of the record (existing, on conflict).
	RecordID string
}

type state int

const (
	stateHeaderNeeded state = iota
	stateExheaderNeeded
	stateExefsNeeded
	stateIconNeeded
	stateFinished
	stateUndefined
)

type iconCrypto struct {
	key, ctr crypto3ds.Key128
	offset   int64
}

// Store is the persistence boundary a session finalizes into. It is
// satisfied by *catalog.Store; kept as an interface here so this package
// does not import catalog's gorm/driver dependencies.
type Store interface {
	Insert(r *catalogrecord.Record) (existingID string, conflict bool, err error)
}

// Session is one in-flight chunked upload. The zero value is not usable;
// construct with New. A Session's exported methods are safe for concurrent
// use; callers that need to synchronize across a whole session lifetime
// (the registry's cleanup sweep) should use TryLock directly.
type Session struct {
	mu sync.Mutex

	id    uint32
	keys  verify.Keys
	store Store

	lastTouch time.Time
	state     state

	header      *ncch.Header
	exheader    *ncch.Exheader
	key         crypto3ds.Key128
	ctrExheader crypto3ds.Key128
	ctrExefs    crypto3ds.Key128
	iconHash    [32]byte
	iconCrypto  *iconCrypto
}

// New creates a session awaiting its NCCH header as the first chunk.
func New(id uint32, keys verify.Keys, store Store) *Session {
	return &Session{
		id:        id,
		keys:      keys,
		store:     store,
		lastTouch: time.Now(),
		state:     stateHeaderNeeded,
	}
}

// ID returns the session's registry key.
func (s *Session) ID() uint32 { return s.id }

// Finished reports whether the session has reached a terminal state and
// can be reclaimed by the registry's cleanup sweep.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateFinished || s.state == stateUndefined
}

// LastTouch returns the time of the last Next call.
func (s *Session) LastTouch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTouch
}

// TryLock attempts to acquire the session's lock without blocking, runs f
// while held, and reports whether it acquired the lock. Used by the
// registry's cleanup sweep, which must not block on a session that is
// mid-request.
func (s *Session) TryLock(f func()) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	f()
	return true
}

// Next advances the session's state machine with the next chunk of data,
// dispatching on the session's current stage. It is the sole entry point
// callers (the registry's post/append handlers) use.
func (s *Session) Next(data []byte) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = time.Now()

	switch s.state {
	case stateHeaderNeeded:
		return s.receiveHeader(data)
	case stateExheaderNeeded:
		return s.receiveExheader(data)
	case stateExefsNeeded:
		return s.receiveExefs(data)
	case stateIconNeeded:
		return s.receiveIcon(data)
	case stateFinished:
		return Result{Status: StatusAlreadyFinished}
	default:
		return Result{Status: StatusAlreadyFinished}
	}
}

func (s *Session) fail(status Status) Result {
	s.state = stateFinished
	return Result{Status: status}
}

func (s *Session) receiveHeader(data []byte) Result {
	if len(data) != ncch.HeaderSize {
		return s.fail(StatusUnexpectedLength)
	}

	if err := ncch.ProbeMagic(data); errors.Is(err, ncch.ErrIsNcsd) {
		slog.Warn("rejected NCSD container, expected a single NCCH partition", "session_id", s.id)
		return s.fail(StatusUnexpectedFormat)
	}

	header, err := ncch.ParseHeader(data)
	if err != nil {
		return s.fail(StatusUnexpectedFormat)
	}

	key := s.keys.HeaderKey(header)
	ctrExheader := crypto3ds.CTRExheader(header.Version, header.PartitionID)
	ctrExefs := crypto3ds.CTRExefs(header.Version, header.PartitionID, header.ExefsSize, header.UnitSize())

	return s.requestExheader(header, key, ctrExheader, ctrExefs)
}

func (s *Session) requestExheader(header *ncch.Header, key, ctrExheader, ctrExefs crypto3ds.Key128) Result {
	if header.ExheaderSize != 0 {
		if !header.HasExheader() {
			return s.fail(StatusUnexpectedFormat)
		}
		s.state = stateExheaderNeeded
		s.header = header
		s.key = key
		s.ctrExheader = ctrExheader
		s.ctrExefs = ctrExefs
		return Result{Status: StatusAppendNeeded, AppendOffset: 0x200, AppendLen: ncch.ExheaderSize}
	}

	if fixed, ok := verify.VerifyAndFixHeader(header, s.keys.CFAPublicKey); ok {
		return s.requestExefs(fixed, nil, s.keys.HeaderKey(fixed), ctrExefs)
	}
	return s.fail(StatusVerificationFailed)
}

func (s *Session) receiveExheader(data []byte) Result {
	header, key, ctrExheader, ctrExefs := s.header, s.key, s.ctrExheader, s.ctrExefs
	if len(data) != ncch.ExheaderSize {
		return s.fail(StatusUnexpectedLength)
	}

	plain, _, hashOK := verify.HashFirstDecrypt(data, 0x400, header.ExheaderHash, key, ctrExheader, 0)
	if !hashOK {
		return s.fail(StatusVerificationFailed)
	}

	exheader, err := ncch.ParseExheader(plain)
	if err != nil {
		return s.fail(StatusUnexpectedFormat)
	}

	if !crypto3ds.VerifySHA256(s.keys.ExheaderPublicKey, exheader.SignedBytes(), exheader.Signature[:]) {
		return s.fail(StatusVerificationFailed)
	}

	publicKey := crypto3ds.PublicKeyFromModulus(exheader.PublicKey[:])
	fixed, ok := verify.VerifyAndFixHeader(header, publicKey)
	if !ok {
		return s.fail(StatusVerificationFailed)
	}

	return s.requestExefs(fixed, exheader, s.keys.HeaderKey(fixed), ctrExefs)
}

func (s *Session) requestExefs(header *ncch.Header, exheader *ncch.Exheader, key, ctrExefs crypto3ds.Key128) Result {
	if header.ExefsOffset != 0 {
		unitSize := header.UnitSize()
		exefsOffset := header.ExefsOffset * unitSize
		exefsNeededLen := header.ExefsHashRegionSize * unitSize
		if exefsNeededLen < ncch.ExefsHeaderSize {
			exefsNeededLen = ncch.ExefsHeaderSize
		}

		s.state = stateExefsNeeded
		s.header = header
		s.exheader = exheader
		s.key = key
		s.ctrExefs = ctrExefs
		return Result{Status: StatusAppendNeeded, AppendOffset: exefsOffset, AppendLen: exefsNeededLen}
	}

	return s.finalize(header, exheader, nil)
}

func (s *Session) receiveExefs(data []byte) Result {
	header, exheader, key, ctrExefs := s.header, s.exheader, s.key, s.ctrExefs

	unitSize := header.UnitSize()
	hashRegionSize := int(header.ExefsHashRegionSize * unitSize)
	wantLen := ncch.ExefsHeaderSize
	if hashRegionSize > wantLen {
		wantLen = hashRegionSize
	}
	if len(data) != wantLen {
		return s.fail(StatusUnexpectedLength)
	}

	plain, decrypted, hashOK := verify.HashFirstDecrypt(data, hashRegionSize, header.ExefsHash, key, ctrExefs, 0)
	if !hashOK {
		return s.fail(StatusVerificationFailed)
	}

	exefs, err := ncch.ParseExefsHeader(plain[:ncch.ExefsHeaderSize])
	if err != nil {
		return s.fail(StatusUnexpectedFormat)
	}

	var crypto *iconCrypto
	if decrypted {
		crypto = &iconCrypto{key: key, ctr: ctrExefs}
	}
	return s.requestIcon(header, exheader, exefs, crypto)
}

func (s *Session) requestIcon(header *ncch.Header, exheader *ncch.Exheader, exefs *ncch.ExefsHeader, exefsCrypto *iconCrypto) Result {
	file, hash, ok := exefs.FileByName("icon")
	if !ok {
		return s.finalize(header, exheader, nil)
	}

	unitSize := header.UnitSize()
	exefsOffset := header.ExefsOffset * unitSize
	iconOffset := int64(ncch.ExefsHeaderSize) + int64(file.Offset)
	iconLen := file.Size

	if iconLen != smdh.HeaderSize {
		slog.Warn("icon exefs entry has unexpected size, finalizing without an icon",
			"session_id", s.id, "size", iconLen, "want", smdh.HeaderSize)
		return s.finalize(header, exheader, nil)
	}

	s.state = stateIconNeeded
	s.header = header
	s.exheader = exheader
	s.iconHash = hash
	if exefsCrypto != nil {
		s.iconCrypto = &iconCrypto{key: exefsCrypto.key, ctr: exefsCrypto.ctr, offset: iconOffset}
	} else {
		s.iconCrypto = nil
	}

	return Result{
		Status:       StatusAppendNeeded,
		AppendOffset: exefsOffset + uint32(iconOffset),
		AppendLen:    iconLen,
	}
}

func (s *Session) receiveIcon(data []byte) Result {
	header, exheader, hash, crypto := s.header, s.exheader, s.iconHash, s.iconCrypto

	if len(data) != smdh.HeaderSize {
		return s.fail(StatusUnexpectedLength)
	}

	plain := data
	if crypto != nil {
		decrypted, err := crypto3ds.DecryptCTR(crypto.key, crypto.ctr, crypto.offset, data)
		if err != nil {
			return s.fail(StatusInternalServerError)
		}
		plain = decrypted
	}

	if sha256.Sum256(plain) != hash {
		return s.fail(StatusVerificationFailed)
	}

	icon, err := smdh.Parse(plain)
	if err != nil {
		slog.Warn("icon data failed to parse as SMDH, finalizing without an icon",
			"session_id", s.id, "error", err)
		return s.finalize(header, exheader, nil)
	}

	return s.finalize(header, exheader, icon)
}

func (s *Session) finalize(header *ncch.Header, exheader *ncch.Exheader, icon *smdh.Header) Result {
	record := catalogrecord.Build(header, exheader, icon)

	existingID, conflict, err := s.store.Insert(record)
	if err != nil {
		return s.fail(StatusInternalServerError)
	}
	if conflict {
		s.state = stateFinished
		return Result{Status: StatusConflict, RecordID: existingID}
	}

	s.state = stateFinished
	return Result{Status: StatusFinished, RecordID: record.ID}
}
