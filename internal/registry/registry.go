// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package registry is the process-wide table of in-flight upload sessions:
// admission control against a capacity ceiling, random session id
// allocation, and a periodic best-effort cleanup sweep.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Session is the subset of *upload.Session the registry depends on. Kept
// as an interface so this package does not import upload (upload sessions
// are constructed by the caller and handed in already-built).
type Session interface {
	ID() uint32
	Finished() bool
	LastTouch() time.Time
	TryLock(f func()) bool
}

// ErrBusy is returned by Admit when the registry is at capacity and a
// cleanup sweep could not free enough room.
var ErrBusy = fmt.Errorf("registry: at session capacity")

// Registry holds every session currently mid-upload, admitting a new one
// while it holds at most maxSessions and evicting finished or stale ones on
// a timer.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[uint32]Session
	maxSessions int
	staleAfter  time.Duration
}

// New creates a Registry that admits a new session while it holds at most
// maxSessions sessions, so up to maxSessions+1 can be registered at once,
// and considers a session stale (eligible for cleanup even if unfinished)
// once staleAfter has elapsed since its last touch.
func New(maxSessions int, staleAfter time.Duration) *Registry {
	return &Registry{
		sessions:    make(map[uint32]Session),
		maxSessions: maxSessions,
		staleAfter:  staleAfter,
	}
}

// Admit reserves a fresh random session id and registers build(id) under
// it, running a cleanup sweep first if the registry holds more than
// maxSessions sessions. It
// returns ErrBusy if the registry is still full after that sweep.
func (r *Registry) Admit(build func(id uint32) Session) (Session, error) {
	r.mu.Lock()
	if len(r.sessions) > r.maxSessions {
		r.mu.Unlock()
		r.cleanup()
		r.mu.Lock()
		if len(r.sessions) > r.maxSessions {
			r.mu.Unlock()
			return nil, ErrBusy
		}
	}

	id, err := r.freshID()
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	session := build(id)
	r.sessions[id] = session
	r.mu.Unlock()
	return session, nil
}

// freshID draws random 32-bit ids until it finds one not already in use.
// Caller must hold r.mu.
func (r *Registry) freshID() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("registry: generate session id: %w", err)
		}
		id := binary.LittleEndian.Uint32(buf[:])
		if _, exists := r.sessions[id]; !exists {
			return id, nil
		}
	}
}

// Get looks up a session by id.
func (r *Registry) Get(id uint32) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// cleanup evicts every session that is either finished, or both
// unfinished-but-idle-past-staleAfter; a session currently locked (mid
// request) is always retained regardless of its state, since TryLock
// cannot observe it safely.
func (r *Registry) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, session := range r.sessions {
		var retain bool
		locked := session.TryLock(func() {
			retain = !session.Finished() && time.Since(session.LastTouch()) < r.staleAfter
		})
		if !locked {
			// A session currently mid-request cannot be observed safely;
			// keep it regardless of apparent age.
			continue
		}
		if !retain {
			delete(r.sessions, id)
		}
	}
}

// RunCleanupLoop runs Registry's cleanup sweep every period until ctx is
// canceled. Intended to be launched once, in its own goroutine, at
// startup.
func (r *Registry) RunCleanupLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

// Len reports the number of sessions currently tracked, for diagnostics
// and tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
