// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session holds the live per-stream conversation state: the session
// store (one record per open stream) and the sliding-window conversational
// memory. Both tables are shared across all concurrent stream goroutines and
// are safe for concurrent use.
package session

import (
	"sync"
	"time"

	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// Session is the state of one live conversation stream. It exists in the
// store exactly from stream-open to stream-close.
//
// The stream's orchestrator goroutine owns turn processing, but two fields
// are touched from outside it: the OTP side channel sets the phone number,
// and admin routes read snapshots. All field access therefore goes through
// the mutex-guarded accessors.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu             sync.Mutex
	verified       bool
	phoneNumber    string
	profile        string
	profileFetched bool
	transcript     []datatypes.TranscriptTurn
	closeStream    func()
}

// BindStream registers the hook that severs this session's transport. The
// teardown path invokes it, so a session removed from the store (admin
// force-close included) cannot keep serving turns on a live stream.
func (s *Session) BindStream(closeFn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeStream = closeFn
}

// CloseStream invokes the bound transport hook, at most once. No-op when no
// stream was bound.
func (s *Session) CloseStream() {
	s.mu.Lock()
	closeFn := s.closeStream
	s.closeStream = nil
	s.mu.Unlock()
	if closeFn != nil {
		closeFn()
	}
}

// Verified reports whether the stream-level authentication gate is open.
func (s *Session) Verified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified
}

// MarkVerified opens the authentication gate. Only the stream's own
// verification_complete control frame should call this.
func (s *Session) MarkVerified() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified = true
}

// PhoneNumber returns the phone number on file, or "" if the OTP flow never
// started for this session.
func (s *Session) PhoneNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phoneNumber
}

// SetPhoneNumber records the phone number the OTP side channel associated
// with this session.
func (s *Session) SetPhoneNumber(phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phoneNumber = phone
}

// Profile returns the cached profile payload and whether a resolution attempt
// has already happened. The payload may be empty even after an attempt: a
// failed lookup is cached too, so the resolver is invoked at most once per
// session.
func (s *Session) Profile() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, s.profileFetched
}

// SetProfile caches the outcome of a profile resolution attempt.
func (s *Session) SetProfile(profile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
	s.profileFetched = true
}

// InvalidateProfile clears the cached payload so the next personalized turn
// resolves again.
func (s *Session) InvalidateProfile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = ""
	s.profileFetched = false
}

// AppendTurn adds a completed turn to the accumulated transcript.
func (s *Session) AppendTurn(turn datatypes.TranscriptTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, turn)
}

// Transcript returns a copy of the accumulated turns.
func (s *Session) Transcript() []datatypes.TranscriptTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.TranscriptTurn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Snapshot builds the persistence record for teardown.
func (s *Session) Snapshot() datatypes.SessionTranscript {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]datatypes.TranscriptTurn, len(s.transcript))
	copy(turns, s.transcript)
	return datatypes.SessionTranscript{
		SessionID:   s.ID,
		PhoneNumber: s.phoneNumber,
		StartedAt:   s.CreatedAt.UnixMilli(),
		ClosedAt:    time.Now().UnixMilli(),
		Turns:       turns,
	}
}

// Store is the process-wide table of live sessions, keyed by session ID.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create allocates a fresh session with a unique identifier and inserts it.
func (st *Store) Create() *Session {
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
	st.mu.Lock()
	st.sessions[sess.ID] = sess
	st.mu.Unlock()
	return sess
}

// Get looks up a live session by ID.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	return sess, ok
}

// Remove atomically claims and deletes a session. The second return value is
// false when the session was already removed, which makes teardown idempotent:
// only the caller that wins the claim persists the transcript.
func (st *Store) Remove(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	delete(st.sessions, id)
	return sess, true
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// IDs returns the identifiers of all live sessions.
func (st *Store) IDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	return ids
}
