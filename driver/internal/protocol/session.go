// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"sync"

	"github.com/google/uuid"
)

// SessionID is the opaque 16-byte identifier per spec.md §6. A nil ID means
// session-less: some one-off admin commands never acquire a session.
type SessionID [16]byte

// NewSessionID generates a fresh opaque session id. Generation itself is
// not a protocol concern; UUID v4 just happens to already be exactly 16
// random bytes, so it is reused as the backing generator rather than
// hand-rolling a random-byte reader.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// Session is the logical session carried across the driver (spec.md §3).
// advanceTransactionNumber's monotonic counter must be serialized across
// concurrent callers sharing a session (spec.md §5); the mutex below is
// that serialization point.
type Session struct {
	mu                sync.Mutex
	id                *SessionID
	inTransaction     bool
	transactionNumber int64
	clusterTime       any
	hasClusterTime    bool
}

// NewSession returns a session with a freshly generated id.
func NewSession() *Session {
	id := NewSessionID()
	return &Session{id: &id}
}

// NewSessionless returns a session with no id, used for one-off admin
// commands that never participate in retryable writes.
func NewSessionless() *Session {
	return &Session{}
}

// ID returns the session's id, or nil if session-less.
func (s *Session) ID() *SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// HasID reports whether the session carries a non-null id — a precondition
// for entering the two-attempt retry path (spec.md §4.5 precondition 4).
func (s *Session) HasID() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id != nil
}

// IsInTransaction reports whether the session is inside an explicit
// user-level multi-statement transaction (spec.md §4.5 precondition 5).
func (s *Session) IsInTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTransaction
}

// SetInTransaction marks or clears the explicit-transaction flag.
func (s *Session) SetInTransaction(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTransaction = v
}

// AdvanceTransactionNumber returns the next integer in a strictly
// increasing sequence unique to this session (spec.md §3). Once advanced
// for an operation, the caller must reuse the same number across all retry
// attempts of that operation — the executor (C6) is responsible for that
// reuse, not this method.
func (s *Session) AdvanceTransactionNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactionNumber++
	return s.transactionNumber
}

// AdvanceClusterTime records the most recently observed atClusterTime value
// from a command reply, for snapshot-read bookkeeping (spec.md §4.6).
// Comparing/merging timestamp values is the wire layer's concern (spec.md
// §1: atClusterTime is an opaque server-assigned value here); this only
// retains whatever was last observed, mirroring how a command's reply is
// always at least as recent as the one before it within a session.
func (s *Session) AdvanceClusterTime(clusterTime any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusterTime = clusterTime
	s.hasClusterTime = true
}

// ClusterTime returns the last-observed atClusterTime value, if any.
func (s *Session) ClusterTime() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clusterTime, s.hasClusterTime
}
