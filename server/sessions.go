// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jcodagnone/locres/location"
)

// ErrSessionNotFound is returned for unknown or malformed session ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionFactory builds a session for the manager.
type SessionFactory func(ctx context.Context, opts ...location.Option) (*location.Session, error)

// DefaultSessionTTL is how long a session may stay untouched before Sweep
// closes it.
const DefaultSessionTTL = 30 * time.Minute

type managedSession struct {
	session  *location.Session
	lastUsed time.Time
}

// SessionManager keeps live sessions keyed by UUID. Sessions not used for
// longer than the idle TTL are closed by Sweep.
type SessionManager struct {
	ctx     context.Context
	factory SessionFactory
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*managedSession
}

// NewSessionManager creates a manager. ctx bounds the lifetime of every
// session it creates. A ttl <= 0 uses DefaultSessionTTL.
func NewSessionManager(ctx context.Context, factory SessionFactory, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &SessionManager{
		ctx:      ctx,
		factory:  factory,
		ttl:      ttl,
		now:      time.Now,
		sessions: map[uuid.UUID]*managedSession{},
	}
}

// Create starts a new session.
func (m *SessionManager) Create(opts ...location.Option) (string, *location.Session, error) {
	s, err := m.factory(m.ctx, opts...)
	if err != nil {
		return "", nil, err
	}

	id := uuid.New()

	m.mu.Lock()
	m.sessions[id] = &managedSession{session: s, lastUsed: m.now()}
	m.mu.Unlock()

	return id.String(), s, nil
}

// Get returns the session with the given id and marks it as used.
func (m *SessionManager) Get(id string) (*location.Session, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}

	ms.lastUsed = m.now()

	return ms.session, nil
}

// Delete closes and forgets a session.
func (m *SessionManager) Delete(id string) error {
	key, err := uuid.Parse(id)
	if err != nil {
		return ErrSessionNotFound
	}

	m.mu.Lock()
	ms, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	ms.session.Close()

	return nil
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Sweep closes and forgets the sessions idle for longer than the TTL and
// returns how many were evicted.
func (m *SessionManager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)

	var idle []*location.Session

	m.mu.Lock()
	for id, ms := range m.sessions {
		if ms.lastUsed.Before(cutoff) {
			idle = append(idle, ms.session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}

	return len(idle)
}

// RunSweeper calls Sweep periodically until ctx is cancelled.
func (m *SessionManager) RunSweeper(ctx context.Context) {
	interval := max(m.ttl/4, time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Printf("Evicted %d idle sessions", n)
			}
		}
	}
}

// Close closes every session.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[uuid.UUID]*managedSession{}
	m.mu.Unlock()

	for _, ms := range sessions {
		ms.session.Close()
	}

	log.Printf("Closed %d sessions", len(sessions))
}
