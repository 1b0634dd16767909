// Package session holds the session state of a single request and resolves it
// from the browser's session cookie.
package session

import (
	"sync"

	"github.com/openkcm/session-gateway/internal/idp"
)

// Store is the session state of one request. A session and its identity are
// written together, so an identity is never present without a session.
type Store struct {
	mu       sync.RWMutex
	session  *idp.Session
	identity *idp.Identity
}

// State is a point-in-time copy of a Store.
type State struct {
	Session  *idp.Session  `json:"session"`
	Identity *idp.Identity `json:"identity"`
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the session and the identity it carries. A session without an
// identity clears the stored identity.
func (s *Store) Set(sess idp.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = &sess
	s.identity = nil
	if sess.Identity != nil {
		identity := *sess.Identity
		s.identity = &identity
	}
}

// Clear removes the session and the identity.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	s.identity = nil
}

func (s *Store) Session() (idp.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return idp.Session{}, false
	}

	return *s.session, true
}

func (s *Store) Identity() (idp.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.identity == nil {
		return idp.Identity{}, false
	}

	return *s.identity, true
}

// Authenticated reports whether a session or an identity is present.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.session != nil || s.identity != nil
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var state State
	if s.session != nil {
		sess := *s.session
		state.Session = &sess
	}
	if s.identity != nil {
		identity := *s.identity
		state.Identity = &identity
	}

	return state
}
