package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/authcore/internal/models"
)

// MemorySessionStore keeps sessions in process memory. Callers get copies,
// never pointers into the store.
type MemorySessionStore struct {
	mu      sync.RWMutex
	byID    map[string]models.Session
	byToken map[string]string // authTokenID -> sessionID
}

// NewMemorySessionStore creates an empty MemorySessionStore
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		byID:    make(map[string]models.Session),
		byToken: make(map[string]string),
	}
}

// Save stores a copy of the session. Binding a token already held by another
// session returns models.ErrConflict.
func (s *MemorySessionStore) Save(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.byToken[session.AuthTokenID]; session.AuthTokenID != "" && taken && owner != session.ID {
		return models.ErrConflict
	}
	if prev, ok := s.byID[session.ID]; ok && prev.AuthTokenID != "" {
		delete(s.byToken, prev.AuthTokenID)
	}
	if session.AuthTokenID != "" {
		s.byToken[session.AuthTokenID] = session.ID
	}
	s.byID[session.ID] = *session
	return nil
}

// Touch refreshes last activity of an active session. Returns
// models.ErrNotFound when the session no longer exists.
func (s *MemorySessionStore) Touch(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byID[sessionID]
	if !ok || !session.IsActive() {
		return models.ErrNotFound
	}
	session.LastActivityAt = at
	s.byID[sessionID] = session
	return nil
}

// FindByToken returns the session bound to authTokenID, or nil when there is none
func (s *MemorySessionStore) FindByToken(_ context.Context, authTokenID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[authTokenID]
	if !ok {
		return nil, nil
	}
	session := s.byID[id]
	return &session, nil
}

// FindActiveByUser returns the user's ACTIVE sessions, oldest first
func (s *MemorySessionStore) FindActiveByUser(_ context.Context, userID string) ([]*models.Session, error) {
	return s.collect(func(session *models.Session) bool {
		return session.UserID == userID && session.IsActive()
	}), nil
}

// FindAll returns every stored session, oldest first
func (s *MemorySessionStore) FindAll(_ context.Context) ([]*models.Session, error) {
	return s.collect(func(*models.Session) bool { return true }), nil
}

// CountActiveByUser returns the number of ACTIVE sessions of the user
func (s *MemorySessionStore) CountActiveByUser(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, session := range s.byID {
		if session.UserID == userID && session.IsActive() {
			n++
		}
	}
	return n, nil
}

// Delete removes a session. A missing session is not an error.
func (s *MemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(sessionID)
	return nil
}

// DeleteAllForUser removes every session of the user and returns how many were removed
func (s *MemorySessionStore) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, session := range s.byID {
		if session.UserID == userID {
			s.deleteLocked(id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *MemorySessionStore) deleteLocked(sessionID string) {
	session, ok := s.byID[sessionID]
	if !ok {
		return
	}
	if session.AuthTokenID != "" && s.byToken[session.AuthTokenID] == sessionID {
		delete(s.byToken, session.AuthTokenID)
	}
	delete(s.byID, sessionID)
}

// collect returns copies of matching sessions ordered by start time then ID
func (s *MemorySessionStore) collect(match func(*models.Session) bool) []*models.Session {
	s.mu.RLock()
	out := make([]*models.Session, 0, len(s.byID))
	for _, session := range s.byID {
		session := session
		if match(&session) {
			out = append(out, &session)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
