package services

import (
	"context"
	"sync"

	"duocall/internal/core/domain"
)

// SessionManager is the upward-facing API: it creates, indexes and
// ends sessions. Sessions for different rooms are fully independent.
type SessionManager struct {
	deps SessionDeps

	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
}

func NewSessionManager(deps SessionDeps) *SessionManager {
	return &SessionManager{
		deps:     deps,
		sessions: make(map[domain.SessionID]*Session),
	}
}

// StartSession joins the given room (generating a room id when the
// caller supplies none) and returns the running session handle.
func (m *SessionManager) StartSession(ctx context.Context, rawRoomID string) (*Session, error) {
	roomID := domain.NormalizeRoomID(rawRoomID)
	if roomID == "" {
		roomID = domain.GenerateRoomID()
	}

	session := NewSession(roomID, m.deps)
	if err := session.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return session, nil
}

func (m *SessionManager) GetSession(id domain.SessionID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// EndSession closes the session and forgets the handle.
func (m *SessionManager) EndSession(ctx context.Context, id domain.SessionID) error {
	session, err := m.GetSession(id)
	if err != nil {
		return err
	}

	if err := session.End(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Shutdown ends every live session, used on process exit.
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[domain.SessionID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.End(ctx)
	}
}
