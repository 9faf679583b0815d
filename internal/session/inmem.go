package session

import (
	"context"
	"sync"
)

// InMemStore is a Store backed by a map, with the same optimistic-versioning
// semantics as MongoStore. Used in tests and local development.
type InMemStore struct {
	mu       sync.Mutex
	sessions map[string]*SpeakingSession
}

func NewInMemStore() *InMemStore {
	return &InMemStore{sessions: make(map[string]*SpeakingSession)}
}

func (s *InMemStore) FindByID(_ context.Context, id string) (*SpeakingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

func (s *InMemStore) AppendTurns(_ context.Context, id string, version int64, turns []Turn, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Version != version {
		return ErrVersionConflict
	}

	sess.Turns = append(sess.Turns, turns...)
	if sess.Metadata == nil {
		sess.Metadata = map[string]string{}
	}
	for k, v := range metadata {
		sess.Metadata[k] = v
	}
	sess.Version++
	return nil
}

func (s *InMemStore) Create(_ context.Context, sess *SpeakingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func copySession(sess *SpeakingSession) *SpeakingSession {
	cp := &SpeakingSession{
		ID:       sess.ID,
		Turns:    append([]Turn(nil), sess.Turns...),
		Metadata: make(map[string]string, len(sess.Metadata)),
		Version:  sess.Version,
	}
	for k, v := range sess.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}
