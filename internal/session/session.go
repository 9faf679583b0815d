// Package session defines the speaking-session aggregate and its store
// contract. A session's transcript is append-only: turns are never edited or
// removed, and concurrent writers are reconciled through an optimistic
// version token rather than locks.
package session

import (
	"context"
	"errors"
	"time"
)

// Turn roles. A sum of the chat roles the pipeline produces; the system role
// exists only inside prompts and is never persisted as a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MetadataSystemPrompt is the metadata key caching the session's system
// prompt. Once set it is never recomputed, so the model sees a stable persona
// across turns.
const MetadataSystemPrompt = "systemPrompt"

var (
	// ErrNotFound is returned when no session exists for the given id.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict is returned when a save loses a race against a
	// concurrent writer; the caller should reload and retry.
	ErrVersionConflict = errors.New("session version conflict")
)

// Turn is one transcript entry. Immutable once appended.
type Turn struct {
	Role      string    `bson:"role" json:"role"`
	Text      string    `bson:"text" json:"text"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// SpeakingSession is the aggregate root. Version is the optimistic
// concurrency token, managed by the store; callers pass it back on writes but
// never interpret it.
type SpeakingSession struct {
	ID       string            `bson:"_id" json:"id"`
	Turns    []Turn            `bson:"turns" json:"turns"`
	Metadata map[string]string `bson:"metadata" json:"metadata"`
	Version  int64             `bson:"version" json:"-"`
}

// SystemPrompt returns the cached system prompt, if any.
func (s *SpeakingSession) SystemPrompt() (string, bool) {
	if s.Metadata == nil {
		return "", false
	}
	v, ok := s.Metadata[MetadataSystemPrompt]
	return v, ok
}

// Store provides session persistence with single-document optimistic
// versioning. AppendTurns must fail with ErrVersionConflict when version no
// longer matches the stored document, leaving the document untouched.
type Store interface {
	FindByID(ctx context.Context, id string) (*SpeakingSession, error)
	AppendTurns(ctx context.Context, id string, version int64, turns []Turn, metadata map[string]string) error
	Create(ctx context.Context, s *SpeakingSession) error
}
