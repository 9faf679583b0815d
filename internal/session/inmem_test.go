package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemStore_FindMissing(t *testing.T) {
	s := NewInMemStore()
	_, err := s.FindByID(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemStore_AppendBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewInMemStore()
	if err := s.Create(ctx, &SpeakingSession{ID: "s1"}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.FindByID(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}

	turns := []Turn{{Role: RoleUser, Text: "hello", Timestamp: time.Now()}}
	if err := s.AppendTurns(ctx, "s1", sess.Version, turns, map[string]string{MetadataSystemPrompt: "p"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.FindByID(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Turns) != 1 || got.Turns[0].Text != "hello" {
		t.Errorf("unexpected turns: %+v", got.Turns)
	}
	if got.Version != sess.Version+1 {
		t.Errorf("version %d, want %d", got.Version, sess.Version+1)
	}
	if p, ok := got.SystemPrompt(); !ok || p != "p" {
		t.Errorf("system prompt not persisted: %q %v", p, ok)
	}
}

func TestInMemStore_StaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewInMemStore()
	if err := s.Create(ctx, &SpeakingSession{ID: "s1"}); err != nil {
		t.Fatal(err)
	}

	sess, _ := s.FindByID(ctx, "s1")
	if err := s.AppendTurns(ctx, "s1", sess.Version, []Turn{{Role: RoleUser, Text: "a"}}, nil); err != nil {
		t.Fatal(err)
	}

	// Second write with the original (now stale) version must conflict.
	err := s.AppendTurns(ctx, "s1", sess.Version, []Turn{{Role: RoleUser, Text: "b"}}, nil)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := s.FindByID(ctx, "s1")
	if len(got.Turns) != 1 {
		t.Errorf("conflicting write must not mutate the transcript, got %d turns", len(got.Turns))
	}
}

func TestInMemStore_FindReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewInMemStore()
	if err := s.Create(ctx, &SpeakingSession{ID: "s1", Turns: []Turn{{Role: RoleUser, Text: "a"}}}); err != nil {
		t.Fatal(err)
	}

	sess, _ := s.FindByID(ctx, "s1")
	sess.Turns[0].Text = "mutated"

	again, _ := s.FindByID(ctx, "s1")
	if again.Turns[0].Text != "a" {
		t.Error("store leaked its internal state to a caller")
	}
}
