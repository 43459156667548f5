package session

import (
	"context"
	"testing"
	"time"

	"diagrammer-backend/internal/models"
)

func TestReapIdle_ClosesOnlyStaleSessions(t *testing.T) {
	f := newFixture(t)
	stale := f.newSession(t)
	fresh := f.newSession(t)

	stale.mu.Lock()
	stale.updatedAt = time.Now().UTC().Add(-3 * time.Hour)
	stale.mu.Unlock()

	if n := f.store.ReapIdle(time.Now().UTC(), 2*time.Hour); n != 1 {
		t.Fatalf("expected 1 reaped session, got %d", n)
	}
	if _, err := f.store.Get(stale.ID, f.owner); err == nil {
		t.Errorf("stale session should be gone")
	}
	if _, err := f.store.Get(fresh.ID, f.owner); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}
	if err := stale.EditMarkup(context.Background(), "graph TD\nA-->B"); err != ErrClosed {
		t.Errorf("expected reaped session closed, got %v", err)
	}
}

func TestReapIdle_SkipsGeneratingSessions(t *testing.T) {
	f := newFixture(t)
	s := f.newSession(t)

	if _, err := s.StartSubmit(context.Background(), "Login flow", nil); err != nil {
		t.Fatalf("StartSubmit: %v", err)
	}
	s.mu.Lock()
	s.updatedAt = time.Now().UTC().Add(-3 * time.Hour)
	s.mu.Unlock()

	if n := f.store.ReapIdle(time.Now().UTC(), time.Hour); n != 0 {
		t.Fatalf("generating session must not be reaped, got %d", n)
	}
	if s.State() != models.StateGenerating {
		t.Errorf("expected generating, got %q", s.State())
	}
}

func TestReaper_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	r := NewReaper(f.store, time.Hour)
	r.Start()
	r.Stop()
	r.Stop()
}
