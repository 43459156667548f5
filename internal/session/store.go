package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"diagrammer-backend/internal/models"
	"diagrammer-backend/internal/render"
	"diagrammer-backend/internal/services"
)

// Store is the in-memory registry of live editing sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	generator services.DiagramGenerator
	publisher Publisher
	scheduler *render.Scheduler
	opts      Options
}

func NewStore(generator services.DiagramGenerator, publisher Publisher, scheduler *render.Scheduler, opts Options) *Store {
	return &Store{
		sessions:  make(map[uuid.UUID]*Session),
		generator: generator,
		publisher: publisher,
		scheduler: scheduler,
		opts:      opts,
	}
}

// Create starts a session for ownerID. An empty categoryID selects the default category.
func (st *Store) Create(ownerID uuid.UUID, categoryID string) (*Session, error) {
	if categoryID == "" {
		categoryID = models.DefaultCategoryID
	}
	if _, ok := models.LookupCategory(categoryID); !ok {
		return nil, &services.ValidationError{Fields: map[string]string{"category": "Unknown diagram type"}}
	}

	s := newSession(ownerID, categoryID, st.generator, st.publisher, st.scheduler, st.opts)

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s, nil
}

// Get returns the session if it exists and belongs to ownerID.
func (st *Store) Get(id, ownerID uuid.UUID) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()

	if !ok {
		return nil, &services.NotFoundError{Message: "Session not found"}
	}
	if s.OwnerID != ownerID {
		return nil, &services.ForbiddenError{Message: "You do not have access to this session"}
	}
	return s, nil
}

// Delete closes and forgets a session.
func (st *Store) Delete(id, ownerID uuid.UUID) error {
	s, err := st.Get(id, ownerID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()

	s.Close()
	return nil
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// ReapIdle closes every session untouched for longer than ttl and returns how many it closed.
func (st *Store) ReapIdle(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)

	st.mu.Lock()
	var idle []*Session
	for id, s := range st.sessions {
		if s.idleSince(cutoff) {
			idle = append(idle, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// CloseAll tears down every session, for shutdown.
func (st *Store) CloseAll() {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[uuid.UUID]*Session)
	st.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
