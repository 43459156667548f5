package session

import (
	"log"
	"time"

	"diagrammer-backend/internal/models"
)

const reapPollInterval = 5 * time.Minute

// Reaper closes sessions nobody has touched for longer than the idle TTL.
type Reaper struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	stopChan chan struct{}
}

func NewReaper(store *Store, ttl time.Duration) *Reaper {
	interval := reapPollInterval
	if ttl < interval {
		interval = ttl
	}
	return &Reaper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	if r.store == nil || r.ttl <= 0 {
		return
	}
	go r.loop()
	log.Printf("Session reaper started (idle TTL %s)", r.ttl)
}

func (r *Reaper) Stop() {
	select {
	case <-r.stopChan:
		return
	default:
		close(r.stopChan)
	}
}

func (r *Reaper) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			if n := r.store.ReapIdle(time.Now().UTC(), r.ttl); n > 0 {
				log.Printf("session reaper: closed %d idle sessions", n)
			}
		}
	}
}

// idleSince reports whether the session has been untouched since before cutoff. A
// session waiting on the generator is never idle.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != models.StateGenerating && s.updatedAt.Before(cutoff)
}
