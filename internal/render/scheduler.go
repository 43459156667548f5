package render

import (
	"context"
	"sync"
	"time"
)

const scheduledRenderTimeout = 30 * time.Second

type scheduleKey struct {
	board   *Board
	surface string
}

type scheduledRender struct {
	timer *time.Timer
}

// Scheduler debounces renders per (board, surface). A new request replaces the pending
// one, so only the last markup inside the quiescence window is rendered.
type Scheduler struct {
	renderer *Renderer

	mu      sync.Mutex
	pending map[scheduleKey]*scheduledRender
	stopped bool
}

func NewScheduler(renderer *Renderer) *Scheduler {
	return &Scheduler{
		renderer: renderer,
		pending:  make(map[scheduleKey]*scheduledRender),
	}
}

// Schedule renders markup into the surface after delay. A delay <= 0 renders
// synchronously and returns the outcome; otherwise the returned outcome is empty.
func (s *Scheduler) Schedule(board *Board, surfaceID, markup string, delay time.Duration) Outcome {
	key := scheduleKey{board: board, surface: surfaceID}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Outcome{Kind: OutcomeSkipped}
	}
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
		delete(s.pending, key)
	}

	// The sequence is claimed now so a render scheduled earlier can never overwrite
	// this one, whichever finishes last.
	surface, mounted := board.Surface(surfaceID)
	var seq uint64
	if mounted {
		seq = surface.reserve()
	}

	if delay <= 0 {
		s.mu.Unlock()
		return s.run(board, surface, seq, surfaceID, markup)
	}

	task := &scheduledRender{}
	task.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if cur, ok := s.pending[key]; !ok || cur != task {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()

		s.run(board, surface, seq, surfaceID, markup)
	})
	s.pending[key] = task
	s.mu.Unlock()

	return Outcome{}
}

func (s *Scheduler) run(board *Board, surface *Surface, seq uint64, surfaceID, markup string) Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRenderTimeout)
	defer cancel()

	if surface == nil {
		// Not mounted when scheduled; it may have been mounted since.
		return s.renderer.Render(ctx, board, surfaceID, markup)
	}
	return s.renderer.renderReserved(ctx, board, surface, seq, markup)
}

// Cancel drops every pending render for board.
func (s *Scheduler) Cancel(board *Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, task := range s.pending {
		if key.board == board {
			task.timer.Stop()
			delete(s.pending, key)
		}
	}
}

// Pending reports how many debounced renders are waiting.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels all pending renders and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, task := range s.pending {
		task.timer.Stop()
		delete(s.pending, key)
	}
}
