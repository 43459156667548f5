package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPool_RunsJobs(t *testing.T) {
	p := NewPool(2, 10, time.Second)
	p.Start()

	var ran atomic.Int32
	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		err := p.Enqueue(Job{Type: JobDiagramGeneration, SessionID: uuid.New(), Run: func(ctx context.Context) error {
			ran.Add(1)
			done <- struct{}{}
			return nil
		}})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("job %d never ran", i)
		}
	}
	p.Stop()

	if ran.Load() != 5 {
		t.Fatalf("expected 5 jobs, got %d", ran.Load())
	}
}

func TestPool_QueueFull(t *testing.T) {
	p := NewPool(1, 1, time.Second)
	// Not started: the single slot fills up.
	noop := func(context.Context) error { return nil }
	if err := p.Enqueue(Job{Run: noop}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := p.Enqueue(Job{Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	p.Start()
	p.Stop()
}

func TestPool_StopDrainsQueueAndRejects(t *testing.T) {
	p := NewPool(1, 4, time.Second)
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		p.Enqueue(Job{Run: func(context.Context) error { ran.Add(1); return nil }})
	}
	p.Start()
	p.Stop()

	if ran.Load() != 3 {
		t.Fatalf("expected queued jobs to finish, got %d", ran.Load())
	}
	if err := p.Enqueue(Job{Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	// Second Stop is a no-op.
	p.Stop()
}

func TestPool_SurvivesPanicsAndErrors(t *testing.T) {
	p := NewPool(1, 4, time.Second)
	p.Start()

	p.Enqueue(Job{Run: func(context.Context) error { panic("boom") }})
	p.Enqueue(Job{Run: func(context.Context) error { return errors.New("upstream down") }})

	done := make(chan struct{})
	p.Enqueue(Job{Run: func(context.Context) error { close(done); return nil }})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive earlier failures")
	}
	p.Stop()
}

func TestPool_JobTimeout(t *testing.T) {
	p := NewPool(1, 1, 20*time.Millisecond)
	p.Start()
	defer p.Stop()

	got := make(chan error, 1)
	p.Enqueue(Job{Run: func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}})

	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job context never expired")
	}
}

func TestPool_RejectsEmptyJob(t *testing.T) {
	p := NewPool(1, 1, 0)
	if err := p.Enqueue(Job{}); err == nil {
		t.Fatalf("expected error for job without Run")
	}
}
