package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"diagrammer-backend/internal/observability"
)

// Job types
const (
	JobDiagramGeneration  = "diagram-generation"
	JobSuggestionAccepted = "suggestion-regeneration"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrStopped   = errors.New("worker pool is stopped")
)

// Job is one unit of background work bound to an editing session.
type Job struct {
	ID        uuid.UUID
	Type      string
	SessionID uuid.UUID
	Run       func(ctx context.Context) error
}

type Pool struct {
	jobs        chan Job
	workerCount int
	jobTimeout  time.Duration

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewPool(workerCount, queueSize int, jobTimeout time.Duration) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		jobs:        make(chan Job, queueSize),
		workerCount: workerCount,
		jobTimeout:  jobTimeout,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Printf("Started %d worker goroutines", p.workerCount)
}

// Stop rejects new jobs, lets the workers finish what is queued, and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

// Enqueue hands a job to the workers without blocking.
func (p *Pool) Enqueue(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has nothing to run", job.ID)
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(id, job)
	}
	log.Printf("Worker %d shutting down", id)
}

func (p *Pool) process(id int, job Job) {
	ctx := observability.WithSessionID(context.Background(), job.SessionID.String())
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	logger := observability.LoggerFromContext(ctx).With("worker", id, "job_id", job.ID.String(), "job_type", job.Type)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	logger.Debug("processing job")

	// Failed jobs are not retried; the session already reported the failure to the user.
	if err := job.Run(ctx); err != nil {
		logger.Warn("job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	logger.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
}
