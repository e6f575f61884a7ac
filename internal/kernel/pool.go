package kernel

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	ErrPoolClosed = errors.New("worker pool closed")
	ErrPoolFull   = errors.New("worker pool queue full")
)

// Job is a unit of work run on a pool goroutine.
type Job func(ctx context.Context)

// Pool is a fixed-size set of workers draining a bounded queue.
// Submissions never block; Close stops intake without waiting for
// in-flight jobs, and queued jobs that have not started are dropped.
type Pool struct {
	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines reading from a queue of queueSize.
func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &Pool{
		jobs:   make(chan Job, queueSize),
		ctx:    gctx,
		cancel: cancel,
		g:      g,
	}
	for i := 0; i < workers; i++ {
		g.Go(p.work)
	}
	return p
}

func (p *Pool) work() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case job := <-p.jobs:
			if p.ctx.Err() != nil {
				return nil
			}
			job(p.ctx)
		}
	}
}

// Submit queues job, or fails immediately when the pool is closed or full.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting jobs and signals workers to exit. It does not wait.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() error {
	return p.g.Wait()
}
