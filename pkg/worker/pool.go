// Package worker provides a bounded worker pool for the independent
// sub-stages of a window, such as lookups for different URLs or
// attachments.
//
// Submission blocks while every worker is busy and the queue is full, so
// callers feel backpressure instead of growing an unbounded backlog.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

var (
	defaultNumWorkers   uint = 4
	defaultJobQueueSize uint = 0

	// ErrClosed is returned when submitting to a closed pool.
	ErrClosed = errors.New("worker pool closed")
)

// Job is a unit of work for the worker pool to execute.
type Job func(ctx context.Context) error

// Config is the configuration options for the worker pool.
type Config struct {
	// NumWorkers is the number of goroutines in the pool (defaults to 4).
	NumWorkers uint

	// QueueSize is the capacity of the job channel beyond the workers
	// themselves. Zero means a submission waits for a free worker.
	QueueSize uint

	Logger *slog.Logger
}

type task struct {
	ctx   context.Context
	job   Job
	group *Group
}

// Pool runs jobs on a fixed set of goroutines.
type Pool struct {
	queue  chan task
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a Pool and starts its worker goroutines.
func NewPool(c Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	p := &Pool{
		queue:  make(chan task, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Group collects the results of related jobs.
type Group struct {
	pool *Pool
	wg   sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// Group starts a new set of jobs on p.
func (p *Pool) Group() *Group {
	return &Group{pool: p}
}

// Submit queues job, blocking until a worker or queue slot is free or ctx is
// done. The job receives ctx.
func (g *Group) Submit(ctx context.Context, job Job) error {
	g.pool.mu.RLock()
	defer g.pool.mu.RUnlock()
	if g.pool.closed {
		return ErrClosed
	}

	g.wg.Add(1)
	select {
	case g.pool.queue <- task{ctx: ctx, job: job, group: g}:
		return nil
	case <-ctx.Done():
		g.wg.Done()
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished and returns their
// errors joined.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}

func (g *Group) done(err error) {
	if err != nil {
		g.mu.Lock()
		g.errs = append(g.errs, err)
		g.mu.Unlock()
	}
	g.wg.Done()
}

// Close stops accepting jobs and waits for queued and in-flight jobs to
// drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the queue.
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for t := range p.queue {
		t.group.done(p.run(t))
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) run(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker job panicked: %v", r)
		}
	}()
	if err := t.ctx.Err(); err != nil {
		return err
	}
	return t.job(t.ctx)
}
