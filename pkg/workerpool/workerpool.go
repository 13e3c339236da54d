package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrej220/blobcrypt/pkg/lg"
)

const TotalMaxWorkers = 10

var ErrStopped = errors.New("workerpool: pool is shutting down")

type JobFunc[T any] func(context.Context, T) error

// Job is one unit of work. Attempts below one run Fn once; further attempts
// back off linearly by RetryDelay. CleanupFunc always runs after Fn is done.
type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	Attempts    int
	RetryDelay  time.Duration
	CleanupFunc func()
}

// Pool runs at most maxWorkers jobs at once. Every job Submit accepts is run,
// including jobs still queued when Stop is called.
type Pool[T any] struct {
	jobs          chan Job[T]
	sem           chan struct{}
	activeWorkers int32
	wg            sync.WaitGroup
	quit          chan struct{}
	stopOnce      sync.Once
	dispatchDone  chan struct{}
	// held is a job dispatch took off the queue but had no slot for at quit.
	// Read only after dispatchDone is closed.
	held []Job[T]

	mu      sync.RWMutex
	stopped bool
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	pool := &Pool[T]{
		jobs:         make(chan Job[T], maxWorkers),
		sem:          make(chan struct{}, maxWorkers),
		quit:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	go pool.dispatch()
	return pool
}

// Stop rejects new jobs, runs the jobs already accepted and waits for all of
// them to finish.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		// wait out Submit calls that are past the stopped check
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		<-p.dispatchDone
		pending := p.held
		for {
			select {
			case job := <-p.jobs:
				pending = append(pending, job)
				continue
			default:
			}
			break
		}
		for _, job := range pending {
			p.sem <- struct{}{}
			p.start(job)
		}
	})
	p.wg.Wait()
}

// Submit blocks until the job is queued, the job's context is done or the
// pool stops.
func (p *Pool[T]) Submit(job Job[T]) error {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	logger := lg.FromContext(job.Ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		logger.Info("worker pool is shutting down, job rejected")
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		logger.Debug("job submitted", lg.Any("job", job.Payload))
		return nil
	case <-job.Ctx.Done():
		return job.Ctx.Err()
	case <-p.quit:
		logger.Info("worker pool is shutting down, job rejected")
		return ErrStopped
	}
}

func (p *Pool[T]) dispatch() {
	defer close(p.dispatchDone)
	for {
		select {
		case job := <-p.jobs:
			select {
			case p.sem <- struct{}{}:
			case <-p.quit:
				p.held = append(p.held, job)
				return
			}
			p.start(job)
		case <-p.quit:
			return
		}
	}
}

// start runs job on a new worker. The caller holds a sem slot. Only dispatch
// calls start until dispatchDone, only Stop after it.
func (p *Pool[T]) start(job Job[T]) {
	p.wg.Add(1)
	atomic.AddInt32(&p.activeWorkers, 1)
	go p.worker(job)
}

func (p *Pool[T]) worker(job Job[T]) {
	defer p.wg.Done()
	defer func() { <-p.sem }()
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()

	logger := lg.FromContext(job.Ctx).With(lg.Any("job", job.Payload))
	logger.Info("worker started", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))

	attempts := job.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = job.Fn(job.Ctx, job.Payload); err == nil {
			break
		}
		if attempt == attempts {
			err = fmt.Errorf("failed after %d attempts: %w", attempts, err)
			break
		}
		select {
		case <-job.Ctx.Done():
			err = job.Ctx.Err()
			attempt = attempts
		case <-time.After(time.Duration(attempt) * job.RetryDelay):
		}
	}

	switch {
	case job.Ctx.Err() != nil:
		logger.Info("job canceled", lg.Err(job.Ctx.Err()))
	case err != nil:
		logger.Error("worker error", lg.Err(err))
	default:
		logger.Info("worker finished", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))
	}
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
