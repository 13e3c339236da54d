// Package waiter blocks until the tasks of a Batch job complete and then
// collects their console output.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/andrej220/blobcrypt/pkg/batch"
	"github.com/andrej220/blobcrypt/pkg/lg"
)

const DefaultPollInterval = 5 * time.Second

// ErrTimeout is returned when tasks are still running at the deadline.
var ErrTimeout = errors.New("timed out waiting for tasks to complete")

// TaskOutput is what a completed task wrote to its standard streams.
type TaskOutput struct {
	TaskID   string `json:"taskId" bson:"taskId"`
	Stdout   string `json:"stdout" bson:"stdout"`
	Stderr   string `json:"stderr" bson:"stderr"`
	ExitCode *int32 `json:"exitCode,omitempty" bson:"exitCode,omitempty"`
	Failed   bool   `json:"failed" bson:"failed"`
}

type Waiter struct {
	svc      batch.Service
	jobID    string
	interval time.Duration
}

type Option func(*Waiter)

func WithPollInterval(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.interval = d
		}
	}
}

func New(svc batch.Service, jobID string, opts ...Option) *Waiter {
	w := &Waiter{svc: svc, jobID: jobID, interval: DefaultPollInterval}
	for _, o := range opts {
		o(w)
	}
	return w
}

// WaitAll polls until every task is completed or timeout elapses. Tasks that
// are already completed need no polling, so a zero timeout succeeds when
// nothing is pending. Output is returned in the order tasks were given.
func (w *Waiter) WaitAll(ctx context.Context, tasks []batch.Task, timeout time.Duration) ([]TaskOutput, error) {
	log := lg.FromContext(ctx).With(lg.String("job_id", w.jobID))
	current := append([]batch.Task(nil), tasks...)

	if pending := pendingIdx(current); len(pending) > 0 {
		if timeout <= 0 {
			return nil, fmt.Errorf("%w: %d of %d tasks pending", ErrTimeout, len(pending), len(current))
		}
		if err := w.poll(ctx, current, timeout, log); err != nil {
			return nil, err
		}
	}

	for _, t := range current {
		if t.Failed() {
			log.Warn("task failed", lg.String("task_id", t.ID))
		}
	}
	return w.collect(ctx, current)
}

func (w *Waiter) poll(ctx context.Context, tasks []batch.Task, timeout time.Duration, log lg.Logger) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		pending := pendingIdx(tasks)
		if len(pending) == 0 {
			log.Info("all tasks completed", lg.Int("tasks", len(tasks)), lg.Duration("elapsed", time.Since(start)))
			return nil
		}
		select {
		case <-waitCtx.Done():
			return w.waitErr(ctx, len(pending), len(tasks))
		case <-ticker.C:
		}

		if err := w.refresh(waitCtx, tasks, pending); err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return w.waitErr(ctx, len(pending), len(tasks))
			}
			return fmt.Errorf("refresh tasks of job %s: %w", w.jobID, err)
		}
		log.Debug("polled tasks", lg.Int("pending", len(pendingIdx(tasks))))
	}
}

// waitErr tells a caller cancellation apart from the wait deadline.
func (w *Waiter) waitErr(parent context.Context, pending, total int) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s has %d of %d tasks pending", ErrTimeout, w.jobID, pending, total)
}

// refresh re-reads the pending tasks in place.
func (w *Waiter) refresh(ctx context.Context, tasks []batch.Task, pending []int) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, i := range pending {
		g.Go(func() error {
			t, err := w.svc.GetTask(gctx, w.jobID, tasks[i].ID)
			if err != nil {
				return err
			}
			tasks[i] = t
			return nil
		})
	}
	return g.Wait()
}

func (w *Waiter) collect(ctx context.Context, tasks []batch.Task) ([]TaskOutput, error) {
	out := make([]TaskOutput, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		out[i] = TaskOutput{TaskID: t.ID, Failed: t.Failed()}
		if t.ExecutionInfo != nil {
			out[i].ExitCode = t.ExecutionInfo.ExitCode
		}
		g.Go(func() error {
			text, err := w.svc.GetTaskFile(gctx, w.jobID, t.ID, batch.StandardOutFileName)
			if err != nil {
				return fmt.Errorf("read stdout of task %s: %w", t.ID, err)
			}
			out[i].Stdout = text
			return nil
		})
		g.Go(func() error {
			text, err := w.svc.GetTaskFile(gctx, w.jobID, t.ID, batch.StandardErrorFileName)
			if err != nil {
				return fmt.Errorf("read stderr of task %s: %w", t.ID, err)
			}
			out[i].Stderr = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func pendingIdx(tasks []batch.Task) []int {
	var idx []int
	for i, t := range tasks {
		if !t.Completed() {
			idx = append(idx, i)
		}
	}
	return idx
}
