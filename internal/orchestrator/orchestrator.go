// Package orchestrator runs one encryption job end to end: submit, wait for
// completion, collect output and delete the pool and job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/andrej220/blobcrypt/internal/jobspec"
	"github.com/andrej220/blobcrypt/internal/taskoutput"
	"github.com/andrej220/blobcrypt/internal/waiter"
	"github.com/andrej220/blobcrypt/pkg/batch"
	"github.com/andrej220/blobcrypt/pkg/lg"
	"github.com/andrej220/blobcrypt/pkg/runstore"
)

const DefaultTimeout = 10 * time.Minute

type State string

const (
	StateCreated          State = "created"
	StateSubmitted        State = "submitted"
	StateCompleted        State = "completed"
	StateTimedOut         State = "timed_out"
	StateSubmissionFailed State = "submission_failed"
	StateWaitFailed       State = "wait_failed"
	StateCleanedUp        State = "cleaned_up"
)

type Deps struct {
	Batch        batch.Service
	Settings     jobspec.Settings
	Timeout      time.Duration
	PollInterval time.Duration
	Runs         runstore.Store
	RequestID    string
}

// Result describes a finished run. CleanupErr is informational; it never
// turns a successful run into a failed one.
type Result struct {
	RunID      string
	JobID      string
	PoolID     string
	State      State
	Outputs    []waiter.TaskOutput
	Summary    map[string]string
	CleanupErr error
}

// Run submits the job, waits up to Deps.Timeout for its tasks and returns
// their output. Pool and job are deleted exactly once before Run returns,
// whatever happened before.
func Run(ctx context.Context, deps Deps, p jobspec.Params) (res Result, err error) {
	if deps.Batch == nil {
		return Result{}, errors.New("orchestrator: no batch service")
	}
	if deps.Runs == nil {
		deps.Runs = runstore.Noop{}
	}
	timeout := deps.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	jobID := jobspec.JobID(p.DestinationContainer, p.DestinationBlob)
	poolID := jobspec.PoolID(jobID)
	rec := runstore.NewRecord(runstore.KindEncrypt, jobID, poolID)
	rec.RequestID = deps.RequestID
	rec.SourceContainer, rec.SourceBlob = p.SourceContainer, p.SourceBlob
	rec.DestinationContainer, rec.DestinationBlob = p.DestinationContainer, p.DestinationBlob

	log := lg.FromContext(ctx).With(lg.String("run_id", rec.RunID.String()), lg.String("job_id", jobID))
	ctx = lg.Attach(ctx, log)

	res = Result{RunID: rec.RunID.String(), JobID: jobID, PoolID: poolID}
	transition := func(s State) {
		res.State = s
		rec.Transition(string(s))
		log.Debug("run state", lg.String("state", string(s)))
	}
	transition(StateCreated)

	defer func() {
		res.CleanupErr = Cleanup(context.WithoutCancel(ctx), deps.Batch, jobID)
		transition(StateCleanedUp)
		if err != nil {
			rec.Error = err.Error()
		}
		if res.CleanupErr != nil {
			rec.CleanupError = res.CleanupErr.Error()
		}
		rec.Outputs = toRecordOutputs(res.Outputs)
		rec.Summary = res.Summary
		rec.FinishedAt = time.Now().UTC()
		if serr := deps.Runs.Save(context.WithoutCancel(ctx), rec); serr != nil {
			log.Warn("failed to save run record", lg.Err(serr))
		}
	}()

	log.Info("submitting job", lg.String("pool_id", poolID), lg.Strings("args", p.Args()))
	if err = jobspec.Submit(ctx, deps.Batch, jobID, p, deps.Settings); err != nil {
		transition(StateSubmissionFailed)
		return res, err
	}
	transition(StateSubmitted)

	tasks, err := deps.Batch.ListTasks(ctx, jobID)
	if err != nil {
		transition(StateWaitFailed)
		return res, fmt.Errorf("list tasks of job %s: %w", jobID, err)
	}

	log.Info("waiting for tasks", lg.Int("tasks", len(tasks)), lg.Duration("timeout", timeout))
	w := waiter.New(deps.Batch, jobID, waiter.WithPollInterval(deps.PollInterval))
	outputs, err := w.WaitAll(ctx, tasks, timeout)
	switch {
	case errors.Is(err, waiter.ErrTimeout):
		transition(StateTimedOut)
		return res, err
	case err != nil:
		transition(StateWaitFailed)
		return res, err
	}

	res.Outputs = outputs
	for _, o := range outputs {
		if sum, serr := taskoutput.Summary(o.Stdout); serr == nil && len(sum) > 0 {
			res.Summary = sum
		}
	}
	transition(StateCompleted)
	return res, nil
}

// Submit registers the job and returns without waiting for it. Pool and job
// stay behind for a later Cleanup unless the submission failed, in which case
// they are deleted before Submit returns.
func Submit(ctx context.Context, deps Deps, p jobspec.Params) (Result, error) {
	if deps.Batch == nil {
		return Result{}, errors.New("orchestrator: no batch service")
	}
	if deps.Runs == nil {
		deps.Runs = runstore.Noop{}
	}
	jobID := jobspec.JobID(p.DestinationContainer, p.DestinationBlob)
	poolID := jobspec.PoolID(jobID)
	rec := runstore.NewRecord(runstore.KindEncrypt, jobID, poolID)
	rec.RequestID = deps.RequestID
	rec.SourceContainer, rec.SourceBlob = p.SourceContainer, p.SourceBlob
	rec.DestinationContainer, rec.DestinationBlob = p.DestinationContainer, p.DestinationBlob
	rec.Transition(string(StateCreated))

	log := lg.FromContext(ctx).With(lg.String("run_id", rec.RunID.String()), lg.String("job_id", jobID))
	res := Result{RunID: rec.RunID.String(), JobID: jobID, PoolID: poolID, State: StateSubmitted}

	log.Info("submitting job without waiting", lg.String("pool_id", poolID), lg.Strings("args", p.Args()))
	err := jobspec.Submit(lg.Attach(ctx, log), deps.Batch, jobID, p, deps.Settings)
	if err != nil {
		res.State = StateSubmissionFailed
		rec.Transition(string(StateSubmissionFailed))
		rec.Error = err.Error()
		res.CleanupErr = Cleanup(lg.Attach(context.WithoutCancel(ctx), log), deps.Batch, jobID)
		if res.CleanupErr != nil {
			rec.CleanupError = res.CleanupErr.Error()
		}
		res.State = StateCleanedUp
		rec.Transition(string(StateCleanedUp))
		rec.FinishedAt = time.Now().UTC()
	} else {
		rec.Transition(string(StateSubmitted))
	}
	if serr := deps.Runs.Save(context.WithoutCancel(ctx), rec); serr != nil {
		log.Warn("failed to save run record", lg.Err(serr))
	}
	return res, err
}

// Cleanup deletes the pool derived from jobID and then the job. Both deletes
// are attempted; failures are logged and returned combined.
func Cleanup(ctx context.Context, svc batch.Service, jobID string) error {
	log := lg.FromContext(ctx)
	poolID := jobspec.PoolID(jobID)
	log.Info("exiting job", lg.String("job_id", jobID))

	var errs error
	if err := svc.DeletePool(ctx, poolID); err != nil {
		log.Warn("delete pool failed", lg.String("pool_id", poolID), lg.Err(err))
		errs = multierr.Append(errs, fmt.Errorf("delete pool %s: %w", poolID, err))
	}
	if err := svc.DeleteJob(ctx, jobID); err != nil {
		log.Warn("delete job failed", lg.String("job_id", jobID), lg.Err(err))
		errs = multierr.Append(errs, fmt.Errorf("delete job %s: %w", jobID, err))
	}
	return errs
}

func toRecordOutputs(outs []waiter.TaskOutput) []runstore.Output {
	if len(outs) == 0 {
		return nil
	}
	rs := make([]runstore.Output, len(outs))
	for i, o := range outs {
		rs[i] = runstore.Output{TaskID: o.TaskID, Stdout: o.Stdout, Stderr: o.Stderr, ExitCode: o.ExitCode, Failed: o.Failed}
	}
	return rs
}
