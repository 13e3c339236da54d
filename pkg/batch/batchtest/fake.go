// Package batchtest provides an in-memory batch.Service for tests.
package batchtest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/andrej220/blobcrypt/pkg/batch"
)

// Fake keeps jobs, tasks and task files in memory. Errors queued with Fail
// are returned by the named operation one call at a time.
type Fake struct {
	mu     sync.Mutex
	jobs   map[string]batch.JobAddParameter
	tasks  map[string][]batch.Task
	files  map[string]string
	pools  map[string]bool
	errs   map[string][]error
	calls  []string
	counts map[string]int

	// CompleteOnAdd makes new tasks start out completed.
	CompleteOnAdd bool
}

var _ batch.Service = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		jobs:   map[string]batch.JobAddParameter{},
		tasks:  map[string][]batch.Task{},
		files:  map[string]string{},
		pools:  map[string]bool{},
		errs:   map[string][]error{},
		counts: map[string]int{},
	}
}

// NotFound builds the error the service returns for a missing entity.
func NotFound(code string) error {
	return &azcore.ResponseError{ErrorCode: code, StatusCode: http.StatusNotFound}
}

// Status builds a service error with the given HTTP status.
func Status(code int) error {
	return &azcore.ResponseError{ErrorCode: http.StatusText(code), StatusCode: code}
}

func (f *Fake) Fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

func (f *Fake) SetTasks(jobID string, tasks ...batch.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[jobID] = append([]batch.Task(nil), tasks...)
}

// Complete moves a task to the completed state.
func (f *Fake) Complete(jobID, taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tasks[jobID] {
		if f.tasks[jobID][i].ID == taskID {
			f.tasks[jobID][i].State = batch.TaskStateCompleted
		}
	}
}

func (f *Fake) SetFile(jobID, taskID, name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[fileKey(jobID, taskID, name)] = content
}

// AddPool registers a pool so DeletePool succeeds for it.
func (f *Fake) AddPool(poolID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[poolID] = true
}

func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op]
}

func (f *Fake) Job(jobID string) (batch.JobAddParameter, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	return j, ok
}

func (f *Fake) Tasks(jobID string) []batch.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]batch.Task(nil), f.tasks[jobID]...)
}

// enter records the call and pops a queued error. Callers hold f.mu.
func (f *Fake) enter(op, arg string) error {
	f.calls = append(f.calls, op+" "+arg)
	f.counts[op]++
	if q := f.errs[op]; len(q) > 0 {
		f.errs[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) AddJob(ctx context.Context, job batch.JobAddParameter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddJob", job.ID); err != nil {
		return err
	}
	if _, ok := f.jobs[job.ID]; ok {
		return &azcore.ResponseError{ErrorCode: "JobExists", StatusCode: http.StatusConflict}
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *Fake) AddTask(ctx context.Context, jobID string, task batch.TaskAddParameter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddTask", jobID+"/"+task.ID); err != nil {
		return err
	}
	if _, ok := f.jobs[jobID]; !ok {
		return NotFound("JobNotFound")
	}
	state := batch.TaskStateActive
	if f.CompleteOnAdd {
		state = batch.TaskStateCompleted
	}
	f.tasks[jobID] = append(f.tasks[jobID], batch.Task{ID: task.ID, CommandLine: task.CommandLine, State: state})
	return nil
}

func (f *Fake) ListTasks(ctx context.Context, jobID string) ([]batch.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListTasks", jobID); err != nil {
		return nil, err
	}
	return append([]batch.Task(nil), f.tasks[jobID]...), nil
}

func (f *Fake) GetTask(ctx context.Context, jobID, taskID string) (batch.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetTask", jobID+"/"+taskID); err != nil {
		return batch.Task{}, err
	}
	for _, t := range f.tasks[jobID] {
		if t.ID == taskID {
			return t, nil
		}
	}
	return batch.Task{}, NotFound("TaskNotFound")
}

func (f *Fake) GetTaskFile(ctx context.Context, jobID, taskID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetTaskFile", fileKey(jobID, taskID, name)); err != nil {
		return "", err
	}
	content, ok := f.files[fileKey(jobID, taskID, name)]
	if !ok {
		return "", NotFound("FileNotFound")
	}
	return content, nil
}

func (f *Fake) DeletePool(ctx context.Context, poolID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeletePool", poolID); err != nil {
		return err
	}
	if !f.pools[poolID] {
		return NotFound("PoolNotFound")
	}
	delete(f.pools, poolID)
	return nil
}

func (f *Fake) DeleteJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteJob", jobID); err != nil {
		return err
	}
	if _, ok := f.jobs[jobID]; !ok {
		return NotFound("JobNotFound")
	}
	delete(f.jobs, jobID)
	delete(f.tasks, jobID)
	return nil
}

func fileKey(jobID, taskID, name string) string {
	return fmt.Sprintf("%s/%s/%s", jobID, taskID, name)
}
