package batch

import (
	"context"

	"github.com/andrej220/blobcrypt/pkg/resilience"
)

// ResilientService retries reads and deletes through a resilience.Policy.
// AddJob and AddTask go straight to the wrapped service: a rejected
// submission must reach the caller as the service reported it.
type ResilientService struct {
	svc    Service
	policy *resilience.Policy
}

var _ Service = (*ResilientService)(nil)

func NewResilientService(svc Service, p *resilience.Policy) *ResilientService {
	return &ResilientService{svc: svc, policy: p}
}

func (r *ResilientService) AddJob(ctx context.Context, job JobAddParameter) error {
	return r.svc.AddJob(ctx, job)
}

func (r *ResilientService) AddTask(ctx context.Context, jobID string, task TaskAddParameter) error {
	return r.svc.AddTask(ctx, jobID, task)
}

func (r *ResilientService) ListTasks(ctx context.Context, jobID string) ([]Task, error) {
	var tasks []Task
	err := r.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		tasks, err = r.svc.ListTasks(ctx, jobID)
		return err
	})
	return tasks, err
}

func (r *ResilientService) GetTask(ctx context.Context, jobID, taskID string) (Task, error) {
	var t Task
	err := r.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		t, err = r.svc.GetTask(ctx, jobID, taskID)
		return err
	})
	return t, err
}

func (r *ResilientService) GetTaskFile(ctx context.Context, jobID, taskID, filePath string) (string, error) {
	var text string
	err := r.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = r.svc.GetTaskFile(ctx, jobID, taskID, filePath)
		return err
	})
	return text, err
}

func (r *ResilientService) DeletePool(ctx context.Context, poolID string) error {
	return r.policy.Execute(ctx, func(ctx context.Context) error {
		return r.svc.DeletePool(ctx, poolID)
	})
}

func (r *ResilientService) DeleteJob(ctx context.Context, jobID string) error {
	return r.policy.Execute(ctx, func(ctx context.Context) error {
		return r.svc.DeleteJob(ctx, jobID)
	})
}
