// Package batch is a small Azure Batch data-plane client: jobs, tasks, task
// files and pool/job deletion, authenticated with the account shared key.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StandardOutFileName   = "stdout.txt"
	StandardErrorFileName = "stderr.txt"
)

// Service is the subset of the Batch API the orchestration flow consumes.
type Service interface {
	AddJob(ctx context.Context, job JobAddParameter) error
	AddTask(ctx context.Context, jobID string, task TaskAddParameter) error
	ListTasks(ctx context.Context, jobID string) ([]Task, error)
	GetTask(ctx context.Context, jobID, taskID string) (Task, error)
	GetTaskFile(ctx context.Context, jobID, taskID, filePath string) (string, error)
	DeletePool(ctx context.Context, poolID string) error
	DeleteJob(ctx context.Context, jobID string) error
}

// Credentials authenticate against one Batch account.
type Credentials struct {
	ServiceURL  string `yaml:"serviceUrl" json:"serviceUrl"`
	AccountName string `yaml:"accountName" json:"accountName"`
	AccountKey  string `yaml:"accountKey" json:"-"`
}

func (c Credentials) Validate() error {
	var missing []string
	if c.ServiceURL == "" {
		missing = append(missing, "service URL")
	}
	if c.AccountName == "" {
		missing = append(missing, "account name")
	}
	if c.AccountKey == "" {
		missing = append(missing, "account key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("batch credentials: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// String never renders the account key.
func (c Credentials) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BatchAccountName = %s\n", c.AccountName)
	fmt.Fprintf(&sb, "BatchAccountKey = %s\n", redact(c.AccountKey))
	fmt.Fprintf(&sb, "BatchServiceUrl = %s\n", c.ServiceURL)
	return sb.String()
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

type PoolLifetimeOption string

const (
	PoolLifetimeJob         PoolLifetimeOption = "job"
	PoolLifetimeJobSchedule PoolLifetimeOption = "jobschedule"
)

type ImageReference struct {
	Publisher string `json:"publisher"`
	Offer     string `json:"offer"`
	SKU       string `json:"sku"`
	Version   string `json:"version"`
}

type VirtualMachineConfiguration struct {
	ImageReference ImageReference `json:"imageReference"`
	NodeAgentSKUID string         `json:"nodeAgentSKUId"`
}

type PoolSpecification struct {
	VMSize                      string                       `json:"vmSize"`
	VirtualMachineConfiguration *VirtualMachineConfiguration `json:"virtualMachineConfiguration,omitempty"`
	TargetDedicatedNodes        int32                        `json:"targetDedicatedNodes"`
	TargetLowPriorityNodes      int32                        `json:"targetLowPriorityNodes,omitempty"`
}

type AutoPoolSpecification struct {
	AutoPoolIDPrefix   string             `json:"autoPoolIdPrefix,omitempty"`
	PoolLifetimeOption PoolLifetimeOption `json:"poolLifetimeOption"`
	KeepAlive          bool               `json:"keepAlive"`
	Pool               *PoolSpecification `json:"pool,omitempty"`
}

type PoolInformation struct {
	PoolID                string                 `json:"poolId,omitempty"`
	AutoPoolSpecification *AutoPoolSpecification `json:"autoPoolSpecification,omitempty"`
}

type JobAddParameter struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName,omitempty"`
	PoolInfo    PoolInformation `json:"poolInfo"`
}

type ApplicationPackageReference struct {
	ApplicationID string `json:"applicationId"`
	Version       string `json:"version,omitempty"`
}

type TaskAddParameter struct {
	ID                           string                        `json:"id"`
	DisplayName                  string                        `json:"displayName,omitempty"`
	CommandLine                  string                        `json:"commandLine"`
	ApplicationPackageReferences []ApplicationPackageReference `json:"applicationPackageReferences,omitempty"`
}

type TaskState string

const (
	TaskStateActive    TaskState = "active"
	TaskStatePreparing TaskState = "preparing"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
)

type TaskExecutionResult string

const (
	TaskExecutionSuccess TaskExecutionResult = "success"
	TaskExecutionFailure TaskExecutionResult = "failure"
)

type TaskFailureInformation struct {
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

type TaskExecutionInformation struct {
	StartTime   *time.Time              `json:"startTime,omitempty"`
	EndTime     *time.Time              `json:"endTime,omitempty"`
	ExitCode    *int32                  `json:"exitCode,omitempty"`
	Result      TaskExecutionResult     `json:"result,omitempty"`
	RetryCount  int32                   `json:"retryCount"`
	FailureInfo *TaskFailureInformation `json:"failureInfo,omitempty"`
}

// Task is the service's view of a task; it is only ever observed by polling.
type Task struct {
	ID                  string                    `json:"id"`
	URL                 string                    `json:"url,omitempty"`
	CommandLine         string                    `json:"commandLine,omitempty"`
	State               TaskState                 `json:"state"`
	StateTransitionTime *time.Time                `json:"stateTransitionTime,omitempty"`
	ExecutionInfo       *TaskExecutionInformation `json:"executionInfo,omitempty"`
}

func (t Task) Completed() bool {
	return t.State == TaskStateCompleted
}

// Failed is true for a completed task the service reports as failed.
func (t Task) Failed() bool {
	return t.Completed() && t.ExecutionInfo != nil && t.ExecutionInfo.Result == TaskExecutionFailure
}

var ErrEmptyID = errors.New("batch: empty identifier")
