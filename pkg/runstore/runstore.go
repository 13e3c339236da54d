// Package runstore persists one record per orchestration run: what was
// submitted, the states it went through and what the tasks printed.
package runstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindEncrypt Kind = "encrypt"
	KindCleanup Kind = "cleanup"
)

type StateChange struct {
	State string    `json:"state" bson:"state"`
	At    time.Time `json:"at" bson:"at"`
}

type Output struct {
	TaskID   string `json:"taskId" bson:"taskId"`
	Stdout   string `json:"stdout" bson:"stdout"`
	Stderr   string `json:"stderr" bson:"stderr"`
	ExitCode *int32 `json:"exitCode,omitempty" bson:"exitCode,omitempty"`
	Failed   bool   `json:"failed" bson:"failed"`
}

type Record struct {
	RunID                uuid.UUID         `json:"runId" bson:"-"`
	RequestID            string            `json:"requestId,omitempty" bson:"requestId,omitempty"`
	Kind                 Kind              `json:"kind" bson:"kind"`
	JobID                string            `json:"jobId" bson:"jobId"`
	PoolID               string            `json:"poolId" bson:"poolId"`
	SourceContainer      string            `json:"sourceContainer,omitempty" bson:"sourceContainer,omitempty"`
	SourceBlob           string            `json:"sourceBlob,omitempty" bson:"sourceBlob,omitempty"`
	DestinationContainer string            `json:"destinationContainer" bson:"destinationContainer"`
	DestinationBlob      string            `json:"destinationBlob" bson:"destinationBlob"`
	States               []StateChange     `json:"states" bson:"states"`
	Outputs              []Output          `json:"outputs,omitempty" bson:"outputs,omitempty"`
	Summary              map[string]string `json:"summary,omitempty" bson:"summary,omitempty"`
	Error                string            `json:"error,omitempty" bson:"error,omitempty"`
	CleanupError         string            `json:"cleanupError,omitempty" bson:"cleanupError,omitempty"`
	StartedAt            time.Time         `json:"startedAt" bson:"startedAt"`
	FinishedAt           time.Time         `json:"finishedAt,omitempty" bson:"finishedAt,omitempty"`
}

// NewRecord starts a record with a fresh run id.
func NewRecord(kind Kind, jobID, poolID string) *Record {
	return &Record{
		RunID:     uuid.New(),
		Kind:      kind,
		JobID:     jobID,
		PoolID:    poolID,
		StartedAt: time.Now().UTC(),
	}
}

// Transition appends a state change stamped with the current time.
func (r *Record) Transition(state string) {
	r.States = append(r.States, StateChange{State: state, At: time.Now().UTC()})
}

// LastState is empty before the first transition.
func (r *Record) LastState() string {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1].State
}

type Store interface {
	Save(ctx context.Context, r *Record) error
	Close(ctx context.Context) error
}

// Noop discards records.
type Noop struct{}

func (Noop) Save(context.Context, *Record) error { return nil }
func (Noop) Close(context.Context) error         { return nil }
