package datamodels

import (
	"github.com/google/uuid"
)

type Kind string

const (
	KindEncrypt Kind = "encrypt"
	KindCleanup Kind = "cleanup"
)

// Request asks the dispatcher to encrypt a blob through Batch, or to clean up
// after the encrypted blob has been consumed. DestinationBlob may be left
// empty for encrypt requests; it is then derived from SourceBlob. Without Wait
// an encrypt request only submits the job, and a later cleanup request for
// the same destination deletes it.
type Request struct {
	Kind                 Kind      `json:"kind" validate:"required,oneof=encrypt cleanup"`
	SourceContainer      string    `json:"sourceContainer" validate:"required_if=Kind encrypt"`
	SourceBlob           string    `json:"sourceBlob" validate:"required_if=Kind encrypt"`
	DestinationContainer string    `json:"destinationContainer"`
	DestinationBlob      string    `json:"destinationBlob" validate:"required_if=Kind cleanup"`
	Wait                 bool      `json:"wait"`
	ExecutionUID         uuid.UUID `json:"exuid"`
}

type Response struct {
	ExecutionUID uuid.UUID `json:"exuid"`
	JobID        string    `json:"jobId"`
}
