// Package jobspec builds the Batch job and task that run the encryption
// package against one blob, and registers them with the service.
package jobspec

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/andrej220/blobcrypt/pkg/batch"
)

const (
	// PoolPrefix is prepended to the job id to name the pool deleted on cleanup.
	PoolPrefix = "Pool"
	// EncryptedSuffix replaces a source blob's extension in DestinationFor.
	EncryptedSuffix = ".pgp"
	// DefaultDestinationContainer receives blobs encrypted on upload.
	DefaultDestinationContainer = "datapgp"
	// DefaultSourceContainer is watched for uploads to encrypt.
	DefaultSourceContainer = "data"
)

// Params are the four positional arguments handed to the encryption package.
type Params struct {
	SourceContainer      string `json:"sourceContainer" yaml:"sourceContainer" bson:"sourceContainer" validate:"required"`
	SourceBlob           string `json:"sourceBlob" yaml:"sourceBlob" bson:"sourceBlob" validate:"required"`
	DestinationContainer string `json:"destinationContainer" yaml:"destinationContainer" bson:"destinationContainer" validate:"required"`
	DestinationBlob      string `json:"destinationBlob" yaml:"destinationBlob" bson:"destinationBlob" validate:"required"`
}

var validate = validator.New()

func (p Params) Validate() error {
	return validate.Struct(p)
}

// Args returns the parameters in command line order.
func (p Params) Args() []string {
	return []string{p.SourceContainer, p.SourceBlob, p.DestinationContainer, p.DestinationBlob}
}

// JobID derives the job id from the destination: container, an underscore,
// then the blob name with every '.' replaced by '_'.
func JobID(destinationContainer, destinationBlob string) string {
	return destinationContainer + "_" + strings.ReplaceAll(destinationBlob, ".", "_")
}

func PoolID(jobID string) string {
	return PoolPrefix + jobID
}

// DestinationFor names the encrypted blob for a source blob: its base name
// with the extension replaced by EncryptedSuffix.
func DestinationFor(sourceBlob string) string {
	base := path.Base(sourceBlob)
	return strings.TrimSuffix(base, path.Ext(base)) + EncryptedSuffix
}

type OSFamily string

const (
	Windows OSFamily = "windows"
	Linux   OSFamily = "linux"
)

// Settings describe the pool and application package. Zero fields take the
// value from DefaultSettings.
type Settings struct {
	ApplicationID      string               `yaml:"applicationId" json:"applicationId"`
	ApplicationVersion string               `yaml:"applicationVersion" json:"applicationVersion"`
	Executable         string               `yaml:"executable" json:"executable"`
	TaskID             string               `yaml:"taskId" json:"taskId"`
	OSFamily           OSFamily             `yaml:"osFamily" json:"osFamily" validate:"omitempty,oneof=windows linux"`
	VMSize             string               `yaml:"vmSize" json:"vmSize"`
	DedicatedNodes     int32                `yaml:"dedicatedNodes" json:"dedicatedNodes" validate:"gte=0"`
	AutoPoolPrefix     string               `yaml:"autoPoolPrefix" json:"autoPoolPrefix"`
	NodeAgentSKU       string               `yaml:"nodeAgentSku" json:"nodeAgentSku"`
	Image              batch.ImageReference `yaml:"image" json:"image"`
}

func DefaultSettings() Settings {
	return Settings{
		ApplicationID:      "EncryptBlobPgp",
		ApplicationVersion: "1.0",
		Executable:         "EncryptBlobPgp.exe",
		TaskID:             "task-encrypt",
		OSFamily:           Windows,
		VMSize:             "Standard_A2_v2",
		DedicatedNodes:     1,
		AutoPoolPrefix:     "EncryptBlobPgp",
		NodeAgentSKU:       "batch.node.windows amd64",
		Image: batch.ImageReference{
			Publisher: "MicrosoftWindowsServer",
			Offer:     "WindowsServer",
			SKU:       "2019-Datacenter",
			Version:   "latest",
		},
	}
}

func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.ApplicationID == "" {
		s.ApplicationID = d.ApplicationID
	}
	if s.ApplicationVersion == "" {
		s.ApplicationVersion = d.ApplicationVersion
	}
	if s.Executable == "" {
		s.Executable = d.Executable
	}
	if s.TaskID == "" {
		s.TaskID = d.TaskID
	}
	if s.OSFamily == "" {
		s.OSFamily = d.OSFamily
	}
	if s.VMSize == "" {
		s.VMSize = d.VMSize
	}
	if s.DedicatedNodes == 0 {
		s.DedicatedNodes = d.DedicatedNodes
	}
	if s.AutoPoolPrefix == "" {
		s.AutoPoolPrefix = d.AutoPoolPrefix
	}
	if s.NodeAgentSKU == "" {
		s.NodeAgentSKU = d.NodeAgentSKU
	}
	if s.Image == (batch.ImageReference{}) {
		s.Image = d.Image
	}
	return s
}

// PackageDir is the environment reference under which the node exposes the
// installed application package.
//
//	windows: %AZ_BATCH_APP_PACKAGE_ENCRYPTBLOBPGP#1.0%
//	linux:   $AZ_BATCH_APP_PACKAGE_EncryptBlobPgp_1_0
func (s Settings) PackageDir() string {
	if s.OSFamily == Linux {
		return "$AZ_BATCH_APP_PACKAGE_" + envSafe(s.ApplicationID) + "_" + envSafe(s.ApplicationVersion)
	}
	return fmt.Sprintf("%%AZ_BATCH_APP_PACKAGE_%s#%s%%", strings.ToUpper(s.ApplicationID), s.ApplicationVersion)
}

func envSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, s)
}

// CommandLine runs the package executable with the four parameters appended
// in order.
func CommandLine(s Settings, p Params) string {
	s = s.WithDefaults()
	args := strings.Join(p.Args(), " ")
	if s.OSFamily == Linux {
		return fmt.Sprintf("/bin/sh -c '%s/%s %s'", s.PackageDir(), s.Executable, args)
	}
	return fmt.Sprintf(`cmd /c %s\%s %s`, s.PackageDir(), s.Executable, args)
}

// BuildJob returns a job bound to an auto pool that lives as long as the job.
func BuildJob(jobID string, s Settings) batch.JobAddParameter {
	s = s.WithDefaults()
	return batch.JobAddParameter{
		ID: jobID,
		PoolInfo: batch.PoolInformation{
			AutoPoolSpecification: &batch.AutoPoolSpecification{
				AutoPoolIDPrefix:   s.AutoPoolPrefix,
				PoolLifetimeOption: batch.PoolLifetimeJob,
				KeepAlive:          false,
				Pool: &batch.PoolSpecification{
					VMSize:               s.VMSize,
					TargetDedicatedNodes: s.DedicatedNodes,
					VirtualMachineConfiguration: &batch.VirtualMachineConfiguration{
						ImageReference: s.Image,
						NodeAgentSKUID: s.NodeAgentSKU,
					},
				},
			},
		},
	}
}

func BuildTask(s Settings, p Params) batch.TaskAddParameter {
	s = s.WithDefaults()
	return batch.TaskAddParameter{
		ID:          s.TaskID,
		CommandLine: CommandLine(s, p),
		ApplicationPackageReferences: []batch.ApplicationPackageReference{
			{ApplicationID: s.ApplicationID, Version: s.ApplicationVersion},
		},
	}
}

// SubmissionError reports a job or task the service refused to register.
// Err is the service error, unchanged.
type SubmissionError struct {
	Op    string
	JobID string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Submit registers one job and adds its single task. A refused job or task
// is returned as *SubmissionError; nothing is retried or rolled back.
func Submit(ctx context.Context, svc batch.Service, jobID string, p Params, s Settings) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("job %s parameters: %w", jobID, err)
	}
	if err := svc.AddJob(ctx, BuildJob(jobID, s)); err != nil {
		return &SubmissionError{Op: "job", JobID: jobID, Err: err}
	}
	if err := svc.AddTask(ctx, jobID, BuildTask(s, p)); err != nil {
		return &SubmissionError{Op: "task", JobID: jobID, Err: err}
	}
	return nil
}
