// Package bootstrap turns service configuration into the clients the
// orchestrator runs on.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/andrej220/blobcrypt/internal/jobspec"
	"github.com/andrej220/blobcrypt/internal/orchestrator"
	"github.com/andrej220/blobcrypt/pkg/batch"
	"github.com/andrej220/blobcrypt/pkg/config"
	"github.com/andrej220/blobcrypt/pkg/keystore"
	"github.com/andrej220/blobcrypt/pkg/lg"
	"github.com/andrej220/blobcrypt/pkg/resilience"
	"github.com/andrej220/blobcrypt/pkg/runstore"
)

// RunStore selects where run records go. Mongo is validated only when its
// URI is set.
type RunStore struct {
	Dir   string               `yaml:"dir" json:"dir"`
	Mongo runstore.MongoConfig `yaml:"mongo" json:"mongo" validate:"-"`
}

// Batch is the configuration shared by every service that submits jobs.
// MaxRetries is handed to the azcore pipeline; -1 disables pipeline retries
// so that only reads and deletes are retried, by Resilience.
type Batch struct {
	Batch        config.Batch        `yaml:"batch" json:"batch"`
	Azure        config.Azure        `yaml:"azure" json:"azure"`
	Job          jobspec.Settings    `yaml:"job" json:"job"`
	Timeout      time.Duration       `yaml:"timeout" json:"timeout"`
	PollInterval time.Duration       `yaml:"pollInterval" json:"pollInterval"`
	MaxRetries   int32               `yaml:"maxRetries" json:"maxRetries"`
	Resilience   resilience.Settings `yaml:"resilience" json:"resilience"`
	Runs         RunStore            `yaml:"runs" json:"runs"`
}

func DefaultBatch() Batch {
	return Batch{
		Job:          jobspec.DefaultSettings(),
		Timeout:      orchestrator.DefaultTimeout,
		PollInterval: 5 * time.Second,
		MaxRetries:   -1,
		Resilience:   resilience.DefaultSettings(),
	}
}

func (b *Batch) Overrides() []config.Override {
	o := append(b.Batch.Overrides(), b.Azure.Overrides()...)
	return append(o,
		config.String(config.EnvMongoURI, &b.Runs.Mongo.URI),
		config.Duration(config.EnvJobTimeout, &b.Timeout),
	)
}

// SecretClient opens the configured vault, or returns nil when none is set.
func (b *Batch) SecretClient() (*keystore.AzureSecretClient, error) {
	if b.Azure.VaultName == "" {
		return nil, nil
	}
	cred, err := keystore.Credential(b.Azure.TenantID, b.Azure.ClientID, b.Azure.ClientSecret)
	if err != nil {
		return nil, err
	}
	return keystore.NewAzureSecretClient(keystore.VaultURL(b.Azure.VaultName), cred, nil)
}

// Service resolves the account key, builds the REST client and wraps it with
// the retry and circuit breaker policy.
func (b *Batch) Service(ctx context.Context) (batch.Service, error) {
	var secrets config.SecretGetter
	if b.Batch.AccountKey == "" && b.Batch.AccountKeySecret != "" {
		sc, err := b.SecretClient()
		if err != nil {
			return nil, err
		}
		if sc != nil {
			secrets = sc
		}
	}
	if err := b.Batch.ResolveAccountKey(ctx, secrets); err != nil {
		return nil, err
	}

	opts := &batch.ClientOptions{}
	opts.Retry.MaxRetries = b.MaxRetries
	client, err := batch.NewClient(b.Batch.Credentials, opts)
	if err != nil {
		return nil, fmt.Errorf("batch client: %w", err)
	}
	lg.FromContext(ctx).Info("batch client ready",
		lg.String("account", b.Batch.AccountName),
		lg.String("url", b.Batch.ServiceURL))
	return batch.NewResilientService(client, resilience.NewPolicy("batch", b.Resilience)), nil
}

// RunStore opens Mongo when configured, else a directory store, else Noop.
func (b *Batch) RunStore(ctx context.Context) (runstore.Store, error) {
	switch {
	case b.Runs.Mongo.URI != "":
		if err := config.Validate(b.Runs.Mongo); err != nil {
			return nil, fmt.Errorf("run store: %w", err)
		}
		return runstore.NewMongoStore(ctx, b.Runs.Mongo)
	case b.Runs.Dir != "":
		return runstore.NewFileStore(b.Runs.Dir), nil
	default:
		return runstore.Noop{}, nil
	}
}

func (b *Batch) Deps(svc batch.Service, runs runstore.Store, requestID string) orchestrator.Deps {
	return orchestrator.Deps{
		Batch:        svc,
		Settings:     b.Job.WithDefaults(),
		Timeout:      b.Timeout,
		PollInterval: b.PollInterval,
		Runs:         runs,
		RequestID:    requestID,
	}
}
