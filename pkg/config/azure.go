package config

import (
	"context"
	"fmt"

	"github.com/andrej220/blobcrypt/pkg/batch"
	"github.com/andrej220/blobcrypt/pkg/blobstore"
)

// Azure identifies the service principal and the vault holding secrets.
// ClientSecret is never serialized.
type Azure struct {
	TenantID     string `yaml:"tenantId" json:"tenantId"`
	ClientID     string `yaml:"clientId" json:"clientId"`
	ClientSecret string `yaml:"clientSecret" json:"-"`
	VaultName    string `yaml:"vaultName" json:"vaultName"`
}

func (a *Azure) Overrides() []Override {
	return []Override{
		String(EnvTenantID, &a.TenantID),
		String(EnvClientID, &a.ClientID),
		String(EnvClientSecret, &a.ClientSecret),
		String(EnvKeyVaultName, &a.VaultName),
	}
}

// Batch holds the account credentials. When AccountKey is empty and
// AccountKeySecret names a vault secret, the key is read from the vault.
type Batch struct {
	batch.Credentials `yaml:",inline"`
	AccountKeySecret  string `yaml:"accountKeySecret" json:"accountKeySecret"`
}

func (b *Batch) Overrides() []Override {
	return []Override{
		String(EnvBatchServiceURL, &b.ServiceURL),
		String(EnvBatchAccountName, &b.AccountName),
		String(EnvBatchAccountKey, &b.AccountKey),
	}
}

// SecretGetter reads one secret by name.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// ResolveAccountKey fills AccountKey from the vault when needed, then
// checks the credentials are complete.
func (b *Batch) ResolveAccountKey(ctx context.Context, secrets SecretGetter) error {
	if b.AccountKey == "" && b.AccountKeySecret != "" {
		if secrets == nil {
			return fmt.Errorf("batch account key secret %q configured without a vault", b.AccountKeySecret)
		}
		key, err := secrets.GetSecret(ctx, b.AccountKeySecret)
		if err != nil {
			return fmt.Errorf("batch account key from vault: %w", err)
		}
		b.AccountKey = key
	}
	return b.Credentials.Validate()
}

type Kafka struct {
	Brokers []string `yaml:"brokers" json:"brokers" validate:"required,min=1"`
	Topic   string   `yaml:"topic" json:"topic" validate:"required"`
	GroupID string   `yaml:"groupID" json:"groupID"`
}

func (k *Kafka) Overrides() []Override {
	return []Override{List(EnvKafkaBrokers, &k.Brokers)}
}

// Storage locates the blob account. A connection string wins over AccountURL,
// which authenticates with the Azure credential instead.
type Storage struct {
	ConnectionString string            `yaml:"connectionString" json:"-"`
	AccountURL       string            `yaml:"accountUrl" json:"accountUrl" validate:"omitempty,url"`
	Upload           blobstore.Options `yaml:"upload" json:"upload"`
}

func (s *Storage) Overrides() []Override {
	return []Override{
		String(EnvStorageConnection, &s.ConnectionString),
		String(EnvStorageAccountURL, &s.AccountURL),
	}
}

func (s *Storage) Configured() bool {
	return s.ConnectionString != "" || s.AccountURL != ""
}
