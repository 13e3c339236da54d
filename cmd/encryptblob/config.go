package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/blobcrypt/internal/worker"
	"github.com/andrej220/blobcrypt/pkg/blobstore"
	"github.com/andrej220/blobcrypt/pkg/config"
	"github.com/andrej220/blobcrypt/pkg/keystore"
)

const serviceName = "encryptblob"

type Config struct {
	Storage   config.Storage `yaml:"storage"`
	Azure     config.Azure   `yaml:"azure"`
	Recipient string         `yaml:"recipient" validate:"required"`
	Armored   bool           `yaml:"armored"`
}

func defaultConfig() Config {
	return Config{Recipient: worker.DefaultRecipient}
}

func (c *Config) overrides() []config.Override {
	o := append(c.Storage.Overrides(), c.Azure.Overrides()...)
	return append(o, config.String(config.EnvPGPRecipient, &c.Recipient))
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if err := config.Load(path, &cfg, cfg.overrides()...); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if !cfg.Storage.Configured() {
		return Config{}, fmt.Errorf("storage: set %s or %s", config.EnvStorageConnection, config.EnvStorageAccountURL)
	}
	if cfg.Azure.VaultName == "" {
		return Config{}, fmt.Errorf("azure: set %s", config.EnvKeyVaultName)
	}
	return cfg, nil
}

// dependencies opens the blob account and the key vault described by cfg.
func dependencies(_ context.Context, cfg Config) (blobstore.Store, *keystore.Store, error) {
	cred, err := keystore.Credential(cfg.Azure.TenantID, cfg.Azure.ClientID, cfg.Azure.ClientSecret)
	if err != nil {
		return nil, nil, err
	}
	secrets, err := keystore.NewAzureSecretClient(keystore.VaultURL(cfg.Azure.VaultName), cred, nil)
	if err != nil {
		return nil, nil, err
	}

	var blobs blobstore.Store
	switch {
	case cfg.Storage.ConnectionString != "":
		blobs, err = blobstore.NewFromConnectionString(cfg.Storage.ConnectionString, cfg.Storage.Upload, nil)
	case cfg.Storage.AccountURL != "":
		blobs, err = blobstore.NewWithCredential(cfg.Storage.AccountURL, cred, cfg.Storage.Upload, nil)
	default:
		err = errors.New("no storage account configured")
	}
	if err != nil {
		return nil, nil, err
	}
	return blobs, keystore.New(secrets), nil
}
