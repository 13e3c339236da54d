package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testService struct {
	Batch   Batch         `yaml:"batch"`
	Azure   Azure         `yaml:"azure"`
	Kafka   Kafka         `yaml:"kafka"`
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers" validate:"gte=1"`
}

const sample = `
batch:
  serviceUrl: https://acct.westeurope.batch.azure.com
  accountName: acct
  accountKeySecret: batch-account-key
azure:
  vaultName: myvault
kafka:
  brokers: ["localhost:9092"]
  topic: encrypt-requests
timeout: 10m
workers: 2
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesEnvironment(t *testing.T) {
	path := writeFile(t, sample)
	t.Setenv(EnvKafkaBrokers, "k1:9092, k2:9092")
	t.Setenv(EnvBatchAccountKey, "c2VjcmV0")

	var cfg testService
	require.NoError(t, Load(path, &cfg, append(cfg.Batch.Overrides(), cfg.Kafka.Overrides()...)...))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "c2VjcmV0", cfg.Batch.AccountKey)
	assert.Equal(t, "acct", cfg.Batch.AccountName)
	assert.Equal(t, "myvault", cfg.Azure.VaultName)
	assert.Equal(t, 10*time.Minute, cfg.Timeout)
}

func TestLoadValidates(t *testing.T) {
	path := writeFile(t, "workers: 0\n")
	var cfg testService
	assert.Error(t, Load(path, &cfg))
}

func TestApplyFromIgnoresMalformed(t *testing.T) {
	d := time.Second
	n := 3
	env := map[string]string{"D": "soon", "N": "x"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	ApplyFrom(lookup, Duration("D", &d), Int("N", &n))
	assert.Equal(t, time.Second, d)
	assert.Equal(t, 3, n)
}

type vault map[string]string

func (v vault) GetSecret(_ context.Context, name string) (string, error) {
	s, ok := v[name]
	if !ok {
		return "", errors.New("secret not found")
	}
	return s, nil
}

func TestResolveAccountKey(t *testing.T) {
	b := Batch{AccountKeySecret: "batch-account-key"}
	b.ServiceURL = "https://acct.batch.azure.com"
	b.AccountName = "acct"

	require.NoError(t, b.ResolveAccountKey(context.Background(), vault{"batch-account-key": "a2V5"}))
	assert.Equal(t, "a2V5", b.AccountKey)

	missing := Batch{AccountKeySecret: "other"}
	assert.Error(t, missing.ResolveAccountKey(context.Background(), vault{}))
	assert.Error(t, missing.ResolveAccountKey(context.Background(), nil))
}

func TestNewStoreRejectsWrongConfig(t *testing.T) {
	_, err := NewStore(StoreType(42), nil)
	assert.ErrorIs(t, err, ErrInvalidStoreType)
	_, err = NewStore(FileStore, &MongoConfig{})
	assert.Error(t, err)

	s, err := NewStore(FileStore, &FileConfig{Path: writeFile(t, sample)})
	require.NoError(t, err)
	var cfg testService
	require.NoError(t, s.Load(&cfg))
	assert.Equal(t, "encrypt-requests", cfg.Kafka.Topic)
}

func TestSourceFromSelectsStore(t *testing.T) {
	env := func(m map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := m[k]
			return v, ok
		}
	}

	st, cfg := SourceFrom(env(nil), "/etc/app.yaml", "encryptdispatcher")
	assert.Equal(t, FileStore, st)
	assert.Equal(t, &FileConfig{Path: "/etc/app.yaml"}, cfg)

	// a run store URI alone keeps config in the file
	st, _ = SourceFrom(env(map[string]string{EnvMongoURI: "mongodb://db:27017"}), "/etc/app.yaml", "encryptdispatcher")
	assert.Equal(t, FileStore, st)

	st, cfg = SourceFrom(env(map[string]string{
		EnvMongoURI:         "mongodb://db:27017",
		EnvConfigCollection: "configs",
	}), "", "encryptdispatcher")
	assert.Equal(t, MongoStore, st)
	assert.Equal(t, &MongoConfig{
		URI: "mongodb://db:27017", DBName: DefaultConfigDatabase, CollName: "configs", ID: "encryptdispatcher",
	}, cfg)

	_, cfg = SourceFrom(env(map[string]string{
		EnvMongoURI:         "mongodb://db:27017",
		EnvConfigCollection: "configs",
		EnvConfigDatabase:   "ops",
	}), "", "batchservice")
	assert.Equal(t, "ops", cfg.(*MongoConfig).DBName)
	assert.Equal(t, "batchservice", cfg.(*MongoConfig).ID)
}

func TestOpenWithoutSource(t *testing.T) {
	t.Setenv(EnvConfigCollection, "")
	store, err := Open("", "batchservice")
	require.NoError(t, err)
	assert.Nil(t, store)

	path := writeFile(t, sample)
	store, err = Open(path, "batchservice")
	require.NoError(t, err)
	defer store.Close()

	var cfg testService
	require.NoError(t, LoadFrom(store, &cfg))
	assert.Equal(t, 2, cfg.Workers)
}
