package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment variables understood by the services.
const (
	EnvBatchServiceURL   = "BATCH_SERVICE_URL"
	EnvBatchAccountName  = "BATCH_ACCOUNT_NAME"
	EnvBatchAccountKey   = "BATCH_ACCOUNT_KEY"
	EnvStorageConnection = "STORAGE_CONNECTION_STRING"
	EnvStorageAccountURL = "STORAGE_ACCOUNT_URL"
	EnvPGPRecipient      = "PGP_RECIPIENT"
	EnvKeyVaultName      = "KEYVAULT_NAME"
	EnvTenantID          = "AZURE_TENANT_ID"
	EnvClientID          = "AZURE_CLIENT_ID"
	EnvClientSecret      = "AZURE_CLIENT_SECRET"
	EnvMongoURI          = "MONGO_URI"
	EnvConfigDatabase    = "CONFIG_DATABASE"
	EnvConfigCollection  = "CONFIG_COLLECTION"
	EnvKafkaBrokers      = "KAFKA_BROKERS"
	EnvJobTimeout        = "BATCH_JOB_TIMEOUT"
)

// Override copies one environment variable into a config field when set.
type Override func(lookup func(string) (string, bool))

func String(key string, dst *string) Override {
	return func(lookup func(string) (string, bool)) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
}

// List splits a comma separated variable.
func List(key string, dst *[]string) Override {
	return func(lookup func(string) (string, bool)) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}

func Duration(key string, dst *time.Duration) Override {
	return func(lookup func(string) (string, bool)) {
		if v, ok := lookup(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
}

func Int(key string, dst *int) Override {
	return func(lookup func(string) (string, bool)) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
}

func Bool(key string, dst *bool) Override {
	return func(lookup func(string) (string, bool)) {
		if v, ok := lookup(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
}

func Apply(overrides ...Override) {
	ApplyFrom(os.LookupEnv, overrides...)
}

func ApplyFrom(lookup func(string) (string, bool), overrides ...Override) {
	for _, o := range overrides {
		o(lookup)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks `validate` struct tags.
func Validate(v any) error {
	return validate.Struct(v)
}
