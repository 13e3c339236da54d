package main

import (
	"github.com/andrej220/blobcrypt/internal/bootstrap"
	"github.com/andrej220/blobcrypt/pkg/config"
)

const serviceName = "encryptdispatcher"

type DispatcherConfig struct {
	bootstrap.Batch `yaml:",inline"`
	Kafka           config.Kafka `yaml:"kafka" json:"kafka"`
	Workers         int          `yaml:"workers" json:"workers" validate:"gte=1"`
	// Attempts bounds how often a failed cleanup request is retried.
	// Encryption requests run once.
	Attempts int `yaml:"attempts" json:"attempts" validate:"gte=1"`
}

func defaultDispatcherConfig() DispatcherConfig {
	c := DispatcherConfig{Batch: bootstrap.DefaultBatch(), Workers: 4, Attempts: 3}
	c.Kafka.Brokers = []string{"localhost:9092"}
	c.Kafka.Topic = "encrypt-requests"
	c.Kafka.GroupID = serviceName
	return c
}

func (c *DispatcherConfig) overrides() []config.Override {
	return append(c.Batch.Overrides(), c.Kafka.Overrides()...)
}
