package main

import (
	"time"

	"github.com/andrej220/blobcrypt/internal/jobspec"
	"github.com/andrej220/blobcrypt/pkg/config"
)

const serviceName = "encryptproducer"

type ProducerConfig struct {
	Service struct {
		Port     string        `yaml:"port" json:"port" validate:"required"`
		HTTPPath string        `yaml:"httpPath" json:"httpPath" validate:"required,startswith=/"`
		Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	} `yaml:"service" json:"service"`
	Kafka config.Kafka `yaml:"kafka" json:"kafka"`
	// DestinationContainer is used when a request names none.
	DestinationContainer string `yaml:"destinationContainer" json:"destinationContainer"`
}

func defaultProducerConfig() ProducerConfig {
	var c ProducerConfig
	c.Service.Port = "8083"
	c.Service.HTTPPath = "/encrypt"
	c.Service.Timeout = 2 * time.Minute
	c.Kafka.Brokers = []string{"localhost:9092"}
	c.Kafka.Topic = "encrypt-requests"
	c.DestinationContainer = jobspec.DefaultDestinationContainer
	return c
}
