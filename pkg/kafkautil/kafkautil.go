// Package kafkautil moves JSON encoded values through Kafka topics.
package kafkautil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads values of type T. A message is committed once decoded or
// once it is known to be undecodable, so a poison message never blocks the
// partition.
type Consumer[T any] struct {
	reader messageReader
}

func NewConsumer[T any](cfg Config) *Consumer[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return &Consumer[T]{reader: r}
}

// DecodeError is returned for a message whose value is not a valid T.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (c *Consumer[T]) Read(ctx context.Context) (T, error) {
	var zero T
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, err
	}
	var payload T
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		if cerr := c.reader.CommitMessages(ctx, msg); cerr != nil {
			return zero, cerr
		}
		return zero, &DecodeError{Offset: msg.Offset, Err: err}
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return zero, err
	}
	return payload, nil
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}

// Producer writes values of type T, keyed by the caller.
type Producer[T any] struct {
	writer messageWriter
}

func NewProducer[T any](cfg Config) *Producer[T] {
	return &Producer[T]{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
}

func (p *Producer[T]) Write(ctx context.Context, key []byte, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: data, Time: time.Now()})
}

func (p *Producer[T]) Close() error {
	return p.writer.Close()
}
