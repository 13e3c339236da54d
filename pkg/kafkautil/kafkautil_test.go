package kafkautil

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTopic struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (m *memTopic) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(m.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	msg := m.msgs[0]
	m.msgs = m.msgs[1:]
	return msg, nil
}

func (m *memTopic) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *memTopic) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for i := range msgs {
		msgs[i].Offset = int64(len(m.msgs))
		m.msgs = append(m.msgs, msgs[i])
	}
	return nil
}

func (m *memTopic) Close() error {
	m.closed = true
	return nil
}

type request struct {
	Kind string `json:"kind"`
	Blob string `json:"blob"`
}

func TestProduceThenConsume(t *testing.T) {
	topic := &memTopic{}
	p := &Producer[request]{writer: topic}
	c := &Consumer[request]{reader: topic}
	ctx := context.Background()

	require.NoError(t, p.Write(ctx, []byte("k1"), request{Kind: "encrypt", Blob: "a.txt"}))
	require.NoError(t, p.Write(ctx, []byte("k2"), request{Kind: "cleanup", Blob: "a.txt.pgp"}))
	assert.Equal(t, []byte("k1"), topic.msgs[0].Key)

	first, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, request{Kind: "encrypt", Blob: "a.txt"}, first)
	second, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cleanup", second.Kind)
	assert.Equal(t, []int64{0, 1}, topic.committed)

	_, err = c.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, c.Close())
	assert.True(t, topic.closed)
}

func TestConsumerCommitsPoisonMessage(t *testing.T) {
	topic := &memTopic{msgs: []kafka.Message{{Offset: 7, Value: []byte("{not json")}}}
	c := &Consumer[request]{reader: topic}

	_, err := c.Read(context.Background())
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.EqualValues(t, 7, decErr.Offset)
	assert.Equal(t, []int64{7}, topic.committed)
}
