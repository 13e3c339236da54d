package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/blobcrypt/pkg/batch/batchtest"
	"github.com/andrej220/blobcrypt/pkg/kafkautil"
	"github.com/andrej220/blobcrypt/pkg/runstore"
	dm "github.com/andrej220/blobcrypt/pkg/shared-models"
)

type memRuns struct {
	mu   sync.Mutex
	recs []runstore.Record
}

func (m *memRuns) Save(_ context.Context, r *runstore.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *r)
	return nil
}

func (m *memRuns) Close(context.Context) error { return nil }

func (m *memRuns) all() []runstore.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]runstore.Record(nil), m.recs...)
}

type queue struct {
	items chan any
}

func (q *queue) Read(ctx context.Context) (dm.Request, error) {
	select {
	case <-ctx.Done():
		return dm.Request{}, ctx.Err()
	case it := <-q.items:
		if err, ok := it.(error); ok {
			return dm.Request{}, err
		}
		return it.(dm.Request), nil
	}
}

func (q *queue) Close() error { return nil }

func newDispatcher(t *testing.T) (*Dispatcher, *batchtest.Fake, *memRuns) {
	t.Helper()
	fake := batchtest.New()
	fake.CompleteOnAdd = true
	runs := &memRuns{}
	cfg := defaultDispatcherConfig()
	cfg.PollInterval = 10 * time.Millisecond
	d := NewDispatcher(fake, runs, cfg)
	t.Cleanup(d.Stop)
	return d, fake, runs
}

func TestHandleEncryptRunsJobAndCleansUp(t *testing.T) {
	d, fake, runs := newDispatcher(t)
	fake.SetFile("datapgp_a_pgp", "task-encrypt", "stdout.txt", "status: done")
	fake.SetFile("datapgp_a_pgp", "task-encrypt", "stderr.txt", "")
	uid := uuid.New()

	err := d.Handle(context.Background(), dm.Request{
		Kind: dm.KindEncrypt, SourceContainer: "data", SourceBlob: "a.txt", Wait: true, ExecutionUID: uid,
	})
	require.NoError(t, err)

	_, exists := fake.Job("datapgp_a_pgp")
	assert.False(t, exists)
	recs := runs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, uid.String(), recs[0].RequestID)
	assert.Equal(t, map[string]string{"status": "done"}, recs[0].Summary)
}

func TestHandleEncryptWithoutWaitLeavesJobForCleanup(t *testing.T) {
	d, fake, runs := newDispatcher(t)
	fake.CompleteOnAdd = false

	err := d.Handle(context.Background(), dm.Request{Kind: dm.KindEncrypt, SourceContainer: "data", SourceBlob: "a.txt"})
	require.NoError(t, err)

	_, exists := fake.Job("datapgp_a_pgp")
	assert.True(t, exists)
	assert.Zero(t, fake.Count("DeleteJob"))
	assert.Zero(t, fake.Count("DeletePool"))
	assert.Zero(t, fake.Count("ListTasks"))
	recs := runs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "submitted", recs[0].LastState())

	require.NoError(t, d.Handle(context.Background(), dm.Request{Kind: dm.KindCleanup, DestinationBlob: "a.pgp"}))
	_, exists = fake.Job("datapgp_a_pgp")
	assert.False(t, exists)
}

func TestHandleCleanupTreatsMissingAsDeleted(t *testing.T) {
	d, fake, runs := newDispatcher(t)
	err := d.Handle(context.Background(), dm.Request{Kind: dm.KindCleanup, DestinationBlob: "a.pgp"})
	require.NoError(t, err)

	assert.Equal(t, []string{"DeletePool Pooldatapgp_a_pgp", "DeleteJob datapgp_a_pgp"}, fake.Calls())
	recs := runs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, runstore.KindCleanup, recs[0].Kind)
	assert.Equal(t, "cleaned_up", recs[0].LastState())
}

func TestHandleCleanupReportsServiceErrors(t *testing.T) {
	d, fake, runs := newDispatcher(t)
	fake.Fail("DeleteJob", batchtest.Status(500))

	err := d.Handle(context.Background(), dm.Request{Kind: dm.KindCleanup, DestinationContainer: "dst", DestinationBlob: "a.pgp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete job dst_a_pgp")
	assert.Equal(t, "cleanup_failed", runs.all()[0].LastState())
}

func TestHandleUnknownKind(t *testing.T) {
	d, _, _ := newDispatcher(t)
	assert.Error(t, d.Handle(context.Background(), dm.Request{Kind: "decrypt"}))
}

func TestConsumeDispatchesUntilCancelled(t *testing.T) {
	d, fake, runs := newDispatcher(t)
	q := &queue{items: make(chan any, 3)}
	q.items <- &kafkautil.DecodeError{Offset: 1, Err: errors.New("bad json")}
	q.items <- dm.Request{Kind: dm.KindCleanup, DestinationBlob: "x.pgp"}
	q.items <- dm.Request{Kind: dm.KindCleanup, DestinationBlob: "y.pgp"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Consume(ctx, q) }()

	require.Eventually(t, func() bool { return len(runs.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 2, fake.Count("DeleteJob"))
}

func TestConsumeStopsOnReadError(t *testing.T) {
	d, _, _ := newDispatcher(t)
	q := &queue{items: make(chan any, 1)}
	q.items <- errors.New("broker unreachable")
	err := d.Consume(context.Background(), q)
	assert.ErrorContains(t, err, "broker unreachable")
}

func TestReloadSwapsSettings(t *testing.T) {
	d, _, _ := newDispatcher(t)
	next := defaultDispatcherConfig()
	next.Job.VMSize = "Standard_D4s_v3"
	d.Reload(next)
	assert.Equal(t, "Standard_D4s_v3", d.batch.Load().Job.VMSize)
}
