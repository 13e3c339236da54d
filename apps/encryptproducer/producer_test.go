package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/blobcrypt/pkg/lg"
	"github.com/andrej220/blobcrypt/pkg/serverutil"
	dm "github.com/andrej220/blobcrypt/pkg/shared-models"
)

type fakeQueue struct {
	keys [][]byte
	msgs []dm.Request
	err  error
}

func (f *fakeQueue) Write(_ context.Context, key []byte, value dm.Request) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, value)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

var fixedUID = uuid.MustParse("6f1c1c55-4e55-4a3a-9b0e-2f6d1f1b7a10")

func newTestServer(q *fakeQueue) http.Handler {
	h := newHandler(q, defaultProducerConfig(), lg.Discard)
	h.newUID = func() uuid.UUID { return fixedUID }
	return serverutil.NewValidationHandler[dm.Request](h)
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/encrypt", strings.NewReader(body)))
	return rec
}

func TestEncryptRequestDerivesDestination(t *testing.T) {
	q := &fakeQueue{}
	rec := post(newTestServer(q), `{"kind":"encrypt","sourceContainer":"data","sourceBlob":"in/report.csv"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, q.msgs, 1)
	msg := q.msgs[0]
	assert.Equal(t, "datapgp", msg.DestinationContainer)
	assert.Equal(t, "report.pgp", msg.DestinationBlob)
	assert.Equal(t, fixedUID, msg.ExecutionUID)
	assert.Equal(t, fixedUID[:], q.keys[0])

	var resp dm.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "datapgp_report_pgp", resp.JobID)
	assert.Equal(t, fixedUID, resp.ExecutionUID)
}

func TestEncryptRequestKeepsExplicitDestination(t *testing.T) {
	q := &fakeQueue{}
	rec := post(newTestServer(q), `{"kind":"encrypt","sourceContainer":"src","sourceBlob":"a.txt","destinationContainer":"dst","destinationBlob":"a.pgp"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "dst", q.msgs[0].DestinationContainer)
	assert.Equal(t, "a.pgp", q.msgs[0].DestinationBlob)
}

func TestCleanupRequestNeedsDestinationBlob(t *testing.T) {
	q := &fakeQueue{}
	rec := post(newTestServer(q), `{"kind":"cleanup"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, q.msgs)

	rec = post(newTestServer(q), `{"kind":"cleanup","destinationBlob":"a.pgp"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "datapgp", q.msgs[0].DestinationContainer)
}

func TestUnknownKindRejected(t *testing.T) {
	rec := post(newTestServer(&fakeQueue{}), `{"kind":"decrypt","sourceContainer":"s","sourceBlob":"b"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueFailure(t *testing.T) {
	rec := post(newTestServer(&fakeQueue{err: errors.New("broker down")}), `{"kind":"encrypt","sourceContainer":"s","sourceBlob":"b"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
