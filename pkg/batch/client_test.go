package batch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("batch-account-key"))

// fakeBatch records requests and verifies every signature.
type fakeBatch struct {
	t      *testing.T
	signer *SharedKeyPolicy

	mu       sync.Mutex
	requests []string
	bodies   [][]byte
}

func newFakeBatch(t *testing.T) *fakeBatch {
	signer, err := NewSharedKeyPolicy("acct", testKey)
	require.NoError(t, err)
	return &fakeBatch{t: t, signer: signer}
}

func (f *fakeBatch) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	body, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)
	f.bodies = append(f.bodies, body)
}

func (f *fakeBatch) verify(w http.ResponseWriter, r *http.Request) bool {
	want := "SharedKey acct:" + f.signer.sign(stringToSign("acct", r))
	if r.Header.Get("Authorization") != want {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"code":"AuthenticationFailed"}`)
		return false
	}
	if r.URL.Query().Get("api-version") == "" && r.URL.Query().Get("page") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	return true
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts := &ClientOptions{}
	opts.Retry.MaxRetries = -1
	opts.Transport = srv.Client()
	c, err := NewClient(Credentials{ServiceURL: srv.URL, AccountName: "acct", AccountKey: testKey}, opts)
	require.NoError(t, err)
	return c
}

func TestAddJobAndTask(t *testing.T) {
	fb := newFakeBatch(t)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !fb.verify(w, r) {
			return
		}
		fb.record(r)
		assert.Equal(t, contentTypeOData, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))

	job := JobAddParameter{
		ID: "dst_a_pgp",
		PoolInfo: PoolInformation{AutoPoolSpecification: &AutoPoolSpecification{
			AutoPoolIDPrefix:   "EncryptBlobPgp",
			PoolLifetimeOption: PoolLifetimeJob,
			Pool:               &PoolSpecification{VMSize: "Standard_A2_v2", TargetDedicatedNodes: 1},
		}},
	}
	require.NoError(t, c.AddJob(context.Background(), job))
	require.NoError(t, c.AddTask(context.Background(), "dst_a_pgp", TaskAddParameter{ID: "task-encrypt", CommandLine: "run"}))

	require.Equal(t, []string{"POST /jobs", "POST /jobs/dst_a_pgp/tasks"}, fb.requests)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(fb.bodies[0], &sent))
	auto := sent["poolInfo"].(map[string]any)["autoPoolSpecification"].(map[string]any)
	assert.Equal(t, "job", auto["poolLifetimeOption"])
	assert.Equal(t, false, auto["keepAlive"])
}

func TestAddJobRejected(t *testing.T) {
	fb := newFakeBatch(t)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !fb.verify(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"code":"JobExists","message":{"lang":"en-US","value":"The specified job already exists."}}`)
	}))

	err := c.AddJob(context.Background(), JobAddParameter{ID: "dst_a_pgp"})
	require.Error(t, err)
	var respErr *azcore.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusConflict, respErr.StatusCode)
}

func TestListTasksFollowsNextLink(t *testing.T) {
	fb := newFakeBatch(t)
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/job1/tasks", func(w http.ResponseWriter, r *http.Request) {
		if !fb.verify(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"t2","state":"running"}]}`)
			return
		}
		fmt.Fprintf(w, `{"value":[{"id":"t1","state":"completed"}],"odata.nextLink":"%s/jobs/job1/tasks?api-version=%s&page=2"}`,
			srvURL, DefaultAPIVersion)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	opts := &ClientOptions{}
	opts.Retry.MaxRetries = -1
	c, err := NewClient(Credentials{ServiceURL: srv.URL, AccountName: "acct", AccountKey: testKey}, opts)
	require.NoError(t, err)

	tasks, err := c.ListTasks(context.Background(), "job1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.True(t, tasks[0].Completed())
	assert.Equal(t, TaskStateRunning, tasks[1].State)
}

func TestGetTaskAndFile(t *testing.T) {
	fb := newFakeBatch(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/job1/tasks/task-encrypt", func(w http.ResponseWriter, r *http.Request) {
		if !fb.verify(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"task-encrypt","state":"completed","executionInfo":{"exitCode":1,"result":"failure","retryCount":0}}`)
	})
	mux.HandleFunc("/jobs/job1/tasks/task-encrypt/files/stdout.txt", func(w http.ResponseWriter, r *http.Request) {
		if !fb.verify(w, r) {
			return
		}
		fmt.Fprint(w, "status: encrypted\n")
	})
	c := newTestClient(t, mux)

	task, err := c.GetTask(context.Background(), "job1", "task-encrypt")
	require.NoError(t, err)
	assert.True(t, task.Failed())
	require.NotNil(t, task.ExecutionInfo.ExitCode)
	assert.EqualValues(t, 1, *task.ExecutionInfo.ExitCode)

	out, err := c.GetTaskFile(context.Background(), "job1", "task-encrypt", StandardOutFileName)
	require.NoError(t, err)
	assert.Equal(t, "status: encrypted\n", out)
}

func TestDeletePoolAndJob(t *testing.T) {
	fb := newFakeBatch(t)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !fb.verify(w, r) {
			return
		}
		fb.record(r)
		if r.URL.Path == "/pools/Pooldst_a_pgp" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":"PoolNotFound"}`)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	err := c.DeletePool(context.Background(), "Pooldst_a_pgp")
	var respErr *azcore.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusNotFound, respErr.StatusCode)

	require.NoError(t, c.DeleteJob(context.Background(), "dst_a_pgp"))
	assert.Equal(t, []string{"DELETE /pools/Pooldst_a_pgp", "DELETE /jobs/dst_a_pgp"}, fb.requests)
}

func TestEmptyIdentifiers(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	assert.ErrorIs(t, c.AddJob(context.Background(), JobAddParameter{}), ErrEmptyID)
	assert.ErrorIs(t, c.DeleteJob(context.Background(), ""), ErrEmptyID)
	_, err := c.GetTaskFile(context.Background(), "job", "", StandardErrorFileName)
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestNewClientValidatesCredentials(t *testing.T) {
	_, err := NewClient(Credentials{ServiceURL: "https://x"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Credentials{ServiceURL: "https://x", AccountName: "a", AccountKey: "%%%"}, nil)
	assert.Error(t, err)
}
