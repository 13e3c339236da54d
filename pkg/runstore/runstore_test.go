package runstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)

	r := NewRecord(KindEncrypt, "dst_a_pgp", "Pooldst_a_pgp")
	r.DestinationContainer = "dst"
	r.DestinationBlob = "a.pgp"
	r.Transition("submitted")
	r.Transition("completed")
	r.Outputs = []Output{{TaskID: "task-encrypt", Stdout: "status: encrypted"}}
	require.NoError(t, s.Save(context.Background(), r))

	_, err := os.Stat(filepath.Join(dir, "dst_a_pgp", r.RunID.String()+".json"))
	require.NoError(t, err)

	got, err := s.Load("dst_a_pgp", r.RunID.String())
	require.NoError(t, err)
	assert.Equal(t, r.RunID, got.RunID)
	assert.Equal(t, "completed", got.LastState())
	assert.Equal(t, "status: encrypted", got.Outputs[0].Stdout)
}

func TestFileStoreRejectsEmptyJobID(t *testing.T) {
	s := NewFileStore(t.TempDir())
	assert.ErrorIs(t, s.Save(context.Background(), NewRecord(KindCleanup, "", "")), os.ErrInvalid)
}

func TestFileWriterOverwrite(t *testing.T) {
	name := filepath.Join(t.TempDir(), "nested", "run.json")
	require.NoError(t, FileWriter{}.Write(name, []byte("one")))
	assert.ErrorIs(t, FileWriter{}.Write(name, []byte("two")), os.ErrExist)
	require.NoError(t, FileWriter{Overwrite: true}.Write(name, []byte("three")))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "three", string(data))
	assert.ErrorIs(t, FileWriter{}.Write("", nil), os.ErrInvalid)
}

func TestToDocumentKeysByRunID(t *testing.T) {
	r := NewRecord(KindEncrypt, "job", "Pooljob")
	r.Summary = map[string]string{"status": "encrypted"}
	doc, err := toDocument(r)
	require.NoError(t, err)
	assert.Equal(t, r.RunID.String(), doc["_id"])
	assert.Equal(t, "job", doc["jobId"])
	_, hasRunID := doc["runId"]
	assert.False(t, hasRunID)
}

func TestLastStateEmpty(t *testing.T) {
	assert.Equal(t, "", (&Record{}).LastState())
	assert.NoError(t, Noop{}.Save(context.Background(), &Record{}))
}
