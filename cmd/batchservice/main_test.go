package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andrej220/blobcrypt/pkg/batch/batchtest"
)

var args = []string{"-log-format", "console", "src", "a.txt", "dst", "a.pgp"}

func TestRunWrongArgCount(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"src", "a.txt"}, &out, &errOut, batchtest.New())
	assert.Equal(t, 0, code)
	assert.Equal(t, usage+"\n", out.String())
}

func TestRunPrintsTaskOutput(t *testing.T) {
	fake := batchtest.New()
	fake.CompleteOnAdd = true
	fake.AddPool("Pooldst_a_pgp")
	fake.SetFile("dst_a_pgp", "task-encrypt", "stdout.txt", "status: done")
	fake.SetFile("dst_a_pgp", "task-encrypt", "stderr.txt", "")

	var out, errOut bytes.Buffer
	code := run(context.Background(), args, &out, &errOut, fake)
	assert.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "Task: task-encrypt")
	assert.Contains(t, out.String(), "status: done")
	assert.Equal(t, 1, fake.Count("DeletePool"))
	assert.Equal(t, 1, fake.Count("DeleteJob"))
}

func TestRunSubmissionFailurePrintsErrorsAndCleansUp(t *testing.T) {
	fake := batchtest.New()
	fake.Fail("AddJob", batchtest.Status(403))

	var out, errOut bytes.Buffer
	code := run(context.Background(), args, &out, &errOut, fake)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "Error:")
	assert.Equal(t, 1, fake.Count("DeletePool"))
	assert.Equal(t, 1, fake.Count("DeleteJob"))
}
