package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Memory is an in-process Store, used by tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{blobs: map[string][]byte{}}
}

func (m *Memory) Put(container, blob string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[container+"/"+blob] = append([]byte(nil), data...)
}

func (m *Memory) Get(container, blob string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[container+"/"+blob]
	return b, ok
}

func (m *Memory) Open(_ context.Context, container, blob string) (io.ReadCloser, error) {
	b, ok := m.Get(container, blob)
	if !ok {
		return nil, fmt.Errorf("download %s/%s: %w", container, blob, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *Memory) Upload(ctx context.Context, container, blob string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", container, blob, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Put(container, blob, data)
	return nil
}

func (m *Memory) Delete(_ context.Context, container, blob string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := container + "/" + blob
	if _, ok := m.blobs[key]; !ok {
		return fmt.Errorf("delete %s/%s: %w", container, blob, os.ErrNotExist)
	}
	delete(m.blobs, key)
	return nil
}
