package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	indent = "    "
	prefix = ""
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

// FileWriter creates parent directories as needed. Without Overwrite an
// existing file is left alone and os.ErrExist returned.
type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !errors.Is(err, os.ErrNotExist) && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

// FileStore writes each record to <Dir>/<job id>/<run id>.json.
type FileStore struct {
	Dir        string
	Serializer Serializer
	Writer     Writer
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{
		Dir:        dir,
		Serializer: JSONSerializer{Prefix: prefix, Indent: indent},
		Writer:     FileWriter{Overwrite: true},
	}
}

func (s *FileStore) Path(r *Record) string {
	return filepath.Join(s.Dir, r.JobID, r.RunID.String()+".json")
}

func (s *FileStore) Save(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.JobID == "" {
		return fmt.Errorf("save run %s: %w", r.RunID, os.ErrInvalid)
	}
	data, err := s.Serializer.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", r.RunID, err)
	}
	if err := s.Writer.Write(s.Path(r), data); err != nil {
		return fmt.Errorf("failed to write run %s: %w", r.RunID, err)
	}
	return nil
}

func (s *FileStore) Close(context.Context) error { return nil }

// Load reads a record written by Save.
func (s *FileStore) Load(jobID, runID string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, jobID, runID+".json"))
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &r, nil
}
