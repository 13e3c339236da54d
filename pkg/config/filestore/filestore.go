package filestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/andrej220/blobcrypt/pkg/config/configstore"
	"github.com/andrej220/blobcrypt/pkg/lg"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

// FileStore keeps configuration as YAML in a single file.
type FileStore struct {
	Path string
	Log  lg.Logger
}

func New(path string) *FileStore {
	return &FileStore{Path: path, Log: lg.Discard}
}

func (f *FileStore) Load(out any) error {
	if out == nil {
		return fmt.Errorf("Load: output parameter must not be nil")
	}
	bytes, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("Load: failed to read file %s: %w", f.Path, err)
	}
	if len(bytes) == 0 {
		return fmt.Errorf("Load: config file %s is empty", f.Path)
	}
	if err := yaml.Unmarshal(bytes, out); err != nil {
		return fmt.Errorf("Load: failed to parse YAML in %s: %w", f.Path, err)
	}
	return nil
}

// Save writes through a temp file and renames it over Path. The file is
// readable by the owner only since it may carry credentials.
func (f *FileStore) Save(in any) error {
	if in == nil {
		return fmt.Errorf("Save: input parameter must not be nil")
	}
	bytes, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("Save: failed to marshal YAML: %w", err)
	}
	tmpPath := f.Path + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0o600); err != nil {
		return fmt.Errorf("Save: failed to write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		return fmt.Errorf("Save: failed to replace %s with %s: %w", f.Path, tmpPath, err)
	}
	return nil
}

// Watch calls onChange after the file is written or replaced. The directory
// is watched rather than the file so atomic renames are seen. Watching stops
// when done is closed.
func (f *FileStore) Watch(onChange func(), done <-chan struct{}) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback cannot be nil")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.Path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file %s: %w", f.Path, err)
	}
	target := filepath.Clean(f.Path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.Log.Warn("config watcher error", lg.String("path", f.Path), lg.Err(err))
			}
		}
	}()
	return nil
}

// Close is a no-op; watchers stop through their done channel.
func (f *FileStore) Close() error { return nil }
