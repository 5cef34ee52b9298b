package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/ttcn-selector/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeSnapshot ChangeType = iota
	ChangeTypeConfig
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeSnapshot:
		return "snapshot"
	case ChangeTypeConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

const batchWindow = 100 * time.Millisecond

// FileWatcher watches the project snapshot, and optionally the config file,
// for changes. Editors often replace files instead of writing them, so the
// containing directories are watched and events filtered by name.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string]ChangeType // absolute path -> change type
	events  chan ChangeEvent
	done    chan struct{}
	once    sync.Once
}

// NewFileWatcher creates a watcher for a snapshot file. configPath may be empty.
func NewFileWatcher(snapshot, configPath string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		files:   make(map[string]ChangeType),
		events:  make(chan ChangeEvent, 100),
		done:    make(chan struct{}),
	}

	if err := fw.track(snapshot, ChangeTypeSnapshot); err != nil {
		watcher.Close() //nolint:errcheck
		return nil, err
	}
	if configPath != "" {
		if err := fw.track(configPath, ChangeTypeConfig); err != nil {
			watcher.Close() //nolint:errcheck
			return nil, err
		}
	}
	return fw, nil
}

func (fw *FileWatcher) track(path string, t ChangeType) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	fw.files[abs] = t
	return nil
}

// Start begins watching for file changes
func (fw *FileWatcher) Start(ctx context.Context) error {
	dirs := make(map[string]bool)
	for path := range fw.files {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logging.Debug("watching directory", "path", dir)
	}

	logging.Info("started watching project", "files", len(fw.files))

	go fw.processEvents(ctx)
	return nil
}

// processEvents batches relevant file system events by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	pending := make(map[ChangeType][]string)

	flushTimer := time.NewTimer(batchWindow)
	flushTimer.Stop()

	flush := func() {
		for _, t := range []ChangeType{ChangeTypeSnapshot, ChangeTypeConfig} {
			if paths := pending[t]; len(paths) > 0 {
				fw.events <- ChangeEvent{Type: t, Paths: paths, Timestamp: time.Now()}
			}
		}
		pending = make(map[ChangeType][]string)
	}

	defer func() {
		fw.watcher.Close() //nolint:errcheck
		close(fw.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			t, ok := fw.files[filepath.Clean(event.Name)]
			if !ok {
				if abs, err := filepath.Abs(event.Name); err == nil {
					t, ok = fw.files[abs]
				}
			}
			if !ok {
				continue
			}

			logging.Trace("file changed", "path", event.Name, "op", event.Op.String())
			pending[t] = append(pending[t], event.Name)
			flushTimer.Reset(batchWindow)

		case <-flushTimer.C:
			flush()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() {
	fw.once.Do(func() { close(fw.done) })
}
