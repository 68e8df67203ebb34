package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// WatchEvent is one debounced filesystem change under the project directory.
type WatchEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher watches the project's governance and config files and emits
// debounced change events. Editors replace files via rename, so the watcher
// observes the containing directory rather than the files themselves.
type Watcher struct {
	projectDir     string
	watcher        *fsnotify.Watcher
	logger         *log.Logger
	debounceWindow time.Duration

	events chan WatchEvent
	errors chan error

	pending map[string]fsnotify.Op

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher for the project directory.
func NewWatcher(projectDir string) (*Watcher, error) {
	if strings.TrimSpace(projectDir) == "" {
		return nil, fmt.Errorf("project directory is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		projectDir:     projectDir,
		watcher:        fw,
		logger:         log.Default(),
		debounceWindow: 250 * time.Millisecond,
		events:         make(chan WatchEvent, 16),
		errors:         make(chan error, 1),
		pending:        make(map[string]fsnotify.Op),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the watch is established; events
// flow on Events() until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Join(w.projectDir, DirName)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	go w.loop(ctx)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	err := w.watcher.Close()
	<-w.doneCh
	return err
}

// Events returns the debounced event channel.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Errors returns the watch error channel.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.isRelevant(ev.Name) {
				w.record(ev.Name, ev.Op)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		case <-ticker.C:
			w.flush()
		}
	}
}

// isRelevant filters watch events down to the files the gateway reloads.
func (w *Watcher) isRelevant(path string) bool {
	base := filepath.Base(path)
	return base == FileName || base == filepath.Base(w.governancePath())
}

func (w *Watcher) governancePath() string {
	return filepath.Join(w.projectDir, DirName, "governance.toml")
}

// record aggregates ops per path until the next flush.
func (w *Watcher) record(path string, op fsnotify.Op) {
	w.pending[path] |= op
}

// flush emits one event per pending path and clears the pending set.
func (w *Watcher) flush() {
	for path, op := range w.pending {
		select {
		case w.events <- WatchEvent{Path: path, Op: op}:
		default:
			w.logger.Warn("watch event dropped", "path", path)
		}
	}
	clear(w.pending)
}
