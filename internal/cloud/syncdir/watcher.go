package syncdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file or directory appeared.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file or directory went away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MarshalText encodes the operation by name.
func (op EventOp) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

// Event is a debounced change inside the sync folder.
type Event struct {
	// Path is the absolute path that changed.
	Path string `json:"path"`
	// Rel is Path relative to the watched root.
	Rel string `json:"rel"`
	Op  EventOp `json:"op"`
	// Dir is true when a directory was created.
	Dir bool `json:"dir"`
}

// DefaultDebounce is how long a path must be quiet before its event is emitted.
const DefaultDebounce = 100 * time.Millisecond

type pendingChange struct {
	op  EventOp
	dir bool
	at  time.Time
}

// Watcher watches the sync folder tree for changes made locally or by the
// cloud daemon. Hidden files are ignored: they are scratch files, probes and
// iCloud placeholders.
type Watcher struct {
	watcher  *fsnotify.Watcher
	events   chan Event
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	root     string
	debounce time.Duration

	pending   map[string]pendingChange
	pendingMu sync.Mutex
}

// NewWatcher creates a Watcher. The watcher must be started with Start()
// before it will emit events. A non-positive debounce emits immediately.
func NewWatcher(debounce time.Duration) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  watcher,
		events:   make(chan Event, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		debounce: debounce,
		pending:  make(map[string]pendingChange),
	}, nil
}

// Start begins watching root and every directory below it.
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	w.root = abs

	if err := w.addTree(abs); err != nil {
		return fmt.Errorf("failed to watch %s: %w", abs, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	if w.debounce > 0 {
		w.wg.Add(1)
		go w.flushLoop()
	}

	return nil
}

// Stop stops watching and closes the Events and Errors channels.
// It blocks until the background goroutines have exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	// Closing the fsnotify watcher unblocks the event loop
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return nil
}

// Events returns the channel of debounced changes.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watcher errors.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// addTree adds dir and all non-hidden directories below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A subdirectory vanished mid-walk; only the root is required
			if path != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// processEvents converts fsnotify events and queues or emits them.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			change, ok := w.convertEvent(event)
			if !ok {
				continue
			}

			if change.Dir && change.Op == OpCreate {
				if err := w.addTree(change.Path); err != nil {
					w.sendError(fmt.Errorf("failed to watch new directory %s: %w", change.Path, err))
				}
			}

			if w.debounce <= 0 {
				w.send(change)
				continue
			}
			w.queue(change)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

// convertEvent converts an fsnotify event to an Event.
// Returns (Event{}, false) if the event should be ignored.
func (w *Watcher) convertEvent(event fsnotify.Event) (Event, bool) {
	if isHidden(event.Name) {
		return Event{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Rename is reported as delete; the new name triggers a create
		op = OpDelete
	default:
		// Ignore chmod
		return Event{}, false
	}

	dir := false
	if op == OpCreate {
		if info, err := os.Stat(event.Name); err == nil {
			dir = info.IsDir()
		}
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}

	return Event{Path: event.Name, Rel: rel, Op: op, Dir: dir}, true
}

// queue records a change, merging it with any pending change for the path.
func (w *Watcher) queue(e Event) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	prev, exists := w.pending[e.Path]
	switch {
	case exists && prev.op == OpCreate && e.Op == OpModify:
		// Still a create from the consumer's point of view
		e.Op = OpCreate
		e.Dir = prev.dir
	case exists && prev.op == OpCreate && e.Op == OpDelete:
		// Appeared and vanished within the window
		delete(w.pending, e.Path)
		return
	}

	w.pending[e.Path] = pendingChange{op: e.Op, dir: e.Dir, at: time.Now()}
}

// flushLoop emits queued changes once they have been quiet long enough.
func (w *Watcher) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			for _, e := range w.takeReady() {
				w.send(e)
			}
		}
	}
}

// takeReady removes and returns the changes older than the debounce window.
func (w *Watcher) takeReady() []Event {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	now := time.Now()
	var ready []Event
	for path, change := range w.pending {
		if now.Sub(change.at) < w.debounce {
			continue
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			rel = path
		}
		ready = append(ready, Event{Path: path, Rel: rel, Op: change.op, Dir: change.dir})
		delete(w.pending, path)
	}
	return ready
}

func (w *Watcher) send(e Event) {
	select {
	case w.events <- e:
	case <-w.done:
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	case <-w.done:
	}
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
