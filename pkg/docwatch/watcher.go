// Package docwatch observes markdown documents on disk and reports debounced
// change events, so an open preview can re-render while an editor saves in
// bursts.
package docwatch

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
)

// ChangeType describes the kind of document change observed.
type ChangeType string

const (
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// DefaultDebounce coalesces editor save bursts into one event per document.
const DefaultDebounce = 150 * time.Millisecond

// Change records an observed document change.
type Change struct {
	Path    string
	Type    ChangeType
	Size    int64
	ModTime time.Time
}

// Handler receives document change notifications.
type Handler func(change Change)

// Options configures a Watcher.
type Options struct {
	// Debounce is the per-document quiet period before a change fires.
	// Zero means DefaultDebounce.
	Debounce time.Duration

	Logger *slog.Logger
}

type subscription struct {
	id      string
	pattern string
	handler Handler
}

// Watcher observes documents via the OS notification facility. Events for a
// document are debounced individually; a burst of writes yields one change.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	subs    map[string]*subscription
	watched map[string]bool
	timers  map[string]*time.Timer
	closed  bool
}

// New creates a watcher and starts its event loop.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		log:      log,
		subs:     make(map[string]*subscription),
		watched:  make(map[string]bool),
		timers:   make(map[string]*time.Timer),
	}

	go w.run()

	return w, nil
}

// Watch starts observing a document. The enclosing directory is watched so
// editors that replace files on save (write temp, rename over) still produce
// events.
func (w *Watcher) Watch(docPath string) error {
	abs, err := filepath.Abs(docPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", docPath, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("watcher closed")
	}
	if w.watched[abs] {
		return nil
	}

	if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}
	w.watched[abs] = true
	return nil
}

// Unwatch stops observing a document.
func (w *Watcher) Unwatch(docPath string) {
	abs, err := filepath.Abs(docPath)
	if err != nil {
		return
	}
	w.mu.Lock()
	delete(w.watched, abs)
	if t, ok := w.timers[abs]; ok {
		t.Stop()
		delete(w.timers, abs)
	}
	w.mu.Unlock()
}

// Subscribe registers a change handler for a glob pattern. A bare pattern
// without a path separator matches against the document base name.
func (w *Watcher) Subscribe(pattern string, h Handler) string {
	if h == nil {
		return ""
	}
	id := ulid.Make().String()
	w.mu.Lock()
	w.subs[id] = &subscription{id: id, pattern: strings.TrimSpace(pattern), handler: h}
	w.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	delete(w.subs, id)
	w.mu.Unlock()
}

// Close stops the event loop and all pending debounce timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("fs watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	if w.closed || !w.watched[abs] {
		w.mu.Unlock()
		return
	}

	if timer, ok := w.timers[abs]; ok {
		timer.Reset(w.debounce)
		w.mu.Unlock()
		return
	}
	w.timers[abs] = time.AfterFunc(w.debounce, func() {
		w.fire(abs)
	})
	w.mu.Unlock()
}

// fire resolves the document's current state once the debounce window
// closes and notifies matching subscribers.
func (w *Watcher) fire(abs string) {
	w.mu.Lock()
	delete(w.timers, abs)
	if w.closed || !w.watched[abs] {
		w.mu.Unlock()
		return
	}
	subs := make([]*subscription, 0, len(w.subs))
	for _, sub := range w.subs {
		subs = append(subs, sub)
	}
	w.mu.Unlock()

	change := Change{Path: abs, Type: ChangeModified}
	if info, err := os.Stat(abs); err != nil {
		change.Type = ChangeRemoved
	} else {
		change.Size = info.Size()
		change.ModTime = info.ModTime()
	}

	for _, sub := range subs {
		if matchesPattern(sub.pattern, abs) {
			sub.handler(change)
		}
	}
}

func matchesPattern(pattern, docPath string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	cleanPath := filepath.ToSlash(docPath)
	cleanPattern := filepath.ToSlash(pattern)
	if ok, _ := path.Match(cleanPattern, cleanPath); ok {
		return true
	}
	if !strings.Contains(cleanPattern, "/") {
		if ok, _ := path.Match(cleanPattern, path.Base(cleanPath)); ok {
			return true
		}
	}
	return false
}
