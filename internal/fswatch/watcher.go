package fswatch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"interruptd/internal/logger"
)

// Watcher reloads registered files when they change on disk. Events are
// debounced so an editor's write burst (or a backup-then-rename write)
// collapses into a single callback. The debounce interval is read per
// event, which lets the settings document tune it at runtime.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce func() time.Duration
	log      logger.Logger

	mu       sync.Mutex
	onChange map[string]func()
	pending  map[string]*time.Timer
}

func New(debounce func() time.Duration, log logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:  fw,
		debounce: debounce,
		log:      log,
		onChange: make(map[string]func()),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Add registers a file. The parent directory is watched rather than the
// file itself so rename-style rewrites keep delivering events.
func (w *Watcher) Add(path string, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.onChange[abs] = onChange
	w.mu.Unlock()

	return w.watcher.Add(filepath.Dir(abs))
}

func (w *Watcher) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("File watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	callback, watched := w.onChange[abs]
	if !watched {
		return
	}

	if timer, exists := w.pending[abs]; exists {
		timer.Stop()
	}
	w.pending[abs] = time.AfterFunc(w.debounce(), func() {
		w.mu.Lock()
		delete(w.pending, abs)
		w.mu.Unlock()
		callback()
	})
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	return w.watcher.Close()
}
