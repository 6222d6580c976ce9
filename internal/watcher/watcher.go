// Package watcher triggers rebuilds when crate lists or versions files change
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rlibfactory/rlibfactory/pkg/logger"
)

// DefaultSettlingDelay is how long the tree must stay quiet before a trigger
const DefaultSettlingDelay = 2 * time.Second

// TriggerFunc receives the changed paths of one settled batch
type TriggerFunc func(ctx context.Context, changed []string)

// Watcher coalesces filesystem events into settled batches
type Watcher struct {
	fs       *fsnotify.Watcher
	logger   logger.Logger
	settling time.Duration

	mu    sync.Mutex
	dirs  map[string]bool
	files map[string]bool
	ready map[string]struct{}
	kick  chan struct{}
}

// New creates a watcher. A non-positive settling delay uses the default.
func New(log logger.Logger, settling time.Duration) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	if settling <= 0 {
		settling = DefaultSettlingDelay
	}
	return &Watcher{
		fs:       fs,
		logger:   log,
		settling: settling,
		dirs:     make(map[string]bool),
		files:    make(map[string]bool),
		ready:    make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
	}, nil
}

// AddDir reports every change of a file directly inside dir
func (w *Watcher) AddDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := w.fs.Add(abs); err != nil {
		return fmt.Errorf("failed to watch %s: %w", abs, err)
	}
	w.mu.Lock()
	w.dirs[abs] = true
	w.mu.Unlock()
	w.logger.Debug("Watching directory " + abs)
	return nil
}

// AddFile reports changes of a single file. Its parent directory is watched
// so that replace-by-rename editors are still seen.
func (w *Watcher) AddFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	parent := filepath.Dir(abs)
	if err := w.fs.Add(parent); err != nil {
		return fmt.Errorf("failed to watch %s: %w", parent, err)
	}
	w.mu.Lock()
	w.files[abs] = true
	w.mu.Unlock()
	w.logger.Debug("Watching file " + abs)
	return nil
}

// Close releases the underlying watches. Run closes them on return as well.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run dispatches settled batches to trigger until ctx is done. trigger runs on
// its own goroutine; changes seen while it runs form the next batch.
func (w *Watcher) Run(ctx context.Context, trigger TriggerFunc) error {
	defer w.fs.Close()

	dispatchCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.dispatch(dispatchCtx, trigger)
	}()
	defer wg.Wait()
	defer cancel()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.settling)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.settling)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			w.mu.Lock()
			for p := range pending {
				w.ready[p] = struct{}{}
			}
			w.mu.Unlock()
			pending = make(map[string]struct{})
			select {
			case w.kick <- struct{}{}:
			default:
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", logger.WithError(err))
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, trigger TriggerFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
		}

		w.mu.Lock()
		changed := make([]string, 0, len(w.ready))
		for p := range w.ready {
			changed = append(changed, p)
		}
		w.ready = make(map[string]struct{})
		w.mu.Unlock()

		if len(changed) == 0 {
			continue
		}
		sort.Strings(changed)
		trigger(ctx, changed)
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if base == "" || base[0] == '.' || base[len(base)-1] == '~' {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[event.Name] {
		return true
	}
	if !w.dirs[filepath.Dir(event.Name)] {
		return false
	}
	// Subdirectories of a watched dir are not crate inputs
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		return false
	}
	return true
}
