// Package watch implements continuous mode: it watches every file a flow
// depends on and reports changes so the flow can be run again.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devicelab-dev/maestro-orchestra/pkg/deps"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
)

// DefaultDebounce is how long to wait for more events before reporting.
const DefaultDebounce = 300 * time.Millisecond

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watcher watches the dependency set of one root flow.
type Watcher struct {
	root     string
	Debounce time.Duration

	fs    *fsnotify.Watcher
	mu    sync.Mutex
	files map[string]bool
	dirs  map[string]bool
}

// New discovers the dependencies of root and starts watching them.
func New(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		root:     root,
		Debounce: DefaultDebounce,
		fs:       fsw,
		dirs:     make(map[string]bool),
	}
	if err := w.refresh(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Files returns the watched files, sorted.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make([]string, 0, len(w.files))
	for f := range w.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// refresh rediscovers the dependency set. Directories are watched rather
// than files so that editors which save by rename are still seen.
func (w *Watcher) refresh() error {
	files, err := deps.DiscoverAllDependencies(w.root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = make(map[string]bool, len(files))
	for _, f := range files {
		w.files[f] = true
		dir := filepath.Dir(f)
		if w.dirs[dir] {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		w.dirs[dir] = true
	}
	return nil
}

func (w *Watcher) watching(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[name]
}

// Run blocks until ctx is done, calling onChange with the changed files
// after each burst of changes. The dependency set is rediscovered before
// onChange is called, so newly referenced files are watched too.
func (w *Watcher) Run(ctx context.Context, onChange func(changed []string)) error {
	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(ev.Name)
			if ev.Op&relevantOps == 0 || !w.watching(name) {
				continue
			}
			logger.Debug("watch: %s %s", ev.Op, name)
			pending[name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.Debounce)
			fire = timer.C

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch: %v", err)

		case <-fire:
			timer, fire = nil, nil
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)

			if err := w.refresh(); err != nil {
				logger.Warn("watch: failed to refresh dependencies: %v", err)
			}
			onChange(changed)
		}
	}
}
