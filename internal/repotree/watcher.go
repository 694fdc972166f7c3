package repotree

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const invalidateDebounce = 500 * time.Millisecond

// Watcher invalidates cached trees when the working tree changes on disk.
// Directories are watched recursively; new directories are picked up from
// create events. Bursts of events collapse into one invalidation per repo.
type Watcher struct {
	fs       *fsnotify.Watcher
	cache    *Cache
	debounce time.Duration

	mu     sync.Mutex
	roots  map[string]string // absolute root path -> repo ID
	timers map[string]*time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a Watcher invalidating the given cache.
func NewWatcher(cache *Cache) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fsw,
		cache:    cache,
		debounce: invalidateDebounce,
		roots:    make(map[string]string),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch registers a repository root and all its subdirectories.
func (w *Watcher) Watch(repoID, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.roots[abs] = repoID
	w.mu.Unlock()

	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != abs && (skipDirs[name] || name[0] == '.') {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			log.Printf("[repotree] watch %s: %v", path, err)
		}
		return nil
	})
}

// Unwatch forgets a repository. Existing directory watches age out with the
// kernel handles when the watcher closes; events for them stop matching.
func (w *Watcher) Unwatch(repoID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, id := range w.roots {
		if id == repoID {
			delete(w.roots, root)
		}
	}
	if timer, ok := w.timers[repoID]; ok {
		timer.Stop()
		delete(w.timers, repoID)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.done) })
	return w.fs.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("[repotree] watch error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	repoID := w.owner(event.Name)
	if repoID == "" {
		return
	}
	if event.Has(fsnotify.Create) {
		// A new directory needs its own watch to see writes inside it.
		name := filepath.Base(event.Name)
		if !skipDirs[name] && name[0] != '.' {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.fs.Add(event.Name); err != nil {
					log.Printf("[repotree] watch %s: %v", event.Name, err)
				}
			}
		}
	}
	w.scheduleInvalidate(repoID)
}

// owner maps an event path onto the registered root containing it.
func (w *Watcher) owner(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, id := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return id
		}
	}
	return ""
}

// scheduleInvalidate collapses an event burst into one invalidation.
func (w *Watcher) scheduleInvalidate(repoID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[repoID]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[repoID] = time.AfterFunc(w.debounce, func() {
		w.cache.Invalidate(repoID)
		w.mu.Lock()
		delete(w.timers, repoID)
		w.mu.Unlock()
	})
}
