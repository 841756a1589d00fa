package driver

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// unwatchedDirs are excluded from tree watching.
var unwatchedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"vendor":       true,
	"__pycache__":  true,
}

// TreeWatcher records files written under a root while a backend process
// runs. The result is a hint for strategies whose transcripts don't name
// the files they edited. Watching is best-effort: platform limits on
// watch descriptors degrade it to a partial view, never to a failure.
type TreeWatcher struct {
	root    string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	touched map[string]bool
	done    chan struct{}
}

// WatchTree starts watching every directory under root.
func WatchTree(root string) (*TreeWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	tw := &TreeWatcher{
		root:    root,
		watcher: w,
		touched: make(map[string]bool),
		done:    make(chan struct{}),
	}

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (unwatchedDirs[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		w.Add(path)
		return nil
	})

	go tw.loop()
	return tw, nil
}

func (tw *TreeWatcher) loop() {
	defer close(tw.done)
	for {
		select {
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			tw.handle(event)
		case _, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (tw *TreeWatcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	rel, err := filepath.Rel(tw.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)

	for _, part := range strings.Split(rel, "/") {
		if unwatchedDirs[part] || (part != "." && strings.HasPrefix(part, ".")) {
			return
		}
	}

	if event.Op&fsnotify.Create != 0 {
		// New directories need their own watch to see files inside them.
		tw.watcher.Add(event.Name)
	}

	tw.mu.Lock()
	tw.touched[rel] = true
	tw.mu.Unlock()
}

// Paths returns the recorded repo-relative paths, sorted. Directories that
// received a create event are included; callers filter by scope anyway.
func (tw *TreeWatcher) Paths() []string {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	paths := make([]string, 0, len(tw.touched))
	for p := range tw.touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close stops watching and waits for the event loop to drain.
func (tw *TreeWatcher) Close() error {
	err := tw.watcher.Close()
	<-tw.done
	return err
}
