package sharedctx

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates cache entries when another process rewrites a shared
// context file under the project directory. It returns a stop function.
// If the watcher cannot be created the layer falls back to TTL expiry
// alone; that is logged, not fatal.
func (l *Layer) Watch(projectID string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.log.Warn("fsnotify watcher unavailable, relying on cache TTL", "error", err)
		return func() {}, err
	}

	projectDir := filepath.Join(l.dir, projectID)
	if err := watcher.Add(projectDir); err != nil {
		l.log.Warn("watch failed, relying on cache TTL", "dir", projectDir, "error", err)
		_ = watcher.Close()
		return func() {}, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if !strings.HasSuffix(ev.Name, ".json") {
					continue
				}
				// The branch name is not recoverable from the flattened
				// file name, so match the file against the cached keys.
				l.invalidatePath(ev.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log.Warn("fsnotify watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
