package driver

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aristath/pkgbuild/internal/logfields"
	"github.com/aristath/pkgbuild/internal/resource"
)

// DefaultDebounce is how long Watch waits for changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// Watch builds once, then again whenever a manifest or source file below the
// root changes. Every run is handed to onRun. Watch returns when ctx is done.
func (d *Driver) Watch(ctx context.Context, debounce time.Duration, onRun func(*Report, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()

	if err := d.addDirsRecursive(watcher, d.opts.Root); err != nil {
		return err
	}

	rebuildReq, trigger, stop := newDebouncer(debounce)
	defer stop()

	onRun(d.Run(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			d.handleFileEvent(watcher, ev, trigger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("Watcher error", logfields.Error(err))
		case <-rebuildReq:
			d.logger.Info("Change detected; rebuilding")
			onRun(d.Run(ctx))
		}
	}
}

// newDebouncer returns a channel that receives once per burst of trigger calls.
func newDebouncer(wait time.Duration) (<-chan struct{}, func(), func()) {
	var mu sync.Mutex
	var timer *time.Timer
	rebuildReq := make(chan struct{}, 1)

	trigger := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(wait, func() {
			select {
			case rebuildReq <- struct{}{}:
			default:
			}
		})
	}
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}
	return rebuildReq, trigger, stop
}

func (d *Driver) handleFileEvent(watcher *fsnotify.Watcher, ev fsnotify.Event, trigger func()) {
	if d.ignored(ev.Name) {
		return
	}
	if ev.Op&fsnotify.Create == fsnotify.Create {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = d.addDirsRecursive(watcher, ev.Name)
			trigger()
			return
		}
	}
	if !relevant(ev.Name) {
		return
	}
	d.logger.Debug("File change detected", logfields.Path(ev.Name), "op", ev.Op.String())
	trigger()
}

func (d *Driver) addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && d.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			d.logger.Warn("Watch add failed", logfields.Path(path), logfields.Error(err))
		}
		return nil
	})
}

// ignored reports whether path is hidden, an editor temp file, or inside the build directory.
func (d *Driver) ignored(path string) bool {
	if path == d.layout.Dir || strings.HasPrefix(path, d.layout.Dir+string(filepath.Separator)) {
		return true
	}
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") ||
		strings.HasPrefix(base, "#") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp")
}

// relevant reports whether a change to path can affect the build.
func relevant(path string) bool {
	return filepath.Base(path) == resource.ManifestFile ||
		slices.Contains(resource.SourceExtensions, filepath.Ext(path))
}
