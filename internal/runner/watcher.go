package runner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a workspace tree for source changes.
type Watcher struct {
	dir      string
	debounce time.Duration
	ignore   map[string]bool
	onChange func()
	logger   *slog.Logger
}

// NewWatcher creates a new file watcher. Directories whose base name is in
// ignore are never watched.
func NewWatcher(dir string, debounce time.Duration, ignore []string, onChange func(), logger *slog.Logger) *Watcher {
	skip := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		skip[name] = true
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		ignore:   skip,
		onChange: onChange,
		logger:   logger,
	}
}

// Watch starts watching for file changes and blocks until context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := w.addTree(watcher, w.dir); err != nil {
		return err
	}

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// New directories need their own watch
			if event.Has(fsnotify.Create) && w.isDir(event.Name) {
				if !w.skipDir(event.Name) {
					_ = w.addTree(watcher, event.Name)
				}
				continue
			}

			if !w.isRelevantEvent(event) {
				continue
			}

			w.logger.Debug("file change detected", "file", event.Name, "op", event.Op.String())

			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// isRelevantEvent checks if a file event should trigger a rerun.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	// Ignore hidden files and editor backups
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}

	ext := filepath.Ext(event.Name)
	ignoredExts := map[string]bool{
		".swp": true, ".swo": true, ".swn": true, // Vim
		".tmp": true, ".bak": true,
		".log": true,
	}
	if ignoredExts[ext] {
		return false
	}

	rel, err := filepath.Rel(w.dir, event.Name)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.ignore[part] || strings.HasPrefix(part, ".") {
			return false
		}
	}
	return true
}

func (w *Watcher) skipDir(path string) bool {
	name := filepath.Base(path)
	return w.ignore[name] || (strings.HasPrefix(name, ".") && path != w.dir)
}

func (w *Watcher) isDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}

// addTree recursively adds dir and its subdirectories to the watcher.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			w.logger.Debug("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}
