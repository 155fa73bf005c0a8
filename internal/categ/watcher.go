package categ

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads data-dir snapshots when the refresh scheduler rewrites
// them, so every listener picks up fresh categorizations and assignments
// without waiting for a restart.
type Watcher struct {
	fw     *fsnotify.Watcher
	reload map[string]func() error
}

// NewWatcher registers a reload function per watched file. The parent
// directory of each file is watched rather than the file itself: snapshots
// are replaced by atomic rename, which swaps the inode out from under a
// per-file watch.
func NewWatcher(reloads map[string]func() error) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]func() error, len(reloads))
	dirs := make(map[string]struct{})
	for path, fn := range reloads {
		abs, err := filepath.Abs(path)
		if err != nil {
			fw.Close()
			return nil, err
		}
		byPath[abs] = fn
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return &Watcher{fw: fw, reload: byPath}, nil
}

// Run consumes filesystem events until ctx is cancelled. A reload that fails
// keeps the previous in-memory snapshot; a later write gets another chance.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			fn, ok := w.reload[abs]
			if !ok {
				continue
			}
			if err := fn(); err != nil {
				slog.Warn("snapshot reload failed, keeping previous", "file", filepath.Base(ev.Name), "error", err)
				continue
			}
			slog.Info("snapshot reloaded", "file", filepath.Base(ev.Name))
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("snapshot watcher error", "error", err)
		}
	}
}
