package localstore

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow coalesces bursts of filesystem events (editors and the
// store's own temp+rename writes produce several events per save).
const debounceWindow = 250 * time.Millisecond

// watcher reloads the corpus when the backing file changes on disk. It
// watches the parent directory because rename-based writes replace the inode
// a file-level watch would be pinned to.
type watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

func (w *watcher) start(s *Store) error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fs.Add(filepath.Dir(s.path)); err != nil {
		fs.Close()
		return err
	}

	w.fs = fs
	w.done = make(chan struct{})

	go w.run(s)
	return nil
}

func (w *watcher) run(s *Store) {
	target := filepath.Clean(s.path)

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			s.logger.Debug("lesson corpus changed on disk, reloading",
				zap.String("path", s.path))
			s.load()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			s.logger.Warn("corpus watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

func (w *watcher) stop() error {
	close(w.done)
	return w.fs.Close()
}
