package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Resyncer is satisfied by *Store.
type Resyncer interface {
	Resync(ctx context.Context) error
}

// MirrorWatcher resyncs the store when the mirror file is changed on disk by
// someone else (an operator repair, a restored backup).
type MirrorWatcher struct {
	path    string
	mirror  *FileMirror
	target  Resyncer
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewMirrorWatcher watches the directory holding mirror's file so that atomic
// renames are observed. Changes that are the mirror's own saves are ignored.
func NewMirrorWatcher(mirror *FileMirror, target Resyncer, logger *slog.Logger) (*MirrorWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := mirror.Path()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("overlay: watch dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("overlay: new watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("overlay: watch %s: %w", dir, err)
	}
	return &MirrorWatcher{
		path:    path,
		mirror:  mirror,
		target:  target,
		logger:  logger.With(slog.String("component", "overlay-watch")),
		watcher: w,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start runs the event loop in the background.
func (w *MirrorWatcher) Start() {
	go w.loop()
	w.logger.Info("mirror watcher started", slog.String("path", w.path))
}

// Stop ends the event loop and releases the watcher.
func (w *MirrorWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
		<-w.done
	})
}

func (w *MirrorWatcher) loop() {
	defer close(w.done)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	base := filepath.Base(w.path)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, w.resync)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("mirror watcher error", slog.Any("error", err))
		}
	}
}

func (w *MirrorWatcher) resync() {
	select {
	case <-w.stopCh:
		return
	default:
	}
	if w.mirror.WrittenBySelf() {
		return
	}
	if err := w.target.Resync(context.Background()); err != nil {
		w.logger.Warn("mirror change resync", slog.Any("error", err))
		return
	}
	w.logger.Debug("mirror change applied")
}
