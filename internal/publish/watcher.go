package publish

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const minPollInterval = 500 * time.Millisecond

// Watcher re-mirrors the primary document whenever it changes on disk.
// It prefers filesystem notifications and degrades to polling when a
// watcher cannot be established.
type Watcher struct {
	publisher *Publisher
	poll      time.Duration
	logger    *zap.Logger
}

// NewWatcher builds a Watcher. Poll intervals below 500ms are raised to
// the floor.
func NewWatcher(publisher *Publisher, poll time.Duration, logger *zap.Logger) *Watcher {
	if poll < minPollInterval {
		poll = minPollInterval
	}
	return &Watcher{
		publisher: publisher,
		poll:      poll,
		logger:    logger.Named("watcher"),
	}
}

// Run blocks until ctx is cancelled, mirroring on every primary change.
func (w *Watcher) Run(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable; falling back to polling", zap.Error(err))
		w.runPolling(ctx)
		return
	}
	defer func() {
		if cerr := fsw.Close(); cerr != nil {
			w.logger.Debug("close watcher", zap.Error(cerr))
		}
	}()

	// Watch the directory, not the file: atomic rename replaces the
	// inode and a file watch would go stale after the first publish.
	dir := filepath.Dir(w.publisher.PrimaryPath())
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("watch primary directory failed; falling back to polling",
			zap.String("dir", dir), zap.Error(err))
		w.runPolling(ctx)
		return
	}
	w.logger.Info("watching primary document", zap.String("dir", dir))

	target := filepath.Clean(w.publisher.PrimaryPath())
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				w.runPolling(ctx)
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.sync()
		case werr, ok := <-fsw.Errors:
			if !ok {
				w.runPolling(ctx)
				return
			}
			w.logger.Warn("watch error", zap.Error(werr))
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sync()
		}
	}
}

func (w *Watcher) sync() {
	if _, err := w.publisher.SyncNow(); err != nil {
		w.logger.Warn("mirror sync failed", zap.Error(err))
	}
}
