package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/edaniels/golog"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// debouncePeriod collapses the event bursts editors produce on save into one
// reload.
const debouncePeriod = 500 * time.Millisecond

// A Watcher re-reads the config when its file changes and delivers the fresh
// copy on Config. A change that fails validation is logged and dropped; the
// running config stays in force.
type Watcher struct {
	filePath string
	logger   golog.Logger

	fsWatcher *fsnotify.Watcher
	configCh  chan *Config

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewWatcher begins watching the given config file.
func NewWatcher(ctx context.Context, filePath string, logger golog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: atomic saves replace the inode and
	// a watch on the old one goes quiet.
	if err := fsWatcher.Add(filepath.Dir(filePath)); err != nil {
		return nil, multierr.Combine(err, fsWatcher.Close())
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	w := &Watcher{
		filePath:   filePath,
		logger:     logger,
		fsWatcher:  fsWatcher,
		configCh:   make(chan *Config),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	w.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(w.watch, w.activeBackgroundWorkers.Done)
	return w, nil
}

// Config returns the channel fresh configs arrive on.
func (w *Watcher) Config() <-chan *Config {
	return w.configCh
}

func (w *Watcher) watch() {
	debounced := debounce.New(debouncePeriod)
	for {
		select {
		case <-w.cancelCtx.Done():
			return
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorw("config watcher error", "error", err)
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.filePath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounced(w.reload)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Read(w.cancelCtx, w.filePath, w.logger)
	if err != nil {
		w.logger.Errorw("rejecting config change", "error", err)
		return
	}
	select {
	case <-w.cancelCtx.Done():
	case w.configCh <- cfg:
	}
}

// Close stops watching. Pending deliveries are dropped.
func (w *Watcher) Close() error {
	w.cancelFunc()
	err := w.fsWatcher.Close()
	w.activeBackgroundWorkers.Wait()
	return err
}
