package broadcast

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher republishes writes made to the catalog file by other processes as
// database_changed events. It is the fallback channel for watchers that did
// not call Subscribe; our own writes also trip it, which is harmless since
// they already broadcast directly.
type Watcher struct {
	bus         *Broadcaster
	catalogPath string
	projectPath string
	logger      *zap.Logger

	fw     *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// debounceWindow coalesces the burst of fs events one commit produces.
const debounceWindow = 100 * time.Millisecond

// NewWatcher creates a watcher for the catalog file. Start must be called to
// begin delivery.
func NewWatcher(bus *Broadcaster, catalogPath, projectPath string, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		bus:         bus,
		catalogPath: catalogPath,
		projectPath: projectPath,
		logger:      logger,
	}
}

// Start begins watching. The parent directory is watched rather than the
// file itself so WAL checkpoints that replace the file are not lost.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.catalogPath)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fw = fw
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.fw.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	base := filepath.Base(w.catalogPath)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base && filepath.Base(ev.Name) != base+"-wal" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.bus.Publish(Event{
				Kind:        KindDatabaseChanged,
				ProjectPath: w.projectPath,
				Timestamp:   time.Now().UTC(),
			})
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("catalog watcher error", zap.Error(err))
		}
	}
}

// Stop halts delivery and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}
