// Package confwatcher contains a configuration watcher.
package confwatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bluenviron/mp4pipe/internal/logger"
)

const (
	minInterval = 500 * time.Millisecond
	settleTime  = 50 * time.Millisecond
)

// ConfWatcher is a configuration file watcher.
// The directory of the file is watched, in order to detect editors that replace the file.
type ConfWatcher struct {
	FilePath string
	Parent   logger.Writer

	inner      *fsnotify.Watcher
	absPath    string
	lastSignal time.Time
	signal     chan struct{}
	terminate  chan struct{}
	done       chan struct{}
}

// Initialize initializes a ConfWatcher.
func (w *ConfWatcher) Initialize() error {
	absPath, err := filepath.Abs(w.FilePath)
	if err != nil {
		return err
	}

	_, err = os.Stat(absPath)
	if err != nil {
		return err
	}

	w.inner, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	err = w.inner.Add(filepath.Dir(absPath))
	if err != nil {
		w.inner.Close() //nolint:errcheck
		return err
	}

	w.absPath = absPath
	w.signal = make(chan struct{}, 1)
	w.terminate = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()

	return nil
}

// Close closes a ConfWatcher.
func (w *ConfWatcher) Close() {
	close(w.terminate)
	<-w.done
	w.inner.Close() //nolint:errcheck
}

func (w *ConfWatcher) log(level logger.Level, format string, args ...any) {
	if w.Parent != nil {
		w.Parent.Log(level, "[conf watcher] "+format, args...)
	}
}

func (w *ConfWatcher) run() {
	defer close(w.done)

	var settle <-chan time.Time

	for {
		select {
		case event := <-w.inner.Events:
			if filepath.Clean(event.Name) != w.absPath {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			// wait for the writer to complete
			settle = time.After(settleTime)

		case <-settle:
			settle = nil

			if time.Since(w.lastSignal) < minInterval {
				continue
			}
			w.lastSignal = time.Now()

			// after a rename, the file might not exist yet
			if _, err := os.Stat(w.absPath); err != nil {
				continue
			}

			w.log(logger.Debug, "%s has changed", w.absPath)

			select {
			case w.signal <- struct{}{}:
			default:
			}

		case err := <-w.inner.Errors:
			w.log(logger.Warn, "%v", fmt.Errorf("watch error: %w", err))

		case <-w.terminate:
			return
		}
	}
}

// Watch returns a channel that is notified when the configuration file changes.
func (w *ConfWatcher) Watch() <-chan struct{} {
	return w.signal
}
