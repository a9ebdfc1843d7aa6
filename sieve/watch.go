package sieve

import (
	"github.com/fsnotify/fsnotify"

	"github.com/replicon/mboxsync/framework/log"
)

// Watcher reports externally triggered sieve directory changes as file
// names on Events. Delivery is best-effort: an event is dropped when
// Events is full. No command in this module starts a Watcher.
type Watcher struct {
	w      *fsnotify.Watcher
	Events <-chan string
}

// Watch starts watching dir for changes. An error setting it up is logged
// and returned to the caller with a nil Watcher.
func Watch(dir string, logger log.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("sieve: could not create directory watcher", err)
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		logger.Error("sieve: could not watch directory", err, "dir", dir)
		w.Close()
		return nil, err
	}

	events := make(chan string, 16)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					close(events)
					return
				}
				select {
				case events <- ev.Name:
				default:
					// best-effort: drop the event rather than block the watcher
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("sieve: watcher error", err)
			}
		}
	}()

	return &Watcher{w: w, Events: events}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.w.Close()
}
