package joblog

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals writes to a Sink. Notifications are coalesced, a receiver
// must read the sink until it is drained after every signal.
type Watcher struct {
	fsw  *fsnotify.Watcher
	c    chan struct{}
	done chan struct{}
}

// Watch starts watching the sink file. The file must exist.
func (s *Sink) Watch() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(s.path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", s.path, err)
	}

	w := &Watcher{
		fsw:  fsw,
		c:    make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// C receives a value after the sink grew.
func (w *Watcher) C() <-chan struct{} {
	return w.c
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			select {
			case w.c <- struct{}{}:
			default:
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
