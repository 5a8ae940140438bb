package local

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fsWatcher wraps fsnotify.Watcher with a simpler interface
type fsWatcher interface {
	Add(path string) error
	Close() error
	Events() <-chan fsEvent
	Errors() <-chan error
}

type fsEvent struct {
	Name string
	Op   fsnotify.Op
}

// fsnotifyWatcher wraps fsnotify.Watcher to implement fsWatcher interface
type fsnotifyWatcher struct {
	watcher *fsnotify.Watcher
	events  chan fsEvent
	errors  chan error
	done    chan struct{}
	once    sync.Once
}

// newFSWatcher creates a new file system watcher using fsnotify
func newFSWatcher() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &fsnotifyWatcher{
		watcher: w,
		events:  make(chan fsEvent),
		errors:  make(chan error),
		done:    make(chan struct{}),
	}

	// Forward events until the watcher is closed
	go func() {
		defer close(fw.events)
		defer close(fw.errors)
		for {
			select {
			case <-fw.done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case fw.events <- fsEvent{Name: event.Name, Op: event.Op}:
				case <-fw.done:
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				select {
				case fw.errors <- err:
				case <-fw.done:
					return
				}
			}
		}
	}()

	return fw, nil
}

func (w *fsnotifyWatcher) Add(path string) error {
	return w.watcher.Add(path)
}

func (w *fsnotifyWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *fsnotifyWatcher) Events() <-chan fsEvent {
	return w.events
}

func (w *fsnotifyWatcher) Errors() <-chan error {
	return w.errors
}
