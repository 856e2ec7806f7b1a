// Package notifytest provides an in-memory notify.Facility for tests.
package notifytest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"trustd/notify"
)

// Facility hands out one handle per path and delivers events queued with
// Push. Limit, when non-zero, caps the number of live watches.
type Facility struct {
	Limit int

	mu      sync.Mutex
	next    notify.Handle
	handles map[string]notify.Handle
	paths   map[notify.Handle]string
	removed []notify.Handle
	events  chan []notify.Event
	closed  bool
}

func New() *Facility {
	return &Facility{
		next:    1,
		handles: make(map[string]notify.Handle),
		paths:   make(map[notify.Handle]string),
		events:  make(chan []notify.Event, 64),
	}
}

func (f *Facility) AddWatch(path string, kinds notify.Kind) (notify.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return -1, notify.ErrClosed
	}
	if h, ok := f.handles[path]; ok {
		return h, nil
	}
	if kinds.Has(notify.KindOnlyDir) {
		info, err := os.Lstat(path)
		if err != nil {
			return -1, err
		}
		if !info.IsDir() {
			return -1, fmt.Errorf("%s: not a directory", path)
		}
	} else if _, err := os.Stat(path); err != nil {
		return -1, err
	}
	if f.Limit > 0 && len(f.handles) >= f.Limit {
		return -1, fmt.Errorf("add %s: %w", path, notify.ErrWatchExhausted)
	}

	h := f.next
	f.next++
	f.handles[path] = h
	f.paths[h] = path
	return h, nil
}

func (f *Facility) RemoveWatch(h notify.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.paths[h]
	if !ok {
		return errors.New("unknown handle")
	}
	delete(f.paths, h)
	delete(f.handles, p)
	f.removed = append(f.removed, h)
	return nil
}

// Push queues one batch of events for Read.
func (f *Facility) Push(events ...notify.Event) {
	f.events <- events
}

func (f *Facility) Read() ([]notify.Event, error) {
	evs, ok := <-f.events
	if !ok {
		return nil, notify.ErrClosed
	}
	return evs, nil
}

func (f *Facility) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// Handle returns the live handle for path.
func (f *Facility) Handle(path string) (notify.Handle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[path]
	return h, ok
}

// Watched returns the live watched paths, sorted.
func (f *Facility) Watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.handles))
	for p := range f.handles {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Child builds an event for name inside the directory watched under dir.
func (f *Facility) Child(dir, name string, kinds notify.Kind) notify.Event {
	h, _ := f.Handle(filepath.Clean(dir))
	return notify.Event{Handle: h, Kinds: kinds, Name: name}
}

// Self builds an event about the watched object at path itself.
func (f *Facility) Self(path string, kinds notify.Kind) notify.Event {
	h, _ := f.Handle(filepath.Clean(path))
	return notify.Event{Handle: h, Kinds: kinds}
}
