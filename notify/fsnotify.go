package notify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// Fsnotify adapts github.com/fsnotify/fsnotify to the Facility interface.
// fsnotify reports full paths, so handles are synthesized here and every
// event is re-expressed relative to the watched parent when there is one.
type Fsnotify struct {
	w *fsnotify.Watcher

	mu      sync.Mutex
	next    Handle
	handles map[string]Handle
	paths   map[Handle]string
	dirs    map[Handle]bool
}

func NewFsnotify() (*Fsnotify, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	return &Fsnotify{
		w:       w,
		next:    1,
		handles: make(map[string]Handle),
		paths:   make(map[Handle]string),
		dirs:    make(map[Handle]bool),
	}, nil
}

func (f *Fsnotify) AddWatch(path string, kinds Kind) (Handle, error) {
	path = filepath.Clean(path)

	if kinds.Has(KindOnlyDir) {
		info, err := os.Lstat(path)
		if err != nil {
			return -1, fmt.Errorf("fsnotify add %s: %w", path, err)
		}
		if !info.IsDir() {
			return -1, fmt.Errorf("fsnotify add %s: %w", path, syscall.ENOTDIR)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.handles[path]; ok {
		return h, nil
	}

	if err := f.w.Add(path); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return -1, fmt.Errorf("fsnotify add %s: %w", path, ErrWatchExhausted)
		}
		if errors.Is(err, fsnotify.ErrClosed) {
			return -1, ErrClosed
		}
		return -1, fmt.Errorf("fsnotify add %s: %w", path, err)
	}

	h := f.next
	f.next++
	f.handles[path] = h
	f.paths[h] = path
	f.dirs[h] = kinds.Has(KindOnlyDir)
	return h, nil
}

func (f *Fsnotify) RemoveWatch(h Handle) error {
	f.mu.Lock()
	path, ok := f.paths[h]
	if ok {
		f.forgetLocked(h)
	}
	f.mu.Unlock()

	if !ok {
		return nil
	}
	if err := f.w.Remove(path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("fsnotify remove %s: %w", path, err)
	}
	return nil
}

func (f *Fsnotify) forgetLocked(h Handle) {
	delete(f.handles, f.paths[h])
	delete(f.paths, h)
	delete(f.dirs, h)
}

func (f *Fsnotify) Read() ([]Event, error) {
	for {
		select {
		case ev, ok := <-f.w.Events:
			if !ok {
				return nil, ErrClosed
			}
			if out := f.convert(ev); len(out) > 0 {
				return out, nil
			}
		case err, ok := <-f.w.Errors:
			if !ok {
				return nil, ErrClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				return []Event{{Handle: -1, Kinds: KindOverflow}}, nil
			}
			return nil, fmt.Errorf("fsnotify: %w", err)
		}
	}
}

func (f *Fsnotify) convert(ev fsnotify.Event) []Event {
	name := filepath.Clean(ev.Name)
	base := filepath.Base(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	parent, parentOK := f.handles[filepath.Dir(name)]
	self, selfOK := f.handles[name]
	var isDir Kind
	if selfOK && f.dirs[self] {
		isDir = KindIsDir
	}

	var out []Event
	switch {
	case ev.Has(fsnotify.Create):
		if !parentOK {
			return nil
		}
		if info, err := os.Lstat(name); err == nil && info.IsDir() {
			isDir = KindIsDir
		}
		out = append(out, Event{Handle: parent, Kinds: KindCreate | isDir, Name: base})

	case ev.Has(fsnotify.Write):
		if parentOK {
			out = append(out, Event{Handle: parent, Kinds: KindModify, Name: base})
		} else if selfOK {
			out = append(out, Event{Handle: self, Kinds: KindModify})
		}

	case ev.Has(fsnotify.Remove):
		if parentOK {
			out = append(out, Event{Handle: parent, Kinds: KindDelete | isDir, Name: base})
		}
		if selfOK {
			// fsnotify drops its own watch on removal.
			out = append(out,
				Event{Handle: self, Kinds: KindDeleteSelf},
				Event{Handle: self, Kinds: KindIgnored})
			f.forgetLocked(self)
		}

	case ev.Has(fsnotify.Rename):
		if parentOK {
			out = append(out, Event{Handle: parent, Kinds: KindMovedFrom | isDir, Name: base})
		}
		if selfOK {
			out = append(out, Event{Handle: self, Kinds: KindMoveSelf})
		}
	}
	return out
}

func (f *Fsnotify) Close() error {
	if err := f.w.Close(); err != nil {
		return fmt.Errorf("fsnotify close: %w", err)
	}
	return nil
}
