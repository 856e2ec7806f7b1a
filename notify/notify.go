// Package notify abstracts the kernel filesystem change-notification
// facility. Two backends exist: raw inotify (Linux) and fsnotify.
package notify

import (
	"errors"
	"fmt"
)

// Handle identifies one registered watch.
type Handle int

// Event is one decoded notification record. Name is empty for events about
// the watched object itself.
type Event struct {
	Handle Handle
	Kinds  Kind
	Name   string
}

func (e Event) String() string {
	if e.Name == "" {
		return fmt.Sprintf("wd=%d %s", e.Handle, e.Kinds)
	}
	return fmt.Sprintf("wd=%d %s %s", e.Handle, e.Kinds, e.Name)
}

var (
	// ErrWatchExhausted is returned when the facility refuses a new watch.
	ErrWatchExhausted = errors.New("watch limit exhausted")

	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("notification facility closed")
)

// Facility is the consumed notification interface.
type Facility interface {
	// AddWatch registers path. Registering the same object twice returns
	// the same handle.
	AddWatch(path string, kinds Kind) (Handle, error)
	RemoveWatch(h Handle) error
	// Read blocks until at least one event is available.
	Read() ([]Event, error)
	Close() error
}

const (
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// Open returns the facility for the named backend.
func Open(backend string) (Facility, error) {
	switch backend {
	case BackendInotify:
		in, err := NewInotify()
		if err != nil {
			return nil, err
		}
		return in, nil
	case BackendFsnotify:
		fs, err := NewFsnotify()
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown notification backend %q", backend)
	}
}
