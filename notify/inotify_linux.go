//go:build linux

package notify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// Non-blocking so the runtime poller parks Read and Close can wake it.
	inotifyInitFlags = unix.IN_CLOEXEC | unix.IN_NONBLOCK

	// Room for 1024 records carrying a maximal name.
	eventBufferSize = 1024 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)
)

// Inotify is the raw inotify backend.
type Inotify struct {
	fd   int
	file *os.File
	dec  Decoder
	buf  []byte

	// mu keeps fd from being closed, and possibly reused, under a watch
	// call.
	mu     sync.Mutex
	closed bool
}

// NewInotify initializes an inotify instance.
func NewInotify() (*Inotify, error) {
	fd, err := unix.InotifyInit1(inotifyInitFlags)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}

	return &Inotify{
		fd:   fd,
		file: os.NewFile(uintptr(fd), "inotify"),
		buf:  make([]byte, eventBufferSize),
	}, nil
}

func (in *Inotify) AddWatch(path string, kinds Kind) (Handle, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return -1, ErrClosed
	}

	wd, err := unix.InotifyAddWatch(in.fd, path, maskFromKinds(kinds))
	if err != nil {
		if errors.Is(err, unix.ENOSPC) {
			return -1, fmt.Errorf("inotify_add_watch %s: %w", path, ErrWatchExhausted)
		}
		if errors.Is(err, unix.EBADF) {
			return -1, ErrClosed
		}
		return -1, fmt.Errorf("inotify_add_watch %s: %w", path, err)
	}
	return Handle(wd), nil
}

func (in *Inotify) RemoveWatch(h Handle) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return ErrClosed
	}

	_, err := unix.InotifyRmWatch(in.fd, uint32(h))
	// EINVAL: the kernel already dropped the watch (the directory is gone).
	if err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("inotify_rm_watch %d: %w", h, err)
	}
	return nil
}

func (in *Inotify) Read() ([]Event, error) {
	for {
		n, err := in.file.Read(in.buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("inotify read: %w", err)
		}
		if n <= 0 {
			continue
		}

		in.dec.Feed(in.buf[:n])
		var events []Event
		for ev := range in.dec.Events() {
			events = append(events, ev)
		}
		if len(events) > 0 {
			return events, nil
		}
	}
}

func (in *Inotify) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true

	if err := in.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("inotify close: %w", err)
	}
	return nil
}
