// Package watch keeps the mapping between notification handles and the
// directories they monitor.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trustd/internal/pending"
	"trustd/logging"
	"trustd/notify"
)

// Table is the bidirectional handle <-> directory mapping. Every method is
// mutually exclusive with every other.
type Table struct {
	mu       sync.Mutex
	fac      notify.Facility
	pending  *pending.Set
	byHandle map[notify.Handle]string
	byPath   map[string]notify.Handle

	log       *slog.Logger
	exhausted rate.Sometimes
}

func NewTable(fac notify.Facility, p *pending.Set, log *slog.Logger) *Table {
	if log == nil {
		log = logging.Discard()
	}
	return &Table{
		fac:       fac,
		pending:   p,
		byHandle:  make(map[notify.Handle]string),
		byPath:    make(map[string]notify.Handle),
		log:       log,
		exhausted: rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// PlaceRecursive watches root and every directory below it, and queues every
// non-directory entry as pending. Unreadable entries are logged and skipped.
// When the facility runs out of watches the walk stops and an error wrapping
// notify.ErrWatchExhausted is returned; the rest of the subtree stays
// unmonitored.
func (t *Table) PlaceRecursive(root string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.placeLocked(root, root)
}

// PlaceRoot is PlaceRecursive for a configured root. A root that is a
// symlink to a directory is resolved once and its tree is recorded under the
// root's own name; symlinks below it are never followed. A root that is not
// a directory is logged and skipped.
func (t *Table) PlaceRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		t.log.Warn("cannot watch root", "root", root, "err", err)
		return nil
	}
	if !info.IsDir() {
		t.log.Warn("root is not a directory, skipping", "root", root, "mode", info.Mode().String())
		return nil
	}

	target := root
	if li, err := os.Lstat(root); err == nil && li.Mode()&fs.ModeSymlink != 0 {
		if target, err = filepath.EvalSymlinks(root); err != nil {
			t.log.Warn("cannot resolve root", "root", root, "err", err)
			return nil
		}
		t.log.Info("root is a symlink, watching its target", "root", root, "target", target)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.placeLocked(root, target)
}

// placeLocked walks target and records every entry under name.
func (t *Table) placeLocked(name, target string) error {
	var dirs, files int
	for e := range Walk(target) {
		path := name + strings.TrimPrefix(e.Path, target)
		if e.Err != nil {
			t.log.Warn("skipping unreadable entry", "path", path, "err", e.Err)
			continue
		}
		if !e.IsDir {
			t.pending.Insert(path)
			files++
			continue
		}

		err := t.addLocked(path, e.Path)
		switch {
		case err == nil:
			dirs++
		case errors.Is(err, notify.ErrWatchExhausted):
			t.exhausted.Do(func() {
				t.log.Error("watch limit reached, subtree left unmonitored",
					"root", name, "path", path,
					"hint", "raise fs.inotify.max_user_watches")
			})
			return fmt.Errorf("place %s: %w", name, err)
		case errors.Is(err, notify.ErrClosed):
			return err
		default:
			t.log.Warn("cannot watch directory", "path", path, "err", err)
		}
	}

	t.log.Debug("placed watches", "root", name, "dirs", dirs, "files", files)
	return nil
}

// addLocked registers target and records it as path.
func (t *Table) addLocked(path, target string) error {
	h, err := t.fac.AddWatch(target, notify.DirectoryKinds)
	if err != nil {
		return err
	}

	// The kernel hands back an existing handle when the same directory is
	// registered again under a new name.
	if old, ok := t.byHandle[h]; ok && old != path {
		delete(t.byPath, old)
	}
	if oldH, ok := t.byPath[path]; ok && oldH != h {
		delete(t.byHandle, oldH)
	}
	t.byHandle[h] = path
	t.byPath[path] = h
	return nil
}

// RemoveRecursive drops root and every watched directory below it and
// releases their watches. Prefixes are matched on whole path components.
func (t *Table) RemoveRecursive(root string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for path, h := range t.byPath {
		if !Within(path, root) {
			continue
		}
		delete(t.byPath, path)
		delete(t.byHandle, h)
		if err := t.fac.RemoveWatch(h); err != nil {
			t.log.Debug("remove watch", "path", path, "err", err)
		}
		n++
	}
	if n > 0 {
		t.log.Debug("removed watches", "root", root, "count", n)
	}
	return n
}

// Within reports whether path equals root or lies below it.
func Within(path, root string) bool {
	if path == root {
		return true
	}
	if root == "/" {
		return strings.HasPrefix(path, "/")
	}
	return strings.HasPrefix(path, root+"/")
}

// Resolve returns the directory for h. A miss means the handle was already
// torn down and its event should be ignored.
func (t *Table) Resolve(h notify.Handle) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byHandle[h]
	return p, ok
}

// Forget drops h without touching the facility, for handles the kernel has
// already released.
func (t *Table) Forget(h notify.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byHandle[h]; ok {
		delete(t.byHandle, h)
		if t.byPath[p] == h {
			delete(t.byPath, p)
		}
	}
}

// Watched reports whether path currently has a watch.
func (t *Table) Watched(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byPath[path]
	return ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPath)
}

// Paths returns the watched directories in lexical order.
func (t *Table) Paths() []string {
	t.mu.Lock()
	out := make([]string, 0, len(t.byPath))
	for p := range t.byPath {
		out = append(out, p)
	}
	t.mu.Unlock()

	sort.Strings(out)
	return out
}
