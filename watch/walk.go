package watch

import (
	"io/fs"
	"iter"
	"path/filepath"
)

// Entry is one item produced by Walk. Err is set when the entry, or the
// listing of a directory, could not be read.
type Entry struct {
	Path  string
	IsDir bool
	Err   error
}

// Walk lazily traverses root depth-first. Symlinks are reported as plain
// entries and never followed, so the walk cannot leave the tree or loop.
// A directory whose listing fails is reported twice: once before listing
// and once more with Err set.
func Walk(root string) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			e := Entry{Path: path, Err: err}
			if d != nil {
				e.IsDir = d.IsDir()
			}
			if !yield(e) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}
