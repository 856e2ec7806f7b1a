package watch

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"trustd/internal/notifytest"
	"trustd/internal/pending"
	"trustd/logging"
	"trustd/notify"
)

func mkdirs(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		if err := os.MkdirAll(filepath.Join(root, r), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func touch(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		if err := os.WriteFile(filepath.Join(root, r), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTable(t *testing.T) (*Table, *notifytest.Facility, *pending.Set) {
	t.Helper()
	fac := notifytest.New()
	p := pending.NewSet()
	return NewTable(fac, p, logging.Discard()), fac, p
}

func TestTable_PlaceRecursive(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/b", "c")
	touch(t, root, "top.txt", "a/b/deep.pdf", "c/x")

	tbl, fac, p := newTable(t)
	if err := tbl.PlaceRecursive(root); err != nil {
		t.Fatalf("PlaceRecursive() error = %v", err)
	}

	wantDirs := []string{root, filepath.Join(root, "a"), filepath.Join(root, "a/b"), filepath.Join(root, "c")}
	if got := tbl.Paths(); !reflect.DeepEqual(got, wantDirs) {
		t.Errorf("Paths() = %v, want %v", got, wantDirs)
	}
	if got := fac.Watched(); !reflect.DeepEqual(got, wantDirs) {
		t.Errorf("facility watched = %v, want %v", got, wantDirs)
	}
	for _, f := range []string{"top.txt", "a/b/deep.pdf", "c/x"} {
		if !p.Contains(filepath.Join(root, f)) {
			t.Errorf("pending missing %s", f)
		}
	}
	if p.Len() != 3 {
		t.Errorf("pending Len() = %d, want 3", p.Len())
	}
}

func TestTable_PlaceRecursiveSkipsSymlinkedDirs(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	touch(t, outside, "secret")
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	tbl, _, p := newTable(t)
	if err := tbl.PlaceRecursive(root); err != nil {
		t.Fatal(err)
	}

	if tbl.Watched(filepath.Join(root, "link")) {
		t.Error("symlinked directory must not be watched")
	}
	if p.Contains(filepath.Join(root, "link", "secret")) {
		t.Error("walk followed a symlink out of the tree")
	}
}

func TestTable_PlaceRecursiveIsIdempotent(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a")

	tbl, _, _ := newTable(t)
	for i := 0; i < 2; i++ {
		if err := tbl.PlaceRecursive(root); err != nil {
			t.Fatal(err)
		}
	}
	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tbl.Len())
	}
}

func TestTable_PlaceRecursiveExhausted(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a", "b", "c")

	tbl, fac, _ := newTable(t)
	fac.Limit = 2

	err := tbl.PlaceRecursive(root)
	if !errors.Is(err, notify.ErrWatchExhausted) {
		t.Fatalf("PlaceRecursive() error = %v, want ErrWatchExhausted", err)
	}
	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2 watches placed before exhaustion", tbl.Len())
	}
}

func TestTable_RemoveRecursiveMatchesComponents(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "root/sub/deeper", "rootabega/x")

	tbl, fac, _ := newTable(t)
	if err := tbl.PlaceRecursive(base); err != nil {
		t.Fatal(err)
	}

	n := tbl.RemoveRecursive(filepath.Join(base, "root"))
	if n != 3 {
		t.Errorf("RemoveRecursive() = %d, want 3", n)
	}

	want := []string{base, filepath.Join(base, "rootabega"), filepath.Join(base, "rootabega/x")}
	if got := tbl.Paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("Paths() = %v, want %v", got, want)
	}
	if got := fac.Watched(); !reflect.DeepEqual(got, want) {
		t.Errorf("facility watched = %v, want %v", got, want)
	}
}

func TestTable_ResolveAndForget(t *testing.T) {
	root := t.TempDir()
	tbl, fac, _ := newTable(t)
	if err := tbl.PlaceRecursive(root); err != nil {
		t.Fatal(err)
	}

	h, _ := fac.Handle(root)
	if got, ok := tbl.Resolve(h); !ok || got != root {
		t.Errorf("Resolve(%d) = %q, %v", h, got, ok)
	}

	tbl.Forget(h)
	if _, ok := tbl.Resolve(h); ok {
		t.Error("Resolve() after Forget should miss")
	}
	if _, ok := tbl.Resolve(9999); ok {
		t.Error("Resolve(unknown) should miss")
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		path, root string
		want       bool
	}{
		{"/root", "/root", true},
		{"/root/a", "/root", true},
		{"/rootabega", "/root", false},
		{"/rootabega/a", "/root", false},
		{"/anything", "/", true},
		{"/ro", "/root", false},
	}
	for _, tt := range tests {
		if got := Within(tt.path, tt.root); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tt.path, tt.root, got, tt.want)
		}
	}
}

func TestWalk_StopsEarly(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a", "b", "c")

	n := 0
	for range Walk(root) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("visited %d entries, want 2", n)
	}
}

func TestTable_PlaceRootFollowsSymlinkedRoot(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "real/sub", "elsewhere")
	touch(t, base, "real/sub/x.txt", "elsewhere/secret")
	if err := os.Symlink(filepath.Join(base, "elsewhere"), filepath.Join(base, "real/link")); err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(base, "inbox")
	if err := os.Symlink(filepath.Join(base, "real"), root); err != nil {
		t.Fatal(err)
	}

	tbl, fac, p := newTable(t)
	if err := tbl.PlaceRoot(root); err != nil {
		t.Fatalf("PlaceRoot() error = %v", err)
	}

	want := []string{root, filepath.Join(root, "sub")}
	if got := tbl.Paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("Paths() = %v, want %v", got, want)
	}
	if n := len(fac.Watched()); n != 2 {
		t.Errorf("facility holds %d watches, want 2", n)
	}
	if !p.Contains(filepath.Join(root, "sub", "x.txt")) {
		t.Error("file under the symlinked root was not queued")
	}
	if p.Contains(root) {
		t.Error("symlinked root was queued as a file")
	}
	// Symlinks below the root are still not followed.
	if tbl.Watched(filepath.Join(root, "link")) || p.Contains(filepath.Join(root, "link", "secret")) {
		t.Error("walk followed a symlink below the root")
	}
}

func TestTable_PlaceRootSkipsNonDirectories(t *testing.T) {
	base := t.TempDir()
	touch(t, base, "plain.txt")
	if err := os.Symlink(filepath.Join(base, "plain.txt"), filepath.Join(base, "filelink")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(base, "nowhere"), filepath.Join(base, "dangling")); err != nil {
		t.Fatal(err)
	}

	tests := []string{"plain.txt", "filelink", "dangling", "missing"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			tbl, _, p := newTable(t)
			root := filepath.Join(base, name)
			if err := tbl.PlaceRoot(root); err != nil {
				t.Fatalf("PlaceRoot() error = %v", err)
			}
			if tbl.Len() != 0 || p.Len() != 0 {
				t.Errorf("watches = %v, pending = %d; want nothing", tbl.Paths(), p.Len())
			}
		})
	}
}

func TestNewTable_NilLogger(t *testing.T) {
	root := t.TempDir()
	tbl := NewTable(notifytest.New(), pending.NewSet(), nil)
	if err := tbl.PlaceRoot(filepath.Join(root, "missing")); err != nil {
		t.Fatalf("PlaceRoot() error = %v", err)
	}
	if err := tbl.PlaceRecursive(root); err != nil {
		t.Fatalf("PlaceRecursive() error = %v", err)
	}
}
