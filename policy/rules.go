// Package policy resolves the "always open in disposable VM" rule lists into
// the set of directories whose contents are untrusted.
package policy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrConfig is returned when a rule list exists but cannot be read.
var ErrConfig = errors.New("rule list unreadable")

const (
	// OverrideMarker prefixes a local-list line that cancels a global rule.
	OverrideMarker = "-"
	commentPrefix  = "#"
)

// Source yields the current RuleSet.
type Source interface {
	Resolve(ctx context.Context) (RuleSet, error)
}

// Entry is one parsed rule-list line.
type Entry struct {
	Path     string
	Override bool
}

// FileSource reads the global list, then the per-user list.
type FileSource struct {
	Global string
	Local  string
	// Home expands a leading "~". Empty disables expansion.
	Home   string
	Logger *slog.Logger
}

// Resolve applies the global list, then the local list. A missing file
// counts as empty.
func (s FileSource) Resolve(_ context.Context) (RuleSet, error) {
	rs := NewRuleSet()

	global, err := s.readList(s.Global)
	if err != nil {
		return RuleSet{}, err
	}
	for _, e := range global {
		// The marker has no removal power on the global list.
		rs.roots[e.Path] = struct{}{}
	}

	local, err := s.readList(s.Local)
	if err != nil {
		return RuleSet{}, err
	}
	for _, e := range local {
		if e.Override {
			delete(rs.roots, e.Path)
		} else {
			rs.roots[e.Path] = struct{}{}
		}
	}
	return rs, nil
}

func (s FileSource) readList(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	defer f.Close()

	entries, rejected, err := ParseList(f, s.Home)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	if s.Logger != nil {
		for _, line := range rejected {
			s.Logger.Warn("ignoring non-absolute rule", "list", path, "line", line)
		}
	}
	return entries, nil
}

// ParseList parses a rule list. Lines that do not name an absolute path
// after expansion are returned in rejected.
func ParseList(r io.Reader, home string) (entries []Entry, rejected []string, err error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		e, ok, valid := parseLine(sc.Text(), home)
		if !ok {
			continue
		}
		if !valid {
			rejected = append(rejected, sc.Text())
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return entries, rejected, nil
}

// parseLine reports ok=false for blanks and comments, valid=false for a
// path that is not absolute.
func parseLine(line, home string) (e Entry, ok, valid bool) {
	// Only trailing whitespace is insignificant; leading blanks and blanks
	// after the marker are part of the path.
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	if line == "" || strings.HasPrefix(line, commentPrefix) {
		return Entry{}, false, false
	}

	if strings.HasPrefix(line, OverrideMarker) {
		e.Override = true
		line = strings.TrimPrefix(line, OverrideMarker)
	}
	if line == "" {
		return Entry{}, false, false
	}

	line = expandHome(line, home)
	if !filepath.IsAbs(line) {
		return Entry{}, true, false
	}
	e.Path = filepath.Clean(line)
	return e, true, true
}

func expandHome(p, home string) string {
	if home == "" || !strings.HasPrefix(p, "~") {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

// ToolSource asks the trust tool for its view of the policy (`tool -p`),
// one root per line.
type ToolSource struct {
	Tool string
}

func (s ToolSource) Resolve(ctx context.Context) (RuleSet, error) {
	out, err := exec.CommandContext(ctx, s.Tool, "-p").Output()
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: %s -p: %v", ErrConfig, s.Tool, err)
	}

	rs := NewRuleSet()
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !filepath.IsAbs(line) {
			continue
		}
		rs.roots[filepath.Clean(line)] = struct{}{}
	}
	return rs, nil
}
