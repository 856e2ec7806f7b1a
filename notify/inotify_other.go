//go:build !linux

package notify

import "errors"

// NewInotify is only available on Linux; use the fsnotify backend elsewhere.
func NewInotify() (Facility, error) {
	return nil, errors.New("inotify backend requires linux")
}
