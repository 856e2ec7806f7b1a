package notify

import (
	"testing"
	"time"
)

// readUntil collects events until match returns true or the deadline passes.
func readUntil(t *testing.T, fac Facility, match func(Event) bool) Event {
	t.Helper()
	type result struct {
		evs []Event
		err error
	}
	deadline := time.After(5 * time.Second)
	for {
		ch := make(chan result, 1)
		go func() {
			evs, err := fac.Read()
			ch <- result{evs, err}
		}()
		select {
		case r := <-ch:
			if r.err != nil {
				t.Fatalf("Read() error = %v", r.err)
			}
			for _, ev := range r.evs {
				if match(ev) {
					return ev
				}
			}
		case <-deadline:
			t.Fatal("expected event never arrived")
		}
	}
}
