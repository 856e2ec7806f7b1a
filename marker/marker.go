// Package marker drains the pending set into batched calls of the external
// trust tool.
package marker

import (
	"log/slog"
	"sync/atomic"

	"trustd/internal/pending"
	"trustd/logging"
)

const (
	// DefaultMaxArgs bounds the number of paths per invocation.
	DefaultMaxArgs = 500

	// UntrustedFlag asks the tool to mark its arguments untrusted.
	UntrustedFlag = "--untrusted"
)

type Options struct {
	Tool    string
	MaxArgs int
	Runner  Runner
	Logger  *slog.Logger
}

// Marker runs at most one marking pass at a time.
type Marker struct {
	tool    string
	maxArgs int
	runner  Runner
	pending *pending.Set
	log     *slog.Logger

	running atomic.Bool
	// OnRun, if set, observes every finished run.
	OnRun func(*MarkingRun)
}

// Stats summarizes one MarkPending call.
type Stats struct {
	// Skipped is set when another pass was already running.
	Skipped bool
	Chunks  int
	Marked  int
	Failed  int
}

func New(p *pending.Set, opts Options) *Marker {
	if opts.MaxArgs <= 0 {
		opts.MaxArgs = DefaultMaxArgs
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Marker{
		tool:    opts.Tool,
		maxArgs: opts.MaxArgs,
		runner:  opts.Runner,
		pending: p,
		log:     opts.Logger,
	}
}

// MarkPending snapshots the pending set and submits it in chunks of at most
// MaxArgs paths. A chunk leaves the set only when the tool exits 0 for it;
// failed chunks stay for the next pass. A trigger that arrives while a pass
// is running is dropped.
func (m *Marker) MarkPending() Stats {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Debug("marking pass already running, skipping trigger")
		return Stats{Skipped: true}
	}
	defer m.running.Store(false)

	snap := m.pending.Snapshot()
	if len(snap) == 0 {
		return Stats{}
	}

	var st Stats
	for _, chunk := range Chunk(snap, m.maxArgs) {
		st.Chunks++

		paths := make([]string, len(chunk))
		for i, it := range chunk {
			paths[i] = it.Path
		}

		run := newRun(paths)
		args := append([]string{UntrustedFlag}, paths...)
		run.finish(m.runner.Run(m.tool, args))

		if run.OK() {
			m.pending.Remove(chunk)
			st.Marked += len(chunk)
			m.log.Debug("marked untrusted", "count", len(chunk), "took", run.Duration)
		} else {
			st.Failed += len(chunk)
			m.log.Warn("marking failed, paths kept for next pass",
				"count", len(chunk), "exit", run.ExitCode, "err", run.Err)
		}
		if m.OnRun != nil {
			m.OnRun(run)
		}
	}

	if st.Marked > 0 || st.Failed > 0 {
		m.log.Info("marking pass done",
			"chunks", st.Chunks, "marked", st.Marked, "failed", st.Failed,
			"still_pending", m.pending.Len())
	}
	return st
}

// Running reports whether a pass is in flight.
func (m *Marker) Running() bool {
	return m.running.Load()
}

// Chunk splits items into ceil(len/k) consecutive slices of at most k
// elements.
func Chunk[T any](items []T, k int) [][]T {
	if k <= 0 {
		k = DefaultMaxArgs
	}
	chunks := make([][]T, 0, (len(items)+k-1)/k)
	for start := 0; start < len(items); start += k {
		end := min(start+k, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
