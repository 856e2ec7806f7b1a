// Package core wires the rule resolver, watch table, pending set and batch
// marker into the trust daemon.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"trustd/internal/pending"
	"trustd/logging"
	"trustd/marker"
	"trustd/notify"
	"trustd/policy"
	"trustd/watch"
)

type State int32

const (
	StateIdle State = iota
	StateBootstrapping
	StateRunning
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	Facility notify.Facility
	Source   policy.Source
	// RuleFiles are watched so that editing a rule list triggers a reload,
	// whatever Source is.
	RuleFiles  []string
	Tool       string
	MaxArgs    int
	MarkPeriod time.Duration
	Runner     marker.Runner
	Logger     *slog.Logger
}

// Daemon owns the watch table and the pending set.
type Daemon struct {
	fac       notify.Facility
	source    policy.Source
	ruleFiles []string
	period    time.Duration
	log       *slog.Logger

	table   *watch.Table
	pending *pending.Set
	marker  *marker.Marker

	mu          sync.Mutex
	rules       policy.RuleSet
	ruleWatches map[notify.Handle]string
	// ruleDirs are the directories holding the rule lists, watched so that a
	// list created or renamed into place later is noticed.
	ruleDirs map[notify.Handle]string

	state   atomic.Int32
	lastRun atomic.Pointer[marker.MarkingRun]
}

func New(opts Options) *Daemon {
	if opts.MarkPeriod <= 0 {
		opts.MarkPeriod = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	p := pending.NewSet()
	d := &Daemon{
		fac:       opts.Facility,
		source:    opts.Source,
		ruleFiles: opts.RuleFiles,
		period:    opts.MarkPeriod,
		log:       opts.Logger,
		table:     watch.NewTable(opts.Facility, p, opts.Logger),
		pending:   p,
		marker: marker.New(p, marker.Options{
			Tool:    opts.Tool,
			MaxArgs: opts.MaxArgs,
			Runner:  opts.Runner,
			Logger:  opts.Logger,
		}),
		ruleWatches: make(map[notify.Handle]string),
		ruleDirs:    make(map[notify.Handle]string),
	}
	d.marker.OnRun = func(run *marker.MarkingRun) {
		d.lastRun.Store(run)
		if !run.OK() {
			d.log.Debug("tool run", "run", run.String())
		}
	}
	return d
}

// Run bootstraps, then reads events and marks pending paths until ctx is
// cancelled or the notification handle is lost. A final marking pass runs
// before Run returns. The facility is closed on return.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Bootstrap(ctx); err != nil {
		d.fac.Close()
		d.setState(StateStopped)
		return err
	}

	d.setState(StateRunning)
	d.log.Info("daemon running", "period", d.period)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.readLoop(gctx) })
	g.Go(func() error { return d.tickLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		d.setState(StateTerminating)
		// Unblocks the reader.
		return d.fac.Close()
	})
	err := g.Wait()

	st := d.marker.MarkPending()
	d.log.Info("daemon stopped",
		"final_marked", st.Marked, "left_pending", d.pending.Len())
	d.setState(StateStopped)
	return err
}

// Bootstrap resolves the rules, watches every root (which queues every file
// already present) and watches the rule lists themselves.
func (d *Daemon) Bootstrap(ctx context.Context) error {
	d.setState(StateBootstrapping)

	rules, err := d.source.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve rules: %w", err)
	}

	for _, root := range rules.Roots() {
		if err := d.placeRoot(root); errors.Is(err, notify.ErrClosed) {
			return err
		}
	}

	d.mu.Lock()
	d.rules = rules
	d.mu.Unlock()
	d.watchRuleFiles()

	d.log.Info("bootstrap complete",
		"roots", rules.Roots(), "watches", d.table.Len(), "pending", d.pending.Len())
	return nil
}

func (d *Daemon) readLoop(ctx context.Context) error {
	for {
		events, err := d.fac.Read()
		if err != nil {
			if errors.Is(err, notify.ErrClosed) && ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("notification handle lost: %w", err)
		}
		for _, ev := range events {
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Daemon) tickLoop(ctx context.Context) error {
	t := time.NewTicker(d.period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d.marker.MarkPending()
		}
	}
}

// placeRoot watches a configured root, resolving it if it is a symlink.
func (d *Daemon) placeRoot(root string) error {
	return d.placed(root, d.table.PlaceRoot(root))
}

// placeDir watches a directory found inside a watched tree. Symlinks are
// never followed.
func (d *Daemon) placeDir(dir string) error {
	return d.placed(dir, d.table.PlaceRecursive(dir))
}

// placed logs a placement failure. Only ErrClosed is returned.
func (d *Daemon) placed(root string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notify.ErrClosed):
		return err
	case errors.Is(err, notify.ErrWatchExhausted):
		// Already reported by the table.
		d.log.Debug("root partially watched", "root", root, "err", err)
	default:
		d.log.Warn("cannot watch root", "root", root, "err", err)
	}
	return nil
}

// watchRuleFiles (re)registers a watch on every rule list that exists and on
// the directory holding each list. Watches from earlier calls that are still
// live come back with the same handle.
func (d *Daemon) watchRuleFiles() {
	files := make(map[notify.Handle]string)
	dirs := make(map[notify.Handle]string)
	for _, p := range d.ruleFiles {
		// Registering a directory again replaces its mask, so use the tree
		// mask in case the directory is also inside a watched root.
		dir := filepath.Dir(p)
		if h, err := d.fac.AddWatch(dir, notify.DirectoryKinds); err != nil {
			d.log.Debug("rule list directory not watched", "path", dir, "err", err)
		} else {
			dirs[h] = dir
		}

		h, err := d.fac.AddWatch(p, notify.FileKinds)
		if err != nil {
			d.log.Debug("rule list not watched", "path", p, "err", err)
			continue
		}
		files[h] = p
	}

	d.mu.Lock()
	d.ruleWatches = files
	d.ruleDirs = dirs
	d.mu.Unlock()
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
}

func (d *Daemon) State() State {
	return State(d.state.Load())
}

// Rules returns the RuleSet currently in force.
func (d *Daemon) Rules() policy.RuleSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rules
}

// Status is a point-in-time summary for logs and tests.
type Status struct {
	State   State
	Roots   []string
	Watched []string
	Pending int
	// LastRun is the most recent tool invocation, nil before the first.
	LastRun *marker.MarkingRun
}

func (d *Daemon) Status() Status {
	return Status{
		State:   d.State(),
		Roots:   d.Rules().Roots(),
		Watched: d.table.Paths(),
		Pending: d.pending.Len(),
		LastRun: d.lastRun.Load(),
	}
}
