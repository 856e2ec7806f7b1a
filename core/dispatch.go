package core

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"trustd/notify"
)

// dispatch routes one event to the watch table, the pending set or a
// reload. Events for unknown handles are stale and dropped.
func (d *Daemon) dispatch(ctx context.Context, ev notify.Event) {
	if ev.Kinds.Has(notify.KindOverflow) {
		d.log.Warn("notification queue overflowed, rebuilding every watch")
		d.rebuild(ctx)
		return
	}

	if rulePath, ok := d.ruleWatch(ev.Handle); ok {
		d.dispatchRuleFile(ctx, ev, rulePath)
		return
	}
	if ruleDir, ok := d.ruleDir(ev.Handle); ok {
		d.dispatchRuleDir(ctx, ev, ruleDir)
		// The directory may also belong to a watched tree.
		if _, inTree := d.table.Resolve(ev.Handle); !inTree {
			return
		}
	}

	dir, ok := d.table.Resolve(ev.Handle)
	if !ok {
		d.log.Debug("dropping event for stale handle", "event", ev.String())
		return
	}

	if ev.Kinds.Has(notify.KindIgnored) {
		d.table.Forget(ev.Handle)
		return
	}
	if ev.Name == "" {
		d.dispatchSelf(ev, dir)
		return
	}

	target := filepath.Join(dir, ev.Name)
	isDir := ev.Kinds.Has(notify.KindIsDir)

	switch {
	case ev.Kinds.Has(notify.KindCreate | notify.KindMovedTo):
		if isDir {
			d.log.Debug("directory appeared", "path", target)
			d.placeDir(target)
		} else {
			d.log.Debug("file appeared", "path", target)
			d.pending.Insert(target)
		}
	case ev.Kinds.Has(notify.KindMovedFrom | notify.KindDelete):
		if isDir {
			d.log.Debug("directory went away", "path", target)
			d.table.RemoveRecursive(target)
		}
	}
}

// dispatchSelf handles events about a watched directory itself.
func (d *Daemon) dispatchSelf(ev notify.Event, dir string) {
	if !ev.Kinds.Has(notify.KindDeleteSelf | notify.KindMoveSelf) {
		return
	}
	// A directory moved inside the tree was already re-placed under its new
	// name by the parent's moved-to event.
	if info, err := os.Lstat(dir); err == nil && info.IsDir() {
		return
	}
	d.log.Debug("watched directory gone", "path", dir, "event", ev.Kinds.String())
	d.table.RemoveRecursive(dir)
}

func (d *Daemon) dispatchRuleFile(ctx context.Context, ev notify.Event, path string) {
	switch {
	case ev.Kinds.Has(notify.KindIgnored):
		d.dropRuleWatch(ev.Handle, false)
		return
	case ev.Kinds.Has(notify.KindMoveSelf):
		// The watch followed the old inode elsewhere.
		d.dropRuleWatch(ev.Handle, true)
	case ev.Kinds.Has(notify.KindDeleteSelf):
		d.dropRuleWatch(ev.Handle, false)
	case !ev.Kinds.Has(notify.KindModify):
		return
	}

	d.log.Info("rule list changed, reloading", "path", path, "event", ev.Kinds.String())
	d.Reload(ctx)
}

// dispatchRuleDir reloads when a rule list is created in, or renamed into,
// its directory. The list itself gets a watch again during the reload.
func (d *Daemon) dispatchRuleDir(ctx context.Context, ev notify.Event, dir string) {
	if ev.Kinds.Has(notify.KindIgnored) {
		d.mu.Lock()
		delete(d.ruleDirs, ev.Handle)
		d.mu.Unlock()
		return
	}
	if ev.Name == "" || ev.Kinds.Has(notify.KindIsDir) || !ev.Kinds.Has(notify.KindCreate|notify.KindMovedTo) {
		return
	}
	path := filepath.Join(dir, ev.Name)
	if !d.isRuleFile(path) {
		return
	}
	d.log.Info("rule list appeared, reloading", "path", path, "event", ev.Kinds.String())
	d.Reload(ctx)
}

func (d *Daemon) ruleDir(h notify.Handle) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.ruleDirs[h]
	return p, ok
}

func (d *Daemon) ruleWatch(h notify.Handle) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.ruleWatches[h]
	return p, ok
}

func (d *Daemon) dropRuleWatch(h notify.Handle, release bool) {
	d.mu.Lock()
	delete(d.ruleWatches, h)
	d.mu.Unlock()

	if release {
		if err := d.fac.RemoveWatch(h); err != nil {
			d.log.Debug("release rule list watch", "err", err)
		}
	}
}

func (d *Daemon) isRuleFile(path string) bool {
	return slices.Contains(d.ruleFiles, path)
}
