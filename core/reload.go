package core

import (
	"context"
	"fmt"

	"trustd/policy"
	"trustd/watch"
)

// Reload re-resolves the rules and brings the watch table in line with the
// new roots. Roots present before and after keep their watches unless they
// sit inside or around a dropped root. On failure the previous rules stay in
// force.
func (d *Daemon) Reload(ctx context.Context) error {
	next, err := d.source.Resolve(ctx)
	if err != nil {
		d.log.Error("rule reload failed, keeping previous rules", "err", err)
		d.watchRuleFiles()
		return fmt.Errorf("reload: %w", err)
	}

	prev := d.Rules()
	added, removed := policy.Diff(prev, next)

	for _, root := range removed {
		d.table.RemoveRecursive(root)
	}

	for _, root := range removed {
		// Still covered by a surviving root: an ordinary directory of that
		// tree now.
		if covered(root, next) {
			if err := d.placeDir(root); err != nil {
				return fmt.Errorf("reload: %w", err)
			}
		}
	}

	refresh := append([]string(nil), added...)
	for _, root := range next.Roots() {
		if !prev.Contains(root) {
			continue
		}
		for _, gone := range removed {
			if watch.Within(root, gone) {
				refresh = append(refresh, root)
				break
			}
		}
	}
	for _, root := range refresh {
		if err := d.placeRoot(root); err != nil {
			return fmt.Errorf("reload: %w", err)
		}
	}

	d.mu.Lock()
	d.rules = next
	d.mu.Unlock()
	d.watchRuleFiles()

	d.log.Info("rules reloaded",
		"added", added, "removed", removed,
		"watches", d.table.Len(), "pending", d.pending.Len())
	return nil
}

// rebuild drops every watch and walks every root again. Used after the
// event queue overflowed and events were lost.
func (d *Daemon) rebuild(ctx context.Context) {
	d.table.RemoveRecursive("/")
	for _, root := range d.Rules().Roots() {
		if err := d.placeRoot(root); err != nil {
			return
		}
	}
	// Rule lists may also have changed while events were dropped.
	d.Reload(ctx)
}

// covered reports whether path lies under, or is, any root of rs.
func covered(path string, rs policy.RuleSet) bool {
	for _, root := range rs.Roots() {
		if watch.Within(path, root) {
			return true
		}
	}
	return false
}
