package policy

import "sort"

// RuleSet is the resolved set of protected root directories. It is
// recomputed wholesale on every rule-list change and never patched.
type RuleSet struct {
	roots map[string]struct{}
}

func NewRuleSet(roots ...string) RuleSet {
	rs := RuleSet{roots: make(map[string]struct{}, len(roots))}
	for _, r := range roots {
		rs.roots[r] = struct{}{}
	}
	return rs
}

func (rs RuleSet) Len() int {
	return len(rs.roots)
}

func (rs RuleSet) Contains(root string) bool {
	_, ok := rs.roots[root]
	return ok
}

// Roots returns the roots in lexical order.
func (rs RuleSet) Roots() []string {
	out := make([]string, 0, len(rs.roots))
	for r := range rs.roots {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (rs RuleSet) Equal(other RuleSet) bool {
	if rs.Len() != other.Len() {
		return false
	}
	for r := range rs.roots {
		if !other.Contains(r) {
			return false
		}
	}
	return true
}

// Diff returns the roots present only in next (added) and only in prev
// (removed), both sorted.
func Diff(prev, next RuleSet) (added, removed []string) {
	for _, r := range next.Roots() {
		if !prev.Contains(r) {
			added = append(added, r)
		}
	}
	for _, r := range prev.Roots() {
		if !next.Contains(r) {
			removed = append(removed, r)
		}
	}
	return added, removed
}
