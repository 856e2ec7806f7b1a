package notify

import (
	"fmt"
	"strings"
)

// Kind is a bitmask of filesystem event kinds.
type Kind uint32

const KindNone Kind = 0

const (
	KindCreate Kind = 1 << iota
	KindModify
	KindDelete
	KindDeleteSelf
	KindMovedFrom
	KindMovedTo
	KindMoveSelf
	KindIgnored
	KindOverflow
	KindIsDir

	// KindOnlyDir is a registration flag: refuse anything but a real
	// directory and never follow a symlink.
	KindOnlyDir
)

// DirectoryKinds is the mask registered on every watched directory.
const DirectoryKinds = KindCreate | KindModify | KindDelete | KindDeleteSelf |
	KindMovedFrom | KindMovedTo | KindMoveSelf | KindOnlyDir

// FileKinds is the mask registered on the rule-list files.
const FileKinds = KindModify | KindDeleteSelf | KindMoveSelf

var kindNames = []struct {
	kind Kind
	name string
}{
	{KindCreate, "create"},
	{KindModify, "modify"},
	{KindDelete, "delete"},
	{KindDeleteSelf, "delete_self"},
	{KindMovedFrom, "moved_from"},
	{KindMovedTo, "moved_to"},
	{KindMoveSelf, "move_self"},
	{KindIgnored, "ignored"},
	{KindOverflow, "overflow"},
	{KindIsDir, "isdir"},
	{KindOnlyDir, "onlydir"},
}

func (k Kind) String() string {
	if k == KindNone {
		return "none"
	}
	var parts []string
	rest := k
	for _, kn := range kindNames {
		if k&kn.kind != 0 {
			parts = append(parts, kn.name)
			rest &^= kn.kind
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Has reports whether any bit of other is set in k.
func (k Kind) Has(other Kind) bool {
	return k&other != 0
}

// ParseKinds turns names such as "create" or "moved_to" into a mask.
func ParseKinds(names []string) (Kind, error) {
	var k Kind
	for _, n := range names {
		found := false
		for _, kn := range kindNames {
			if strings.EqualFold(strings.TrimSpace(n), kn.name) {
				k |= kn.kind
				found = true
				break
			}
		}
		if !found {
			return KindNone, fmt.Errorf("unknown event kind %q", n)
		}
	}
	return k, nil
}
