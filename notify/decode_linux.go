//go:build linux

package notify

import (
	"bytes"
	"encoding/binary"
	"iter"

	"golang.org/x/sys/unix"
)

// Decoder frames the inotify byte stream into events. A record cut short by
// a read is kept until the rest of it arrives.
type Decoder struct {
	buf []byte
}

// Feed appends freshly read bytes.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Buffered reports how many undecoded bytes are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Events yields every complete record currently buffered. Consumed bytes are
// dropped even if iteration stops early.
func (d *Decoder) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		offset := 0
		defer func() {
			d.buf = append(d.buf[:0], d.buf[offset:]...)
		}()

		for len(d.buf)-offset >= unix.SizeofInotifyEvent {
			hdr := d.buf[offset : offset+unix.SizeofInotifyEvent]
			wd := int32(binary.NativeEndian.Uint32(hdr[0:4]))
			mask := binary.NativeEndian.Uint32(hdr[4:8])
			nameLen := int(binary.NativeEndian.Uint32(hdr[12:16]))

			end := offset + unix.SizeofInotifyEvent + nameLen
			if end > len(d.buf) {
				return
			}

			name := d.buf[offset+unix.SizeofInotifyEvent : end]
			if i := bytes.IndexByte(name, 0); i >= 0 {
				name = name[:i]
			}
			ev := Event{
				Handle: Handle(wd),
				Kinds:  kindsFromMask(mask),
				Name:   string(name),
			}
			offset = end

			if !yield(ev) {
				return
			}
		}
	}
}

var inotifyKinds = []struct {
	mask uint32
	kind Kind
}{
	{unix.IN_CREATE, KindCreate},
	{unix.IN_MODIFY, KindModify},
	{unix.IN_DELETE, KindDelete},
	{unix.IN_DELETE_SELF, KindDeleteSelf},
	{unix.IN_MOVED_FROM, KindMovedFrom},
	{unix.IN_MOVED_TO, KindMovedTo},
	{unix.IN_MOVE_SELF, KindMoveSelf},
	{unix.IN_IGNORED, KindIgnored},
	{unix.IN_Q_OVERFLOW, KindOverflow},
	{unix.IN_ISDIR, KindIsDir},
	{unix.IN_ONLYDIR | unix.IN_DONT_FOLLOW, KindOnlyDir},
}

func kindsFromMask(mask uint32) Kind {
	var k Kind
	for _, ik := range inotifyKinds {
		if mask&ik.mask != 0 {
			k |= ik.kind
		}
	}
	return k
}

func maskFromKinds(k Kind) uint32 {
	var mask uint32
	for _, ik := range inotifyKinds {
		if k&ik.kind != 0 {
			mask |= ik.mask
		}
	}
	return mask
}
