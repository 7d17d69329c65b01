//go:build unix

package rfo

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// StatRecordSize is the size of a metadata record on the wire.
const StatRecordSize = int(unsafe.Sizeof(unix.Stat_t{}))

// StatRecord is an opaque metadata record: the raw bytes of the host's
// unix.Stat_t. It is not portable across architectures.
type StatRecord [StatRecordSize]byte

// NewStatRecord copies st into a metadata record.
func NewStatRecord(st *unix.Stat_t) StatRecord {
	var rec StatRecord
	copy(rec[:], unsafe.Slice((*byte)(unsafe.Pointer(st)), StatRecordSize))
	return rec
}

// CopyTo copies the record into st.
func (rec *StatRecord) CopyTo(st *unix.Stat_t) {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(st)), StatRecordSize), rec[:])
}
