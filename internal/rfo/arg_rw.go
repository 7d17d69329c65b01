package rfo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ByteOrder is the byte order of fixed-width integers on the wire. The
// protocol doesn't normalize it across architectures.
var ByteOrder = binary.NativeEndian

var byteOrder = ByteOrder

var errIncomplete = errors.New("rfo: incomplete message")

// argReader allows popping individual arguments off of a payload. Any method
// that fails will panic with errIncomplete, allowing for recovery at the
// decode boundary through recoverIncomplete.
type argReader struct {
	data []byte
	off  int
}

func newArgReader(data []byte) *argReader { return &argReader{data: data} }

// Remaining returns the number of unread bytes.
func (ar *argReader) Remaining() int { return len(ar.data) - ar.off }

// take consumes n bytes.
func (ar *argReader) take(n int) []byte {
	if n < 0 || ar.Remaining() < n {
		panic(errIncomplete)
	}
	res := ar.data[ar.off : ar.off+n]
	ar.off += n
	return res
}

func (ar *argReader) Uint32() uint32 { return byteOrder.Uint32(ar.take(4)) }
func (ar *argReader) Int32() int32   { return int32(ar.Uint32()) }
func (ar *argReader) Uint64() uint64 { return byteOrder.Uint64(ar.take(8)) }
func (ar *argReader) Int64() int64   { return int64(ar.Uint64()) }

// Bytes pops n bytes from the arg reader. The result is a copy.
func (ar *argReader) Bytes(n uint64) []byte {
	if n > uint64(ar.Remaining()) {
		panic(errIncomplete)
	}
	res := make([]byte, n)
	copy(res, ar.take(int(n)))
	return res
}

// Rest pops all remaining bytes as a string. Used for unterminated paths
// whose length is implied by the frame.
func (ar *argReader) Rest() string {
	return string(ar.take(ar.Remaining()))
}

// String pops a NUL-terminated string. The NUL byte is consumed but not
// returned.
func (ar *argReader) String() string {
	buf := ar.data[ar.off:]
	nul := bytes.IndexByte(buf, 0)
	if nul == -1 {
		panic(errIncomplete)
	}
	ar.off += nul + 1
	return string(buf[:nul])
}

// Done panics with errIncomplete if there are unread bytes left over.
func (ar *argReader) Done() {
	if ar.Remaining() != 0 {
		panic(fmt.Errorf("%w: %d trailing bytes", errIncomplete, ar.Remaining()))
	}
}

// recoverIncomplete recovers a panic from argReader and stores it in err,
// wrapped with kind. Other panics are re-thrown. Must be called directly by
// defer.
func recoverIncomplete(err *error, kind error) {
	r := recover()
	if r == nil {
		return
	}
	if rerr, ok := r.(error); ok && errors.Is(rerr, errIncomplete) {
		*err = fmt.Errorf("%w: %s", kind, rerr)
		return
	}
	// Not from argReader, throw it back
	panic(r)
}

// argWriter allows queueing individual arguments onto a payload.
type argWriter struct {
	buf []byte
}

func newArgWriter(capacity int) *argWriter {
	return &argWriter{buf: make([]byte, 0, capacity)}
}

func (aw *argWriter) Uint32(v uint32) { aw.buf = byteOrder.AppendUint32(aw.buf, v) }
func (aw *argWriter) Int32(v int32)   { aw.Uint32(uint32(v)) }
func (aw *argWriter) Uint64(v uint64) { aw.buf = byteOrder.AppendUint64(aw.buf, v) }
func (aw *argWriter) Int64(v int64)   { aw.Uint64(uint64(v)) }

// Bytes writes b with no length prefix.
func (aw *argWriter) Bytes(b []byte) { aw.buf = append(aw.buf, b...) }

// Rest writes s unterminated. It must be the last argument written.
func (aw *argWriter) Rest(s string) { aw.buf = append(aw.buf, s...) }

// String writes s as a NUL-terminated string.
func (aw *argWriter) String(s string) {
	aw.buf = append(aw.buf, s...)
	aw.buf = append(aw.buf, 0)
}

// Len returns the number of bytes written so far.
func (aw *argWriter) Len() int { return len(aw.buf) }

// Finish returns the final payload.
func (aw *argWriter) Finish() []byte { return aw.buf }
