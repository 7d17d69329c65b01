// Package stream implements rfo transports over byte streams such as TCP
// connections and unix sockets.
package stream

import (
	"errors"
	"fmt"
	"io"

	"github.com/rfratto/remotefs/internal/rfo"
)

var byteOrder = rfo.ByteOrder

// WriteFrame writes a single frame holding payload for op to w. Short writes
// are retried until the whole frame has been written.
func WriteFrame(w io.Writer, op rfo.Op, payload []byte) error {
	total := rfo.HeaderSize + len(payload)
	if total > rfo.MaxMessageSize {
		return fmt.Errorf("%w: %s frame of %d bytes exceeds limit of %d", rfo.ErrMalformedFrame, op, total, rfo.MaxMessageSize)
	}

	buf := make([]byte, 0, total)
	buf = byteOrder.AppendUint32(buf, uint32(total))
	buf = byteOrder.AppendUint32(buf, uint32(op))
	buf = append(buf, payload...)

	for n := 0; n < total; {
		cur, err := w.Write(buf[n:])
		n += cur
		if err != nil {
			return err
		} else if cur == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// ReadFrame reads a single frame from r, returning its opcode and payload.
//
// io.EOF is returned if r ended cleanly between frames. If r ends in the
// middle of a frame, rfo.ErrConnectionClosed is returned instead. Frames
// with an impossible length fail with rfo.ErrMalformedFrame; the stream
// can't be resynchronized after that.
func ReadFrame(r io.Reader) (rfo.Op, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: stream ended inside frame header", rfo.ErrConnectionClosed)
		}
		return 0, nil, err
	}

	total := byteOrder.Uint32(lenBuf[:])
	if total < rfo.HeaderSize || total > rfo.MaxMessageSize {
		return 0, nil, fmt.Errorf("%w: invalid frame length %d", rfo.ErrMalformedFrame, total)
	}

	// The rest of the frame: the opcode followed by the payload.
	rest := make([]byte, total-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: stream ended inside %d byte frame", rfo.ErrConnectionClosed, total)
		}
		return 0, nil, err
	}

	op := rfo.Op(byteOrder.Uint32(rest[:4]))
	return op, rest[4:], nil
}
