package stream

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, rfo.OpRead, []byte("payload")))
	require.NoError(t, WriteFrame(&buf, rfo.OpClose, nil))

	require.Equal(t, uint32(rfo.HeaderSize+7), byteOrder.Uint32(buf.Bytes()))

	op, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, rfo.OpRead, op)
	require.Equal(t, []byte("payload"), payload)

	op, payload, err = ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, rfo.OpClose, op)
	require.Len(t, payload, 0)

	_, _, err = ReadFrame(&buf)
	require.Equal(t, io.EOF, err, "EOF between frames should be a clean close")
}

func TestReadFrame_Partial(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("abc"), 1000)
	require.NoError(t, WriteFrame(&buf, rfo.OpWrite, payload))

	// Deliver the frame a single byte at a time.
	op, actual, err := ReadFrame(iotest.OneByteReader(&buf))
	require.NoError(t, err)
	require.Equal(t, rfo.OpWrite, op)
	require.Equal(t, payload, actual)
}

func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, rfo.OpUnlink, []byte("/tmp/file")))
	frame := buf.Bytes()

	for _, n := range []int{1, 3, 4, 7, 8, len(frame) - 1} {
		_, _, err := ReadFrame(bytes.NewReader(frame[:n]))
		require.ErrorIs(t, err, rfo.ErrConnectionClosed, "truncated at %d bytes", n)
	}
}

func TestReadFrame_InvalidLength(t *testing.T) {
	for _, length := range []uint32{0, 7, rfo.MaxMessageSize + 1, 0xFFFFFFFF} {
		buf := byteOrder.AppendUint32(nil, length)
		buf = append(buf, make([]byte, 16)...)

		_, _, err := ReadFrame(bytes.NewReader(buf))
		require.ErrorIs(t, err, rfo.ErrMalformedFrame, "length %d", length)
	}
}

func TestReadFrame_ReaderError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := ReadFrame(iotest.ErrReader(boom))
	require.ErrorIs(t, err, boom)
}

// shortWriter accepts at most limit bytes per call.
type shortWriter struct {
	limit int
	buf   bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		p = p[:w.limit]
	}
	return w.buf.Write(p)
}

func TestWriteFrame_ShortWrites(t *testing.T) {
	w := &shortWriter{limit: 3}
	require.NoError(t, WriteFrame(w, rfo.OpSeek, []byte("0123456789")))

	op, payload, err := ReadFrame(&w.buf)
	require.NoError(t, err)
	require.Equal(t, rfo.OpSeek, op)
	require.Equal(t, []byte("0123456789"), payload)
}

func TestWriteFrame_ZeroWrite(t *testing.T) {
	err := WriteFrame(&shortWriter{limit: 0}, rfo.OpSeek, nil)
	require.ErrorIs(t, err, io.ErrShortWrite)
}

func TestWriteFrame_TooLarge(t *testing.T) {
	err := WriteFrame(io.Discard, rfo.OpWrite, make([]byte, rfo.MaxMessageSize))
	require.ErrorIs(t, err, rfo.ErrMalformedFrame)
}
