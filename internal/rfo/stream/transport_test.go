package stream

import (
	"net"
	"testing"
	"time"

	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/stretchr/testify/require"
)

func TestTransport_RoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewClientTransport(nil, clientConn)
	srv := NewServerTransport(nil, serverConn, Options{})
	defer client.Close()
	defer srv.Close()

	go func() {
		op, req, err := srv.RecvRequest()
		if err != nil {
			return
		}
		open := req.(*rfo.OpenRequest)
		_ = srv.SendResponse(op, &rfo.OpenResponse{Handle: int32(len(open.Path))})
	}()

	require.NoError(t, client.SendRequest(&rfo.OpenRequest{Path: "/abc"}))
	op, resp, err := client.RecvResponse()
	require.NoError(t, err)
	require.Equal(t, rfo.OpOpen, op)
	require.Equal(t, &rfo.OpenResponse{Handle: 4}, resp)
}

func TestServerTransport_UnknownOpcode(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	srv := NewServerTransport(nil, serverConn, Options{})
	defer clientConn.Close()
	defer srv.Close()

	go func() { _ = WriteFrame(clientConn, rfo.Op(42), []byte("ignored")) }()

	op, req, err := srv.RecvRequest()
	require.NoError(t, err)
	require.Equal(t, rfo.Op(42), op)
	require.Nil(t, req)
}

func TestServerTransport_Malformed(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	srv := NewServerTransport(nil, serverConn, Options{})
	defer clientConn.Close()
	defer srv.Close()

	// CLOSE needs a 4-byte handle.
	go func() { _ = WriteFrame(clientConn, rfo.OpClose, []byte{1}) }()

	_, _, err := srv.RecvRequest()
	require.ErrorIs(t, err, rfo.ErrMalformedFrame)
}

func TestServerTransport_IdleTimeout(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	srv := NewServerTransport(nil, serverConn, Options{IdleTimeout: 50 * time.Millisecond})
	defer clientConn.Close()
	defer srv.Close()

	_, _, err := srv.RecvRequest()
	require.Error(t, err)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}

func TestClientTransport_ServerGone(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewClientTransport(nil, clientConn)
	defer client.Close()

	go func() {
		_, _, _ = ReadFrame(serverConn)
		_ = serverConn.Close()
	}()

	require.NoError(t, client.SendRequest(&rfo.CloseRequest{Handle: 1}))
	_, _, err := client.RecvResponse()
	require.ErrorIs(t, err, rfo.ErrConnectionClosed)
}

func TestTransport_UseAfterClose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	client := NewClientTransport(nil, clientConn)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close(), "closing twice should be a no-op")

	require.ErrorIs(t, client.SendRequest(&rfo.CloseRequest{}), rfo.ErrConnectionClosed)
	_, _, err := client.RecvResponse()
	require.ErrorIs(t, err, rfo.ErrConnectionClosed)
}
