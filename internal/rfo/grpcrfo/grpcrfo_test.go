package grpcrfo

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/rfratto/remotefs/internal/rfo/client"
	"github.com/rfratto/remotefs/internal/rfo/handles"
	"github.com/rfratto/remotefs/internal/rfo/server"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// newTestConn starts a gRPC server serving root and returns a connection
// to it.
func newTestConn(t *testing.T, root string) *grpc.ClientConn {
	t.Helper()

	srv, err := server.New(nil, server.Options{Root: root})
	require.NoError(t, err)

	gs := grpc.NewServer(ServerOptions()...)
	Register(gs, NewServer(nil, srv))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	cc, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestClient_OverGRPC(t *testing.T) {
	var (
		ctx  = context.Background()
		root = t.TempDir()
		cc   = newTestConn(t, root)
	)
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0755))

	tr, err := Dial(ctx, cc, nil)
	require.NoError(t, err)
	c, err := client.New(nil, client.Options{Transport: tr, Handles: handles.DefaultOptions})
	require.NoError(t, err)
	defer c.Close()

	fd, err := c.Open(ctx, "/hello", unix.O_RDWR|unix.O_CREAT, 0644)
	require.NoError(t, err)
	require.Equal(t, handles.DefaultOptions.Base, fd)

	n, err := c.Write(ctx, fd, []byte("hello, world"))
	require.NoError(t, err)
	require.Equal(t, 12, n)

	off, err := c.Seek(ctx, fd, 7, unix.SEEK_SET)
	require.NoError(t, err)
	require.Equal(t, int64(7), off)

	buf := make([]byte, 32)
	n, err = c.Read(ctx, fd, buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))
	require.NoError(t, c.CloseFile(ctx, fd))

	var st unix.Stat_t
	require.NoError(t, c.Stat(ctx, rfo.StatFollow, "/hello", &st))
	require.Equal(t, int64(12), st.Size)

	tree, err := c.GetDirTree(ctx, "/")
	require.NoError(t, err)
	require.Equal(t, 3, tree.Count())

	require.NoError(t, c.Unlink(ctx, "/hello"))
	err = c.Stat(ctx, rfo.StatFollow, "/hello", &st)
	require.ErrorIs(t, err, rfo.ErrorNotExist)
}

// rawStream opens a stream without going through a transport.
func rawStream(t *testing.T, ctx context.Context, cc *grpc.ClientConn) grpc.ClientStream {
	t.Helper()
	stream, err := cc.NewStream(ctx, &transportDesc.Streams[0], streamMethod)
	require.NoError(t, err)
	return stream
}

func TestServer_UnknownOpcode(t *testing.T) {
	var (
		ctx    = context.Background()
		cc     = newTestConn(t, t.TempDir())
		stream = rawStream(t, ctx, cc)
		codec  = MsgpackCodec()
	)

	out, err := codec.Marshal(&Frame{Op: rfo.Op(42)})
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(out))

	var in wrapperspb.BytesValue
	require.NoError(t, stream.RecvMsg(&in))
	f, err := codec.Unmarshal(&in)
	require.NoError(t, err)
	require.Equal(t, rfo.Op(42), f.Op)

	resp, err := rfo.DecodeResponse(f.Op, f.Payload)
	require.NoError(t, err)
	require.Equal(t, &rfo.ErrorResponse{Err: rfo.ErrorUnimplemented}, resp)
}

func TestServer_MalformedPayload(t *testing.T) {
	var (
		ctx    = context.Background()
		cc     = newTestConn(t, t.TempDir())
		stream = rawStream(t, ctx, cc)
	)

	out, err := MsgpackCodec().Marshal(&Frame{Op: rfo.OpClose, Payload: []byte{1}})
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(out))

	var in wrapperspb.BytesValue
	err = stream.RecvMsg(&in)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_UnsupportedCodec(t *testing.T) {
	var (
		ctx    = metadata.AppendToOutgoingContext(context.Background(), encodingKey, "json")
		cc     = newTestConn(t, t.TempDir())
		stream = rawStream(t, ctx, cc)
	)

	var in wrapperspb.BytesValue
	err := stream.RecvMsg(&in)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestClientTransport_Close(t *testing.T) {
	cc := newTestConn(t, t.TempDir())

	tr, err := Dial(context.Background(), cc, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	err = tr.SendRequest(&rfo.UnlinkRequest{Path: "/x"})
	require.ErrorIs(t, err, rfo.ErrConnectionClosed)

	_, _, err = tr.RecvResponse()
	require.ErrorIs(t, err, rfo.ErrConnectionClosed)
}

func TestDial_CanceledContext(t *testing.T) {
	cc := newTestConn(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, cc, nil)
	require.ErrorIs(t, err, context.Canceled)
}
