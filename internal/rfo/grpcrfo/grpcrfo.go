// Package grpcrfo carries rfo frames over a bidirectional gRPC stream. It
// lets rfo share a port with other gRPC services and pick up gRPC's
// transport security.
package grpcrfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/rfratto/remotefs/internal/rfo/server"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TransportServer is the server API for the remotefs.Transport service.
type TransportServer interface {
	// Stream serves a single rfo connection.
	Stream(grpc.ServerStream) error
}

const streamMethod = "/remotefs.Transport/Stream"

// maxStreamMessage leaves room for the Frame encoding around the largest
// rfo payload.
const maxStreamMessage = rfo.MaxMessageSize + 1024

// ServerOptions returns options for a grpc.Server which allow it to carry
// the largest rfo messages.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxStreamMessage),
		grpc.MaxSendMsgSize(maxStreamMessage),
	}
}

var transportDesc = grpc.ServiceDesc{
	ServiceName: "remotefs.Transport",
	HandlerType: (*TransportServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Stream",
		Handler:       streamHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "remotefs/transport",
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(TransportServer).Stream(stream)
}

// Register registers srv to s.
func Register(s grpc.ServiceRegistrar, srv TransportServer) {
	s.RegisterService(&transportDesc, srv)
}

// NewServer returns a TransportServer which hands streams off to srv.
func NewServer(l log.Logger, srv *server.Server) TransportServer {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &transportServer{log: l, srv: srv}
}

type transportServer struct {
	log log.Logger
	srv *server.Server
}

func (ts *transportServer) Stream(stream grpc.ServerStream) error {
	ctx := stream.Context()

	codec, err := GetCodec(ctx)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	remote := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}

	err = ts.srv.ServeTransport(ctx, NewServerTransport(ts.log, stream, codec), remote)
	if errors.Is(err, rfo.ErrMalformedFrame) {
		return status.Error(codes.InvalidArgument, err.Error())
	} else if err != nil && ctx.Err() == nil {
		return status.Error(codes.Internal, err.Error())
	}
	return nil
}

// Dial opens a new rfo stream on cc.
func Dial(ctx context.Context, cc grpc.ClientConnInterface, codec Codec) (rfo.ClientTransport, error) {
	if codec == nil {
		codec = MsgpackCodec()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The stream lives until the transport is closed, not until ctx is done.
	// Outgoing metadata from ctx is carried over.
	streamCtx, cancel := context.WithCancel(context.Background())
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		streamCtx = metadata.NewOutgoingContext(streamCtx, md)
	}
	streamCtx = WithCodec(streamCtx, codec)

	stream, err := cc.NewStream(
		streamCtx,
		&transportDesc.Streams[0],
		streamMethod,
		grpc.MaxCallRecvMsgSize(maxStreamMessage),
		grpc.MaxCallSendMsgSize(maxStreamMessage),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	return NewClientTransport(stream, codec, cancel), nil
}

// NewServerTransport returns an rfo.Transport from the server side of a
// gRPC stream. Closing the transport stops it from being used, but the
// stream itself only ends when the handler returns.
func NewServerTransport(l log.Logger, stream grpc.ServerStream, codec Codec) rfo.Transport {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &serverTransport{log: l, stream: stream, codec: codec}
}

type serverTransport struct {
	log    log.Logger
	stream grpc.ServerStream
	codec  Codec
	closed atomic.Bool

	rmut sync.Mutex
	wmut sync.Mutex
}

var _ rfo.Transport = (*serverTransport)(nil)

func (st *serverTransport) RecvRequest() (rfo.Op, rfo.Request, error) {
	st.rmut.Lock()
	defer st.rmut.Unlock()

	if st.closed.Load() {
		return 0, nil, rfo.ErrConnectionClosed
	}

	var in wrapperspb.BytesValue
	err := st.stream.RecvMsg(&in)
	if s, ok := status.FromError(err); ok && s.Code() == codes.Canceled {
		return 0, nil, io.EOF
	} else if err != nil {
		return 0, nil, err
	}

	f, err := st.codec.Unmarshal(&in)
	if err != nil {
		return 0, nil, err
	}
	req, err := rfo.DecodeRequest(f.Op, f.Payload)
	if errors.Is(err, rfo.ErrUnknownOpcode) {
		level.Debug(st.log).Log("msg", "discarding request with unknown opcode", "op", f.Op)
		return f.Op, nil, nil
	} else if err != nil {
		return f.Op, nil, fmt.Errorf("decoding %s request: %w", f.Op, err)
	}
	return f.Op, req, nil
}

func (st *serverTransport) SendResponse(op rfo.Op, r rfo.Response) error {
	st.wmut.Lock()
	defer st.wmut.Unlock()

	if st.closed.Load() {
		return rfo.ErrConnectionClosed
	}

	payload, err := rfo.EncodeResponse(op, r)
	if err != nil {
		level.Warn(st.log).Log("msg", "failed to encode response, reporting EIO to peer", "op", op, "err", err)
		if payload, err = rfo.EncodeResponse(op, rfo.FailedResponse(op, rfo.ErrorIO)); err != nil {
			return fmt.Errorf("encoding %s response: %w", op, err)
		}
	}
	out, err := st.codec.Marshal(&Frame{Op: op, Payload: payload})
	if err != nil {
		return err
	}
	return st.stream.SendMsg(out)
}

func (st *serverTransport) Close() error {
	st.closed.Store(true)
	return nil
}

// NewClientTransport returns an rfo.ClientTransport from the client side of
// a gRPC stream. cancel is called on Close and must cancel the context the
// stream was created with.
func NewClientTransport(stream grpc.ClientStream, codec Codec, cancel context.CancelFunc) rfo.ClientTransport {
	return &clientTransport{stream: stream, codec: codec, cancel: cancel}
}

type clientTransport struct {
	stream grpc.ClientStream
	codec  Codec
	cancel context.CancelFunc
	closed atomic.Bool

	rmut sync.Mutex
	wmut sync.Mutex
}

var _ rfo.ClientTransport = (*clientTransport)(nil)

func (ct *clientTransport) SendRequest(r rfo.Request) error {
	ct.wmut.Lock()
	defer ct.wmut.Unlock()

	if ct.closed.Load() {
		return rfo.ErrConnectionClosed
	}

	op, payload, err := rfo.EncodeRequest(r)
	if err != nil {
		return err
	}
	out, err := ct.codec.Marshal(&Frame{Op: op, Payload: payload})
	if err != nil {
		return err
	}
	if err := ct.stream.SendMsg(out); err != nil {
		return ct.streamError(err)
	}
	return nil
}

func (ct *clientTransport) RecvResponse() (rfo.Op, rfo.Response, error) {
	ct.rmut.Lock()
	defer ct.rmut.Unlock()

	var in wrapperspb.BytesValue
	if err := ct.stream.RecvMsg(&in); err != nil {
		return 0, nil, ct.streamError(err)
	}

	f, err := ct.codec.Unmarshal(&in)
	if err != nil {
		return 0, nil, err
	}
	resp, err := rfo.DecodeResponse(f.Op, f.Payload)
	if err != nil {
		return f.Op, nil, fmt.Errorf("decoding %s response: %w", f.Op, err)
	}
	return f.Op, resp, nil
}

// streamError maps the ways a gRPC stream ends to ErrConnectionClosed.
func (ct *clientTransport) streamError(err error) error {
	if ct.closed.Load() || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s", rfo.ErrConnectionClosed, err)
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Canceled, codes.Unavailable:
			return fmt.Errorf("%w: %s", rfo.ErrConnectionClosed, s.Message())
		}
	}
	return err
}

func (ct *clientTransport) Close() error {
	if !ct.closed.CAS(false, true) {
		return nil
	}

	ct.wmut.Lock()
	err := ct.stream.CloseSend()
	ct.wmut.Unlock()

	ct.cancel()
	return err
}
