package grpcrfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// encodingKey is the metadata key used to negotiate a Codec.
const encodingKey = "x-rfo-frame-encoding"

// Frame is a single rfo message carried over gRPC. Payload holds the same
// bytes a stream transport would send after the frame header.
type Frame struct {
	Op      rfo.Op `msgpack:"op"`
	Payload []byte `msgpack:"payload"`
}

// Codec converts Frames to and from the messages sent over the gRPC stream.
type Codec interface {
	Name() string

	Marshal(*Frame) (*wrapperspb.BytesValue, error)
	Unmarshal(*wrapperspb.BytesValue) (*Frame, error)
}

// GetCodec retrieves the Codec requested by the peer from a gRPC request
// context. If the peer didn't ask for one, the default codec is used.
func GetCodec(ctx context.Context) (Codec, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return MsgpackCodec(), nil
	}

	negotiated := md.Get(encodingKey)
	if len(negotiated) == 0 {
		return MsgpackCodec(), nil
	}
	for _, v := range negotiated {
		switch v {
		case "msgpack":
			return MsgpackCodec(), nil
		}
	}

	return nil, fmt.Errorf("no valid codecs within %q. supported codecs: msgpack", strings.Join(negotiated, ","))
}

// WithCodec requests c from the server for streams opened with the returned
// context.
func WithCodec(ctx context.Context, c Codec) context.Context {
	return metadata.AppendToOutgoingContext(ctx, encodingKey, c.Name())
}

// MsgpackCodec returns a Codec using msgpack.
func MsgpackCodec() Codec { return msgpackCodec{} }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(f *Frame) (*wrapperspb.BytesValue, error) {
	bb, err := msgpack.Marshal(f)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(bb), nil
}

func (msgpackCodec) Unmarshal(in *wrapperspb.BytesValue) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(in.GetValue(), &f); err != nil {
		return nil, fmt.Errorf("%w: %s", rfo.ErrMalformedFrame, err)
	}
	if rfo.HeaderSize+len(f.Payload) > rfo.MaxMessageSize {
		return nil, fmt.Errorf("%w: payload of %d bytes is too large", rfo.ErrMalformedFrame, len(f.Payload))
	}
	return &f, nil
}
