package server

import (
	"context"

	"github.com/rfratto/remotefs/internal/rfo"
)

// UnimplementedHandler implements Handler and returns ErrorUnimplemented for
// all requests. Embed it to implement a subset of Handler.
type UnimplementedHandler struct{}

// Static type check test
var _ Handler = UnimplementedHandler{}

func (UnimplementedHandler) Close() error {
	return nil
}

func (UnimplementedHandler) Open(context.Context, *rfo.OpenRequest) (*rfo.OpenResponse, error) {
	return nil, rfo.ErrorUnimplemented
}

func (UnimplementedHandler) CloseFile(context.Context, *rfo.CloseRequest) error {
	return rfo.ErrorUnimplemented
}

func (UnimplementedHandler) Write(context.Context, *rfo.WriteRequest) (*rfo.WriteResponse, error) {
	return nil, rfo.ErrorUnimplemented
}

func (UnimplementedHandler) Read(context.Context, *rfo.ReadRequest) (*rfo.ReadResponse, error) {
	return nil, rfo.ErrorUnimplemented
}

func (UnimplementedHandler) Seek(context.Context, *rfo.SeekRequest) (*rfo.SeekResponse, error) {
	return nil, rfo.ErrorUnimplemented
}

func (UnimplementedHandler) Stat(context.Context, *rfo.StatRequest) (*rfo.StatResponse, error) {
	return nil, rfo.ErrorUnimplemented
}

func (UnimplementedHandler) Unlink(context.Context, *rfo.UnlinkRequest) error {
	return rfo.ErrorUnimplemented
}

func (UnimplementedHandler) ReadDirEntries(context.Context, *rfo.ReadDirEntriesRequest) (*rfo.ReadDirEntriesResponse, error) {
	return nil, rfo.ErrorUnimplemented
}

func (UnimplementedHandler) GetDirTree(context.Context, *rfo.GetDirTreeRequest) (*rfo.GetDirTreeResponse, error) {
	return nil, rfo.ErrorUnimplemented
}
