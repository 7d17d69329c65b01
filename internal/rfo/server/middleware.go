package server

import (
	"context"
	"fmt"

	"github.com/rfratto/remotefs/internal/rfo"
)

// Middleware hooks into requests.
type Middleware interface {
	// HandleRequest handles an individual request.
	HandleRequest(ctx context.Context, op rfo.Op, req rfo.Request, invoker Invoker) (rfo.Response, error)
}

// Invoker is called by Middleware to complete requests.
type Invoker func(ctx context.Context, op rfo.Op, req rfo.Request) (rfo.Response, error)

// FuncMiddleware is a function that implements Middleware.
type FuncMiddleware func(ctx context.Context, op rfo.Op, req rfo.Request, i Invoker) (rfo.Response, error)

func (f FuncMiddleware) HandleRequest(ctx context.Context, op rfo.Op, req rfo.Request, i Invoker) (rfo.Response, error) {
	return f(ctx, op, req, i)
}

// handlerInvoker converts h into an Invoker.
func handlerInvoker(h Handler) Invoker {
	return func(ctx context.Context, op rfo.Op, req rfo.Request) (resp rfo.Response, err error) {
		switch op {
		case rfo.OpOpen:
			req, _ := req.(*rfo.OpenRequest)
			if req == nil {
				err = missingBody(op)
				break
			}
			resp, err = response(h.Open(ctx, req))

		case rfo.OpClose:
			req, _ := req.(*rfo.CloseRequest)
			if req == nil {
				err = missingBody(op)
				break
			}
			if err = h.CloseFile(ctx, req); err == nil {
				resp = &rfo.CloseResponse{}
			}

		case rfo.OpWrite:
			req, _ := req.(*rfo.WriteRequest)
			if req == nil {
				err = missingBody(op)
				break
			}
			resp, err = response(h.Write(ctx, req))

		case rfo.OpRead:
			req, _ := req.(*rfo.ReadRequest)
			if req == nil {
				err = missingBody(op)
				break
			}
			resp, err = response(h.Read(ctx, req))

		case rfo.OpSeek:
			req, _ := req.(*rfo.SeekRequest)
			if req == nil {
				err = missingBody(op)
				break
			}
			resp, err = response(h.Seek(ctx, req))

		case rfo.OpStat:
			req, _ := req.(*rfo.StatRequest)
			if req == nil {
				err = missingBody(op)
				break
			}
			resp, err = response(h.Stat(ctx, req))

		case rfo.OpUnlink:
			req, _ := req.(*rfo.UnlinkRequest)
			if req == nil {
				err = missingBody(op)
				break
			}
			if err = h.Unlink(ctx, req); err == nil {
				resp = &rfo.UnlinkResponse{}
			}

		case rfo.OpReadDirEntries:
			req, _ := req.(*rfo.ReadDirEntriesRequest)
			if req == nil {
				err = missingBody(op)
				break
			}
			resp, err = response(h.ReadDirEntries(ctx, req))

		case rfo.OpGetDirTree:
			req, _ := req.(*rfo.GetDirTreeRequest)
			if req == nil {
				err = missingBody(op)
				break
			}
			resp, err = response(h.GetDirTree(ctx, req))

		default:
			err = fmt.Errorf("unexpected opcode %s: %w", op, rfo.ErrorUnimplemented)
		}

		return resp, err
	}
}

// response converts the result of a Handler method into an rfo.Response,
// making sure a nil pointer never ends up inside of a non-nil interface.
func response[R any, P interface {
	*R
	rfo.Response
}](r P, err error) (rfo.Response, error) {
	if err != nil {
		return nil, err
	} else if r == nil {
		return nil, fmt.Errorf("handler returned no response: %w", rfo.ErrorIO)
	}
	return r, nil
}

func missingBody(op rfo.Op) error {
	return fmt.Errorf("missing request body for %s: %w", op, rfo.ErrorInvalid)
}

type chainMiddleware []Middleware

func (c chainMiddleware) HandleRequest(ctx context.Context, op rfo.Op, req rfo.Request, invoker Invoker) (rfo.Response, error) {
	if len(c) == 0 {
		return invoker(ctx, op, req)
	}

	var (
		index        int
		chainInvoker Invoker
	)

	chainInvoker = func(ctx context.Context, op rfo.Op, req rfo.Request) (rfo.Response, error) {
		mw := c[index]
		index++

		var next Invoker
		if index == len(c) {
			next = invoker
		} else {
			next = chainInvoker
		}

		return mw.HandleRequest(ctx, op, req, next)
	}
	return chainInvoker(ctx, op, req)
}
