// Package server implements the server side of rfo. Requests read from a
// transport are passed through a middleware chain to a Handler, and the
// result is sent back to the peer.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/rfratto/remotefs/internal/rfo/localfs"
	"github.com/rfratto/remotefs/internal/rfo/stream"
	uuid "github.com/satori/go.uuid"
)

// Handler processes requests from a single connection. Returned errors are
// sent to the peer as errno values.
type Handler interface {
	// Close is called once the connection is done, no matter how it ended.
	// Any resources the peer left open must be released.
	Close() error

	Open(context.Context, *rfo.OpenRequest) (*rfo.OpenResponse, error)
	CloseFile(context.Context, *rfo.CloseRequest) error
	Write(context.Context, *rfo.WriteRequest) (*rfo.WriteResponse, error)
	Read(context.Context, *rfo.ReadRequest) (*rfo.ReadResponse, error)
	Seek(context.Context, *rfo.SeekRequest) (*rfo.SeekResponse, error)
	Stat(context.Context, *rfo.StatRequest) (*rfo.StatResponse, error)
	Unlink(context.Context, *rfo.UnlinkRequest) error
	ReadDirEntries(context.Context, *rfo.ReadDirEntriesRequest) (*rfo.ReadDirEntriesResponse, error)
	GetDirTree(context.Context, *rfo.GetDirTreeRequest) (*rfo.GetDirTreeResponse, error)
}

// ConnOptions configures ServeConn.
type ConnOptions struct {
	// Transport is the connection to serve. ServeConn takes ownership of the
	// Transport; do not close directly.
	Transport rfo.Transport

	// Handler is used for handling individual requests. ServeConn closes the
	// Handler when it exits.
	Handler Handler

	// Optional middleware to preprocess requests with.
	Middleware []Middleware
}

// ServeConn serves requests from a single connection, one at a time, until
// the peer disconnects, the transport fails, or ctx is canceled. A clean
// disconnect returns nil.
//
// Requests with an unknown opcode are answered with an ErrorResponse and
// the connection stays open.
func ServeConn(ctx context.Context, l log.Logger, o ConnOptions) error {
	if o.Transport == nil || o.Handler == nil {
		return fmt.Errorf("Transport and Handler must be set")
	}
	if l == nil {
		l = log.NewNopLogger()
	}

	var (
		mw      = chainMiddleware(o.Middleware)
		invoker = handlerInvoker(o.Handler)
	)

	// Receiving from the transport can't be canceled, so a dedicated
	// goroutine closes the transport to break out of the read loop.
	// Everything left open by the peer is released once the loop has
	// returned, so the handler never closes under an in-flight call.
	exited := make(chan struct{})
	defer func() {
		<-exited
		if err := o.Handler.Close(); err != nil {
			level.Warn(l).Log("msg", "error when releasing connection resources", "err", err)
		}
		level.Debug(l).Log("msg", "connection closed")
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer close(exited)
		<-ctx.Done()

		if err := o.Transport.Close(); err != nil {
			level.Warn(l).Log("msg", "error when closing transport", "err", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			level.Debug(l).Log("msg", "context canceled, breaking out of server read loop")
			return nil
		}

		op, req, err := o.Transport.RecvRequest()
		if errors.Is(err, io.EOF) {
			level.Debug(l).Log("msg", "got EOF from transport; exiting")
			return nil
		} else if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			level.Warn(l).Log("msg", "got error from transport; closing connection", "err", err)
			return err
		}

		var resp rfo.Response
		if req == nil {
			level.Debug(l).Log("msg", "rejecting unknown opcode", "op", op)
			resp = &rfo.ErrorResponse{Err: rfo.ErrorUnimplemented}
		} else {
			resp, err = mw.HandleRequest(ctx, op, req, invoker)
			if err != nil || resp == nil {
				resp = rfo.FailedResponse(op, errorForResponse(err))
			}
		}

		if err := o.Transport.SendResponse(op, resp); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			level.Warn(l).Log("msg", "failed to write response to transport", "op", op, "err", err)
			return err
		}
	}
}

func errorForResponse(err error) rfo.Error {
	switch {
	case err == nil:
		// A handler returned neither a response nor an error.
		return rfo.ErrorIO
	case errors.Is(err, context.DeadlineExceeded):
		return rfo.ErrorAborted
	case errors.Is(err, context.Canceled):
		return rfo.ErrorInterrupted
	}
	return rfo.ErrorFromErr(err)
}

// Options configures a Server.
type Options struct {
	// ConcurrencyLimit is the maximum number of connections a Server serves
	// at once. Further connections wait until a slot is free. If
	// ConcurrencyLimit is <= 0, it will obtain its default from
	// DefaultOptions.
	ConcurrencyLimit int

	// IdleTimeout closes stream connections which send no request for the
	// given duration. 0 means to never time out.
	IdleTimeout time.Duration

	// Root is the directory that request paths are resolved against.
	Root string

	// FS holds the primitives used to handle requests. Defaults to
	// localfs.Host().
	FS localfs.FS

	// NewHandler creates the Handler for a new connection. Defaults to a
	// Passthrough handler for Root and FS.
	NewHandler func(l log.Logger) Handler

	// Optional middleware to preprocess requests with. Request metrics and
	// logging are always added.
	Middleware []Middleware

	// Registerer to register metrics to. May be nil.
	Registerer prometheus.Registerer
}

// DefaultOptions provides defaults for Server.
var DefaultOptions = Options{
	ConcurrencyLimit: 64,
	Root:             "/",
}

// Server serves rfo connections. Every connection gets its own Handler, so
// handles opened by one peer are never visible to another.
type Server struct {
	log     log.Logger
	o       Options
	metrics *Metrics
	slots   chan struct{}
}

// New creates a new Server.
func New(l log.Logger, o Options) (*Server, error) {
	if l == nil {
		l = log.NewNopLogger()
	}
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = DefaultOptions.ConcurrencyLimit
	}
	if o.Root == "" {
		o.Root = DefaultOptions.Root
	}
	if o.FS == nil {
		o.FS = localfs.Host()
	}
	if o.NewHandler == nil {
		root, fsys := o.Root, o.FS
		o.NewHandler = func(l log.Logger) Handler { return Passthrough(l, root, fsys) }
	}

	return &Server{
		log:     l,
		o:       o,
		metrics: NewMetrics(o.Registerer),
		slots:   make(chan struct{}, o.ConcurrencyLimit),
	}, nil
}

// Serve accepts connections from lis and serves each in its own goroutine.
// Serve only returns if there was an error while accepting connections or
// if ctx is canceled. lis is closed when Serve exits.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var conns sync.WaitGroup
	defer conns.Wait()

	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	level.Info(s.log).Log("msg", "serving rfo connections", "addr", lis.Addr())
	for {
		if err := s.acquire(ctx); err != nil {
			return nil
		}

		nc, err := lis.Accept()
		if err != nil {
			s.release()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		conns.Add(1)
		go func() {
			defer conns.Done()
			defer s.release()

			t := stream.NewServerTransport(s.log, nc, stream.Options{IdleTimeout: s.o.IdleTimeout})
			_ = s.serve(ctx, t, nc.RemoteAddr().String())
		}()
	}
}

// ServeTransport serves a single connection from any transport, such as
// one created by package grpcrfo. It counts against ConcurrencyLimit.
func (s *Server) ServeTransport(ctx context.Context, t rfo.Transport, remote string) error {
	if err := s.acquire(ctx); err != nil {
		return multierror.Append(err, t.Close()).ErrorOrNil()
	}
	defer s.release()
	return s.serve(ctx, t, remote)
}

func (s *Server) serve(ctx context.Context, t rfo.Transport, remote string) error {
	s.metrics.connectionOpened()
	defer s.metrics.connectionClosed()

	l := log.With(s.log, "session", uuid.NewV4().String())
	level.Debug(l).Log("msg", "accepted connection", "remote", remote)

	mw := make([]Middleware, 0, len(s.o.Middleware)+2)
	mw = append(mw, s.metrics.Middleware(), NewLoggingMiddleware(l))
	mw = append(mw, s.o.Middleware...)

	err := ServeConn(ctx, l, ConnOptions{
		Transport:  t,
		Handler:    s.o.NewHandler(l),
		Middleware: mw,
	})
	if err != nil {
		level.Info(l).Log("msg", "connection terminated with error", "remote", remote, "err", err)
	}
	return err
}

func (s *Server) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) release() { <-s.slots }
