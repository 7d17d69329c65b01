// Package client implements the client side of rfo. A Client offers the
// same file primitives as the local machine, and routes each call either to
// the local machine or to a server depending on which handle it's given.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/rfratto/remotefs/internal/rfo/handles"
	"github.com/rfratto/remotefs/internal/rfo/localfs"
	"github.com/rfratto/remotefs/internal/rfo/stream"
	"golang.org/x/sys/unix"
)

// Options configures a Client.
type Options struct {
	// Transport to send requests over. Required by New; set by Dial. The
	// Client takes ownership of the Transport.
	Transport rfo.ClientTransport

	// Local primitives used for local handles. Defaults to localfs.Host().
	Local localfs.FS

	// Handles configures the split between local and remote handles.
	Handles handles.Options
}

// DefaultOptions provides defaults for Client.
var DefaultOptions = Options{
	Handles: handles.DefaultOptions,
}

// Client is an rfo client. Calls may be made from multiple goroutines, but
// only one request is in flight at a time.
type Client struct {
	log   log.Logger
	t     rfo.ClientTransport
	local localfs.FS

	// mut serializes round trips and protects the handle space.
	mut     sync.Mutex
	handles *handles.Space
	broken  error
}

// New creates a new Client using o.Transport.
func New(l log.Logger, o Options) (*Client, error) {
	if o.Transport == nil {
		return nil, fmt.Errorf("Transport must be set")
	}
	if l == nil {
		l = log.NewNopLogger()
	}
	if o.Local == nil {
		o.Local = localfs.Host()
	}

	space, err := handles.New(o.Handles)
	if err != nil {
		return nil, err
	}
	return &Client{
		log:     l,
		t:       o.Transport,
		local:   o.Local,
		handles: space,
	}, nil
}

// Dial connects to the server at addr and returns a Client for it. addr is
// either host:port or a URL with a tcp:// or unix:// scheme.
func Dial(ctx context.Context, l log.Logger, addr string, o Options) (*Client, error) {
	network, address := "tcp", addr
	if rest, ok := strings.CutPrefix(addr, "unix://"); ok {
		network, address = "unix", rest
	} else if rest, ok := strings.CutPrefix(addr, "tcp://"); ok {
		address = rest
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	o.Transport = stream.NewClientTransport(l, nc)
	c, err := New(l, o)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the connection to the server. The server releases every
// remote handle left open.
func (c *Client) Close() error {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.broken == nil {
		c.broken = errors.New("client closed")
	}
	for _, h := range c.handles.Live() {
		c.handles.Release(h)
	}
	return c.t.Close()
}

// Open opens a file on the server and returns a remote handle for it.
func (c *Client) Open(ctx context.Context, path string, flags int, mode uint32) (int, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	resp, err := c.roundTrip(ctx, &rfo.OpenRequest{Flags: int32(flags), Mode: mode, Path: path})
	if err != nil {
		return -1, err
	}
	or := resp.(*rfo.OpenResponse)
	if or.Err != 0 {
		return -1, or.Err
	}

	h, err := c.handles.Register(or.Handle)
	if err != nil {
		// The server opened the file but it can't be represented locally.
		// Give it back so it doesn't leak until disconnect.
		level.Warn(c.log).Log("msg", "remote handle out of range, closing it", "path", path, "handle", or.Handle, "err", err)
		if _, cerr := c.roundTrip(ctx, &rfo.CloseRequest{Handle: or.Handle}); cerr != nil {
			level.Warn(c.log).Log("msg", "failed to close out of range handle", "handle", or.Handle, "err", cerr)
		}
		return -1, err
	}
	return h, nil
}

// CloseFile closes fd.
func (c *Client) CloseFile(ctx context.Context, fd int) error {
	c.mut.Lock()
	defer c.mut.Unlock()

	class, server := c.handles.Classify(fd)
	switch class {
	case handles.Local:
		return c.local.Close(fd)
	case handles.Invalid:
		return &rfo.InvalidHandleError{Handle: fd}
	}

	resp, err := c.roundTrip(ctx, &rfo.CloseRequest{Handle: server})
	if err != nil {
		return err
	}
	e := resp.(*rfo.CloseResponse).Err
	if e == 0 || e == rfo.ErrorBadHandle {
		// Either way the server no longer knows about the handle.
		c.handles.Release(fd)
	}
	if e != 0 {
		return e
	}
	return nil
}

// Read reads up to len(p) bytes from fd. Reads from remote handles are
// limited to rfo.MaxIOSize bytes.
func (c *Client) Read(ctx context.Context, fd int, p []byte) (int, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	class, server := c.handles.Classify(fd)
	switch class {
	case handles.Local:
		return c.local.Read(fd, p)
	case handles.Invalid:
		return -1, &rfo.InvalidHandleError{Handle: fd}
	}

	resp, err := c.roundTrip(ctx, &rfo.ReadRequest{Handle: server, Count: uint64(clampIO(len(p)))})
	if err != nil {
		return -1, err
	}
	rr := resp.(*rfo.ReadResponse)
	if rr.Err != 0 {
		return -1, rr.Err
	}
	if len(rr.Data) > len(p) {
		return -1, c.fail(fmt.Errorf("%w: server returned %d bytes for a %d byte read", rfo.ErrMalformedFrame, len(rr.Data), len(p)))
	}
	return copy(p, rr.Data), nil
}

// Write writes p to fd. Writes to remote handles are limited to
// rfo.MaxIOSize bytes; the number of bytes written is returned.
func (c *Client) Write(ctx context.Context, fd int, p []byte) (int, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	class, server := c.handles.Classify(fd)
	switch class {
	case handles.Local:
		return c.local.Write(fd, p)
	case handles.Invalid:
		return -1, &rfo.InvalidHandleError{Handle: fd}
	}

	data := p[:clampIO(len(p))]
	resp, err := c.roundTrip(ctx, &rfo.WriteRequest{Handle: server, Data: data})
	if err != nil {
		return -1, err
	}
	wr := resp.(*rfo.WriteResponse)
	if wr.Err != 0 {
		return -1, wr.Err
	}
	if wr.Written < 0 || wr.Written > int64(len(data)) {
		return -1, c.fail(fmt.Errorf("%w: server wrote %d bytes of a %d byte write", rfo.ErrMalformedFrame, wr.Written, len(data)))
	}
	return int(wr.Written), nil
}

// Seek sets the offset of fd.
func (c *Client) Seek(ctx context.Context, fd int, offset int64, whence int) (int64, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	class, server := c.handles.Classify(fd)
	switch class {
	case handles.Local:
		return c.local.Seek(fd, offset, whence)
	case handles.Invalid:
		return -1, &rfo.InvalidHandleError{Handle: fd}
	}

	resp, err := c.roundTrip(ctx, &rfo.SeekRequest{Handle: server, Offset: offset, Whence: int32(whence)})
	if err != nil {
		return -1, err
	}
	sr := resp.(*rfo.SeekResponse)
	if sr.Err != 0 {
		return -1, sr.Err
	}
	return sr.Offset, nil
}

// Stat gets metadata for path on the server and stores it in st.
func (c *Client) Stat(ctx context.Context, variant rfo.StatVariant, path string, st *unix.Stat_t) error {
	c.mut.Lock()
	defer c.mut.Unlock()

	resp, err := c.roundTrip(ctx, &rfo.StatRequest{Variant: variant, Path: path})
	if err != nil {
		return err
	}
	sr := resp.(*rfo.StatResponse)
	if sr.Err != 0 {
		return sr.Err
	}
	sr.Record.CopyTo(st)
	return nil
}

// Unlink removes path on the server.
func (c *Client) Unlink(ctx context.Context, path string) error {
	c.mut.Lock()
	defer c.mut.Unlock()

	resp, err := c.roundTrip(ctx, &rfo.UnlinkRequest{Path: path})
	if err != nil {
		return err
	}
	if e := resp.(*rfo.UnlinkResponse).Err; e != 0 {
		return e
	}
	return nil
}

// ReadDirEntries reads raw directory entries from the directory open at fd
// into p. cursor is updated to the position reported for the batch.
func (c *Client) ReadDirEntries(ctx context.Context, fd int, p []byte, cursor *int64) (int, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	class, server := c.handles.Classify(fd)
	switch class {
	case handles.Local:
		return c.local.ReadDirEntries(fd, p, cursor)
	case handles.Invalid:
		return -1, &rfo.InvalidHandleError{Handle: fd}
	}

	req := &rfo.ReadDirEntriesRequest{Handle: server, Count: uint64(clampIO(len(p)))}
	if cursor != nil {
		req.Cursor = *cursor
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return -1, err
	}
	rr := resp.(*rfo.ReadDirEntriesResponse)
	if rr.Err != 0 {
		return -1, rr.Err
	}
	if len(rr.Data) > len(p) {
		return -1, c.fail(fmt.Errorf("%w: server returned %d bytes of entries for a %d byte buffer", rfo.ErrMalformedFrame, len(rr.Data), len(p)))
	}
	if cursor != nil {
		*cursor = rr.Cursor
	}
	return copy(p, rr.Data), nil
}

// GetDirTree returns the directory tree rooted at path on the server.
func (c *Client) GetDirTree(ctx context.Context, path string) (*rfo.DirTree, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	resp, err := c.roundTrip(ctx, &rfo.GetDirTreeRequest{Path: path})
	if err != nil {
		return nil, err
	}
	gr := resp.(*rfo.GetDirTreeResponse)
	if gr.Err != 0 {
		return nil, gr.Err
	}
	return gr.Tree, nil
}

// roundTrip sends req and waits for its response. The response is
// guaranteed to be the response type for req, unless an error is returned.
// mut must be held.
func (c *Client) roundTrip(ctx context.Context, req rfo.Request) (rfo.Response, error) {
	if c.broken != nil {
		return nil, fmt.Errorf("%w: %s", rfo.ErrConnectionClosed, c.broken)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	op, err := rfo.GetOp(req)
	if err != nil {
		return nil, err
	}

	// A round trip can't be abandoned half way without desynchronizing the
	// stream, so cancellation tears down the whole connection.
	stop := context.AfterFunc(ctx, func() { _ = c.t.Close() })
	defer stop()

	level.Debug(c.log).Log("msg", "sending request", "op", op)

	if err := c.t.SendRequest(req); err != nil {
		return nil, c.failCtx(ctx, fmt.Errorf("sending %s request: %w", op, err))
	}
	respOp, resp, err := c.t.RecvResponse()
	if err != nil {
		return nil, c.failCtx(ctx, fmt.Errorf("receiving %s response: %w", op, err))
	}
	if respOp != op {
		return nil, c.fail(fmt.Errorf("%w: got %s response to %s request", rfo.ErrMalformedFrame, respOp, op))
	}

	if er, ok := resp.(*rfo.ErrorResponse); ok {
		level.Debug(c.log).Log("msg", "server rejected request", "op", op, "err", er.Err)
		return nil, er.Err
	}
	level.Debug(c.log).Log("msg", "received response", "op", op, "err", rfo.ResponseError(resp))
	return resp, nil
}

// fail marks the connection as unusable and returns err. mut must be held.
func (c *Client) fail(err error) error {
	if c.broken == nil {
		level.Warn(c.log).Log("msg", "connection failed, no further requests will be sent", "err", err)
		c.broken = err
		_ = c.t.Close()
	}
	return err
}

func (c *Client) failCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%s)", ctxErr, err)
	}
	return c.fail(err)
}

func clampIO(n int) int {
	if n > rfo.MaxIOSize {
		return rfo.MaxIOSize
	}
	return n
}
