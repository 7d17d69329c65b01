package stream

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/remotefs/internal/rfo"
	"go.uber.org/atomic"
)

// Options configures a stream transport.
type Options struct {
	// IdleTimeout closes the connection if no request arrives within the
	// duration. Only used by server transports, and only when the stream is
	// a net.Conn. 0 disables the timeout.
	IdleTimeout time.Duration
}

// conn is shared between the server and client transports.
type conn struct {
	log    log.Logger
	rwc    io.ReadWriteCloser
	closed atomic.Bool

	rmut sync.Mutex
	wmut sync.Mutex
}

func newConn(l log.Logger, rwc io.ReadWriteCloser) *conn {
	if l == nil {
		l = log.NewNopLogger()
	}
	return &conn{log: l, rwc: rwc}
}

func (c *conn) readFrame() (rfo.Op, []byte, error) {
	c.rmut.Lock()
	defer c.rmut.Unlock()

	if c.closed.Load() {
		return 0, nil, rfo.ErrConnectionClosed
	}
	op, payload, err := ReadFrame(c.rwc)
	if err != nil && c.closed.Load() {
		// Reads fail in all sorts of ways after a local Close.
		return 0, nil, rfo.ErrConnectionClosed
	}
	return op, payload, err
}

func (c *conn) writeFrame(op rfo.Op, payload []byte) error {
	c.wmut.Lock()
	defer c.wmut.Unlock()

	if c.closed.Load() {
		return rfo.ErrConnectionClosed
	}
	return WriteFrame(c.rwc, op, payload)
}

func (c *conn) Close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}
	return c.rwc.Close()
}

// NewServerTransport returns a server-side rfo.Transport over rwc. The
// transport takes ownership of rwc.
func NewServerTransport(l log.Logger, rwc io.ReadWriteCloser, o Options) rfo.Transport {
	return &serverTransport{conn: newConn(l, rwc), opts: o}
}

type serverTransport struct {
	*conn
	opts Options
}

var _ rfo.Transport = (*serverTransport)(nil)

func (t *serverTransport) RecvRequest() (rfo.Op, rfo.Request, error) {
	if nc, ok := t.rwc.(net.Conn); ok && t.opts.IdleTimeout > 0 {
		if err := nc.SetReadDeadline(time.Now().Add(t.opts.IdleTimeout)); err != nil {
			return 0, nil, fmt.Errorf("setting idle deadline: %w", err)
		}
	}

	op, payload, err := t.readFrame()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil, fmt.Errorf("connection idle for %s: %w", t.opts.IdleTimeout, err)
		}
		return 0, nil, err
	}

	req, err := rfo.DecodeRequest(op, payload)
	if errors.Is(err, rfo.ErrUnknownOpcode) {
		level.Debug(t.log).Log("msg", "discarding request with unknown opcode", "op", op, "size", len(payload))
		return op, nil, nil
	} else if err != nil {
		return op, nil, fmt.Errorf("decoding %s request: %w", op, err)
	}
	return op, req, nil
}

func (t *serverTransport) SendResponse(op rfo.Op, r rfo.Response) error {
	payload, err := rfo.EncodeResponse(op, r)
	if err != nil {
		// The peer is still waiting for an answer; send a failure instead.
		level.Warn(t.log).Log("msg", "failed to encode response, reporting EIO to peer", "op", op, "err", err)
		payload, err = rfo.EncodeResponse(op, rfo.FailedResponse(op, rfo.ErrorIO))
		if err != nil {
			return fmt.Errorf("encoding %s response: %w", op, err)
		}
	}
	return t.writeFrame(op, payload)
}

// NewClientTransport returns a client-side rfo.ClientTransport over rwc. The
// transport takes ownership of rwc.
func NewClientTransport(l log.Logger, rwc io.ReadWriteCloser) rfo.ClientTransport {
	return &clientTransport{conn: newConn(l, rwc)}
}

type clientTransport struct {
	*conn
}

var _ rfo.ClientTransport = (*clientTransport)(nil)

func (t *clientTransport) SendRequest(r rfo.Request) error {
	op, payload, err := rfo.EncodeRequest(r)
	if err != nil {
		return err
	}
	return t.writeFrame(op, payload)
}

func (t *clientTransport) RecvResponse() (rfo.Op, rfo.Response, error) {
	op, payload, err := t.readFrame()
	if errors.Is(err, io.EOF) {
		// A response was expected, so a clean EOF still means the server went
		// away mid-call.
		return 0, nil, fmt.Errorf("%w: server closed the connection", rfo.ErrConnectionClosed)
	} else if err != nil {
		return 0, nil, err
	}

	resp, err := rfo.DecodeResponse(op, payload)
	if err != nil {
		return op, nil, fmt.Errorf("decoding %s response: %w", op, err)
	}
	return op, resp, nil
}
