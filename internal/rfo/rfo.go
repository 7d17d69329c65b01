// Package rfo implements remote file operations. RFO is a small binary
// protocol which lets a process run open, close, read, write, seek, stat,
// unlink and directory listing calls against the file system of another
// machine while treating the results as if they were local.
//
// Every message on the wire is a frame: a 4-byte total length (which
// includes itself), a 4-byte opcode, and an opcode-specific payload. All
// integers are fixed width and written in the byte order of the host. There
// is no endianness negotiation; peers are expected to run on like
// architectures.
//
// rfo can be used with any kind of transport. See the stream and grpcrfo
// packages for the available transports.
package rfo

// Request is used for protocol request messages which are sent by a client
// to the server.
type Request interface {
	rfoRequest()
}

// Response is used for protocol response messages which are sent from the
// server after processing a request.
type Response interface {
	rfoResponse()
}

// Transport is the server side of a connection. Transports are used to
// receive requests and send responses back to the peer.
type Transport interface {
	// RecvRequest gets the next request from the other side of the
	// connection. Requests with an opcode that isn't known return a nil
	// Request and a nil error; the receiver must reply with an ErrorResponse
	// so the peer doesn't hang.
	RecvRequest() (Op, Request, error)

	// SendResponse sends r to the other side of the connection. op must be
	// the opcode of the request being answered.
	SendResponse(op Op, r Response) error

	// Close the connection.
	Close() error
}

// ClientTransport is the client side of a connection. The protocol is
// strictly request/response: callers must receive the response to a request
// before sending the next one.
type ClientTransport interface {
	// SendRequest sends r to the server.
	SendRequest(r Request) error

	// RecvResponse gets the next response from the server.
	RecvResponse() (Op, Response, error)

	// Close the connection.
	Close() error
}
