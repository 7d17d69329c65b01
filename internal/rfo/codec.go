package rfo

import (
	"fmt"
)

const (
	// HeaderSize is the size of a frame header: a 4-byte total length
	// followed by a 4-byte opcode.
	HeaderSize = 8

	// MaxMessageSize is the largest frame, header included, that peers will
	// send or accept.
	MaxMessageSize = 4 << 20

	// MaxIOSize is the largest amount of data moved by a single READ, WRITE
	// or READ_DIR_ENTRIES. Larger calls return a short count, which callers
	// of the equivalent local primitive must already handle.
	MaxIOSize = 1 << 20
)

// Layouts of every payload. Field order matters. Requests:
//
//	OPEN              int32 flags, uint32 mode, path (rest of payload)
//	CLOSE             int32 handle
//	WRITE             int32 handle, uint64 count, count bytes of data
//	READ              int32 handle, uint64 count
//	SEEK              int32 handle, int64 offset, int32 whence
//	STAT              int32 variant, path (rest of payload)
//	UNLINK            path (rest of payload)
//	READ_DIR_ENTRIES  int32 handle, uint64 count, int64 cursor
//	GET_DIR_TREE      path (rest of payload)
//
// Responses. The errno field is only present when the leading field reports
// a failure, and trailing data is only present on success:
//
//	OPEN              int32 handle or -1, [int32 errno]
//	CLOSE             int32 0 or -1, [int32 errno]
//	WRITE             int64 count or -1, [int32 errno]
//	READ              int64 count or -1, [int32 errno], [count bytes]
//	SEEK              int64 offset or -1, [int32 errno]
//	STAT              int32 0 or -1, [int32 errno], [metadata record]
//	UNLINK            int32 0 or -1, [int32 errno]
//	READ_DIR_ENTRIES  int64 count or -1, [int32 errno], int64 cursor, [count bytes]
//	GET_DIR_TREE      int32 1 or 0, [int32 errno], [tree]
//	(unknown opcode)  int32 -1, int32 errno

// EncodeRequest encodes r into a payload, returning the opcode for it.
func EncodeRequest(r Request) (Op, []byte, error) {
	op, err := GetOp(r)
	if err != nil {
		return op, nil, err
	}

	var aw *argWriter
	switch r := r.(type) {
	case *OpenRequest:
		aw = newArgWriter(8 + len(r.Path))
		aw.Int32(r.Flags)
		aw.Uint32(r.Mode)
		aw.Rest(r.Path)
	case *CloseRequest:
		aw = newArgWriter(4)
		aw.Int32(r.Handle)
	case *WriteRequest:
		aw = newArgWriter(12 + len(r.Data))
		aw.Int32(r.Handle)
		aw.Uint64(uint64(len(r.Data)))
		aw.Bytes(r.Data)
	case *ReadRequest:
		aw = newArgWriter(12)
		aw.Int32(r.Handle)
		aw.Uint64(r.Count)
	case *SeekRequest:
		aw = newArgWriter(16)
		aw.Int32(r.Handle)
		aw.Int64(r.Offset)
		aw.Int32(r.Whence)
	case *StatRequest:
		aw = newArgWriter(4 + len(r.Path))
		aw.Int32(int32(r.Variant))
		aw.Rest(r.Path)
	case *UnlinkRequest:
		aw = newArgWriter(len(r.Path))
		aw.Rest(r.Path)
	case *ReadDirEntriesRequest:
		aw = newArgWriter(20)
		aw.Int32(r.Handle)
		aw.Uint64(r.Count)
		aw.Int64(r.Cursor)
	case *GetDirTreeRequest:
		aw = newArgWriter(len(r.Path))
		aw.Rest(r.Path)
	}
	return op, aw.Finish(), nil
}

// DecodeRequest decodes the payload of a request for op. Returns
// ErrUnknownOpcode if op isn't supported, or ErrMalformedFrame if the payload
// doesn't match the layout for op.
func DecodeRequest(op Op, payload []byte) (req Request, err error) {
	req, err = NewEmptyRequest(op)
	if err != nil {
		return nil, err
	}

	defer recoverIncomplete(&err, ErrMalformedFrame)
	ar := newArgReader(payload)

	switch r := req.(type) {
	case *OpenRequest:
		r.Flags = ar.Int32()
		r.Mode = ar.Uint32()
		r.Path = ar.Rest()
	case *CloseRequest:
		r.Handle = ar.Int32()
	case *WriteRequest:
		r.Handle = ar.Int32()
		r.Data = ar.Bytes(ar.Uint64())
	case *ReadRequest:
		r.Handle = ar.Int32()
		r.Count = ar.Uint64()
	case *SeekRequest:
		r.Handle = ar.Int32()
		r.Offset = ar.Int64()
		r.Whence = ar.Int32()
	case *StatRequest:
		r.Variant = StatVariant(ar.Int32())
		r.Path = ar.Rest()
	case *UnlinkRequest:
		r.Path = ar.Rest()
	case *ReadDirEntriesRequest:
		r.Handle = ar.Int32()
		r.Count = ar.Uint64()
		r.Cursor = ar.Int64()
	case *GetDirTreeRequest:
		r.Path = ar.Rest()
	}
	ar.Done()
	return req, nil
}

// EncodeResponse encodes the response r to a request for op. A successful
// response which wouldn't fit in a frame is replaced with an ErrorNoMemory
// failure for op.
func EncodeResponse(op Op, r Response) ([]byte, error) {
	payload, err := encodeResponse(op, r)
	if err != nil {
		return nil, err
	}
	if HeaderSize+len(payload) > MaxMessageSize {
		return encodeResponse(op, FailedResponse(op, ErrorNoMemory))
	}
	return payload, nil
}

func encodeResponse(op Op, r Response) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("missing response for %s", op)
	}
	if e := ResponseError(r); e < 0 {
		return nil, fmt.Errorf("invalid errno %d in response for %s", e, op)
	}
	if _, isError := r.(*ErrorResponse); !isError {
		if rop, ok := responseOp(r); !ok || rop != op {
			return nil, fmt.Errorf("response type %T doesn't match %s", r, op)
		}
	}

	aw := newArgWriter(16)
	switch r := r.(type) {
	case *OpenResponse:
		if r.Err != 0 {
			aw.Int32(-1)
			aw.Int32(int32(r.Err))
			break
		}
		if r.Handle < 0 {
			return nil, fmt.Errorf("negative handle %d in successful %s", r.Handle, op)
		}
		aw.Int32(r.Handle)

	case *CloseResponse:
		writeStatus32(aw, r.Err)

	case *WriteResponse:
		if r.Err != 0 {
			writeFailure64(aw, r.Err)
			break
		}
		if r.Written < 0 {
			return nil, fmt.Errorf("negative count %d in successful %s", r.Written, op)
		}
		aw.Int64(r.Written)

	case *ReadResponse:
		if r.Err != 0 {
			writeFailure64(aw, r.Err)
			break
		}
		aw.Int64(int64(len(r.Data)))
		aw.Bytes(r.Data)

	case *SeekResponse:
		if r.Err != 0 {
			writeFailure64(aw, r.Err)
			break
		}
		if r.Offset < 0 {
			return nil, fmt.Errorf("negative offset %d in successful %s", r.Offset, op)
		}
		aw.Int64(r.Offset)

	case *StatResponse:
		writeStatus32(aw, r.Err)
		if r.Err == 0 {
			aw.Bytes(r.Record[:])
		}

	case *UnlinkResponse:
		writeStatus32(aw, r.Err)

	case *ReadDirEntriesResponse:
		if r.Err != 0 {
			writeFailure64(aw, r.Err)
			aw.Int64(r.Cursor)
			break
		}
		aw.Int64(int64(len(r.Data)))
		aw.Int64(r.Cursor)
		aw.Bytes(r.Data)

	case *GetDirTreeResponse:
		if r.Err != 0 {
			aw.Int32(0)
			aw.Int32(int32(r.Err))
			break
		}
		tree, err := EncodeDirTree(r.Tree)
		if err != nil {
			return nil, err
		}
		aw.Int32(1)
		aw.Bytes(tree)

	case *ErrorResponse:
		if r.Err == 0 {
			return nil, fmt.Errorf("error response for %s without an errno", op)
		}
		aw.Int32(-1)
		aw.Int32(int32(r.Err))
	}
	return aw.Finish(), nil
}

func writeStatus32(aw *argWriter, e Error) {
	if e == 0 {
		aw.Int32(0)
		return
	}
	aw.Int32(-1)
	aw.Int32(int32(e))
}

func writeFailure64(aw *argWriter, e Error) {
	aw.Int64(-1)
	aw.Int32(int32(e))
}

// DecodeResponse decodes the payload of a response to a request for op.
// Returns ErrMalformedFrame if the payload doesn't match the layout for op,
// or ErrCorruptTree if a directory tree can't be decoded.
//
// Responses for unknown opcodes decode into an ErrorResponse.
func DecodeResponse(op Op, payload []byte) (resp Response, err error) {
	defer recoverIncomplete(&err, ErrMalformedFrame)
	ar := newArgReader(payload)

	if !op.Known() {
		r := &ErrorResponse{}
		_ = ar.Int32()
		r.Err = readErrno(ar)
		ar.Done()
		return r, nil
	}

	resp, err = NewEmptyResponse(op)
	if err != nil {
		return nil, err
	}

	switch r := resp.(type) {
	case *OpenResponse:
		if h := ar.Int32(); h < 0 {
			r.Err = readErrno(ar)
		} else {
			r.Handle = h
		}

	case *CloseResponse:
		r.Err = readStatus32(ar)

	case *WriteResponse:
		if n := ar.Int64(); n < 0 {
			r.Err = readErrno(ar)
		} else {
			r.Written = n
		}

	case *ReadResponse:
		if n := ar.Int64(); n < 0 {
			r.Err = readErrno(ar)
		} else {
			r.Data = ar.Bytes(uint64(n))
		}

	case *SeekResponse:
		if off := ar.Int64(); off < 0 {
			r.Err = readErrno(ar)
		} else {
			r.Offset = off
		}

	case *StatResponse:
		r.Err = readStatus32(ar)
		if r.Err == 0 {
			copy(r.Record[:], ar.Bytes(uint64(StatRecordSize)))
		}

	case *UnlinkResponse:
		r.Err = readStatus32(ar)

	case *ReadDirEntriesResponse:
		n := ar.Int64()
		if n < 0 {
			r.Err = readErrno(ar)
		}
		r.Cursor = ar.Int64()
		if n > 0 {
			r.Data = ar.Bytes(uint64(n))
		}

	case *GetDirTreeResponse:
		if ok := ar.Int32(); ok == 0 {
			r.Err = readErrno(ar)
			break
		}
		rest := ar.Bytes(uint64(ar.Remaining()))
		if r.Tree, err = DecodeDirTree(rest); err != nil {
			return nil, err
		}
	}
	ar.Done()
	return resp, nil
}

// readStatus32 reads an int32 return code, and the errno that follows it if
// the code reports a failure.
func readStatus32(ar *argReader) Error {
	if ret := ar.Int32(); ret < 0 {
		return readErrno(ar)
	}
	return 0
}

// readErrno reads the errno of a failed call. A failure that arrives without
// a usable errno is reported as ErrorIO so it can't be mistaken for success.
func readErrno(ar *argReader) Error {
	if e := Error(ar.Int32()); e > 0 {
		return e
	}
	return ErrorIO
}
