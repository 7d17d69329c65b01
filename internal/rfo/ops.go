package rfo

import (
	"fmt"
	"strconv"
)

// Op is an opcode. Each opcode has a fixed request and response layout.
type Op uint32

// Supported opcodes. The values are part of the wire format; do not
// re-order them.
const (
	OpOpen           Op = 0
	OpClose          Op = 1
	OpWrite          Op = 2
	OpRead           Op = 3
	OpSeek           Op = 4
	OpStat           Op = 5
	OpUnlink         Op = 6
	OpReadDirEntries Op = 7
	OpGetDirTree     Op = 8
)

var opNames = map[Op]string{
	OpOpen:           "OPEN",
	OpClose:          "CLOSE",
	OpWrite:          "WRITE",
	OpRead:           "READ",
	OpSeek:           "SEEK",
	OpStat:           "STAT",
	OpUnlink:         "UNLINK",
	OpReadDirEntries: "READ_DIR_ENTRIES",
	OpGetDirTree:     "GET_DIR_TREE",
}

// String implements fmt.Stringer.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "OP_" + strconv.FormatUint(uint64(o), 10)
}

// Known returns true if o is a supported opcode.
func (o Op) Known() bool {
	_, ok := opNames[o]
	return ok
}

// GetOp returns the opcode for a request.
func GetOp(r Request) (Op, error) {
	switch r.(type) {
	case *OpenRequest:
		return OpOpen, nil
	case *CloseRequest:
		return OpClose, nil
	case *WriteRequest:
		return OpWrite, nil
	case *ReadRequest:
		return OpRead, nil
	case *SeekRequest:
		return OpSeek, nil
	case *StatRequest:
		return OpStat, nil
	case *UnlinkRequest:
		return OpUnlink, nil
	case *ReadDirEntriesRequest:
		return OpReadDirEntries, nil
	case *GetDirTreeRequest:
		return OpGetDirTree, nil
	default:
		return 0, fmt.Errorf("no opcode for request type %T: %w", r, ErrUnknownOpcode)
	}
}

// NewEmptyRequest returns an empty request for op. Returns ErrUnknownOpcode
// if op isn't supported.
func NewEmptyRequest(op Op) (Request, error) {
	switch op {
	case OpOpen:
		return &OpenRequest{}, nil
	case OpClose:
		return &CloseRequest{}, nil
	case OpWrite:
		return &WriteRequest{}, nil
	case OpRead:
		return &ReadRequest{}, nil
	case OpSeek:
		return &SeekRequest{}, nil
	case OpStat:
		return &StatRequest{}, nil
	case OpUnlink:
		return &UnlinkRequest{}, nil
	case OpReadDirEntries:
		return &ReadDirEntriesRequest{}, nil
	case OpGetDirTree:
		return &GetDirTreeRequest{}, nil
	default:
		return nil, fmt.Errorf("%s: %w", op, ErrUnknownOpcode)
	}
}

// NewEmptyResponse returns an empty response for op. Returns
// ErrUnknownOpcode if op isn't supported.
func NewEmptyResponse(op Op) (Response, error) {
	switch op {
	case OpOpen:
		return &OpenResponse{}, nil
	case OpClose:
		return &CloseResponse{}, nil
	case OpWrite:
		return &WriteResponse{}, nil
	case OpRead:
		return &ReadResponse{}, nil
	case OpSeek:
		return &SeekResponse{}, nil
	case OpStat:
		return &StatResponse{}, nil
	case OpUnlink:
		return &UnlinkResponse{}, nil
	case OpReadDirEntries:
		return &ReadDirEntriesResponse{}, nil
	case OpGetDirTree:
		return &GetDirTreeResponse{}, nil
	default:
		return nil, fmt.Errorf("%s: %w", op, ErrUnknownOpcode)
	}
}

// FailedResponse returns the response for op which reports e. Unknown
// opcodes get an ErrorResponse.
func FailedResponse(op Op, e Error) Response {
	switch op {
	case OpOpen:
		return &OpenResponse{Err: e}
	case OpClose:
		return &CloseResponse{Err: e}
	case OpWrite:
		return &WriteResponse{Err: e}
	case OpRead:
		return &ReadResponse{Err: e}
	case OpSeek:
		return &SeekResponse{Err: e}
	case OpStat:
		return &StatResponse{Err: e}
	case OpUnlink:
		return &UnlinkResponse{Err: e}
	case OpReadDirEntries:
		return &ReadDirEntriesResponse{Err: e}
	case OpGetDirTree:
		return &GetDirTreeResponse{Err: e}
	default:
		return &ErrorResponse{Err: e}
	}
}

// responseOp returns the opcode that r answers. ErrorResponse answers no
// specific opcode.
func responseOp(r Response) (Op, bool) {
	switch r.(type) {
	case *OpenResponse:
		return OpOpen, true
	case *CloseResponse:
		return OpClose, true
	case *WriteResponse:
		return OpWrite, true
	case *ReadResponse:
		return OpRead, true
	case *SeekResponse:
		return OpSeek, true
	case *StatResponse:
		return OpStat, true
	case *UnlinkResponse:
		return OpUnlink, true
	case *ReadDirEntriesResponse:
		return OpReadDirEntries, true
	case *GetDirTreeResponse:
		return OpGetDirTree, true
	default:
		return 0, false
	}
}
