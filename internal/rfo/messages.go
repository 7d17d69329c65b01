package rfo

// Protocol types. Each type here is used as the request or response for a
// specific operation. Requests map to opcodes through GetOp.
//
// Every response has an Err field. A zero Err means the operation succeeded
// and the remaining fields are valid; a non-zero Err is the errno of the
// failed operation and the remaining fields must be ignored.
type (
	OpenRequest struct {
		Flags int32  // Open flags (O_RDONLY, O_CREAT, ...).
		Mode  uint32 // Permissions for created files.
		Path  string // File to open.
	}
	OpenResponse struct {
		Handle int32 // Server handle of the opened file.
		Err    Error
	}

	CloseRequest struct {
		Handle int32
	}
	CloseResponse struct {
		Err Error
	}

	WriteRequest struct {
		Handle int32
		Data   []byte // Data to write. Its length is the byte-count field.
	}
	WriteResponse struct {
		Written int64 // Number of bytes written.
		Err     Error
	}

	ReadRequest struct {
		Handle int32
		Count  uint64 // Maximum number of bytes to read.
	}
	ReadResponse struct {
		Data []byte // Data read. A zero-length slice means end of file.
		Err  Error
	}

	SeekRequest struct {
		Handle int32
		Offset int64 // Offset to seek to, relative to Whence.
		Whence int32 // SEEK_SET, SEEK_CUR or SEEK_END.
	}
	SeekResponse struct {
		Offset int64 // New offset in the file.
		Err    Error
	}

	StatRequest struct {
		Variant StatVariant
		Path    string
	}
	StatResponse struct {
		Record StatRecord // Metadata record; only present on success.
		Err    Error
	}

	UnlinkRequest struct {
		Path string
	}
	UnlinkResponse struct {
		Err Error
	}

	ReadDirEntriesRequest struct {
		Handle int32
		Count  uint64 // Size of the caller's entry buffer.
		Cursor int64  // Opaque position token supplied by the caller.
	}
	ReadDirEntriesResponse struct {
		Cursor int64  // Position token of the returned batch.
		Data   []byte // Raw directory entries in the host's format.
		Err    Error
	}

	GetDirTreeRequest struct {
		Path string
	}
	GetDirTreeResponse struct {
		Tree *DirTree
		Err  Error
	}

	// ErrorResponse is sent in reply to a request whose opcode the server
	// doesn't support.
	ErrorResponse struct {
		Err Error
	}
)

// StatVariant selects which flavor of stat to run. The zero value follows
// symbolic links. Other values fail with EINVAL.
type StatVariant int32

// Supported stat variants.
const (
	StatFollow   StatVariant = 0 // Follow symbolic links (stat).
	StatNoFollow StatVariant = 1 // Report on the link itself (lstat).
)

//
// Request / Response type implementations
//

func (*OpenRequest) rfoRequest()             {}
func (*OpenResponse) rfoResponse()           {}
func (*CloseRequest) rfoRequest()            {}
func (*CloseResponse) rfoResponse()          {}
func (*WriteRequest) rfoRequest()            {}
func (*WriteResponse) rfoResponse()          {}
func (*ReadRequest) rfoRequest()             {}
func (*ReadResponse) rfoResponse()           {}
func (*SeekRequest) rfoRequest()             {}
func (*SeekResponse) rfoResponse()           {}
func (*StatRequest) rfoRequest()             {}
func (*StatResponse) rfoResponse()           {}
func (*UnlinkRequest) rfoRequest()           {}
func (*UnlinkResponse) rfoResponse()         {}
func (*ReadDirEntriesRequest) rfoRequest()   {}
func (*ReadDirEntriesResponse) rfoResponse() {}
func (*GetDirTreeRequest) rfoRequest()       {}
func (*GetDirTreeResponse) rfoResponse()     {}
func (*ErrorResponse) rfoResponse()          {}

// ResponseError returns the Err field of r.
func ResponseError(r Response) Error {
	switch r := r.(type) {
	case *OpenResponse:
		return r.Err
	case *CloseResponse:
		return r.Err
	case *WriteResponse:
		return r.Err
	case *ReadResponse:
		return r.Err
	case *SeekResponse:
		return r.Err
	case *StatResponse:
		return r.Err
	case *UnlinkResponse:
		return r.Err
	case *ReadDirEntriesResponse:
		return r.Err
	case *GetDirTreeResponse:
		return r.Err
	case *ErrorResponse:
		return r.Err
	}
	return 0
}
