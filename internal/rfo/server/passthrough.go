package server

import (
	"context"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/rfratto/remotefs/internal/rfo/localfs"
	"golang.org/x/sys/unix"
)

// Passthrough creates a new Handler which passes through requests to fsys.
// Request paths are resolved relative to the provided root. Note that this
// isn't a chroot, and it's possible to reach files in higher directories
// via symbolic links or "..".
//
// Each connection must use its own Passthrough handler: handles are only
// valid for the handler that opened them.
func Passthrough(l log.Logger, root string, fsys localfs.FS) Handler {
	if l == nil {
		l = log.NewNopLogger()
	}
	if fsys == nil {
		fsys = localfs.Host()
	}
	return &passthroughHandler{
		log:     l,
		root:    root,
		fs:      fsys,
		handles: newHandleTable(),
	}
}

type passthroughHandler struct {
	log     log.Logger
	root    string
	fs      localfs.FS
	handles *handleTable
}

var _ Handler = (*passthroughHandler)(nil)

func (h *passthroughHandler) resolve(path string) string {
	return filepath.Join(h.root, path)
}

func (h *passthroughHandler) Close() error {
	if n := h.handles.Len(); n > 0 {
		level.Debug(h.log).Log("msg", "closing handles left open by peer", "count", n)
	}
	return h.handles.CloseAll(h.fs.Close)
}

func (h *passthroughHandler) Open(_ context.Context, req *rfo.OpenRequest) (*rfo.OpenResponse, error) {
	// Keep host fds from leaking into anything the server spawns.
	fd, err := h.fs.Open(h.resolve(req.Path), int(req.Flags)|unix.O_CLOEXEC, req.Mode)
	if err != nil {
		return nil, err
	}
	handle, err := h.handles.Add(fd)
	if err != nil {
		_ = h.fs.Close(fd)
		return nil, err
	}
	return &rfo.OpenResponse{Handle: handle}, nil
}

func (h *passthroughHandler) CloseFile(_ context.Context, req *rfo.CloseRequest) error {
	fd, err := h.handles.Remove(req.Handle)
	if err != nil {
		return err
	}
	return h.fs.Close(fd)
}

func (h *passthroughHandler) Write(_ context.Context, req *rfo.WriteRequest) (*rfo.WriteResponse, error) {
	fd, err := h.handles.Get(req.Handle)
	if err != nil {
		return nil, err
	}
	n, err := h.fs.Write(fd, req.Data)
	if err != nil {
		return nil, err
	}
	return &rfo.WriteResponse{Written: int64(n)}, nil
}

func (h *passthroughHandler) Read(_ context.Context, req *rfo.ReadRequest) (*rfo.ReadResponse, error) {
	fd, err := h.handles.Get(req.Handle)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, clampIO(req.Count))
	n, err := h.fs.Read(fd, buf)
	if err != nil {
		return nil, err
	}
	return &rfo.ReadResponse{Data: buf[:n]}, nil
}

func (h *passthroughHandler) Seek(_ context.Context, req *rfo.SeekRequest) (*rfo.SeekResponse, error) {
	fd, err := h.handles.Get(req.Handle)
	if err != nil {
		return nil, err
	}
	off, err := h.fs.Seek(fd, req.Offset, int(req.Whence))
	if err != nil {
		return nil, err
	}
	return &rfo.SeekResponse{Offset: off}, nil
}

func (h *passthroughHandler) Stat(_ context.Context, req *rfo.StatRequest) (*rfo.StatResponse, error) {
	var st unix.Stat_t
	if err := h.fs.Stat(req.Variant, h.resolve(req.Path), &st); err != nil {
		return nil, err
	}
	return &rfo.StatResponse{Record: rfo.NewStatRecord(&st)}, nil
}

func (h *passthroughHandler) Unlink(_ context.Context, req *rfo.UnlinkRequest) error {
	return h.fs.Unlink(h.resolve(req.Path))
}

func (h *passthroughHandler) ReadDirEntries(_ context.Context, req *rfo.ReadDirEntriesRequest) (*rfo.ReadDirEntriesResponse, error) {
	fd, err := h.handles.Get(req.Handle)
	if err != nil {
		return nil, err
	}
	var (
		buf    = make([]byte, clampIO(req.Count))
		cursor = req.Cursor
	)
	n, err := h.fs.ReadDirEntries(fd, buf, &cursor)
	if err != nil {
		return nil, err
	}
	return &rfo.ReadDirEntriesResponse{Cursor: cursor, Data: buf[:n]}, nil
}

func (h *passthroughHandler) GetDirTree(_ context.Context, req *rfo.GetDirTreeRequest) (*rfo.GetDirTreeResponse, error) {
	// The root node is named after the path, and a tree can't have an
	// unnamed node.
	if req.Path == "" {
		return nil, unix.ENOENT
	}
	tree, err := h.fs.DirTree(h.resolve(req.Path))
	if err != nil {
		return nil, err
	}
	// The peer knows the root by the path it asked for, not by where it
	// lives on this machine.
	tree.Name = req.Path
	return &rfo.GetDirTreeResponse{Tree: tree}, nil
}

// clampIO limits a requested transfer size to rfo.MaxIOSize. Callers see a
// short count, as they would from the local primitive.
func clampIO(count uint64) int {
	if count > rfo.MaxIOSize {
		return rfo.MaxIOSize
	}
	return int(count)
}
