//go:build unix

// Package localfs exposes the file primitives of the local machine. It is
// used by servers to run requests, and by clients for handles which were
// opened locally.
package localfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rfratto/remotefs/internal/rfo"
	"golang.org/x/sys/unix"
)

// FS is the set of file primitives that rfo forwards. Handles are plain
// integers and errors are errno values, just like the system calls they
// mirror.
type FS interface {
	Open(path string, flags int, mode uint32) (int, error)
	Close(fd int) error
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	Seek(fd int, offset int64, whence int) (int64, error)
	Stat(variant rfo.StatVariant, path string, st *unix.Stat_t) error
	Unlink(path string) error

	// ReadDirEntries reads raw directory entries from the directory open at
	// fd into p. cursor is set to the position of the directory stream
	// before the read.
	ReadDirEntries(fd int, p []byte, cursor *int64) (int, error)

	// DirTree returns the tree of directories and files under path. The
	// root is named path.
	DirTree(path string) (*rfo.DirTree, error)
}

// Host returns an FS for the host machine.
func Host() FS { return hostFS{} }

type hostFS struct{}

var _ FS = hostFS{}

func (hostFS) Open(path string, flags int, mode uint32) (int, error) {
	return unix.Open(path, flags, mode)
}

func (hostFS) Close(fd int) error { return unix.Close(fd) }

func (hostFS) Read(fd int, p []byte) (int, error) { return unix.Read(fd, p) }

func (hostFS) Write(fd int, p []byte) (int, error) { return unix.Write(fd, p) }

func (hostFS) Seek(fd int, offset int64, whence int) (int64, error) {
	return unix.Seek(fd, offset, whence)
}

func (hostFS) Stat(variant rfo.StatVariant, path string, st *unix.Stat_t) error {
	switch variant {
	case rfo.StatFollow:
		return unix.Stat(path, st)
	case rfo.StatNoFollow:
		return unix.Lstat(path, st)
	default:
		return unix.EINVAL
	}
}

func (hostFS) Unlink(path string) error { return unix.Unlink(path) }

func (hostFS) ReadDirEntries(fd int, p []byte, cursor *int64) (int, error) {
	return readDirEntries(fd, p, cursor)
}

func (hostFS) DirTree(path string) (*rfo.DirTree, error) {
	root := &rfo.DirTree{Name: path}
	if err := buildTree(root, path, 0); err != nil {
		return nil, err
	}
	return root, nil
}

// buildTree fills in the children of n, which is the directory at dir.
// Children keep the order the host enumerates them in. Symbolic links are
// leaves even when they point at directories.
func buildTree(n *rfo.DirTree, dir string, depth int) error {
	f, err := os.Open(dir)
	if err != nil {
		return unwrapErrno(err)
	}
	defer f.Close()

	ents, err := f.ReadDir(-1)
	if err != nil {
		return unwrapErrno(err)
	}

	for _, ent := range ents {
		if depth+1 > rfo.MaxDirTreeDepth {
			return fmt.Errorf("%s: tree deeper than %d levels: %w", dir, rfo.MaxDirTreeDepth, unix.ELOOP)
		}
		child := &rfo.DirTree{Name: ent.Name()}
		n.Children = append(n.Children, child)

		if !ent.IsDir() {
			continue
		}
		if err := buildTree(child, filepath.Join(dir, ent.Name()), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// unwrapErrno returns the errno inside of err, if any, so callers see the
// same errors that the raw system calls return.
func unwrapErrno(err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return err
}
