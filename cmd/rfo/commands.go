package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/rfratto/remotefs/internal/rfo/client"
	"github.com/rfratto/remotefs/internal/rfo/handles"
	"golang.org/x/sys/unix"
)

const copyBufferSize = 64 << 10

func runCat(ctx context.Context, c *client.Client, stdout io.Writer, args []string) (err error) {
	fd, err := c.Open(ctx, args[0], unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.CloseFile(ctx, fd); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	return copyFd(ctx, c, stdout, fd)
}

// copyFd writes everything read from fd to w.
func copyFd(ctx context.Context, c *client.Client, w io.Writer, fd int) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, err := c.Read(ctx, fd, buf)
		if err != nil {
			return err
		} else if n == 0 {
			return nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
}

// runPut copies a local file to the server. Both files are accessed
// through the client: the local file by its local handle, the remote file
// by its remote handle.
func runPut(ctx context.Context, c *client.Client, _ io.Writer, args []string) (err error) {
	localPath, err := homedir.Expand(args[0])
	if err != nil {
		return err
	}
	src, err := unix.Open(localPath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	if src >= handles.DefaultOptions.Base {
		_ = unix.Close(src)
		return fmt.Errorf("opening %s: local handle %d collides with remote handles", localPath, src)
	}
	defer func() {
		if cerr := c.CloseFile(ctx, src); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	dst, err := c.Open(ctx, args[1], unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.CloseFile(ctx, dst); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	buf := make([]byte, copyBufferSize)
	for {
		n, err := c.Read(ctx, src, buf)
		if err != nil {
			return err
		} else if n == 0 {
			return nil
		}
		for p := buf[:n]; len(p) > 0; {
			written, err := c.Write(ctx, dst, p)
			if err != nil {
				return err
			} else if written == 0 {
				return io.ErrShortWrite
			}
			p = p[written:]
		}
	}
}

func runStat(noFollow bool) func(context.Context, *client.Client, io.Writer, []string) error {
	variant := rfo.StatFollow
	if noFollow {
		variant = rfo.StatNoFollow
	}

	return func(ctx context.Context, c *client.Client, stdout io.Writer, args []string) error {
		var st unix.Stat_t
		if err := c.Stat(ctx, variant, args[0], &st); err != nil {
			return err
		}
		printStat(stdout, args[0], &st)
		return nil
	}
}

func printStat(w io.Writer, path string, st *unix.Stat_t) {
	mtime := time.Unix(st.Mtim.Unix())

	fmt.Fprintf(w, "  File: %s\n", path)
	fmt.Fprintf(w, "  Type: %s\n", fileType(uint32(st.Mode)))
	fmt.Fprintf(w, "  Size: %d\n", st.Size)
	fmt.Fprintf(w, "  Mode: %#o\n", st.Mode&0o7777)
	fmt.Fprintf(w, " Inode: %d\n", st.Ino)
	fmt.Fprintf(w, " Links: %d\n", st.Nlink)
	fmt.Fprintf(w, "   Uid: %d\n", st.Uid)
	fmt.Fprintf(w, "   Gid: %d\n", st.Gid)
	fmt.Fprintf(w, "Modify: %s\n", mtime.Format(time.RFC3339))
}

func fileType(mode uint32) string {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return "regular file"
	case unix.S_IFDIR:
		return "directory"
	case unix.S_IFLNK:
		return "symbolic link"
	case unix.S_IFIFO:
		return "fifo"
	case unix.S_IFSOCK:
		return "socket"
	case unix.S_IFCHR:
		return "character device"
	case unix.S_IFBLK:
		return "block device"
	}
	return "unknown"
}

func runRm(ctx context.Context, c *client.Client, _ io.Writer, args []string) error {
	return c.Unlink(ctx, args[0])
}

func runLs(ctx context.Context, c *client.Client, stdout io.Writer, args []string) (err error) {
	fd, err := c.Open(ctx, args[0], unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.CloseFile(ctx, fd); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	names, err := readDirNames(ctx, c, fd)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(stdout, name)
	}
	return nil
}

// readDirNames reads every entry name from the directory at fd, in the
// order the server's file system returns them.
func readDirNames(ctx context.Context, c *client.Client, fd int) ([]string, error) {
	var (
		buf    = make([]byte, copyBufferSize)
		cursor int64
		names  []string
	)
	for {
		n, err := c.ReadDirEntries(ctx, fd, buf, &cursor)
		if err != nil {
			return nil, err
		} else if n == 0 {
			return names, nil
		}
		_, _, names = unix.ParseDirent(buf[:n], -1, names)
	}
}

func runTree(ctx context.Context, c *client.Client, stdout io.Writer, args []string) error {
	tree, err := c.GetDirTree(ctx, args[0])
	if err != nil {
		return err
	}
	tree.Walk(func(n *rfo.DirTree, depth int) {
		fmt.Fprintf(stdout, "%s%s\n", strings.Repeat("  ", depth), n.Name)
	})
	fmt.Fprintf(stdout, "\n%d entries\n", tree.Count()-1)
	return nil
}
