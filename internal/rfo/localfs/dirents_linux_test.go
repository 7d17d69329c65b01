package localfs

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestHost_ReadDirEntries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	fsys := Host()
	fd, err := fsys.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	defer fsys.Close(fd)

	var (
		names  []string
		cursor int64 = -1
		buf          = make([]byte, 4096)
	)

	n, err := fsys.ReadDirEntries(fd, buf, &cursor)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.Equal(t, int64(0), cursor, "cursor should be the position before the read")

	_, _, names = unix.ParseDirent(buf[:n], -1, names)
	sort.Strings(names)
	require.Equal(t, []string{"one", "three", "two"}, names)

	n, err = fsys.ReadDirEntries(fd, buf, &cursor)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NotEqual(t, int64(0), cursor)
}

func TestHost_ReadDirEntries_NotDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	fsys := Host()
	fd, err := fsys.Open(file, unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer fsys.Close(fd)

	var cursor int64
	_, err = fsys.ReadDirEntries(fd, make([]byte, 1024), &cursor)
	require.ErrorIs(t, err, unix.ENOTDIR)
}
