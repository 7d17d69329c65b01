package client

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestClient_ReadDirEntries(t *testing.T) {
	c, root, _ := newTestClient(t, nil)
	ctx := context.Background()

	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0755))
	for _, name := range []string{"a", "b"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, "dir", name), nil, 0644))
	}

	fd, err := c.Open(ctx, "/dir", unix.O_RDONLY|unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	defer c.CloseFile(ctx, fd)

	var (
		buf    = make([]byte, 4096)
		cursor int64
		names  []string
	)
	n, err := c.ReadDirEntries(ctx, fd, buf, &cursor)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.Equal(t, int64(0), cursor)

	_, _, names = unix.ParseDirent(buf[:n], -1, names)
	sort.Strings(names)
	require.Equal(t, []string{"a", "b"}, names)
}
