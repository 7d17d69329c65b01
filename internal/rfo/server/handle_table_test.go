package server

import (
	"errors"
	"testing"

	"github.com/rfratto/remotefs/internal/rfo"
	"github.com/stretchr/testify/require"
)

func TestHandleTable(t *testing.T) {
	tbl := newHandleTable()

	for i := 0; i < 3; i++ {
		h, err := tbl.Add(100 + i)
		require.NoError(t, err)
		require.Equal(t, int32(i), h, "handles should be allocated from 0")
	}

	fd, err := tbl.Get(1)
	require.NoError(t, err)
	require.Equal(t, 101, fd)

	fd, err = tbl.Remove(2)
	require.NoError(t, err)
	require.Equal(t, 102, fd)
	fd, err = tbl.Remove(0)
	require.NoError(t, err)
	require.Equal(t, 100, fd)

	_, err = tbl.Get(0)
	require.ErrorIs(t, err, rfo.ErrorBadHandle)
	_, err = tbl.Remove(0)
	require.ErrorIs(t, err, rfo.ErrorBadHandle)

	// Freed handles get reused lowest first.
	h, err := tbl.Add(200)
	require.NoError(t, err)
	require.Equal(t, int32(0), h)
	h, err = tbl.Add(201)
	require.NoError(t, err)
	require.Equal(t, int32(2), h)
	h, err = tbl.Add(202)
	require.NoError(t, err)
	require.Equal(t, int32(3), h)

	require.Equal(t, 4, tbl.Len())
}

func TestHandleTable_CloseAll(t *testing.T) {
	tbl := newHandleTable()
	for _, fd := range []int{10, 11, 12} {
		_, err := tbl.Add(fd)
		require.NoError(t, err)
	}

	var closed []int
	err := tbl.CloseAll(func(fd int) error {
		closed = append(closed, fd)
		if fd == 11 {
			return errors.New("close failed")
		}
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "close failed")
	require.ElementsMatch(t, []int{10, 11, 12}, closed)
	require.Equal(t, 0, tbl.Len())

	h, err := tbl.Add(13)
	require.NoError(t, err)
	require.Equal(t, int32(0), h)
}
