package handles

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newSpace(t *testing.T) *Space {
	t.Helper()
	s, err := New(DefaultOptions)
	require.NoError(t, err)
	return s
}

func TestSpace_Classify(t *testing.T) {
	s := newSpace(t)

	class, _ := s.Classify(0)
	require.Equal(t, Local, class)
	class, _ = s.Classify(511)
	require.Equal(t, Local, class)
	class, _ = s.Classify(-1)
	require.Equal(t, Local, class)

	for _, h := range []int{512, 700, 1024, 1025, 1 << 30} {
		class, _ = s.Classify(h)
		require.Equal(t, Invalid, class, "handle %d", h)
	}

	h, err := s.Register(3)
	require.NoError(t, err)
	require.Equal(t, 515, h)

	class, server := s.Classify(515)
	require.Equal(t, Remote, class)
	require.Equal(t, int32(3), server)
}

func TestSpace_Release(t *testing.T) {
	s := newSpace(t)

	h, err := s.Register(0)
	require.NoError(t, err)
	require.Equal(t, 512, h)
	require.True(t, s.IsLive(512))

	s.Release(512)
	require.False(t, s.IsLive(512))
	class, _ := s.Classify(512)
	require.Equal(t, Invalid, class)

	// Releasing twice, or releasing a local handle, is a no-op.
	s.Release(512)
	s.Release(5)
	require.Equal(t, 0, s.Len())
}

func TestSpace_Limits(t *testing.T) {
	s := newSpace(t)

	h, err := s.Register(512)
	require.NoError(t, err)
	require.Equal(t, 1024, h, "the upper bound is inclusive")

	_, err = s.Register(513)
	require.ErrorIs(t, err, ErrExhausted)

	_, err = s.Register(-1)
	require.Error(t, err)
}

func TestSpace_Live(t *testing.T) {
	s := newSpace(t)

	for _, server := range []int32{9, 0, 4} {
		_, err := s.Register(server)
		require.NoError(t, err)
	}
	require.Equal(t, 3, s.Len())
	require.Equal(t, []int{512, 516, 521}, s.Live())

	s.Release(516)
	require.Equal(t, []int{512, 521}, s.Live())
}

func TestNew_Options(t *testing.T) {
	s, err := New(Options{Base: 10, Limit: 12})
	require.NoError(t, err)

	class, _ := s.Classify(9)
	require.Equal(t, Local, class)

	_, err = s.Register(2)
	require.NoError(t, err)
	_, err = s.Register(3)
	require.ErrorIs(t, err, ErrExhausted)

	_, err = New(Options{Base: 100, Limit: 50})
	require.Error(t, err)

	s, err = New(Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultOptions, s.Options())
}
