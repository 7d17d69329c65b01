// Package handles manages the handle space of an rfo client. The client
// shares a single integer space between handles opened on the local machine
// and handles opened through a server:
//
//	(-inf, Base)     local handles, passed through untouched
//	[Base, Limit]    remote handles, valid only while live
//	everything else  invalid
//
// Negative handles are local so the local primitive reports EBADF for them.
//
// A remote handle is the server's handle plus Base.
package handles

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Class is the classification of a handle.
type Class int

// Handle classes.
const (
	Invalid Class = iota
	Local
	Remote
)

func (c Class) String() string {
	switch c {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "invalid"
	}
}

// ErrExhausted is returned by Register when a server handle can't be mapped
// into the remote range.
var ErrExhausted = errors.New("remote handle space exhausted")

// Options configures a Space.
type Options struct {
	// Base is the first remote handle. Handles below Base are local.
	Base int

	// Limit is the last remote handle, inclusive.
	Limit int
}

// DefaultOptions holds the default handle split.
var DefaultOptions = Options{
	Base:  512,
	Limit: 1024,
}

// Space tracks which remote handles are live. Space is not safe for
// concurrent use.
type Space struct {
	o    Options
	live *bitset.BitSet
}

// New creates a new Space. Zero fields in o are taken from DefaultOptions.
func New(o Options) (*Space, error) {
	if o.Base == 0 {
		o.Base = DefaultOptions.Base
	}
	if o.Limit == 0 {
		o.Limit = DefaultOptions.Limit
	}
	if o.Base < 0 || o.Limit < o.Base {
		return nil, fmt.Errorf("invalid handle space [%d, %d]", o.Base, o.Limit)
	}

	return &Space{
		o:    o,
		live: bitset.New(uint(o.Limit-o.Base) + 1),
	}, nil
}

// Options returns the options used by s.
func (s *Space) Options() Options { return s.o }

// Classify classifies h. For remote handles, the server's handle is also
// returned. Remote handles which aren't live are Invalid.
func (s *Space) Classify(h int) (Class, int32) {
	switch {
	case h < s.o.Base:
		return Local, 0
	case s.IsLive(h):
		return Remote, int32(h - s.o.Base)
	default:
		return Invalid, 0
	}
}

// IsLive returns true if h is a live remote handle.
func (s *Space) IsLive(h int) bool {
	if h < s.o.Base || h > s.o.Limit {
		return false
	}
	return s.live.Test(uint(h - s.o.Base))
}

// Register marks the handle for the server handle server as live and
// returns it. ErrExhausted is returned if the result would fall past Limit.
func (s *Space) Register(server int32) (int, error) {
	if server < 0 {
		return -1, fmt.Errorf("invalid server handle %d", server)
	}
	if int64(server) > int64(s.o.Limit-s.o.Base) {
		return -1, fmt.Errorf("server handle %d maps past %d: %w", server, s.o.Limit, ErrExhausted)
	}
	s.live.Set(uint(server))
	return int(server) + s.o.Base, nil
}

// Release marks h as no longer live. Releasing a handle which isn't live is
// a no-op.
func (s *Space) Release(h int) {
	if !s.IsLive(h) {
		return
	}
	s.live.Clear(uint(h - s.o.Base))
}

// Len returns the number of live remote handles.
func (s *Space) Len() int { return int(s.live.Count()) }

// Live returns every live remote handle in ascending order.
func (s *Space) Live() []int {
	res := make([]int, 0, s.Len())
	for i, ok := s.live.NextSet(0); ok; i, ok = s.live.NextSet(i + 1) {
		res = append(res, int(i)+s.o.Base)
	}
	return res
}
