package server

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rfratto/remotefs/internal/rfo"
)

// handleTable maps the handles given to a peer onto host file descriptors.
// Handles start at 0 and closed handles are reused before new ones are
// allocated, which keeps them small enough for clients to map into their
// own handle space.
type handleTable struct {
	mut          sync.RWMutex
	fds          map[int32]int
	availHandles []int32
	nextHandle   int32
}

func newHandleTable() *handleTable {
	return &handleTable{fds: make(map[int32]int)}
}

// Add stores fd and returns the handle for it.
func (t *handleTable) Add(fd int) (int32, error) {
	t.mut.Lock()
	defer t.mut.Unlock()

	var h int32
	if numAvail := len(t.availHandles); numAvail > 0 {
		// Hand out the lowest free handle first.
		h = t.availHandles[0]
		t.availHandles = t.availHandles[1:]
	} else {
		if t.nextHandle == math.MaxInt32 {
			return -1, fmt.Errorf("exhausted handle space: %w", rfo.ErrorTooManyFiles)
		}
		h = t.nextHandle
		t.nextHandle++
	}

	t.fds[h] = fd
	return h, nil
}

// Get returns the fd for h.
func (t *handleTable) Get(h int32) (int, error) {
	t.mut.RLock()
	defer t.mut.RUnlock()

	fd, ok := t.fds[h]
	if !ok {
		return -1, fmt.Errorf("handle %d: %w", h, rfo.ErrorBadHandle)
	}
	return fd, nil
}

// Remove removes h from the table, returning the fd it held. The fd isn't
// closed.
func (t *handleTable) Remove(h int32) (int, error) {
	t.mut.Lock()
	defer t.mut.Unlock()

	fd, ok := t.fds[h]
	if !ok {
		return -1, fmt.Errorf("handle %d: %w", h, rfo.ErrorBadHandle)
	}
	delete(t.fds, h)

	idx := sort.Search(len(t.availHandles), func(i int) bool { return t.availHandles[i] > h })
	t.availHandles = append(t.availHandles, 0)
	copy(t.availHandles[idx+1:], t.availHandles[idx:])
	t.availHandles[idx] = h
	return fd, nil
}

// Len returns the number of open handles.
func (t *handleTable) Len() int {
	t.mut.RLock()
	defer t.mut.RUnlock()
	return len(t.fds)
}

// CloseAll removes every handle from the table and calls closeFn for each
// fd. Failures are aggregated.
func (t *handleTable) CloseAll(closeFn func(fd int) error) error {
	t.mut.Lock()
	fds := t.fds
	t.fds = make(map[int32]int)
	t.availHandles = nil
	t.nextHandle = 0
	t.mut.Unlock()

	var errs *multierror.Error
	for h, fd := range fds {
		if err := closeFn(fd); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing handle %d: %w", h, err))
		}
	}
	return errs.ErrorOrNil()
}
