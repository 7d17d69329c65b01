package rfo

import (
	"bytes"
	"fmt"
	"strings"
)

// MaxDirTreeDepth is the deepest directory tree that can be encoded or
// decoded. The root is at depth 0.
const MaxDirTreeDepth = 256

// minEncodedNode is the smallest possible encoded node: a one-byte name, its
// terminator, and a child count.
const minEncodedNode = 1 + 1 + 4

// DirTree is a node in a directory tree. The root node is named after the
// queried path; every other node is named after its directory entry. Leaves
// have no children.
type DirTree struct {
	Name     string
	Children []*DirTree
}

// Walk calls fn for every node in t in pre-order. depth is 0 for t.
func (t *DirTree) Walk(fn func(n *DirTree, depth int)) {
	t.walk(fn, 0)
}

func (t *DirTree) walk(fn func(n *DirTree, depth int), depth int) {
	fn(t, depth)
	for _, c := range t.Children {
		c.walk(fn, depth+1)
	}
}

// Count returns the number of nodes in t, including t.
func (t *DirTree) Count() int {
	var n int
	t.Walk(func(*DirTree, int) { n++ })
	return n
}

// EncodeDirTree serializes t. Nodes are written in pre-order: the name, a
// NUL terminator, a fixed-width child count, and then each child in order.
func EncodeDirTree(t *DirTree) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tree", ErrCorruptTree)
	}
	aw := newArgWriter(64)
	if err := encodeNode(aw, t, 0); err != nil {
		return nil, err
	}
	return aw.Finish(), nil
}

func encodeNode(aw *argWriter, n *DirTree, depth int) error {
	switch {
	case depth > MaxDirTreeDepth:
		return fmt.Errorf("%w: deeper than %d levels", ErrCorruptTree, MaxDirTreeDepth)
	case n.Name == "":
		return fmt.Errorf("%w: empty node name", ErrCorruptTree)
	case strings.IndexByte(n.Name, 0) != -1:
		return fmt.Errorf("%w: node name %q contains NUL", ErrCorruptTree, n.Name)
	}

	aw.String(n.Name)
	aw.Uint32(uint32(len(n.Children)))
	for _, c := range n.Children {
		if c == nil {
			return fmt.Errorf("%w: nil child of %q", ErrCorruptTree, n.Name)
		}
		if err := encodeNode(aw, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// DecodeDirTree deserializes a tree written by EncodeDirTree. buf must hold
// exactly one tree. Returns ErrCorruptTree if buf can't be decoded.
func DecodeDirTree(buf []byte) (*DirTree, error) {
	t, off, err := decodeNode(buf, 0, 0)
	if err != nil {
		return nil, err
	}
	if off != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptTree, len(buf)-off)
	}
	return t, nil
}

// decodeNode decodes the node starting at off, returning the node and the
// offset just past it.
func decodeNode(buf []byte, off int, depth int) (*DirTree, int, error) {
	if depth > MaxDirTreeDepth {
		return nil, off, fmt.Errorf("%w: deeper than %d levels", ErrCorruptTree, MaxDirTreeDepth)
	}

	nul := bytes.IndexByte(buf[off:], 0)
	switch {
	case nul == -1:
		return nil, off, fmt.Errorf("%w: unterminated name at offset %d", ErrCorruptTree, off)
	case nul == 0:
		return nil, off, fmt.Errorf("%w: empty name at offset %d", ErrCorruptTree, off)
	}
	name := string(buf[off : off+nul])
	off += nul + 1

	if len(buf)-off < 4 {
		return nil, off, fmt.Errorf("%w: missing child count for %q", ErrCorruptTree, name)
	}
	count := byteOrder.Uint32(buf[off:])
	off += 4

	// Reject counts that the rest of the buffer couldn't possibly hold
	// before allocating anything for them.
	if uint64(count)*minEncodedNode > uint64(len(buf)-off) {
		return nil, off, fmt.Errorf("%w: %q claims %d children with %d bytes left", ErrCorruptTree, name, count, len(buf)-off)
	}

	n := &DirTree{Name: name}
	if count > 0 {
		n.Children = make([]*DirTree, 0, count)
	}
	for i := uint32(0); i < count; i++ {
		var (
			child *DirTree
			err   error
		)
		child, off, err = decodeNode(buf, off, depth+1)
		if err != nil {
			return nil, off, err
		}
		n.Children = append(n.Children, child)
	}
	return n, off, nil
}
