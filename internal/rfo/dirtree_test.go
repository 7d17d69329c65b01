package rfo

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirTree_Childless(t *testing.T) {
	buf, err := EncodeDirTree(&DirTree{Name: "empty"})
	require.NoError(t, err)

	expect := append([]byte("empty\x00"), byteOrder.AppendUint32(nil, 0)...)
	require.Equal(t, expect, buf)

	tree, err := DecodeDirTree(buf)
	require.NoError(t, err)
	require.Equal(t, &DirTree{Name: "empty"}, tree)
}

func TestDirTree_PreOrder(t *testing.T) {
	tree := &DirTree{
		Name: "d",
		Children: []*DirTree{
			{Name: "e", Children: []*DirTree{{Name: "g"}}},
			{Name: "f"},
		},
	}

	buf, err := EncodeDirTree(tree)
	require.NoError(t, err)

	var expect []byte
	node := func(name string, children uint32) {
		expect = append(expect, name...)
		expect = append(expect, 0)
		expect = byteOrder.AppendUint32(expect, children)
	}
	node("d", 2)
	node("e", 1)
	node("g", 0)
	node("f", 0)
	require.Equal(t, expect, buf)

	actual, err := DecodeDirTree(buf)
	require.NoError(t, err)
	require.Equal(t, tree, actual)
	require.Equal(t, 4, actual.Count())

	var names []string
	actual.Walk(func(n *DirTree, depth int) {
		names = append(names, n.Name+strconv.Itoa(depth))
	})
	require.Equal(t, []string{"d0", "e1", "g2", "f1"}, names)
}

func TestDirTree_Depth(t *testing.T) {
	build := func(depth int) *DirTree {
		root := &DirTree{Name: "n"}
		cur := root
		for i := 0; i < depth; i++ {
			next := &DirTree{Name: "n"}
			cur.Children = []*DirTree{next}
			cur = next
		}
		return root
	}

	buf, err := EncodeDirTree(build(MaxDirTreeDepth))
	require.NoError(t, err)
	tree, err := DecodeDirTree(buf)
	require.NoError(t, err)
	require.Equal(t, MaxDirTreeDepth+1, tree.Count())

	_, err = EncodeDirTree(build(MaxDirTreeDepth + 1))
	require.ErrorIs(t, err, ErrCorruptTree)

	// Hand-build a chain that is one level too deep.
	var deep []byte
	for i := 0; i <= MaxDirTreeDepth+1; i++ {
		deep = append(deep, 'n', 0)
		if i == MaxDirTreeDepth+1 {
			deep = byteOrder.AppendUint32(deep, 0)
		} else {
			deep = byteOrder.AppendUint32(deep, 1)
		}
	}
	_, err = DecodeDirTree(deep)
	require.ErrorIs(t, err, ErrCorruptTree)
}

func TestEncodeDirTree_Invalid(t *testing.T) {
	tt := []struct {
		name string
		tree *DirTree
	}{
		{"nil tree", nil},
		{"empty name", &DirTree{}},
		{"NUL in name", &DirTree{Name: "a\x00b"}},
		{"nil child", &DirTree{Name: "a", Children: []*DirTree{nil}}},
		{"empty child name", &DirTree{Name: "a", Children: []*DirTree{{}}}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeDirTree(tc.tree)
			require.ErrorIs(t, err, ErrCorruptTree)
		})
	}
}

func TestDecodeDirTree_Corrupt(t *testing.T) {
	withCount := func(name string, count uint32, rest ...byte) []byte {
		buf := append([]byte(name), 0)
		buf = byteOrder.AppendUint32(buf, count)
		return append(buf, rest...)
	}

	tt := []struct {
		name string
		buf  []byte
	}{
		{"empty buffer", nil},
		{"unterminated name", []byte("abc")},
		{"empty name", withCount("", 0)},
		{"missing count", []byte("abc\x00\x01")},
		{"children past end", withCount("abc", 2)},
		{"huge child count", withCount("abc", 0xFFFFFFFF)},
		{"truncated child", withCount("abc", 1, 'x', 0, 0)},
		{"trailing bytes", withCount("abc", 0, 1)},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeDirTree(tc.buf)
			require.ErrorIs(t, err, ErrCorruptTree)
		})
	}
}
