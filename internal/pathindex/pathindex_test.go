package pathindex

import (
	"testing"

	"github.com/gobeaver/filetree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFile struct {
	filetree.File
	id string
}

type stubDir struct {
	filetree.Directory
	id string
}

func newIndex() *Index {
	return New(func(id string, dir bool) filetree.File {
		if dir {
			return &stubDir{id: id}
		}
		return &stubFile{id: id}
	})
}

func idOf(f filetree.File) string {
	switch s := f.(type) {
	case *stubDir:
		return s.id
	case *stubFile:
		return s.id
	}
	return ""
}

func TestHandle(t *testing.T) {
	x := newIndex()

	a := x.Handle([]string{"a"}, true)
	assert.Same(t, a, x.Handle([]string{"a"}, true))
	assert.True(t, filetree.IsDirectory(a))

	b := x.Handle([]string{"a", "b.txt"}, false)
	assert.NotEqual(t, idOf(a), idOf(b))

	// A path that changed kind gets a new node.
	replaced := x.Handle([]string{"a", "b.txt"}, true)
	assert.NotEqual(t, idOf(b), idOf(replaced))
	assert.Nil(t, x.Node(idOf(b)))

	p, ok := x.PathOf(idOf(replaced))
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b.txt"}, p)
	p[0] = "changed"
	p, _ = x.PathOf(idOf(replaced))
	assert.Equal(t, "a", p[0])
}

func TestForget(t *testing.T) {
	x := newIndex()
	a := x.Handle([]string{"a"}, true)
	ab := x.Handle([]string{"a", "b"}, false)
	abc := x.Handle([]string{"ab"}, false)

	x.Forget([]string{"a"})
	assert.Nil(t, x.Node(idOf(a)))
	assert.Nil(t, x.Node(idOf(ab)))
	assert.Same(t, abc, x.Node(idOf(abc)), "siblings sharing a prefix survive")

	_, ok := x.PathOf(idOf(ab))
	assert.False(t, ok)
	assert.NotNil(t, x.Listeners(idOf(ab)))
}

func TestRemap(t *testing.T) {
	x := newIndex()
	a := x.Handle([]string{"a"}, true)
	ab := x.Handle([]string{"a", "b.txt"}, false)
	old := x.Handle([]string{"z"}, true)

	x.Remap([]string{"a"}, []string{"z"})

	assert.Nil(t, x.Node(idOf(old)))
	p, ok := x.PathOf(idOf(a))
	require.True(t, ok)
	assert.Equal(t, []string{"z"}, p)
	p, ok = x.PathOf(idOf(ab))
	require.True(t, ok)
	assert.Equal(t, []string{"z", "b.txt"}, p)

	assert.Same(t, ab, x.Handle([]string{"z", "b.txt"}, false))
	assert.NotSame(t, ab, x.Handle([]string{"a", "b.txt"}, false))
}

func TestFire(t *testing.T) {
	x := newIndex()
	root := x.Handle(nil, true)
	a := x.Handle([]string{"a"}, true)
	ab := x.Handle([]string{"a", "b.txt"}, false)
	other := x.Handle([]string{"other"}, true)

	counts := make(map[string]int)
	for _, n := range []filetree.File{root, a, ab, other} {
		n := n
		x.Listeners(idOf(n)).Register(func(f filetree.File) {
			assert.Same(t, n, f)
			counts[idOf(f)]++
		})
	}

	x.Fire([]string{"a", "b.txt"}, []string{"a"})
	assert.Equal(t, 1, counts[idOf(root)])
	assert.Equal(t, 1, counts[idOf(a)])
	assert.Equal(t, 1, counts[idOf(ab)])
	assert.Zero(t, counts[idOf(other)])
}

func TestIsPrefix(t *testing.T) {
	assert.True(t, IsPrefix(nil, []string{"a"}))
	assert.True(t, IsPrefix([]string{"a"}, []string{"a"}))
	assert.True(t, IsPrefix([]string{"a"}, []string{"a", "b"}))
	assert.False(t, IsPrefix([]string{"a", "b"}, []string{"a"}))
	assert.False(t, IsPrefix([]string{"ab"}, []string{"a", "b"}))
}
