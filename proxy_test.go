package filetree_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyForwards(t *testing.T) {
	ctx := context.Background()
	root := memory.New().Root()
	f, err := root.AddFile(ctx, []byte("hi"), "a.txt", "")
	require.NoError(t, err)

	p := filetree.NewProxy(f)
	_, isDir := p.(filetree.Directory)
	assert.False(t, isDir)
	assert.Equal(t, f.ID(), p.ID())
	assert.Equal(t, "a.txt", p.Name())
	assert.Same(t, f, filetree.Unwrap(p))

	data, err := p.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	require.NoError(t, p.Rename(ctx, "b.txt"))
	assert.Equal(t, "b.txt", f.Name())

	dp := filetree.NewProxy(root)
	d, ok := dp.(filetree.Directory)
	require.True(t, ok)
	children, err := d.Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, f.ID(), children[0].ID())
}

func TestProxyRefiresEvents(t *testing.T) {
	ctx := context.Background()
	root := memory.New().Root()
	f, err := root.AddFile(ctx, []byte("hi"), "a.txt", "")
	require.NoError(t, err)

	p := filetree.NewProxy(f).(*filetree.Proxy)
	var got []filetree.File
	unregister := p.OnChange(func(n filetree.File) { got = append(got, n) })

	_, err = f.Write(ctx, []byte("direct"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Same(t, p, got[0])

	p.Notify()
	assert.Len(t, got, 2)

	unregister()
	_, err = f.Write(ctx, []byte("again"))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	p.OnChange(func(n filetree.File) { got = append(got, n) })
	p.Close()
	_, err = f.Write(ctx, []byte("closed"))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestChangeEventProxy(t *testing.T) {
	ctx := context.Background()
	// Without self notification only the proxy layer produces events.
	root := memory.New(memory.WithSelfNotify(false)).Root()
	f, err := root.AddFile(ctx, []byte("hi"), "a.txt", "")
	require.NoError(t, err)
	target, err := root.AddDirectory(ctx, "target")
	require.NoError(t, err)

	p := filetree.NewChangeEventProxy(f)
	var fired int
	p.OnChange(func(filetree.File) { fired++ })

	_, err = p.Write(ctx, []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	require.NoError(t, p.Rename(ctx, "b.txt"))
	assert.Equal(t, 2, fired)

	require.Error(t, p.Rename(ctx, "target"))
	assert.Equal(t, 2, fired, "failed operations never fire")

	wrappedTarget := filetree.NewChangeEventDirectory(target)
	var targetFired int
	wrappedTarget.OnChange(func(filetree.File) { targetFired++ })

	_, err = p.Copy(ctx, wrappedTarget)
	require.NoError(t, err)
	assert.Equal(t, 1, targetFired)
	assert.Equal(t, 2, fired)

	_, err = p.Move(ctx, wrappedTarget)
	assert.ErrorIs(t, err, filetree.ErrExist)
	assert.Equal(t, 2, fired)

	require.NoError(t, p.Delete(ctx))
	assert.Equal(t, 3, fired)
}

func TestChangeEventDirectory(t *testing.T) {
	ctx := context.Background()
	root := memory.New(memory.WithSelfNotify(false)).Root()
	d := filetree.NewChangeEventDirectory(root)

	var fired int
	d.OnChange(func(filetree.File) { fired++ })

	_, err := d.AddFile(ctx, []byte("x"), "a.txt", "")
	require.NoError(t, err)
	_, err = d.AddDirectory(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, 2, fired)

	_, err = d.AddFile(ctx, []byte("x"), "a.txt", "")
	assert.True(t, filetree.IsExist(err))
	assert.Equal(t, 2, fired)

	_, err = d.Write(ctx, []byte("x"))
	assert.True(t, errors.Is(err, filetree.ErrIsDir))
	assert.Equal(t, 2, fired)
}
