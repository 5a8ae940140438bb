package filetree_test

import (
	"context"
	"testing"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mounted returns a virtual root with a second memory tree mounted on /mnt.
func mounted(t *testing.T) (vfs *filetree.VirtualDirectory, base, other filetree.Directory) {
	t.Helper()
	ctx := context.Background()

	base = memory.New(memory.WithName("base")).Root()
	_, err := base.AddDirectory(ctx, "mnt")
	require.NoError(t, err)
	_, err = base.AddFile(ctx, []byte("base"), "base.txt", "")
	require.NoError(t, err)

	other = memory.New(memory.WithName("other")).Root()
	_, err = other.AddFile(ctx, []byte("from other"), "o.txt", "")
	require.NoError(t, err)

	vfs = filetree.NewVirtualFS(base)
	require.NoError(t, vfs.MountAt(ctx, []string{"mnt"}, other))
	return vfs, base, other
}

func TestVirtualMountTransparency(t *testing.T) {
	ctx := context.Background()
	vfs, base, _ := mounted(t)

	raw, err := base.GetFile(ctx, []string{"mnt"})
	require.NoError(t, err)

	mnt, err := vfs.GetFile(ctx, []string{"mnt"})
	require.NoError(t, err)
	assert.Equal(t, "mnt", mnt.Name())
	assert.Equal(t, raw.ID(), mnt.ID())

	info, err := mnt.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mnt", info.Name)
	assert.True(t, info.Dir)

	assert.Equal(t, []string{"o.txt"}, names(t, mnt.(filetree.Directory)))
	data, err := filetree.ReadPath(ctx, vfs, []string{"mnt", "o.txt"})
	require.NoError(t, err)
	assert.Equal(t, "from other", string(data))

	assert.Equal(t, []string{"base.txt", "mnt"}, names(t, vfs))
	assert.Equal(t, []string{raw.ID()}, vfs.MountIDs())
}

func TestVirtualCopyMountIntoItself(t *testing.T) {
	ctx := context.Background()
	vfs, _, other := mounted(t)
	_, err := other.AddDirectory(ctx, "sub")
	require.NoError(t, err)

	mnt, err := vfs.GetFile(ctx, []string{"mnt"})
	require.NoError(t, err)
	sub := getDir(t, vfs, "mnt", "sub")

	_, err = mnt.Copy(ctx, sub)
	assert.ErrorIs(t, err, filetree.ErrInvalidTarget)
	assert.Empty(t, names(t, getDir(t, other, "sub")))
}

func TestVirtualWritesReachMountedTree(t *testing.T) {
	ctx := context.Background()
	vfs, base, other := mounted(t)

	_, err := filetree.Put(ctx, vfs, []string{"mnt", "new.txt"}, []byte("x"))
	require.NoError(t, err)

	_, err = other.GetFile(ctx, []string{"new.txt"})
	assert.NoError(t, err)
	raw, err := base.GetFile(ctx, []string{"mnt"})
	require.NoError(t, err)
	assert.Empty(t, names(t, raw.(filetree.Directory)))
}

func TestVirtualUnmount(t *testing.T) {
	ctx := context.Background()
	vfs, base, _ := mounted(t)

	raw, err := base.GetFile(ctx, []string{"mnt"})
	require.NoError(t, err)
	require.NoError(t, vfs.Unmount(raw.ID()))
	assert.Empty(t, vfs.Mounts())

	_, err = vfs.GetFile(ctx, []string{"mnt", "o.txt"})
	assert.ErrorIs(t, err, filetree.ErrNotExist)
	mnt, err := vfs.GetFile(ctx, []string{"mnt"})
	require.NoError(t, err)
	assert.Empty(t, names(t, mnt.(filetree.Directory)))

	err = vfs.Unmount(raw.ID())
	assert.ErrorIs(t, err, filetree.ErrMountNotFound)
	assert.ErrorIs(t, err, filetree.ErrNotExist)
}

func TestVirtualMountErrors(t *testing.T) {
	ctx := context.Background()
	vfs, base, other := mounted(t)

	raw, err := base.GetFile(ctx, []string{"mnt"})
	require.NoError(t, err)

	err = vfs.Mount(raw.ID(), other)
	assert.ErrorIs(t, err, filetree.ErrMountExists)
	assert.ErrorIs(t, err, filetree.ErrExist)

	assert.ErrorIs(t, vfs.Mount("anything", nil), filetree.ErrNilDirectory)
	assert.ErrorIs(t, vfs.MountAt(ctx, nil, other), filetree.ErrInvalidTarget)
	assert.ErrorIs(t, vfs.MountAt(ctx, []string{"missing"}, other), filetree.ErrNotExist)
}

func TestVirtualMountFollowsRename(t *testing.T) {
	ctx := context.Background()
	vfs, base, _ := mounted(t)

	raw, err := base.GetFile(ctx, []string{"mnt"})
	require.NoError(t, err)
	require.NoError(t, raw.Rename(ctx, "renamed"))

	data, err := filetree.ReadPath(ctx, vfs, []string{"renamed", "o.txt"})
	require.NoError(t, err)
	assert.Equal(t, "from other", string(data))

	// Renaming through the mount point renames the mount point itself.
	mnt, err := vfs.GetFile(ctx, []string{"renamed"})
	require.NoError(t, err)
	require.NoError(t, mnt.Rename(ctx, "again"))
	assert.Equal(t, "again", raw.Name())
	_, err = filetree.ReadPath(ctx, vfs, []string{"again", "o.txt"})
	assert.NoError(t, err)
}

func TestVirtualNestedMounts(t *testing.T) {
	ctx := context.Background()
	vfs, _, _ := mounted(t)

	deep := memory.New(memory.WithName("deep")).Root()
	_, err := deep.AddFile(ctx, []byte("deep"), "d.txt", "")
	require.NoError(t, err)

	_, err = filetree.MkdirAll(ctx, vfs, []string{"mnt", "inner"})
	require.NoError(t, err)
	require.NoError(t, vfs.MountAt(ctx, []string{"mnt", "inner"}, deep))

	data, err := filetree.ReadPath(ctx, vfs, []string{"mnt", "inner", "d.txt"})
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
	assert.Len(t, vfs.MountIDs(), 2)
}

func TestVirtualEvents(t *testing.T) {
	ctx := context.Background()
	vfs, base, other := mounted(t)

	var fired int
	unregister := vfs.OnChange(func(f filetree.File) {
		assert.Same(t, vfs, f)
		fired++
	})
	defer unregister()

	_, err := filetree.Put(ctx, other, []string{"o.txt"}, []byte("changed"), filetree.WithOverwrite(true))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fired, 1, "changes inside a mounted tree fire on the virtual root")

	fired = 0
	_, err = base.AddFile(ctx, []byte("b"), "b.txt", "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fired, 1)

	fired = 0
	raw, err := base.GetFile(ctx, []string{"mnt"})
	require.NoError(t, err)
	require.NoError(t, vfs.Unmount(raw.ID()))
	assert.Equal(t, 1, fired)

	fired = 0
	_, err = filetree.Put(ctx, other, []string{"o.txt"}, []byte("unmounted"), filetree.WithOverwrite(true))
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestVirtualNames(t *testing.T) {
	base := memory.New(memory.WithName("base")).Root()

	assert.Equal(t, "base", filetree.NewVirtualFS(base).Name())

	v := filetree.NewVirtualFS(base, filetree.WithDisplayName("home"))
	assert.Equal(t, "home", v.Name())
	info, err := v.Stat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "home", info.Name)
	assert.Equal(t, "base", base.Name())
}

func TestVirtualSearch(t *testing.T) {
	ctx := context.Background()
	vfs, _, _ := mounted(t)

	results, err := vfs.Search(ctx, "*.txt")
	require.NoError(t, err)

	var paths []string
	for _, r := range results {
		paths = append(paths, filetree.EncodePath(r.Path))
	}
	assert.ElementsMatch(t, []string{"base.txt", "mnt/o.txt"}, paths)
}

func TestVirtualOverCache(t *testing.T) {
	ctx := context.Background()
	vfs, _, other := mounted(t)
	cached := filetree.NewCachedDirectory(vfs)

	assert.Equal(t, []string{"o.txt"}, names(t, getDir(t, cached, "mnt")))

	_, err := filetree.Put(ctx, other, []string{"late.txt"}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"late.txt", "o.txt"}, names(t, getDir(t, cached, "mnt")))
}
