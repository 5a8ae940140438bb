package filetree_test

import (
	"context"
	"testing"
	"time"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyToAcrossTrees(t *testing.T) {
	ctx := context.Background()
	src := seed(t)
	dst := memory.New(memory.WithName("dst")).Root()

	a, err := src.GetFile(ctx, []string{"a"})
	require.NoError(t, err)

	copied, err := filetree.CopyTo(ctx, a, dst)
	require.NoError(t, err)
	assert.Equal(t, "a", copied.Name())
	assert.NotEqual(t, a.ID(), copied.ID())

	data, err := filetree.ReadPath(ctx, dst, []string{"a", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	// Source is untouched.
	assert.Equal(t, []string{"b.txt"}, names(t, a.(filetree.Directory)))

	_, err = filetree.CopyTo(ctx, a, dst)
	assert.ErrorIs(t, err, filetree.ErrExist)
	_, err = filetree.CopyTo(ctx, a, nil)
	assert.ErrorIs(t, err, filetree.ErrInvalidTarget)
}

func TestCopyToKeepsMimeType(t *testing.T) {
	ctx := context.Background()
	src := memory.New().Root()
	dst := memory.New().Root()

	f, err := src.AddFile(ctx, []byte("{}"), "data", "application/json")
	require.NoError(t, err)

	copied, err := filetree.CopyTo(ctx, f, dst)
	require.NoError(t, err)
	info, err := copied.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, "application/json", info.MimeType)
}

func TestCopyIntoItself(t *testing.T) {
	ctx := context.Background()
	root := seed(t)
	a := getDir(t, root, "a")

	_, err := filetree.CopyTo(ctx, a, a)
	assert.ErrorIs(t, err, filetree.ErrInvalidTarget)

	// Wrappers are seen through.
	_, err = filetree.CopyTo(ctx, filetree.NewProxy(a), filetree.NewChangeEventDirectory(a))
	assert.ErrorIs(t, err, filetree.ErrInvalidTarget)
}

func TestCopyIntoDescendant(t *testing.T) {
	ctx := context.Background()
	root := seed(t)
	a := getDir(t, root, "a")
	sub, err := a.AddDirectory(ctx, "sub")
	require.NoError(t, err)
	deep, err := sub.AddDirectory(ctx, "deep")
	require.NoError(t, err)

	_, err = filetree.CopyTo(ctx, a, deep)
	assert.ErrorIs(t, err, filetree.ErrInvalidTarget)
	_, err = filetree.MoveTo(ctx, filetree.NewProxy(a), deep)
	assert.ErrorIs(t, err, filetree.ErrInvalidTarget)

	assert.Empty(t, names(t, deep), "nothing is created")
	assert.Equal(t, []string{"b.txt", "sub"}, names(t, a))
}

func TestMoveToAcrossTrees(t *testing.T) {
	ctx := context.Background()
	src := seed(t)
	dst := memory.New().Root()

	a, err := src.GetFile(ctx, []string{"a"})
	require.NoError(t, err)

	moved, err := filetree.MoveTo(ctx, a, dst)
	require.NoError(t, err)
	assert.Equal(t, "a", moved.Name())

	assert.Equal(t, []string{"x", "y"}, names(t, src))
	data, err := filetree.ReadPath(ctx, dst, []string{"a", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestMoveToKeepsSourceOnFailedCopy(t *testing.T) {
	ctx := context.Background()
	src := seed(t)
	dst := memory.New().Root()
	_, err := dst.AddDirectory(ctx, "a")
	require.NoError(t, err)

	a, err := src.GetFile(ctx, []string{"a"})
	require.NoError(t, err)

	_, err = filetree.MoveTo(ctx, a, dst)
	assert.ErrorIs(t, err, filetree.ErrExist)
	assert.Equal(t, []string{"a", "x", "y"}, names(t, src))
}

func TestMoveToReadOnlySource(t *testing.T) {
	ctx := context.Background()
	src := filetree.NewReadOnly(seed(t)).(filetree.Directory)
	dst := memory.New().Root()

	f, err := src.GetFile(ctx, []string{"a", "b.txt"})
	require.NoError(t, err)

	copied, err := filetree.MoveTo(ctx, f, dst)
	require.Error(t, err)
	assert.ErrorIs(t, err, filetree.ErrReadOnly)
	require.NotNil(t, copied, "a failed delete keeps the copy")
	assert.Equal(t, []string{"b.txt"}, names(t, dst))
}

func TestMkdirAll(t *testing.T) {
	ctx := context.Background()
	root := seed(t)

	d, err := filetree.MkdirAll(ctx, root, []string{"a", "p", "q"})
	require.NoError(t, err)
	assert.Equal(t, "q", d.Name())
	assert.Equal(t, []string{"b.txt", "p"}, names(t, getDir(t, root, "a")))

	again, err := filetree.MkdirAll(ctx, root, []string{"a", "p", "q"})
	require.NoError(t, err)
	assert.Equal(t, d.ID(), again.ID())

	_, err = filetree.MkdirAll(ctx, root, []string{"a", "b.txt", "c"})
	assert.ErrorIs(t, err, filetree.ErrNotDir)

	self, err := filetree.MkdirAll(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, root.ID(), self.ID())
}

func TestPut(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		path    []string
		opts    []filetree.Option
		wantErr error
		check   func(t *testing.T, root filetree.Directory)
	}{
		{
			name: "creates file",
			path: []string{"a", "new.json"},
			check: func(t *testing.T, root filetree.Directory) {
				f, err := root.GetFile(ctx, []string{"a", "new.json"})
				require.NoError(t, err)
				info, err := f.Stat(ctx)
				require.NoError(t, err)
				assert.Equal(t, filetree.MIMETypeApplicationJSON, info.MimeType)
			},
		},
		{
			name: "explicit content type",
			path: []string{"a", "new.bin"},
			opts: []filetree.Option{filetree.WithContentType("image/png")},
			check: func(t *testing.T, root filetree.Directory) {
				f, err := root.GetFile(ctx, []string{"a", "new.bin"})
				require.NoError(t, err)
				info, err := f.Stat(ctx)
				require.NoError(t, err)
				assert.Equal(t, "image/png", info.MimeType)
			},
		},
		{
			name:    "existing without overwrite",
			path:    []string{"a", "b.txt"},
			wantErr: filetree.ErrExist,
		},
		{
			name: "existing with overwrite",
			path: []string{"a", "b.txt"},
			opts: []filetree.Option{filetree.WithOverwrite(true)},
			check: func(t *testing.T, root filetree.Directory) {
				data, err := filetree.ReadPath(ctx, root, []string{"a", "b.txt"})
				require.NoError(t, err)
				assert.Equal(t, "payload", string(data))
			},
		},
		{
			name:    "directory in the way",
			path:    []string{"a"},
			opts:    []filetree.Option{filetree.WithOverwrite(true)},
			wantErr: filetree.ErrIsDir,
		},
		{
			name:    "missing parent",
			path:    []string{"p", "q", "f.txt"},
			wantErr: filetree.ErrNotExist,
		},
		{
			name: "create parents",
			path: []string{"p", "q", "f.txt"},
			opts: []filetree.Option{filetree.WithCreateParents(true)},
			check: func(t *testing.T, root filetree.Directory) {
				data, err := filetree.ReadPath(ctx, root, []string{"p", "q", "f.txt"})
				require.NoError(t, err)
				assert.Equal(t, "payload", string(data))
			},
		},
		{
			name:    "parent is a file",
			path:    []string{"a", "b.txt", "f.txt"},
			wantErr: filetree.ErrNotDir,
		},
		{
			name:    "invalid name",
			path:    []string{"a", ".."},
			wantErr: filetree.ErrInvalidName,
		},
		{
			name:    "empty path",
			wantErr: filetree.ErrInvalidName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := seed(t)
			f, err := filetree.Put(ctx, root, tt.path, []byte("payload"), tt.opts...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], f.Name())
			if tt.check != nil {
				tt.check(t, root)
			}
		})
	}
}

func TestDirectoryLastModified(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	root := memory.New(memory.WithClock(func() time.Time { return clock })).Root()

	created := now.Add(-time.Hour)
	got, err := filetree.DirectoryLastModified(ctx, root, created)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = root.AddFile(ctx, []byte("1"), "one.txt", "")
	require.NoError(t, err)
	clock = now.Add(time.Minute)
	_, err = root.AddFile(ctx, []byte("2"), "two.txt", "")
	require.NoError(t, err)

	got, err = filetree.DirectoryLastModified(ctx, root, created)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), got)
}
