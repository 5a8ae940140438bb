package zip

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, zipPath string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a.txt", "a.txt", true},
		{"dir/", "dir/", true},
		{"./dir//b.txt", "dir/b.txt", true},
		{`win\path\c.txt`, "win/path/c.txt", true},
		{"/abs/d.txt", "abs/d.txt", true},
		{"../escape.txt", "escape.txt", true},
		{"", "", false},
		{"/", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := normalize(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("missing file is empty", func(t *testing.T) {
		a, err := Open(filepath.Join(dir, "new.zip"))
		require.NoError(t, err)
		objs, err := a.List(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, objs)
		_, err = os.Stat(filepath.Join(dir, "new.zip"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing file read-only", func(t *testing.T) {
		_, err := Open(filepath.Join(dir, "none.zip"), ReadOnly())
		assert.Error(t, err)
	})

	t.Run("existing entries", func(t *testing.T) {
		zipPath := filepath.Join(dir, "existing.zip")
		writeZip(t, zipPath, map[string]string{"a.txt": "one", "docs/b.txt": "two", "empty/": ""})

		a, err := Open(zipPath)
		require.NoError(t, err)
		data, err := a.Get(ctx, "docs/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "two", string(data))

		obj, err := a.Head(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(3), obj.Size)

		_, err = a.Head(ctx, "missing")
		assert.True(t, filetree.IsNotExist(err))
	})
}

func TestTree(t *testing.T) {
	ctx := context.Background()
	zipPath := filepath.Join(t.TempDir(), "bundle.zip")
	writeZip(t, zipPath, map[string]string{"readme.md": "# hi", "src/main.go": "package main", "empty/": ""})

	fs, a, err := New(zipPath)
	require.NoError(t, err)
	root := fs.Root()
	assert.Equal(t, "bundle", root.Name())

	children, err := root.Children(ctx)
	require.NoError(t, err)
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.Name()
	}
	assert.Equal(t, []string{"empty", "readme.md", "src"}, names)

	src, err := root.GetFile(ctx, []string{"src"})
	require.NoError(t, err)
	srcDir, ok := src.(filetree.Directory)
	require.True(t, ok)

	_, err = srcDir.AddFile(ctx, []byte("package util"), "util.go", "")
	require.NoError(t, err)
	f, err := root.GetFile(ctx, []string{"readme.md"})
	require.NoError(t, err)
	require.NoError(t, f.Rename(ctx, "README.md"))
	require.NoError(t, a.Close())

	reopened, _, err := New(zipPath)
	require.NoError(t, err)
	util, err := reopened.Root().GetFile(ctx, []string{"src", "util.go"})
	require.NoError(t, err)
	data, err := util.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "package util", string(data))

	_, err = reopened.Root().GetFile(ctx, []string{"readme.md"})
	assert.True(t, filetree.IsNotExist(err))
	_, err = reopened.Root().GetFile(ctx, []string{"README.md"})
	assert.NoError(t, err)
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	zipPath := filepath.Join(t.TempDir(), "ro.zip")
	writeZip(t, zipPath, map[string]string{"a.txt": "a"})

	a, err := Open(zipPath, ReadOnly())
	require.NoError(t, err)
	root := object.New(a).Root()

	_, err = root.AddFile(ctx, []byte("x"), "b.txt", "")
	assert.ErrorIs(t, err, filetree.ErrReadOnly)

	f, err := root.GetFile(ctx, []string{"a.txt"})
	require.NoError(t, err)
	data, err := f.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
	assert.ErrorIs(t, f.Delete(ctx), filetree.ErrReadOnly)
}

func TestDeferredWrites(t *testing.T) {
	ctx := context.Background()
	zipPath := filepath.Join(t.TempDir(), "deferred.zip")

	a, err := Open(zipPath, WithDeferredWrites(), WithStore())
	require.NoError(t, err)
	require.NoError(t, a.Put(ctx, "a.txt", []byte("a"), "text/plain"))
	require.NoError(t, a.Copy(ctx, "a.txt", "b.txt"))

	_, err = os.Stat(zipPath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, a.Flush())
	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 2)
	assert.Equal(t, "a.txt", r.File[0].Name)
	assert.Equal(t, "b.txt", r.File[1].Name)
	assert.Equal(t, zip.Store, r.File[0].Method)
}
