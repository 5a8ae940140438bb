package filetree_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed builds a/b.txt = "hi", x/x1.txt and y/y1.txt under a fresh memory root.
func seed(t *testing.T, opts ...memory.Option) filetree.Directory {
	t.Helper()
	ctx := context.Background()
	root := memory.New(opts...).Root()
	for _, dir := range []string{"a", "x", "y"} {
		_, err := root.AddDirectory(ctx, dir)
		require.NoError(t, err)
	}
	_, err := filetree.Put(ctx, root, []string{"a", "b.txt"}, []byte("hi"))
	require.NoError(t, err)
	_, err = filetree.Put(ctx, root, []string{"x", "x1.txt"}, []byte("x1"))
	require.NoError(t, err)
	_, err = filetree.Put(ctx, root, []string{"y", "y1.txt"}, []byte("y1"))
	require.NoError(t, err)
	return root
}

func names(t *testing.T, d filetree.Directory) []string {
	t.Helper()
	children, err := d.Children(context.Background())
	require.NoError(t, err)
	out := make([]string, len(children))
	for i, c := range children {
		out[i] = c.Name()
	}
	return out
}

func getDir(t *testing.T, d filetree.Directory, path ...string) filetree.Directory {
	t.Helper()
	f, err := d.GetFile(context.Background(), path)
	require.NoError(t, err)
	dir, ok := f.(filetree.Directory)
	require.True(t, ok, "%v is not a directory", path)
	return dir
}

func TestCachePathIdentity(t *testing.T) {
	ctx := context.Background()
	backend := seed(t)
	root := filetree.NewCachedDirectory(backend)

	raw, err := backend.GetFile(ctx, []string{"a", "b.txt"})
	require.NoError(t, err)

	first, err := root.GetFile(ctx, []string{"a", "b.txt"})
	require.NoError(t, err)
	second, err := root.GetFile(ctx, []string{"a", "b.txt"})
	require.NoError(t, err)

	assert.Equal(t, raw.ID(), first.ID())
	assert.Same(t, first, second)
	assert.Same(t, raw, filetree.Unwrap(first))

	// Listing returns the same wrappers the index hands out.
	a := getDir(t, root, "a")
	children, err := a.Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Same(t, first, children[0])

	// A path relative to a subdirectory shares the root's index.
	rel, err := a.GetFile(ctx, []string{"b.txt"})
	require.NoError(t, err)
	assert.Same(t, first, rel)

	self, err := root.GetFile(ctx, nil)
	require.NoError(t, err)
	assert.Same(t, root, self)
}

func TestCacheStats(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))

	_, err := root.GetFile(ctx, []string{"a", "b.txt"})
	require.NoError(t, err)
	_, err = root.GetFile(ctx, []string{"a", "b.txt"})
	require.NoError(t, err)

	stats := root.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(4), stats.Size) // a, x, y, a/b.txt
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 0.001)

	hits, misses := root.ChildrenStats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCacheUniqueness(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))

	existing, err := root.GetFile(ctx, []string{"a"})
	require.NoError(t, err)

	_, err = root.AddDirectory(ctx, "a")
	assert.ErrorIs(t, err, filetree.ErrExist)
	_, err = root.AddFile(ctx, []byte("x"), "a", "")
	assert.ErrorIs(t, err, filetree.ErrExist)

	again, err := root.GetFile(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Same(t, existing, again)
	assert.Equal(t, []string{"b.txt"}, names(t, getDir(t, root, "a")))
}

func TestCacheReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))
	assert.Equal(t, []string{"a", "x", "y"}, names(t, root))

	f, err := root.AddFile(ctx, []byte("one"), "n.txt", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "n.txt", "x", "y"}, names(t, root))

	got, err := root.GetFile(ctx, []string{"n.txt"})
	require.NoError(t, err)
	assert.Same(t, f, got)

	_, err = f.Write(ctx, []byte("two"))
	require.NoError(t, err)
	data, err := f.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	sub, err := root.AddDirectory(ctx, "sub")
	require.NoError(t, err)
	assert.IsType(t, &filetree.CachedDirectory{}, sub)
	assert.Contains(t, names(t, root), "sub")

	require.NoError(t, f.Delete(ctx))
	assert.NotContains(t, names(t, root), "n.txt")
	_, err = root.GetFile(ctx, []string{"n.txt"})
	assert.ErrorIs(t, err, filetree.ErrNotExist)
}

func TestCacheChangePropagation(t *testing.T) {
	ctx := context.Background()

	for _, selfNotify := range []bool{true, false} {
		t.Run(fmt.Sprintf("self notify %v", selfNotify), func(t *testing.T) {
			root := filetree.NewCachedDirectory(seed(t, memory.WithSelfNotify(selfNotify)))
			f, err := root.GetFile(ctx, []string{"a", "b.txt"})
			require.NoError(t, err)

			var fired int
			unregister := root.OnChange(func(n filetree.File) {
				assert.Same(t, root, n)
				fired++
			})
			_, err = f.Write(ctx, []byte("changed"))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, fired, 1)

			unregister()
			fired = 0
			_, err = f.Write(ctx, []byte("again"))
			require.NoError(t, err)
			assert.Zero(t, fired)
		})
	}
}

func TestCacheRenameScenario(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))

	data, err := filetree.ReadPath(ctx, root, []string{"a", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	a, err := root.GetFile(ctx, []string{"a"})
	require.NoError(t, err)
	require.NoError(t, a.Rename(ctx, "a2"))

	_, err = root.GetFile(ctx, []string{"a", "b.txt"})
	assert.ErrorIs(t, err, filetree.ErrNotExist)

	data, err = filetree.ReadPath(ctx, root, []string{"a2", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	// The renamed wrapper keeps resolving under its new name.
	again, err := root.GetFile(ctx, []string{"a2"})
	require.NoError(t, err)
	assert.Same(t, a, again)
	f, err := a.(filetree.Directory).GetFile(ctx, []string{"b.txt"})
	require.NoError(t, err)
	direct, err := root.GetFile(ctx, []string{"a2", "b.txt"})
	require.NoError(t, err)
	assert.Same(t, direct, f)
}

func TestCacheUnrelatedSubtreeKeepsHitting(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))
	x := getDir(t, root, "x").(*filetree.CachedDirectory)

	names(t, x)
	names(t, x)
	hits, misses := x.ChildrenStats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(1), misses)

	y1, err := root.GetFile(ctx, []string{"y", "y1.txt"})
	require.NoError(t, err)
	_, err = y1.Write(ctx, []byte("sibling write"))
	require.NoError(t, err)

	names(t, x)
	hits, misses = x.ChildrenStats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)

	// The mutated chain was invalidated.
	y := getDir(t, root, "y").(*filetree.CachedDirectory)
	_, yMisses := y.ChildrenStats()
	names(t, y)
	_, after := y.ChildrenStats()
	assert.Equal(t, yMisses+1, after)
}

func TestCacheFailedMutationKeepsCache(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))
	a := getDir(t, root, "a").(*filetree.CachedDirectory)
	names(t, a)

	before := root.Stats().Invalidations
	_, err := a.AddFile(ctx, []byte("dup"), "b.txt", "")
	require.ErrorIs(t, err, filetree.ErrExist)

	b, err := a.GetFile(ctx, []string{"b.txt"})
	require.NoError(t, err)
	require.Error(t, b.Rename(ctx, "bad/name"))

	names(t, a)
	hits, misses := a.ChildrenStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, before, root.Stats().Invalidations)
}

func TestCacheDetachAfterDelete(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))
	a := getDir(t, root, "a")
	names(t, a)

	require.NoError(t, a.Delete(ctx))
	_, err := a.Children(ctx)
	assert.ErrorIs(t, err, filetree.ErrNotExist)
	_, err = a.GetFile(ctx, []string{"b.txt"})
	assert.ErrorIs(t, err, filetree.ErrNotExist)
	_, err = a.Search(ctx, "b")
	assert.ErrorIs(t, err, filetree.ErrNotExist)

	assert.Equal(t, []string{"x", "y"}, names(t, root))
	_, err = root.GetFile(ctx, []string{"a", "b.txt"})
	assert.ErrorIs(t, err, filetree.ErrNotExist)
}

func TestCacheMove(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))
	a := getDir(t, root, "a")
	x := getDir(t, root, "x")

	moved, err := a.Move(ctx, x)
	require.NoError(t, err)
	assert.IsType(t, &filetree.CachedDirectory{}, moved)
	assert.Equal(t, "a", moved.Name())

	_, err = a.Children(ctx)
	assert.ErrorIs(t, err, filetree.ErrNotExist)

	data, err := filetree.ReadPath(ctx, root, []string{"x", "a", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	got, err := root.GetFile(ctx, []string{"x", "a"})
	require.NoError(t, err)
	assert.Same(t, moved, got)

	leaf, err := root.GetFile(ctx, []string{"y", "y1.txt"})
	require.NoError(t, err)
	copied, err := leaf.Copy(ctx, x)
	require.NoError(t, err)
	got, err = root.GetFile(ctx, []string{"x", "y1.txt"})
	require.NoError(t, err)
	assert.Same(t, got, copied)
}

func TestCacheSearch(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))

	results, err := root.Search(ctx, "*.txt")
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, r := range results {
		f, err := root.GetFile(ctx, r.Path)
		require.NoError(t, err)
		assert.Same(t, f, r.File)
	}

	a := getDir(t, root, "a")
	results, err = a.Search(ctx, "b")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"b.txt"}, results[0].Path)
}

func TestCacheExternalChanges(t *testing.T) {
	ctx := context.Background()
	backend := seed(t, memory.WithSelfNotify(false))
	root := filetree.NewCachedDirectory(backend)
	x := getDir(t, root, "x")
	assert.Equal(t, []string{"x1.txt"}, names(t, x))

	_, err := filetree.Put(ctx, backend, []string{"x", "x2.txt"}, []byte("x2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x1.txt"}, names(t, x), "external changes are not seen without a signal")

	root.Invalidate()
	assert.Equal(t, []string{"x1.txt", "x2.txt"}, names(t, x))

	names(t, root)
	token := filetree.NewCallbackChangeToken()
	unregister := root.InvalidateOn(token)
	defer unregister()
	_, err = backend.AddDirectory(ctx, "z")
	require.NoError(t, err)
	assert.NotContains(t, names(t, root), "z")
	token.SignalChange()
	assert.Contains(t, names(t, root), "z")
}

func TestCacheSelfNotifyingBackend(t *testing.T) {
	ctx := context.Background()
	backend := seed(t)
	root := filetree.NewCachedDirectory(backend)
	x := getDir(t, root, "x")
	names(t, x)

	_, err := filetree.Put(ctx, backend, []string{"x", "x2.txt"}, []byte("x2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x1.txt", "x2.txt"}, names(t, x))
}

func TestCacheOptions(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	var mu sync.Mutex
	var hitPaths, missPaths []string

	root := filetree.NewCachedDirectory(seed(t),
		filetree.WithMetrics(filetree.NewCacheMetrics(reg, "test")),
		filetree.WithCacheHitCallback(func(op, path string) {
			mu.Lock()
			defer mu.Unlock()
			hitPaths = append(hitPaths, op+":"+path)
		}),
		filetree.WithCacheMissCallback(func(op, path string) {
			mu.Lock()
			defer mu.Unlock()
			missPaths = append(missPaths, op+":"+path)
		}),
	)

	_, err := root.GetFile(ctx, []string{"a"})
	require.NoError(t, err)
	_, err = root.GetFile(ctx, []string{"a"})
	require.NoError(t, err)

	assert.Equal(t, []string{"getfile:a", "children:"}, missPaths)
	assert.Equal(t, []string{"getfile:a"}, hitPaths)

	expected := `
# HELP test_cache_index_entries Number of wrappers in the path index
# TYPE test_cache_index_entries gauge
test_cache_index_entries 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_cache_index_entries"))

	// A second tree on the same registry shares the collectors.
	assert.NotPanics(t, func() { filetree.NewCacheMetrics(reg, "test") })
}

func TestCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	root := filetree.NewCachedDirectory(seed(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = root.GetFile(ctx, []string{"a", "b.txt"})
				_, _ = filetree.Put(ctx, root, []string{"y", fmt.Sprintf("f%d.txt", i)}, []byte("v"), filetree.WithOverwrite(true))
				_, _ = root.Children(ctx)
			}
		}(i)
	}
	wg.Wait()

	y := getDir(t, root, "y")
	assert.Len(t, names(t, y), 9)
}
