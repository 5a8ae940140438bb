package filetree_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T, cfg *filetree.Config) *filetree.Tree {
	t.Helper()
	tree, err := filetree.New(cfg, filetree.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	return tree
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("default layers", func(t *testing.T) {
		tree := newTree(t, &filetree.Config{Driver: "memory", CacheEnabled: true})
		require.NotNil(t, tree.Cache)
		assert.Equal(t, "memory", tree.Root.Name())

		_, err := tree.Root.AddFile(ctx, []byte("hi"), "a.txt", "")
		require.NoError(t, err)
		data, err := filetree.ReadPath(ctx, tree.Backend, []string{"a.txt"})
		require.NoError(t, err)
		assert.Equal(t, "hi", string(data))
	})

	t.Run("without cache", func(t *testing.T) {
		tree := newTree(t, &filetree.Config{Driver: "memory", RootName: "files"})
		assert.Nil(t, tree.Cache)
		assert.Equal(t, "files", tree.Root.Name())
	})

	t.Run("read-only", func(t *testing.T) {
		tree := newTree(t, &filetree.Config{Driver: "memory", ReadOnly: true, CacheEnabled: true})
		_, err := tree.Root.AddFile(ctx, []byte("x"), "a.txt", "")
		assert.ErrorIs(t, err, filetree.ErrReadOnly)
	})

	t.Run("validation", func(t *testing.T) {
		tree := newTree(t, &filetree.Config{Driver: "memory", MaxFileSize: 4, BlockedExtensions: ".sh"})
		_, err := tree.Root.AddFile(ctx, []byte("echo"), "run.sh", "")
		assert.ErrorIs(t, err, filetree.ErrRejected)
		_, err = tree.Root.AddFile(ctx, []byte("too long"), "a.txt", "")
		assert.ErrorIs(t, err, filetree.ErrRejected)
		_, err = tree.Root.AddFile(ctx, []byte("ok"), "a.txt", "")
		assert.NoError(t, err)
	})

	t.Run("encryption", func(t *testing.T) {
		key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32))
		tree := newTree(t, &filetree.Config{Driver: "memory", EncryptionKey: key, CacheEnabled: true})

		_, err := tree.Root.AddFile(ctx, []byte("secret"), "a.txt", "")
		require.NoError(t, err)
		data, err := filetree.ReadPath(ctx, tree.Root, []string{"a.txt"})
		require.NoError(t, err)
		assert.Equal(t, "secret", string(data))

		raw, err := filetree.ReadPath(ctx, tree.Backend, []string{"a.txt"})
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "secret")
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := filetree.New(&filetree.Config{Driver: "nope"})
		assert.ErrorContains(t, err, "invalid config")
		_, err = filetree.New(&filetree.Config{Driver: "memory", EncryptionKey: base64.StdEncoding.EncodeToString(make([]byte, 16))})
		assert.Error(t, err)
	})
}

func TestTreeExternalChanges(t *testing.T) {
	ctx := context.Background()
	quiet := memory.New(memory.WithSelfNotify(false))
	filetree.RegisterDriver("memory-quiet", func(*filetree.Config) (filetree.Directory, error) {
		return quiet.Root(), nil
	})

	tree := newTree(t, &filetree.Config{
		Driver:              "memory-quiet",
		CacheEnabled:        true,
		LocalWatch:          true,
		PollIntervalSeconds: 1,
	})
	children, err := tree.Root.Children(ctx)
	require.NoError(t, err)
	require.Empty(t, children)

	_, err = quiet.Root().AddFile(ctx, []byte("x"), "new.txt", "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		children, err := tree.Root.Children(ctx)
		return err == nil && len(children) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTreeMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	tree, err := filetree.New(&filetree.Config{Driver: "memory", CacheEnabled: true, MetricsEnabled: true},
		filetree.WithRegisterer(reg))
	require.NoError(t, err)
	defer tree.Close()
	require.NotNil(t, tree.Metrics)

	_, err = tree.Root.AddDirectory(ctx, "docs")
	require.NoError(t, err)
	_, err = tree.Root.GetFile(ctx, []string{"docs"})
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "filetree_cache_lookups_total", "filetree_cache_invalidations_total")
	require.NoError(t, err)
	assert.Greater(t, n, 1)
}

func TestFingerprint(t *testing.T) {
	ctx := context.Background()
	root := memory.New().Root()

	before, err := filetree.Fingerprint(ctx, root)
	require.NoError(t, err)
	again, err := filetree.Fingerprint(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, before, again)

	docs, err := root.AddDirectory(ctx, "docs")
	require.NoError(t, err)
	afterDir, err := filetree.Fingerprint(ctx, root)
	require.NoError(t, err)
	assert.NotEqual(t, before, afterDir)

	_, err = docs.AddFile(ctx, []byte("x"), "a.txt", "")
	require.NoError(t, err)
	afterFile, err := filetree.Fingerprint(ctx, root)
	require.NoError(t, err)
	assert.NotEqual(t, afterDir, afterFile)
}

func TestGlobalInstance(t *testing.T) {
	filetree.Reset()
	t.Cleanup(filetree.Reset)
	t.Setenv("BEAVER_FILETREE_ROOT_NAME", "global")
	t.Setenv("BEAVER_FILETREE_METRICS_ENABLED", "false")

	require.NoError(t, filetree.Init())
	first, err := filetree.Default()
	require.NoError(t, err)
	second, err := filetree.Default()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "global", first.Root.Name())

	filetree.Reset()
	third, err := filetree.Default()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestBuilder(t *testing.T) {
	tree, err := filetree.WithPrefix("APP_").New(filetree.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer tree.Close()
	assert.NotNil(t, tree.Root)
}
