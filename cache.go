package filetree

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Path Index
// ============================================================================

// CacheStatistics contains cache performance metrics.
type CacheStatistics struct {
	Hits          int64
	Misses        int64
	Size          int64
	Invalidations int64
	HitRate       float64
}

// pathIndex maps encoded absolute paths to cache-aware wrappers. One index is
// owned by the root of a cached tree and shared by every node under it.
type pathIndex struct {
	mu            sync.RWMutex
	entries       map[string]File
	hits          int64
	misses        int64
	invalidations int64
}

func newPathIndex() *pathIndex {
	return &pathIndex{
		entries: make(map[string]File),
	}
}

func (x *pathIndex) get(key string) (File, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, ok := x.entries[key]
	if ok {
		x.hits++
	} else {
		x.misses++
	}
	return f, ok
}

func (x *pathIndex) set(key string, f File) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[key] = f
	return len(x.entries)
}

func (x *pathIndex) clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[string]File)
	x.invalidations++
}

func (x *pathIndex) stats() CacheStatistics {
	x.mu.RLock()
	defer x.mu.RUnlock()

	total := x.hits + x.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(x.hits) / float64(total)
	}

	return CacheStatistics{
		Hits:          x.hits,
		Misses:        x.misses,
		Size:          int64(len(x.entries)),
		Invalidations: x.invalidations,
		HitRate:       hitRate,
	}
}

// ============================================================================
// Options
// ============================================================================

// CacheOptions configures a cached tree.
type CacheOptions struct {
	// Logger receives debug output about population and invalidation.
	// Default: zap.NewNop()
	Logger *zap.Logger

	// Metrics exports lookups and invalidations. Nil disables export.
	Metrics *CacheMetrics

	// OnCacheHit is called when a lookup is served from the cache.
	OnCacheHit func(op, path string)

	// OnCacheMiss is called when a lookup has to reach the backend.
	OnCacheMiss func(op, path string)
}

// CacheOption is a functional option for configuring a CachedDirectory.
type CacheOption func(*CacheOptions)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) CacheOption {
	return func(o *CacheOptions) {
		o.Logger = logger
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *CacheMetrics) CacheOption {
	return func(o *CacheOptions) {
		o.Metrics = m
	}
}

// WithCacheHitCallback sets the callback for cache hits.
func WithCacheHitCallback(callback func(op, path string)) CacheOption {
	return func(o *CacheOptions) {
		o.OnCacheHit = callback
	}
}

// WithCacheMissCallback sets the callback for cache misses.
func WithCacheMissCallback(callback func(op, path string)) CacheOption {
	return func(o *CacheOptions) {
		o.OnCacheMiss = callback
	}
}

// cacheTree is the state shared by every node of one cached tree.
type cacheTree struct {
	index *pathIndex
	opts  CacheOptions
	log   *zap.Logger
}

func (t *cacheTree) hit(op string, key string) {
	t.opts.Metrics.lookup(op, true)
	if t.opts.OnCacheHit != nil {
		t.opts.OnCacheHit(op, key)
	}
}

func (t *cacheTree) miss(op string, key string) {
	t.opts.Metrics.lookup(op, false)
	if t.opts.OnCacheMiss != nil {
		t.opts.OnCacheMiss(op, key)
	}
}

func (t *cacheTree) register(path []string, f File) {
	n := t.index.set(EncodePath(path), f)
	t.opts.Metrics.setIndexSize(n)
}

// ============================================================================
// CachedDirectory
// ============================================================================

// CachedDirectory caches directory listings and path lookups over any
// Directory.
//
// Every directory reached through a CachedDirectory is itself a
// *CachedDirectory and every leaf a change-event proxy, so mutations made
// through the tree always produce change events. Those events drive
// invalidation: a change on a node clears that node's children cache and
// bubbles to its parent, and the root clears the whole path index. Stale
// entries are therefore never served after a change the tree has seen.
//
// The tree does not serialise operations. Two concurrent AddFile calls with
// the same name may both reach the backend, and concurrent writes fire their
// events in no particular order. Internal maps are guarded for memory safety
// only; no lock is held across backend calls or listener callbacks.
//
//	root := filetree.NewCachedDirectory(backend,
//	    filetree.WithLogger(logger),
//	    filetree.WithMetrics(filetree.NewCacheMetrics(prometheus.DefaultRegisterer, "filetree")),
//	)
//	f, err := root.GetFile(ctx, []string{"docs", "readme.md"})
type CachedDirectory struct {
	*ChangeEventDirectory

	tree   *cacheTree
	parent *CachedDirectory

	mu       sync.Mutex
	children []File // nil until populated
	gen      uint64
	wrappers map[string]*childEntry
	detached bool
	hits     int64
	misses   int64
}

// childEntry is a wrapper handed out for one backend child and the parent's
// subscription to it.
type childEntry struct {
	raw         File
	wrapper     File
	unsubscribe func()
}

// NewCachedDirectory creates the root of a cached tree over dir.
func NewCachedDirectory(dir Directory, opts ...CacheOption) *CachedDirectory {
	options := CacheOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	tree := &cacheTree{
		index: newPathIndex(),
		opts:  options,
		log:   options.Logger.Named("cache"),
	}
	return newCachedDirectory(dir, tree, nil)
}

func newCachedDirectory(dir Directory, tree *cacheTree, parent *CachedDirectory) *CachedDirectory {
	c := &CachedDirectory{
		ChangeEventDirectory: &ChangeEventDirectory{DirectoryProxy: &DirectoryProxy{Proxy: &Proxy{}}},
		tree:                 tree,
		parent:               parent,
		wrappers:             make(map[string]*childEntry),
	}
	c.addHook(c.invalidate)
	c.bindDir(dir, c)
	return c
}

// absPath is the node's path from the tree root. It is recomputed on every
// call so renames anywhere up the chain are picked up.
func (c *CachedDirectory) absPath() []string {
	if c.parent == nil {
		return nil
	}
	return JoinPath(c.parent.absPath(), c.Name())
}

func (c *CachedDirectory) isDetached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

// invalidate drops this node's children cache. On the root it also clears
// the shared path index.
func (c *CachedDirectory) invalidate() {
	c.mu.Lock()
	c.children = nil
	c.gen++
	c.mu.Unlock()

	c.tree.opts.Metrics.invalidated("node")
	if c.parent == nil {
		c.tree.index.clear()
		c.tree.opts.Metrics.invalidated("tree")
		c.tree.opts.Metrics.setIndexSize(0)
		c.tree.log.Debug("path index cleared")
	}
}

// Invalidate drops the cached state of this node and of every directory
// below it that has been materialised, and clears the path index. Listeners
// are not called.
func (c *CachedDirectory) Invalidate() {
	c.invalidateDeep()
	if c.parent != nil {
		c.tree.index.clear()
		c.tree.opts.Metrics.setIndexSize(0)
	}
}

func (c *CachedDirectory) invalidateDeep() {
	c.invalidate()

	c.mu.Lock()
	var subdirs []*CachedDirectory
	for _, e := range c.wrappers {
		if d, ok := e.wrapper.(*CachedDirectory); ok {
			subdirs = append(subdirs, d)
		}
	}
	c.mu.Unlock()

	for _, d := range subdirs {
		d.invalidateDeep()
	}
}

// InvalidateOn invalidates the node every time token fires.
func (c *CachedDirectory) InvalidateOn(token ChangeToken) (unregister func()) {
	return token.RegisterChangeCallback(c.Invalidate)
}

// Stats returns statistics of the path index shared by the whole tree.
func (c *CachedDirectory) Stats() CacheStatistics {
	return c.tree.index.stats()
}

// ChildrenStats returns hits and misses of this node's children cache.
func (c *CachedDirectory) ChildrenStats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Children returns the cache-aware wrappers of the directory's children,
// fetching from the backend only when the cache is empty.
func (c *CachedDirectory) Children(ctx context.Context) ([]File, error) {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return nil, NewPathError("children", c.absPath(), ErrNotExist)
	}
	if c.children != nil {
		out := make([]File, len(c.children))
		copy(out, c.children)
		c.hits++
		c.mu.Unlock()
		c.tree.hit("children", EncodePath(c.absPath()))
		return out, nil
	}
	gen := c.gen
	c.misses++
	c.mu.Unlock()

	base := c.absPath()
	c.tree.miss("children", EncodePath(base))

	raw, err := c.dir.Children(ctx)
	if err != nil {
		return nil, err
	}

	wrapped := make([]File, len(raw))
	var dropped []*childEntry
	var replaced []*childEntry

	c.mu.Lock()
	seen := make(map[string]bool, len(raw))
	for i, r := range raw {
		id := r.ID()
		e, ok := c.wrappers[id]
		if !ok || !sameObject(e.raw, r) {
			if ok {
				replaced = append(replaced, e)
			}
			e = c.wrap(r)
			c.wrappers[id] = e
		}
		seen[id] = true
		wrapped[i] = e.wrapper
	}
	for id, e := range c.wrappers {
		if !seen[id] {
			dropped = append(dropped, e)
			delete(c.wrappers, id)
		}
	}
	current := c.gen == gen && !c.detached
	if current {
		c.children = wrapped
	}
	c.mu.Unlock()

	for _, e := range replaced {
		e.unsubscribe()
	}
	for _, e := range dropped {
		e.release()
	}

	if current {
		for i, w := range wrapped {
			c.tree.register(JoinPath(base, raw[i].Name()), w)
		}
		c.tree.log.Debug("children populated",
			zap.String("path", "/"+EncodePath(base)),
			zap.Int("count", len(wrapped)))
	}

	out := make([]File, len(wrapped))
	copy(out, wrapped)
	return out, nil
}

// wrap creates the cache-aware wrapper for a backend child and subscribes
// this node to it. Called with c.mu held.
func (c *CachedDirectory) wrap(r File) *childEntry {
	var w File
	switch t := r.(type) {
	case Directory:
		w = newCachedDirectory(t, c.tree, c)
	default:
		w = newCachedFile(r)
	}
	unsubscribe := w.OnChange(func(File) {
		c.Notify()
	})
	return &childEntry{raw: r, wrapper: w, unsubscribe: unsubscribe}
}

// release detaches a wrapper whose backend child is gone from this directory.
func (e *childEntry) release() {
	e.unsubscribe()
	switch w := e.wrapper.(type) {
	case *CachedDirectory:
		w.markDetached()
		w.Close()
	case *cachedFile:
		w.Close()
	}
}

func (c *CachedDirectory) markDetached() {
	c.mu.Lock()
	c.detached = true
	c.children = nil
	c.gen++
	c.mu.Unlock()
}

// GetFile resolves path relative to this directory, serving from the path
// index when possible.
func (c *CachedDirectory) GetFile(ctx context.Context, path []string) (File, error) {
	if c.isDetached() {
		return nil, NewPathError("getfile", path, ErrNotExist)
	}
	if len(path) == 0 {
		return c, nil
	}

	key := EncodePath(JoinPath(c.absPath(), path...))
	if f, ok := c.tree.index.get(key); ok {
		c.tree.hit("getfile", key)
		return f, nil
	}
	c.tree.miss("getfile", key)

	// Resolution lists through the cached layer, which registers what it
	// finds.
	return Resolve(ctx, c, path)
}

// AddFile creates a file and returns its cache-aware wrapper.
func (c *CachedDirectory) AddFile(ctx context.Context, data []byte, name, mimeType string) (File, error) {
	created, err := c.ChangeEventDirectory.AddFile(ctx, data, name, mimeType)
	if err != nil {
		return nil, err
	}
	return c.lookupChild(ctx, created)
}

// AddDirectory creates a subdirectory and returns its cache-aware wrapper.
func (c *CachedDirectory) AddDirectory(ctx context.Context, name string) (Directory, error) {
	created, err := c.ChangeEventDirectory.AddDirectory(ctx, name)
	if err != nil {
		return nil, err
	}
	f, err := c.lookupChild(ctx, created)
	if err != nil {
		return nil, err
	}
	d, ok := f.(Directory)
	if !ok {
		return nil, NewPathError("adddirectory", JoinPath(c.absPath(), name), ErrNotDir)
	}
	return d, nil
}

// lookupChild finds the wrapper of a freshly created backend child.
func (c *CachedDirectory) lookupChild(ctx context.Context, created File) (File, error) {
	children, err := c.Children(ctx)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if child.ID() == created.ID() {
			return child, nil
		}
	}
	// The child vanished again before we could list it.
	return nil, NewPathError("getfile", JoinPath(c.absPath(), created.Name()), ErrNotExist)
}

// Search delegates to the backend and maps each hit to its cache-aware
// wrapper.
func (c *CachedDirectory) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if c.isDetached() {
		return nil, NewPathError("search", c.absPath(), ErrNotExist)
	}
	results, err := c.dir.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		f, err := c.GetFile(ctx, r.Path)
		if err != nil {
			if IsNotExist(err) {
				continue
			}
			return nil, err
		}
		out = append(out, SearchResult{Path: r.Path, File: f})
	}
	return out, nil
}

// Delete removes the directory. The wrapper is unusable afterwards.
func (c *CachedDirectory) Delete(ctx context.Context) error {
	if err := c.dir.Delete(ctx); err != nil {
		return err
	}
	c.markDetached()
	c.Notify()
	return nil
}

// Move moves the directory into target. The wrapper is unusable afterwards;
// use the returned node instead.
func (c *CachedDirectory) Move(ctx context.Context, target Directory) (File, error) {
	moved, err := c.dir.Move(ctx, target)
	if err != nil {
		if moved != nil {
			notify(target)
		}
		return moved, err
	}
	c.markDetached()
	c.Notify()
	notify(target)
	return adopt(ctx, target, moved), nil
}

// Copy copies the directory into target. A cached target hands back its
// cache-aware wrapper of the copy.
func (c *CachedDirectory) Copy(ctx context.Context, target Directory) (File, error) {
	copied, err := c.ChangeEventDirectory.Copy(ctx, target)
	if err != nil {
		return nil, err
	}
	return adopt(ctx, target, copied), nil
}

// adopt returns the wrapper target's cache holds for f, or f itself when
// target is not cached.
func adopt(ctx context.Context, target Directory, f File) File {
	c, ok := target.(*CachedDirectory)
	if !ok {
		return f
	}
	if w, err := c.lookupChild(ctx, f); err == nil {
		return w
	}
	return f
}

// ============================================================================
// Cached leaves
// ============================================================================

// cachedFile is the wrapper of a leaf inside a cached tree.
type cachedFile struct {
	*ChangeEventProxy
}

func newCachedFile(f File) *cachedFile {
	p := &cachedFile{ChangeEventProxy: &ChangeEventProxy{Proxy: &Proxy{}}}
	p.bind(f, p)
	return p
}

func (f *cachedFile) Copy(ctx context.Context, target Directory) (File, error) {
	copied, err := f.ChangeEventProxy.Copy(ctx, target)
	if err != nil {
		return nil, err
	}
	return adopt(ctx, target, copied), nil
}

func (f *cachedFile) Move(ctx context.Context, target Directory) (File, error) {
	moved, err := f.ChangeEventProxy.Move(ctx, target)
	if err != nil {
		return moved, err
	}
	return adopt(ctx, target, moved), nil
}

// sameObject reports whether a and b are the same backend object. Values of
// non-comparable dynamic types are never the same.
func sameObject(a, b File) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

var (
	_ Directory = (*CachedDirectory)(nil)
	_ File      = (*cachedFile)(nil)
)
