// Package memory is an in-memory filetree backend. It is the reference
// backend for tests and for trees that do not need to outlive the process.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gobeaver/filetree"
	"github.com/google/uuid"
)

// ErrQuotaExceeded is returned when a write would exceed the configured
// maximum size.
var ErrQuotaExceeded = errors.New("memory quota exceeded")

// FS holds one in-memory tree.
type FS struct {
	mu    sync.RWMutex
	root  *node
	size  int64
	opts  options
	watch sync.Mutex
	token *filetree.CallbackChangeToken
}

type options struct {
	name       string
	selfNotify bool
	maxSize    int64
	clock      func() time.Time
}

// Option configures an FS.
type Option func(*options)

// WithName sets the root directory's name.
// Default: "memory"
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithSelfNotify controls whether nodes fire their own change events.
// Turning it off makes the backend behave like storage without native
// notifications; changes are then only visible through Watch or through the
// tree's proxy layers.
// Default: true
func WithSelfNotify(enabled bool) Option {
	return func(o *options) {
		o.selfNotify = enabled
	}
}

// WithMaxSize limits the total size of file content in bytes (0 = unlimited).
func WithMaxSize(n int64) Option {
	return func(o *options) {
		o.maxSize = n
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New creates an empty in-memory tree.
func New(opts ...Option) *FS {
	o := options{
		name:       "memory",
		selfNotify: true,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	fs := &FS{
		opts:  o,
		token: filetree.NewCallbackChangeToken(),
	}
	fs.root = fs.newNode(nil, o.name, true)
	return fs
}

// Root returns the root directory.
func (fs *FS) Root() filetree.Directory {
	return fs.root.handle.(filetree.Directory)
}

// Size returns the total size of file content in bytes.
func (fs *FS) Size() int64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.size
}

// Watch returns a token that fires on the next mutation anywhere in the
// tree, whether or not nodes self-notify.
func (fs *FS) Watch(ctx context.Context) (filetree.ChangeToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.watch.Lock()
	defer fs.watch.Unlock()
	return fs.token, nil
}

// ============================================================================
// Nodes
// ============================================================================

// node is the shared state behind files and directories. All fields except
// id, fs and listeners are guarded by fs.mu.
type node struct {
	fs        *FS
	id        string
	name      string
	parent    *node
	isDir     bool
	data      []byte
	mimeType  string
	created   time.Time
	modified  time.Time
	children  map[string]*node
	deleted   bool
	handle    filetree.File
	listeners *filetree.Listeners
}

// File is an in-memory leaf.
type File struct {
	*node
}

// Dir is an in-memory directory.
type Dir struct {
	*node
}

func (fs *FS) newNode(parent *node, name string, dir bool) *node {
	now := fs.opts.clock()
	n := &node{
		fs:        fs,
		id:        uuid.NewString(),
		name:      name,
		parent:    parent,
		isDir:     dir,
		created:   now,
		modified:  now,
		listeners: filetree.NewListeners(),
	}
	if dir {
		n.children = make(map[string]*node)
		n.handle = &Dir{node: n}
	} else {
		n.handle = &File{node: n}
	}
	return n
}

// path returns the node's path from the root. Called with fs.mu held.
func (n *node) path() []string {
	if n.parent == nil {
		return nil
	}
	return filetree.JoinPath(n.parent.path(), n.name)
}

// chain returns the node and its ancestors. Called with fs.mu held.
func (n *node) chain() []*node {
	var out []*node
	for c := n; c != nil; c = c.parent {
		out = append(out, c)
	}
	return out
}

// touch stamps a leaf's modification time. Called with fs.mu held.
func (n *node) touch() {
	if !n.isDir {
		n.modified = n.fs.opts.clock()
	}
}

// lastModified is a leaf's stamp, or for a directory the latest among its
// children and its creation time when it has none. Called with fs.mu held.
func (n *node) lastModified() time.Time {
	if !n.isDir {
		return n.modified
	}
	if len(n.children) == 0 {
		return n.created
	}
	var latest time.Time
	for _, c := range n.children {
		if t := c.lastModified(); t.After(latest) {
			latest = t
		}
	}
	return latest
}

// fire signals the watch token and, with self notification on, the
// listeners of every node in the given chains. Must be called without fs.mu.
func (fs *FS) fire(chains ...[]*node) {
	fs.watch.Lock()
	token := fs.token
	fs.token = filetree.NewCallbackChangeToken()
	fs.watch.Unlock()
	token.SignalChange()

	if !fs.opts.selfNotify {
		return
	}
	seen := make(map[*node]bool)
	for _, chain := range chains {
		for _, n := range chain {
			if seen[n] {
				continue
			}
			seen[n] = true
			n.listeners.Fire(n.handle)
		}
	}
}

func (n *node) notFound(op string) error {
	return filetree.NewPathError(op, n.path(), filetree.ErrNotExist)
}

func (n *node) ID() string {
	return n.id
}

func (n *node) Name() string {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	return n.name
}

func (n *node) OnChange(fn filetree.Listener) (unregister func()) {
	return n.listeners.Register(fn)
}

func (n *node) Stat(ctx context.Context) (*filetree.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	if n.deleted {
		return nil, n.notFound("stat")
	}
	info := &filetree.Info{
		ID:           n.id,
		Name:         n.name,
		Dir:          n.isDir,
		MimeType:     n.mimeType,
		Size:         int64(len(n.data)),
		Icon:         filetree.IconFor(n.mimeType, n.isDir),
		Created:      n.created,
		LastModified: n.lastModified(),
	}
	if n.isDir {
		info.Size = 0
	}
	return info, nil
}

func (n *node) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()

	if n.deleted {
		return nil, n.notFound("read")
	}
	if n.isDir {
		return nil, filetree.NewPathError("read", n.path(), filetree.ErrIsDir)
	}
	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, nil
}

func (n *node) Write(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.fs.mu.Lock()
	if n.deleted {
		err := n.notFound("write")
		n.fs.mu.Unlock()
		return nil, err
	}
	if n.isDir {
		err := filetree.NewPathError("write", n.path(), filetree.ErrIsDir)
		n.fs.mu.Unlock()
		return nil, err
	}
	if err := n.fs.reserve(int64(len(data)-len(n.data)), "write", n.path()); err != nil {
		n.fs.mu.Unlock()
		return nil, err
	}
	n.data = append([]byte(nil), data...)
	n.touch()
	chain := n.chain()
	out := append([]byte(nil), n.data...)
	n.fs.mu.Unlock()

	n.fs.fire(chain)
	return out, nil
}

// reserve accounts for delta bytes of content. Called with fs.mu held.
func (fs *FS) reserve(delta int64, op string, path []string) error {
	if fs.opts.maxSize > 0 && fs.size+delta > fs.opts.maxSize {
		return filetree.NewPathError(op, path, ErrQuotaExceeded)
	}
	fs.size += delta
	return nil
}

func (n *node) Rename(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := filetree.ValidateName(name); err != nil {
		return filetree.NewPathError("rename", []string{name}, err)
	}

	n.fs.mu.Lock()
	if n.deleted {
		err := n.notFound("rename")
		n.fs.mu.Unlock()
		return err
	}
	if name == n.name {
		n.fs.mu.Unlock()
		return nil
	}
	if p := n.parent; p != nil {
		if _, exists := p.children[name]; exists {
			err := filetree.NewPathError("rename", filetree.JoinPath(p.path(), name), filetree.ErrExist)
			n.fs.mu.Unlock()
			return err
		}
		delete(p.children, n.name)
		p.children[name] = n
	}
	n.name = name
	n.touch()
	chain := n.chain()
	n.fs.mu.Unlock()

	n.fs.fire(chain)
	return nil
}

func (n *node) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.fs.mu.Lock()
	if n.deleted {
		err := n.notFound("delete")
		n.fs.mu.Unlock()
		return err
	}
	if n.parent == nil {
		n.fs.mu.Unlock()
		return filetree.NewPathError("delete", nil, filetree.ErrNotSupported)
	}
	chain := n.chain()
	delete(n.parent.children, n.name)
	n.fs.size -= n.markDeleted()
	n.fs.mu.Unlock()

	n.fs.fire(chain)
	return nil
}

// markDeleted flags the subtree as deleted and returns its content size.
// Called with fs.mu held.
func (n *node) markDeleted() int64 {
	n.deleted = true
	size := int64(len(n.data))
	for _, c := range n.children {
		size += c.markDeleted()
	}
	return size
}

// local returns target as a directory of this FS, or nil when target lives
// elsewhere.
func (n *node) local(target filetree.Directory) *node {
	d, ok := filetree.Unwrap(target).(*Dir)
	if !ok || d.fs != n.fs {
		return nil
	}
	return d.node
}

// isAncestorOf reports whether n is other or one of its ancestors. Called
// with fs.mu held.
func (n *node) isAncestorOf(other *node) bool {
	for c := other; c != nil; c = c.parent {
		if c == n {
			return true
		}
	}
	return false
}

func (n *node) Copy(ctx context.Context, target filetree.Directory) (filetree.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := n.local(target)
	if dst == nil {
		return filetree.CopyTo(ctx, n.handle, target)
	}

	n.fs.mu.Lock()
	if n.deleted || dst.deleted {
		err := n.notFound("copy")
		n.fs.mu.Unlock()
		return nil, err
	}
	if n.isDir && n.isAncestorOf(dst) {
		err := filetree.NewPathError("copy", dst.path(), filetree.ErrInvalidTarget)
		n.fs.mu.Unlock()
		return nil, err
	}
	if _, exists := dst.children[n.name]; exists {
		err := filetree.NewPathError("copy", filetree.JoinPath(dst.path(), n.name), filetree.ErrExist)
		n.fs.mu.Unlock()
		return nil, err
	}
	if err := n.fs.reserve(n.contentSize(), "copy", dst.path()); err != nil {
		n.fs.mu.Unlock()
		return nil, err
	}
	c := n.clone(dst)
	dst.children[c.name] = c
	chain := dst.chain()
	n.fs.mu.Unlock()

	n.fs.fire(chain)
	return c.handle, nil
}

// contentSize is the total content size of the subtree. Called with fs.mu held.
func (n *node) contentSize() int64 {
	size := int64(len(n.data))
	for _, c := range n.children {
		size += c.contentSize()
	}
	return size
}

// clone deep-copies the subtree under parent with fresh ids. Called with
// fs.mu held.
func (n *node) clone(parent *node) *node {
	c := n.fs.newNode(parent, n.name, n.isDir)
	c.data = append([]byte(nil), n.data...)
	c.mimeType = n.mimeType
	for _, child := range n.children {
		cc := child.clone(c)
		c.children[cc.name] = cc
	}
	return c
}

func (n *node) Move(ctx context.Context, target filetree.Directory) (filetree.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := n.local(target)
	if dst == nil {
		return filetree.MoveTo(ctx, n.handle, target)
	}

	n.fs.mu.Lock()
	if n.deleted || dst.deleted {
		err := n.notFound("move")
		n.fs.mu.Unlock()
		return nil, err
	}
	if n.parent == nil || n.isAncestorOf(dst) {
		err := filetree.NewPathError("move", dst.path(), filetree.ErrInvalidTarget)
		n.fs.mu.Unlock()
		return nil, err
	}
	if dst == n.parent {
		n.fs.mu.Unlock()
		return n.handle, nil
	}
	if _, exists := dst.children[n.name]; exists {
		err := filetree.NewPathError("move", filetree.JoinPath(dst.path(), n.name), filetree.ErrExist)
		n.fs.mu.Unlock()
		return nil, err
	}
	from := n.chain()
	delete(n.parent.children, n.name)
	n.parent = dst
	dst.children[n.name] = n
	to := dst.chain()
	n.fs.mu.Unlock()

	n.fs.fire(from, to)
	return n.handle, nil
}

// ============================================================================
// Directories
// ============================================================================

func (d *Dir) AddFile(ctx context.Context, data []byte, name, mimeType string) (filetree.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := filetree.ValidateName(name); err != nil {
		return nil, filetree.NewPathError("addfile", []string{name}, err)
	}
	if mimeType == "" {
		mimeType = filetree.GuessMimeType(name, data)
	}

	d.fs.mu.Lock()
	n, err := d.add("addfile", name, false)
	if err != nil {
		d.fs.mu.Unlock()
		return nil, err
	}
	if err := d.fs.reserve(int64(len(data)), "addfile", n.path()); err != nil {
		delete(d.children, name)
		d.fs.mu.Unlock()
		return nil, err
	}
	n.data = append([]byte(nil), data...)
	n.mimeType = mimeType
	chain := d.chain()
	d.fs.mu.Unlock()

	d.fs.fire(chain)
	return n.handle, nil
}

func (d *Dir) AddDirectory(ctx context.Context, name string) (filetree.Directory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := filetree.ValidateName(name); err != nil {
		return nil, filetree.NewPathError("adddirectory", []string{name}, err)
	}

	d.fs.mu.Lock()
	n, err := d.add("adddirectory", name, true)
	if err != nil {
		d.fs.mu.Unlock()
		return nil, err
	}
	chain := d.chain()
	d.fs.mu.Unlock()

	d.fs.fire(chain)
	return n.handle.(filetree.Directory), nil
}

// add creates a child node. Called with fs.mu held.
func (d *Dir) add(op, name string, dir bool) (*node, error) {
	if d.deleted {
		return nil, d.notFound(op)
	}
	if _, exists := d.children[name]; exists {
		return nil, filetree.NewPathError(op, filetree.JoinPath(d.path(), name), filetree.ErrExist)
	}
	n := d.fs.newNode(d.node, name, dir)
	d.children[name] = n
	return n, nil
}

func (d *Dir) Children(ctx context.Context) ([]filetree.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	if d.deleted {
		return nil, d.notFound("children")
	}
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]filetree.File, len(names))
	for i, name := range names {
		out[i] = d.children[name].handle
	}
	return out, nil
}

func (d *Dir) GetFile(ctx context.Context, path []string) (filetree.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	if d.deleted {
		return nil, filetree.NewPathError("getfile", path, filetree.ErrNotExist)
	}
	current := d.node
	for i, name := range path {
		next, ok := current.children[name]
		if !ok {
			return nil, filetree.NewPathError("getfile", path[:i+1], filetree.ErrNotExist)
		}
		current = next
	}
	return current.handle, nil
}

func (d *Dir) Search(ctx context.Context, query string) ([]filetree.SearchResult, error) {
	return filetree.SearchTree(ctx, d, query)
}

// Watch reports changes anywhere in the directory's filesystem.
func (d *Dir) Watch(ctx context.Context) (filetree.ChangeToken, error) {
	return d.fs.Watch(ctx)
}

var (
	_ filetree.File      = (*File)(nil)
	_ filetree.Directory = (*Dir)(nil)
	_ filetree.Watcher   = (*FS)(nil)
	_ filetree.Watcher   = (*Dir)(nil)
)
