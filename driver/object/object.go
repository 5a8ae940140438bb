// Package object is a filetree backend over a flat object store such as S3,
// Google Cloud Storage or Azure Blob Storage.
//
// A node at path a/b/c.txt is the object with key "a/b/c.txt". Directories
// exist implicitly while any key lies below them; empty directories are kept
// alive by a zero-byte marker object whose key ends in a slash ("a/b/").
// Renames, moves and directory copies are done key by key with the store's
// server-side copy and are not atomic.
package object

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/internal/pathindex"
	"go.uber.org/zap"
)

// Object describes one stored object.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is the minimal object store API the backend needs. Keys are relative
// to whatever bucket and prefix the store was configured with.
//
// Head and Get return an error wrapping filetree.ErrNotExist for a missing
// key. Deleting a missing key is not an error.
type Store interface {
	Head(ctx context.Context, key string) (*Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Copy(ctx context.Context, src, dst string) error

	// List returns every object whose key starts with prefix, at any depth.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// FS is a tree over a Store.
type FS struct {
	store Store
	name  string
	log   *zap.Logger
	index *pathindex.Index
}

// Option configures an FS.
type Option func(*FS)

// WithName sets the root directory's name.
// Default: "objects"
func WithName(name string) Option {
	return func(f *FS) {
		f.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *FS) {
		f.log = logger
	}
}

// New creates a tree over store.
func New(store Store, opts ...Option) *FS {
	f := &FS{
		store: store,
		name:  "objects",
		log:   zap.NewNop(),
	}
	f.index = pathindex.New(func(id string, dir bool) filetree.File {
		n := &node{fs: f, id: id}
		if dir {
			return &Dir{node: n}
		}
		return &File{node: n}
	})
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Root returns the root directory.
func (f *FS) Root() filetree.Directory {
	return f.index.Handle(nil, true).(filetree.Directory)
}

func fileKey(path []string) string {
	return strings.Join(path, "/")
}

// dirPrefix is the key prefix of everything below path, and the key of its
// marker object.
func dirPrefix(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return strings.Join(path, "/") + "/"
}

// lookup reports whether path exists and whether it is a directory.
func (f *FS) lookup(ctx context.Context, path []string) (dir, found bool, err error) {
	if len(path) == 0 {
		return true, true, nil
	}
	if _, err := f.store.Head(ctx, fileKey(path)); err == nil {
		return false, true, nil
	} else if !errors.Is(err, filetree.ErrNotExist) {
		return false, false, err
	}
	objs, err := f.store.List(ctx, dirPrefix(path))
	if err != nil {
		return false, false, err
	}
	return true, len(objs) > 0, nil
}

// transfer copies the node at from to to, deleting the source when move is
// set. Directory contents go key by key.
func (f *FS) transfer(ctx context.Context, from, to []string, dir, move bool) error {
	if !dir {
		if err := f.store.Copy(ctx, fileKey(from), fileKey(to)); err != nil {
			return err
		}
		if move {
			return f.store.Delete(ctx, fileKey(from))
		}
		return nil
	}

	src, dst := dirPrefix(from), dirPrefix(to)
	objs, err := f.store.List(ctx, src)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := f.store.Copy(ctx, obj.Key, dst+strings.TrimPrefix(obj.Key, src)); err != nil {
			return err
		}
	}
	if !move {
		return nil
	}
	for _, obj := range objs {
		if err := f.store.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Nodes
// ============================================================================

type node struct {
	fs *FS
	id string
}

// File is an object.
type File struct {
	*node
}

// Dir is a key prefix.
type Dir struct {
	*node
}

func mapErr(op string, path []string, err error) error {
	if err == nil {
		return nil
	}
	var pe *filetree.PathError
	if errors.As(err, &pe) {
		return err
	}
	return filetree.NewPathError(op, path, err)
}

func (n *node) path(op string) ([]string, error) {
	p, ok := n.fs.index.PathOf(n.id)
	if !ok {
		return nil, filetree.NewPathError(op, nil, filetree.ErrNotExist)
	}
	return p, nil
}

func (n *node) self() filetree.File {
	return n.fs.index.Node(n.id)
}

func (n *node) isDir() bool {
	return filetree.IsDirectory(n.self())
}

func (n *node) ID() string {
	return n.id
}

func (n *node) Name() string {
	p, ok := n.fs.index.PathOf(n.id)
	switch {
	case !ok:
		return ""
	case len(p) == 0:
		return n.fs.name
	}
	return p[len(p)-1]
}

func (n *node) OnChange(fn filetree.Listener) (unregister func()) {
	return n.fs.index.Listeners(n.id).Register(fn)
}

func (n *node) Stat(ctx context.Context) (*filetree.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := n.path("stat")
	if err != nil {
		return nil, err
	}

	info := &filetree.Info{ID: n.id, Name: n.Name()}
	if !n.isDir() {
		obj, err := n.fs.store.Head(ctx, fileKey(path))
		if err != nil {
			return nil, mapErr("stat", path, err)
		}
		info.Size = obj.Size
		info.MimeType = obj.ContentType
		if info.MimeType == "" {
			info.MimeType = filetree.GuessMimeType(info.Name, nil)
		}
		info.LastModified = obj.LastModified
		info.Created = obj.LastModified
		info.Icon = filetree.IconFor(info.MimeType, false)
		return info, nil
	}

	info.Dir = true
	info.Icon = filetree.IconFor("", true)
	if len(path) > 0 {
		if _, found, err := n.fs.lookup(ctx, path); err != nil {
			return nil, mapErr("stat", path, err)
		} else if !found {
			return nil, filetree.NewPathError("stat", path, filetree.ErrNotExist)
		}
		if marker, err := n.fs.store.Head(ctx, dirPrefix(path)); err == nil {
			info.Created = marker.LastModified
		}
	}
	mod, err := filetree.DirectoryLastModified(ctx, n.self().(filetree.Directory), info.Created)
	if err != nil {
		return nil, err
	}
	info.LastModified = mod
	return info, nil
}

func (n *node) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := n.path("read")
	if err != nil {
		return nil, err
	}
	if n.isDir() {
		return nil, filetree.NewPathError("read", path, filetree.ErrIsDir)
	}
	data, err := n.fs.store.Get(ctx, fileKey(path))
	if err != nil {
		return nil, mapErr("read", path, err)
	}
	return data, nil
}

func (n *node) Write(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := n.path("write")
	if err != nil {
		return nil, err
	}
	if n.isDir() {
		return nil, filetree.NewPathError("write", path, filetree.ErrIsDir)
	}
	obj, err := n.fs.store.Head(ctx, fileKey(path))
	if err != nil {
		return nil, mapErr("write", path, err)
	}
	if err := n.fs.store.Put(ctx, fileKey(path), data, obj.ContentType); err != nil {
		return nil, mapErr("write", path, err)
	}
	n.fs.index.Fire(path)
	return append([]byte(nil), data...), nil
}

func (n *node) Rename(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := filetree.ValidateName(name); err != nil {
		return filetree.NewPathError("rename", []string{name}, err)
	}
	path, err := n.path("rename")
	if err != nil {
		return err
	}
	if len(path) == 0 {
		return filetree.NewPathError("rename", nil, filetree.ErrNotSupported)
	}
	if path[len(path)-1] == name {
		return nil
	}
	to := filetree.JoinPath(path[:len(path)-1], name)
	if err := n.relocate(ctx, "rename", path, to, true); err != nil {
		return err
	}
	n.fs.index.Fire(to)
	return nil
}

// relocate checks that to is free, transfers the node there and, for moves,
// remaps ids.
func (n *node) relocate(ctx context.Context, op string, from, to []string, move bool) error {
	if _, found, err := n.fs.lookup(ctx, to); err != nil {
		return mapErr(op, to, err)
	} else if found {
		return filetree.NewPathError(op, to, filetree.ErrExist)
	}
	dir := n.isDir()
	if _, found, err := n.fs.lookup(ctx, from); err != nil {
		return mapErr(op, from, err)
	} else if !found {
		return filetree.NewPathError(op, from, filetree.ErrNotExist)
	}
	if err := n.fs.transfer(ctx, from, to, dir, move); err != nil {
		n.fs.log.Warn("partial transfer",
			zap.String("op", op),
			zap.String("from", fileKey(from)),
			zap.String("to", fileKey(to)),
			zap.Error(err))
		return mapErr(op, from, err)
	}
	if move {
		n.fs.index.Remap(from, to)
	}
	return nil
}

func (n *node) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := n.path("delete")
	if err != nil {
		return err
	}
	if len(path) == 0 {
		return filetree.NewPathError("delete", nil, filetree.ErrNotSupported)
	}

	if !n.isDir() {
		if _, err := n.fs.store.Head(ctx, fileKey(path)); err != nil {
			return mapErr("delete", path, err)
		}
		if err := n.fs.store.Delete(ctx, fileKey(path)); err != nil {
			return mapErr("delete", path, err)
		}
	} else {
		objs, err := n.fs.store.List(ctx, dirPrefix(path))
		if err != nil {
			return mapErr("delete", path, err)
		}
		if len(objs) == 0 {
			return filetree.NewPathError("delete", path, filetree.ErrNotExist)
		}
		for _, obj := range objs {
			if err := n.fs.store.Delete(ctx, obj.Key); err != nil {
				return mapErr("delete", path, err)
			}
		}
	}

	n.fs.index.Fire(path)
	n.fs.index.Forget(path)
	return nil
}

// local returns the path of target when it is a directory of this FS.
func (n *node) local(target filetree.Directory) ([]string, bool) {
	d, ok := filetree.Unwrap(target).(*Dir)
	if !ok || d.fs != n.fs {
		return nil, false
	}
	return d.fs.index.PathOf(d.id)
}

func (n *node) Copy(ctx context.Context, target filetree.Directory) (filetree.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst, ok := n.local(target)
	if !ok {
		return filetree.CopyTo(ctx, n.self(), target)
	}
	path, err := n.path("copy")
	if err != nil {
		return nil, err
	}
	if len(path) == 0 || (n.isDir() && pathindex.IsPrefix(path, dst)) {
		return nil, filetree.NewPathError("copy", dst, filetree.ErrInvalidTarget)
	}
	to := filetree.JoinPath(dst, path[len(path)-1])
	if err := n.relocate(ctx, "copy", path, to, false); err != nil {
		return nil, err
	}
	copied := n.fs.index.Handle(to, n.isDir())
	n.fs.index.Fire(dst)
	return copied, nil
}

func (n *node) Move(ctx context.Context, target filetree.Directory) (filetree.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst, ok := n.local(target)
	if !ok {
		return filetree.MoveTo(ctx, n.self(), target)
	}
	path, err := n.path("move")
	if err != nil {
		return nil, err
	}
	if len(path) == 0 || pathindex.IsPrefix(path, dst) {
		return nil, filetree.NewPathError("move", dst, filetree.ErrInvalidTarget)
	}
	if len(dst) == len(path)-1 && pathindex.IsPrefix(dst, path) {
		return n.self(), nil
	}
	to := filetree.JoinPath(dst, path[len(path)-1])
	if err := n.relocate(ctx, "move", path, to, true); err != nil {
		return nil, err
	}
	n.fs.index.Fire(path[:len(path)-1], to)
	return n.self(), nil
}

// ============================================================================
// Directories
// ============================================================================

func (d *Dir) add(ctx context.Context, op, name string) ([]string, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := filetree.ValidateName(name); err != nil {
		return nil, nil, filetree.NewPathError(op, []string{name}, err)
	}
	dir, err := d.path(op)
	if err != nil {
		return nil, nil, err
	}
	path := filetree.JoinPath(dir, name)
	if _, found, err := d.fs.lookup(ctx, path); err != nil {
		return nil, nil, mapErr(op, path, err)
	} else if found {
		return nil, nil, filetree.NewPathError(op, path, filetree.ErrExist)
	}
	return dir, path, nil
}

func (d *Dir) AddFile(ctx context.Context, data []byte, name, mimeType string) (filetree.File, error) {
	dir, path, err := d.add(ctx, "addfile", name)
	if err != nil {
		return nil, err
	}
	if mimeType == "" {
		mimeType = filetree.GuessMimeType(name, data)
	}
	if err := d.fs.store.Put(ctx, fileKey(path), data, mimeType); err != nil {
		return nil, mapErr("addfile", path, err)
	}
	f := d.fs.index.Handle(path, false)
	d.fs.index.Fire(dir)
	return f, nil
}

func (d *Dir) AddDirectory(ctx context.Context, name string) (filetree.Directory, error) {
	dir, path, err := d.add(ctx, "adddirectory", name)
	if err != nil {
		return nil, err
	}
	if err := d.fs.store.Put(ctx, dirPrefix(path), nil, ""); err != nil {
		return nil, mapErr("adddirectory", path, err)
	}
	sub := d.fs.index.Handle(path, true)
	d.fs.index.Fire(dir)
	return sub.(filetree.Directory), nil
}

func (d *Dir) Children(ctx context.Context) ([]filetree.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := d.path("children")
	if err != nil {
		return nil, err
	}
	prefix := dirPrefix(dir)
	objs, err := d.fs.store.List(ctx, prefix)
	if err != nil {
		return nil, mapErr("children", dir, err)
	}
	if len(dir) > 0 && len(objs) == 0 {
		return nil, filetree.NewPathError("children", dir, filetree.ErrNotExist)
	}

	// A name that is both an object and a prefix lists as a directory.
	kinds := make(map[string]bool)
	for _, obj := range objs {
		rest := strings.TrimPrefix(obj.Key, prefix)
		if rest == "" {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			kinds[rest[:i]] = true
		} else if _, seen := kinds[rest]; !seen {
			kinds[rest] = false
		}
	}
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]filetree.File, 0, len(names))
	for _, name := range names {
		out = append(out, d.fs.index.Handle(filetree.JoinPath(dir, name), kinds[name]))
	}
	return out, nil
}

func (d *Dir) GetFile(ctx context.Context, path []string) (filetree.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := d.path("getfile")
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return d.self(), nil
	}
	for _, name := range path {
		if filetree.ValidateName(name) != nil {
			return nil, filetree.NewPathError("getfile", path, filetree.ErrNotExist)
		}
	}
	abs := filetree.JoinPath(dir, path...)
	isDir, found, err := d.fs.lookup(ctx, abs)
	if err != nil {
		return nil, mapErr("getfile", path, err)
	}
	if !found {
		return nil, filetree.NewPathError("getfile", path, filetree.ErrNotExist)
	}
	return d.fs.index.Handle(abs, isDir), nil
}

func (d *Dir) Search(ctx context.Context, query string) ([]filetree.SearchResult, error) {
	return filetree.SearchTree(ctx, d, query)
}

var (
	_ filetree.File      = (*File)(nil)
	_ filetree.Directory = (*Dir)(nil)
)
