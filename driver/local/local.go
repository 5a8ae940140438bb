// Package local is a filetree backend over a directory on disk, accessed
// through afero so tests can run against an in-memory filesystem.
//
// Node ids are assigned per path when a node is first seen and follow the
// node through renames and moves made through the tree. They are stable for
// the lifetime of the FS value, not across processes.
package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/internal/pathindex"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// FS is a local directory tree.
type FS struct {
	afs   afero.Fs
	base  string
	name  string
	watch string // OS path fsnotify watches, empty when not on disk
	log   *zap.Logger
	index *pathindex.Index
}

// Option configures an FS.
type Option func(*FS)

// WithName sets the root directory's name.
// Default: the base name of the root directory
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

// New creates a tree rooted at the directory root on disk, creating it if
// needed.
func New(root string, opts ...Option) (*FS, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	// Ensure the root directory exists
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, err
	}

	f := NewWithFs(afero.NewBasePathFs(afero.NewOsFs(), absRoot), append([]Option{WithName(filepath.Base(absRoot))}, opts...)...)
	f.watch = absRoot
	return f, nil
}

// NewWithFs creates a tree over the root of an afero filesystem.
func NewWithFs(afs afero.Fs, opts ...Option) *FS {
	f := &FS{
		afs:  afs,
		base: string(filepath.Separator),
		name: "local",
		log:  zap.NewNop(),
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

func (f *FS) full(path []string) string {
	return filepath.Join(append([]string{f.base}, path...)...)
}

// Watch returns a token that fires on the next change on disk below the
// root, including changes made through the tree.
func (f *FS) Watch(ctx context.Context) (filetree.ChangeToken, error) {
	if f.watch == "" {
		return nil, filetree.NewPathError("watch", nil, filetree.ErrNotSupported)
	}

	token := filetree.NewCallbackChangeToken()

	watcher, err := newFSWatcher()
	if err != nil {
		return nil, filetree.NewPathError("watch", nil, err)
	}

	// fsnotify is not recursive
	err = filepath.WalkDir(f.watch, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return nil, filetree.NewPathError("watch", nil, err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events():
				if !ok {
					return
				}
				f.log.Debug("disk change", zap.String("name", event.Name), zap.Stringer("op", event.Op))
				token.SignalChange()
				return // Token is spent after first change
			case err, ok := <-watcher.Errors():
				if !ok {
					return
				}
				f.log.Warn("watch error", zap.Error(err))
			}
		}
	}()

	return token, nil
}

// ============================================================================
// Nodes
// ============================================================================

type node struct {
	fs *FS
	id string
}

// File is a file on disk.
type File struct {
	*node
}

// Dir is a directory on disk.
type Dir struct {
	*node
}

// mapErr converts os errors to the tree's sentinels.
func mapErr(op string, path []string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return filetree.NewPathError(op, path, filetree.ErrNotExist)
	case errors.Is(err, fs.ErrExist):
		return filetree.NewPathError(op, path, filetree.ErrExist)
	default:
		return filetree.NewPathError(op, path, err)
	}
}

// path returns the node's current path or ErrNotExist once the node is gone.
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
	fi, err := n.fs.afs.Stat(n.fs.full(path))
	if err != nil {
		return nil, mapErr("stat", path, err)
	}

	info := &filetree.Info{
		ID:           n.id,
		Name:         n.Name(),
		Dir:          fi.IsDir(),
		LastModified: fi.ModTime(),
		Created:      fi.ModTime(),
	}
	if !fi.IsDir() {
		info.Size = fi.Size()
		info.MimeType = filetree.GuessMimeType(fi.Name(), nil)
	}
	info.Icon = filetree.IconFor(info.MimeType, info.Dir)

	owner, created := extractPlatformInfo(fi)
	if created != nil {
		info.Created = *created
	}
	if owner != "" {
		info.Extra = map[string]any{"owner": owner}
	}
	if dir, ok := n.self().(filetree.Directory); ok && info.Dir {
		mod, err := filetree.DirectoryLastModified(ctx, dir, info.Created)
		if err != nil {
			return nil, err
		}
		info.LastModified = mod
	}
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
	if _, ok := n.self().(*Dir); ok {
		return nil, filetree.NewPathError("read", path, filetree.ErrIsDir)
	}
	data, err := afero.ReadFile(n.fs.afs, n.fs.full(path))
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
	if _, ok := n.self().(*Dir); ok {
		return nil, filetree.NewPathError("write", path, filetree.ErrIsDir)
	}
	full := n.fs.full(path)
	if _, err := n.fs.afs.Stat(full); err != nil {
		return nil, mapErr("write", path, err)
	}
	if err := afero.WriteFile(n.fs.afs, full, data, 0644); err != nil {
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
	if err := n.fs.rename(path, to); err != nil {
		return err
	}
	n.fs.index.Fire(to)
	return nil
}

// rename moves the entry at from to to, failing with ErrExist when to is
// taken.
func (f *FS) rename(from, to []string) error {
	if _, err := f.afs.Stat(f.full(to)); err == nil {
		return filetree.NewPathError("rename", to, filetree.ErrExist)
	}
	if err := f.afs.Rename(f.full(from), f.full(to)); err != nil {
		return mapErr("rename", from, err)
	}
	f.index.Remap(from, to)
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
	full := n.fs.full(path)
	if _, err := n.fs.afs.Stat(full); err != nil {
		return mapErr("delete", path, err)
	}

	if err := n.fs.afs.RemoveAll(full); err != nil {
		return mapErr("delete", path, err)
	}
	// Fire before forgetting so listeners on the node itself are reached.
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
	return filetree.CopyTo(ctx, n.self(), target)
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
	if pathindex.IsPrefix(path[:len(path)-1], dst) && len(dst) == len(path)-1 {
		return n.self(), nil
	}
	to := filetree.JoinPath(dst, path[len(path)-1])
	if err := n.fs.rename(path, to); err != nil {
		return nil, err
	}
	n.fs.index.Fire(path[:len(path)-1], to)
	return n.self(), nil
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
	dir, err := d.path("addfile")
	if err != nil {
		return nil, err
	}
	path := filetree.JoinPath(dir, name)

	fh, err := d.fs.afs.OpenFile(d.fs.full(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, mapErr("addfile", path, err)
	}
	_, werr := fh.Write(data)
	cerr := fh.Close()
	if werr != nil {
		return nil, mapErr("addfile", path, werr)
	}
	if cerr != nil {
		return nil, mapErr("addfile", path, cerr)
	}

	f := d.fs.index.Handle(path, false)
	d.fs.index.Fire(dir)
	return f, nil
}

func (d *Dir) AddDirectory(ctx context.Context, name string) (filetree.Directory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := filetree.ValidateName(name); err != nil {
		return nil, filetree.NewPathError("adddirectory", []string{name}, err)
	}
	dir, err := d.path("adddirectory")
	if err != nil {
		return nil, err
	}
	path := filetree.JoinPath(dir, name)
	full := d.fs.full(path)

	if _, err := d.fs.afs.Stat(full); err == nil {
		return nil, filetree.NewPathError("adddirectory", path, filetree.ErrExist)
	}
	if err := d.fs.afs.Mkdir(full, 0755); err != nil {
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
	entries, err := afero.ReadDir(d.fs.afs, d.fs.full(dir))
	if err != nil {
		return nil, mapErr("children", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make([]filetree.File, 0, len(entries))
	for _, e := range entries {
		out = append(out, d.fs.index.Handle(filetree.JoinPath(dir, e.Name()), e.IsDir()))
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
	fi, err := d.fs.afs.Stat(d.fs.full(abs))
	if err != nil {
		return nil, mapErr("getfile", path, err)
	}
	return d.fs.index.Handle(abs, fi.IsDir()), nil
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
