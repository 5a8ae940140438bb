package filetree

import (
	"context"
	"errors"
)

// ============================================================================
// Read-only view
// ============================================================================

// ReadOnlyOptions configures a read-only view.
type ReadOnlyOptions struct {
	// AllowCreateDir permits directory creation even in read-only mode.
	// Default: false
	AllowCreateDir bool

	// AllowDelete permits deletion in read-only mode.
	// Default: false
	AllowDelete bool

	// OnWriteAttempt is called when a mutation is attempted.
	// If this function returns nil, the mutation is allowed.
	OnWriteAttempt func(op, path string) error
}

// ReadOnlyOption is a functional option for configuring a read-only view.
type ReadOnlyOption func(*ReadOnlyOptions)

// WithAllowCreateDir allows directory creation in read-only mode.
func WithAllowCreateDir(allow bool) ReadOnlyOption {
	return func(o *ReadOnlyOptions) {
		o.AllowCreateDir = allow
	}
}

// WithAllowDelete allows deletion in read-only mode.
func WithAllowDelete(allow bool) ReadOnlyOption {
	return func(o *ReadOnlyOptions) {
		o.AllowDelete = allow
	}
}

// WithWriteAttemptHandler sets a custom handler for mutation attempts.
func WithWriteAttemptHandler(handler func(op, path string) error) ReadOnlyOption {
	return func(o *ReadOnlyOptions) {
		o.OnWriteAttempt = handler
	}
}

func (o *ReadOnlyOptions) deny(op string, path []string) error {
	if o.OnWriteAttempt != nil {
		if err := o.OnWriteAttempt(op, "/"+EncodePath(path)); err != nil {
			return NewPathError(op, path, err)
		}
		return nil
	}
	return NewPathError(op, path, ErrReadOnly)
}

// NewReadOnly returns a view of f in which every mutation fails with
// ErrReadOnly. Nodes reached through the view are read-only as well.
//
//	ro := filetree.NewReadOnly(root)
//	_, err := ro.(filetree.Directory).AddFile(ctx, data, "x.txt", "")
//	// errors.Is(err, filetree.ErrReadOnly) == true
func NewReadOnly(f File, opts ...ReadOnlyOption) File {
	options := &ReadOnlyOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return newReadOnly(f, options, nil)
}

func newReadOnly(f File, opts *ReadOnlyOptions, path []string) File {
	switch t := f.(type) {
	case Directory:
		d := &readOnlyDirectory{DirectoryProxy: &DirectoryProxy{Proxy: &Proxy{}}, opts: opts, path: path}
		d.dir = t
		d.attach(t, d)
		return d
	default:
		r := &readOnlyFile{Proxy: &Proxy{}, opts: opts, path: path}
		r.attach(f, r)
		return r
	}
}

// readOnlyFile is the read-only view of a leaf.
type readOnlyFile struct {
	*Proxy
	opts *ReadOnlyOptions
	path []string
}

// Unwrap returns nil: writes must go through the view.
func (r *readOnlyFile) Unwrap() File { return nil }

func (r *readOnlyFile) OnChange(fn Listener) (unregister func()) {
	return r.target.OnChange(func(File) { fn(r) })
}

func (r *readOnlyFile) Write(ctx context.Context, data []byte) ([]byte, error) {
	if err := r.opts.deny("write", r.path); err != nil {
		return nil, err
	}
	return r.target.Write(ctx, data)
}

func (r *readOnlyFile) Rename(ctx context.Context, name string) error {
	if err := r.opts.deny("rename", r.path); err != nil {
		return err
	}
	return r.target.Rename(ctx, name)
}

func (r *readOnlyFile) Delete(ctx context.Context) error {
	if !r.opts.AllowDelete {
		if err := r.opts.deny("delete", r.path); err != nil {
			return err
		}
	}
	return r.target.Delete(ctx)
}

func (r *readOnlyFile) Move(ctx context.Context, target Directory) (File, error) {
	if err := r.opts.deny("move", r.path); err != nil {
		return nil, err
	}
	return r.target.Move(ctx, target)
}

// readOnlyDirectory is the read-only view of a directory.
type readOnlyDirectory struct {
	*DirectoryProxy
	opts *ReadOnlyOptions
	path []string
}

// Unwrap returns nil so copies into the view hit its AddFile.
func (r *readOnlyDirectory) Unwrap() File { return nil }

func (r *readOnlyDirectory) OnChange(fn Listener) (unregister func()) {
	return r.dir.OnChange(func(File) { fn(r) })
}

func (r *readOnlyDirectory) Write(ctx context.Context, data []byte) ([]byte, error) {
	if err := r.opts.deny("write", r.path); err != nil {
		return nil, err
	}
	return r.dir.Write(ctx, data)
}

func (r *readOnlyDirectory) Rename(ctx context.Context, name string) error {
	if err := r.opts.deny("rename", r.path); err != nil {
		return err
	}
	return r.dir.Rename(ctx, name)
}

func (r *readOnlyDirectory) Delete(ctx context.Context) error {
	if !r.opts.AllowDelete {
		if err := r.opts.deny("delete", r.path); err != nil {
			return err
		}
	}
	return r.dir.Delete(ctx)
}

func (r *readOnlyDirectory) Move(ctx context.Context, target Directory) (File, error) {
	if err := r.opts.deny("move", r.path); err != nil {
		return nil, err
	}
	return r.dir.Move(ctx, target)
}

func (r *readOnlyDirectory) AddFile(ctx context.Context, data []byte, name, mimeType string) (File, error) {
	path := JoinPath(r.path, name)
	if err := r.opts.deny("addfile", path); err != nil {
		return nil, err
	}
	f, err := r.dir.AddFile(ctx, data, name, mimeType)
	if err != nil {
		return nil, err
	}
	return newReadOnly(f, r.opts, path), nil
}

func (r *readOnlyDirectory) AddDirectory(ctx context.Context, name string) (Directory, error) {
	path := JoinPath(r.path, name)
	if !r.opts.AllowCreateDir {
		if err := r.opts.deny("adddirectory", path); err != nil {
			return nil, err
		}
	}
	d, err := r.dir.AddDirectory(ctx, name)
	if err != nil {
		return nil, err
	}
	return newReadOnly(d, r.opts, path).(Directory), nil
}

func (r *readOnlyDirectory) Children(ctx context.Context) ([]File, error) {
	children, err := r.dir.Children(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]File, len(children))
	for i, child := range children {
		out[i] = newReadOnly(child, r.opts, JoinPath(r.path, child.Name()))
	}
	return out, nil
}

func (r *readOnlyDirectory) GetFile(ctx context.Context, path []string) (File, error) {
	f, err := r.dir.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return r, nil
	}
	return newReadOnly(f, r.opts, JoinPath(r.path, path...)), nil
}

func (r *readOnlyDirectory) Search(ctx context.Context, query string) ([]SearchResult, error) {
	results, err := r.dir.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].File = newReadOnly(results[i].File, r.opts, JoinPath(r.path, results[i].Path...))
	}
	return results, nil
}

var (
	_ File      = (*readOnlyFile)(nil)
	_ Directory = (*readOnlyDirectory)(nil)
)

// IsReadOnlyError checks if an error is due to read-only restrictions.
func IsReadOnlyError(err error) bool {
	return errors.Is(err, ErrReadOnly)
}
