// Package zip serves a ZIP archive as a filetree.
//
// The archive is loaded into memory when opened and acts as an
// object.Store: entry names are keys and directory entries ("dir/") are the
// markers of empty directories. Changes are written back by rewriting the
// whole archive to a temporary file that replaces the original.
package zip

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
)

type entry struct {
	data []byte
	mod  time.Time
}

// Archive is an in-memory ZIP archive backed by a file.
type Archive struct {
	path     string
	readOnly bool
	deferred bool
	compress uint16

	mu       sync.RWMutex
	entries  map[string]*entry
	modified bool
}

// Option configures an Archive.
type Option func(*Archive)

// ReadOnly rejects every change with filetree.ErrReadOnly.
func ReadOnly() Option {
	return func(a *Archive) {
		a.readOnly = true
	}
}

// WithDeferredWrites keeps changes in memory until Flush or Close.
// Default: every change rewrites the archive
func WithDeferredWrites() Option {
	return func(a *Archive) {
		a.deferred = true
	}
}

// WithStore stores entries uncompressed.
func WithStore() Option {
	return func(a *Archive) {
		a.compress = zip.Store
	}
}

// Open loads the archive at zipPath. A missing file is an empty archive that
// is created on the first change, unless the archive is read-only.
func Open(zipPath string, opts ...Option) (*Archive, error) {
	a := &Archive{
		path:     zipPath,
		compress: zip.Deflate,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(a)
	}

	reader, err := zip.OpenReader(zipPath)
	if os.IsNotExist(err) && !a.readOnly {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer reader.Close()

	for _, f := range reader.File {
		name, ok := normalize(f.Name)
		if !ok {
			continue
		}
		var data []byte
		if !strings.HasSuffix(name, "/") {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to read zip entry %s: %w", f.Name, err)
			}
			data, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read zip entry %s: %w", f.Name, err)
			}
		}
		a.entries[name] = &entry{data: data, mod: f.Modified}
	}
	return a, nil
}

// normalize cleans an entry name, keeping the trailing slash of directories.
// Names escaping the archive root are dropped.
func normalize(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	dir := strings.HasSuffix(name, "/")
	clean := path.Clean("/" + name)[1:]
	if clean == "" || strings.HasPrefix(clean, "../") {
		return "", false
	}
	if dir {
		clean += "/"
	}
	return clean, true
}

func (a *Archive) Head(ctx context.Context, key string) (*object.Object, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[key]
	if !ok {
		return nil, fmt.Errorf("zip entry %s: %w", key, filetree.ErrNotExist)
	}
	return &object.Object{Key: key, Size: int64(len(e.data)), LastModified: e.mod}, nil
}

func (a *Archive) Get(ctx context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[key]
	if !ok {
		return nil, fmt.Errorf("zip entry %s: %w", key, filetree.ErrNotExist)
	}
	return append([]byte(nil), e.data...), nil
}

// change applies fn under the write lock and writes the archive back unless
// writes are deferred.
func (a *Archive) change(op, key string, fn func() error) error {
	if a.readOnly {
		return fmt.Errorf("zip %s %s: %w", op, key, filetree.ErrReadOnly)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	a.modified = true
	if a.deferred {
		return nil
	}
	return a.flush()
}

func (a *Archive) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return a.change("put", key, func() error {
		a.entries[key] = &entry{data: append([]byte(nil), data...), mod: time.Now()}
		return nil
	})
}

func (a *Archive) Delete(ctx context.Context, key string) error {
	return a.change("delete", key, func() error {
		delete(a.entries, key)
		return nil
	})
}

func (a *Archive) Copy(ctx context.Context, src, dst string) error {
	return a.change("copy", src, func() error {
		e, ok := a.entries[src]
		if !ok {
			return fmt.Errorf("zip entry %s: %w", src, filetree.ErrNotExist)
		}
		a.entries[dst] = &entry{data: e.data, mod: time.Now()}
		return nil
	})
}

func (a *Archive) List(ctx context.Context, prefix string) ([]object.Object, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []object.Object
	for key, e := range a.entries {
		if strings.HasPrefix(key, prefix) {
			out = append(out, object.Object{Key: key, Size: int64(len(e.data)), LastModified: e.mod})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Flush writes pending changes to disk.
func (a *Archive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flush()
}

// Close flushes pending changes.
func (a *Archive) Close() error {
	return a.Flush()
}

func (a *Archive) flush() error {
	if !a.modified {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(a.path), ".filetree-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := a.writeTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), a.path); err != nil {
		return fmt.Errorf("failed to replace zip: %w", err)
	}
	a.modified = false
	return nil
}

func (a *Archive) writeTo(w io.Writer) error {
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(w)
	for _, name := range names {
		e := a.entries[name]
		header := &zip.FileHeader{Name: name, Modified: e.mod, Method: a.compress}
		if strings.HasSuffix(name, "/") {
			header.Method = zip.Store
			header.SetMode(os.ModeDir | 0755)
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to write zip entry %s: %w", name, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return fmt.Errorf("failed to write zip entry %s: %w", name, err)
		}
	}
	return zw.Close()
}

// New opens the archive at zipPath and returns a tree over it.
func New(zipPath string, opts ...Option) (*object.FS, *Archive, error) {
	a, err := Open(zipPath, opts...)
	if err != nil {
		return nil, nil, err
	}
	return object.New(a, object.WithName(archiveName(zipPath))), a, nil
}

// archiveName is the file name of zipPath without its extension.
func archiveName(zipPath string) string {
	return strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath))
}

var _ object.Store = (*Archive)(nil)
