// Package gcs stores a filetree in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
	"google.golang.org/api/iterator"
)

// Store is an object.Store over one bucket.
type Store struct {
	bucket *storage.BucketHandle
	prefix string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPrefix keeps every key below prefix.
func WithPrefix(prefix string) StoreOption {
	return func(s *Store) {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		s.prefix = prefix
	}
}

// New creates a store over bucket.
func New(client *storage.Client, bucket string, opts ...StoreOption) *Store {
	s := &Store{bucket: client.Bucket(bucket)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) object(key string) *storage.ObjectHandle {
	return s.bucket.Object(s.prefix + key)
}

// mapErr turns missing object and bucket errors into filetree.ErrNotExist.
func mapErr(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("gcs %s %s: %w", op, key, filetree.ErrNotExist)
	}
	return fmt.Errorf("gcs %s %s: %w", op, key, err)
}

func convert(key string, attrs *storage.ObjectAttrs) *object.Object {
	return &object.Object{
		Key:          key,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		LastModified: attrs.Updated,
	}
}

func (s *Store) Head(ctx context.Context, key string) (*object.Object, error) {
	attrs, err := s.object(key).Attrs(ctx)
	if err != nil {
		return nil, mapErr("head", key, err)
	}
	return convert(key, attrs), nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		return nil, mapErr("get", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, mapErr("get", key, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return mapErr("put", key, err)
	}
	// The upload completes on Close
	if err := w.Close(); err != nil {
		return mapErr("put", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return mapErr("delete", key, err)
	}
	return nil
}

// Copy uses the server-side rewrite API.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	if _, err := s.object(dst).CopierFrom(s.object(src)).Run(ctx); err != nil {
		return mapErr("copy", src, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]object.Object, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix + prefix})

	var out []object.Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapErr("list", prefix, err)
		}
		out = append(out, *convert(strings.TrimPrefix(attrs.Name, s.prefix), attrs))
	}
	return out, nil
}

var _ object.Store = (*Store)(nil)
