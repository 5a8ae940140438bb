// Package azure stores a filetree in an Azure Blob Storage container.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
)

// Store is an object.Store over one container.
type Store struct {
	client    *azblob.Client
	container string
	prefix    string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPrefix keeps every blob below prefix.
func WithPrefix(prefix string) StoreOption {
	return func(s *Store) {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		s.prefix = prefix
	}
}

// New creates a store over containerName.
func New(client *azblob.Client, containerName string, opts ...StoreOption) *Store {
	s := &Store{client: client, container: containerName}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) name(key string) string {
	return s.prefix + key
}

// mapErr turns missing blob and container errors into filetree.ErrNotExist.
func mapErr(op, key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return fmt.Errorf("azure %s %s: %w", op, key, filetree.ErrNotExist)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("azure %s %s: %w", op, key, filetree.ErrNotExist)
	}
	return fmt.Errorf("azure %s %s: %w", op, key, err)
}

// ptr is a helper function to create a pointer to a value
func ptr[T any](v T) *T {
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (s *Store) Head(ctx context.Context, key string) (*object.Object, error) {
	props, err := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(s.name(key)).
		GetProperties(ctx, nil)
	if err != nil {
		return nil, mapErr("head", key, err)
	}
	return &object.Object{
		Key:          key,
		Size:         deref(props.ContentLength),
		ContentType:  deref(props.ContentType),
		LastModified: deref(props.LastModified),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.name(key), nil)
	if err != nil {
		return nil, mapErr("get", key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mapErr("get", key, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: ptr(contentType)}
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, s.name(key), data, opts); err != nil {
		return mapErr("put", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, s.name(key), nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return mapErr("delete", key, err)
	}
	return nil
}

// Copy downloads and re-uploads the blob. A server-side copy would need a
// SAS URL for the source.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	obj, err := s.Head(ctx, src)
	if err != nil {
		return err
	}
	data, err := s.Get(ctx, src)
	if err != nil {
		return err
	}
	return s.Put(ctx, dst, data, obj.ContentType)
}

func (s *Store) List(ctx context.Context, prefix string) ([]object.Object, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: ptr(s.name(prefix)),
	})

	var out []object.Object
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapErr("list", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			out = append(out, convert(s.prefix, item))
		}
	}
	return out, nil
}

func convert(prefix string, item *container.BlobItem) object.Object {
	obj := object.Object{Key: strings.TrimPrefix(deref(item.Name), prefix)}
	if p := item.Properties; p != nil {
		obj.Size = deref(p.ContentLength)
		obj.ContentType = deref(p.ContentType)
		obj.LastModified = deref(p.LastModified)
	}
	return obj
}

var _ object.Store = (*Store)(nil)
