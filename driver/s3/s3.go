// Package s3 stores a filetree in an Amazon S3 bucket, or any service
// speaking the S3 API.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
)

// API is the part of *s3.Client the store uses.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Store is an object.Store over one bucket.
type Store struct {
	client API
	bucket string
	prefix string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPrefix keeps every key below prefix.
func WithPrefix(prefix string) StoreOption {
	return func(s *Store) {
		// Ensure prefix ends with a slash if it's not empty
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		s.prefix = prefix
	}
}

// New creates a store over bucket.
func New(client API, bucket string, opts ...StoreOption) *Store {
	s := &Store{client: client, bucket: bucket}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// mapErr turns missing-key errors into filetree.ErrNotExist.
func mapErr(op, key string, err error) error {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &notFound) {
		return fmt.Errorf("s3 %s %s: %w", op, key, filetree.ErrNotExist)
	}
	return fmt.Errorf("s3 %s %s: %w", op, key, err)
}

func (s *Store) Head(ctx context.Context, key string) (*object.Object, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return nil, mapErr("head", key, err)
	}
	return &object.Object{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
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
	input := &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(s.key(key)),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return mapErr("put", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return mapErr("delete", key, err)
	}
	return nil
}

// Copy uses CopyObject, so content never leaves S3.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	// CopySource is "bucket/key" with the key URL-escaped
	source := s.bucket + "/" + (&url.URL{Path: s.key(src)}).EscapedPath()
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(source),
		Key:        aws.String(s.key(dst)),
	})
	if err != nil {
		return mapErr("copy", src, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]object.Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})

	var out []object.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapErr("list", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, object.Object{
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), s.prefix),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

var _ object.Store = (*Store)(nil)
