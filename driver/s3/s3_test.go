package s3

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gobeaver/filetree"
	"github.com/gobeaver/filetree/driver/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bucket fakes the S3 calls the store makes against a single bucket.
type bucket struct {
	objects map[string][]byte
	types   map[string]string
	copies  []string
}

func newBucket() *bucket {
	return &bucket{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (b *bucket) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(b.types[aws.ToString(in.Key)]),
		LastModified:  aws.Time(time.Unix(1700000000, 0)),
	}, nil
}

func (b *bucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b *bucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.objects[aws.ToString(in.Key)] = data
	b.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (b *bucket) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(b.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (b *bucket) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source := aws.ToString(in.CopySource)
	b.copies = append(b.copies, source)
	key := strings.TrimPrefix(source, "test/")
	key = strings.ReplaceAll(key, "%20", " ")
	data, ok := b.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	b.objects[aws.ToString(in.Key)] = data
	return &s3.CopyObjectOutput{}, nil
}

func (b *bucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key, data := range b.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{
				Key:  aws.String(key),
				Size: aws.Int64(int64(len(data))),
			})
		}
	}
	return out, nil
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	b := newBucket()
	s := New(b, "test", WithPrefix("tenant"))

	require.NoError(t, s.Put(ctx, "docs/a b.txt", []byte("hello"), "text/plain"))
	assert.Contains(t, b.objects, "tenant/docs/a b.txt")

	obj, err := s.Head(ctx, "docs/a b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), obj.Size)
	assert.Equal(t, "text/plain", obj.ContentType)

	_, err = s.Head(ctx, "missing")
	assert.ErrorIs(t, err, filetree.ErrNotExist)
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, filetree.ErrNotExist)

	require.NoError(t, s.Copy(ctx, "docs/a b.txt", "docs/c.txt"))
	assert.Equal(t, []string{"test/tenant/docs/a%20b.txt"}, b.copies)

	objs, err := s.List(ctx, "docs/")
	require.NoError(t, err)
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	assert.ElementsMatch(t, []string{"docs/a b.txt", "docs/c.txt"}, keys)

	require.NoError(t, s.Delete(ctx, "docs/c.txt"))
	require.NoError(t, s.Delete(ctx, "docs/c.txt"))
}

func TestTree(t *testing.T) {
	ctx := context.Background()
	root := object.New(New(newBucket(), "test")).Root()

	docs, err := root.AddDirectory(ctx, "docs")
	require.NoError(t, err)
	_, err = docs.AddFile(ctx, []byte("{}"), "a.json", "")
	require.NoError(t, err)
	require.NoError(t, docs.Rename(ctx, "papers"))

	data, err := filetree.ReadPath(ctx, root, []string{"papers", "a.json"})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
