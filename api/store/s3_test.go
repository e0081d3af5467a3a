package store

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	s := NewS3StoreWithClient("fsoi", client, testResolver(t), nil)
	d := bulkDescriptor("GMAO", "20200101", "00")

	assert.Equal(t, "fsoi", s.Bucket())

	exists, err := s.Exists(ctx, d)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.SaveFromLocalFile(ctx, writeTemp(t, "payload"), d))
	assert.Contains(t, client.objects, "GMAO/dry/20200101/00/bulk.GMAO.dry.2020010100.csv")

	exists, err = s.Exists(ctx, d)
	require.NoError(t, err)
	assert.True(t, exists)

	out := filepath.Join(t.TempDir(), "out")
	require.NoError(t, s.LoadToLocalFile(ctx, d, out))
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	found, err := s.List(ctx, Filter{Kind: "bulk", Fields: map[string]string{"center": "GMAO"}})
	require.NoError(t, err)
	assert.Equal(t, []Descriptor{d}, found)

	require.NoError(t, s.Delete(ctx, d))
	err = s.LoadToLocalFile(ctx, d, out)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestS3StoreRejectsInvalidDescriptor(t *testing.T) {
	s := NewS3StoreWithClient("fsoi", newFakeS3(), testResolver(t), nil)
	err := s.Delete(context.Background(), Descriptor{Kind: "bulk"})
	assert.True(t, errors.Is(err, ErrInvalidDescriptor))
}
