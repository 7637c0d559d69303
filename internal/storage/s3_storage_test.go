package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory.
type fakeS3 struct {
	mu           sync.Mutex
	bucketExists bool
	headCalls    int
	createCalls  int
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newFakeS3(bucketExists bool) *fakeS3 {
	return &fakeS3{bucketExists: bucketExists, objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestUploadDownload_CreatesBucketOnce(t *testing.T) {
	fake := newFakeS3(false)
	store := newS3Storage(fake, "offers", "http://localhost:9000/")

	obj, err := store.Upload(context.Background(), "offers/P1/U1.pdf", []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "offers/P1/U1.pdf", obj.Key)
	assert.Equal(t, "http://localhost:9000/offers/offers/P1/U1.pdf", obj.URL)
	assert.Equal(t, "application/pdf", fake.contentTypes["offers/P1/U1.pdf"])

	data, err := store.Download(context.Background(), obj.Key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)

	assert.Equal(t, 1, fake.headCalls)
	assert.Equal(t, 1, fake.createCalls)
}

func TestEnsureBucket_ExistingBucketNotCreated(t *testing.T) {
	fake := newFakeS3(true)
	store := newS3Storage(fake, "offers", "http://minio:9000")

	_, err := store.Upload(context.Background(), "k", []byte("x"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, 0, fake.createCalls)
}

func TestDownload_Missing(t *testing.T) {
	store := newS3Storage(newFakeS3(true), "offers", "http://minio:9000")

	_, err := store.Download(context.Background(), "nope.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestUpload_Error(t *testing.T) {
	fake := newFakeS3(true)
	fake.putErr = errors.New("connection refused")
	store := newS3Storage(fake, "offers", "http://minio:9000")

	_, err := store.Upload(context.Background(), "k", []byte("x"), "application/pdf")
	assert.ErrorContains(t, err, "connection refused")
}

func TestURLFor_EscapesSegments(t *testing.T) {
	store := newS3Storage(newFakeS3(true), "offers", "http://minio:9000")
	assert.Equal(t, "http://minio:9000/offers/templates/a%20b.pdf", store.URLFor("templates/a b.pdf"))
}
