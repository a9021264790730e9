package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient keeps objects in memory and serves the single-part upload path
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	headErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
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
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeClient) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeClient) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeClient) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Driver_BasicConfiguration(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")
}

func TestS3Driver_WithFakeClient(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	d := NewWithClient(client, Config{Bucket: "content", Prefix: "docs/"})

	n, err := d.Store(ctx, "abcd", strings.NewReader("hello s3"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Contains(t, client.objects, "docs/abcd")

	res, err := d.Retrieve(ctx, "abcd")
	require.NoError(t, err)
	assert.True(t, res.Exists())
	assert.Equal(t, int64(8), res.ContentLength())

	rc, err := res.Open(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "hello s3", string(data))

	require.NoError(t, d.Delete(ctx, "abcd"))
	res, err = d.Retrieve(ctx, "abcd")
	require.NoError(t, err)
	assert.False(t, res.Exists())
}

func TestS3Driver_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("UploadFailure", func(t *testing.T) {
		client := newFakeClient()
		client.putErr = errors.New("slow down")
		d := NewWithClient(client, Config{Bucket: "content"})

		_, err := d.Store(ctx, "k", strings.NewReader("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slow down")
	})

	t.Run("HeadFailure", func(t *testing.T) {
		client := newFakeClient()
		client.headErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
		d := NewWithClient(client, Config{Bucket: "content"})

		_, err := d.Retrieve(ctx, "k")
		require.Error(t, err)
	})

	t.Run("BareNotFoundCode", func(t *testing.T) {
		client := newFakeClient()
		client.headErr = &smithy.GenericAPIError{Code: "NotFound"}
		d := NewWithClient(client, Config{Bucket: "content"})

		res, err := d.Retrieve(ctx, "k")
		require.NoError(t, err)
		assert.False(t, res.Exists())
	})
}

// TestS3DriverWithMinIO requires a running MinIO server:
// docker run -p 9000:9000 -p 9001:9001 minio/minio server /data --console-address ":9001"
func TestS3DriverWithMinIO(t *testing.T) {
	if os.Getenv("MINIO_INTEGRATION_TEST") == "" {
		t.Skip("Skipping MinIO integration test. Set MINIO_INTEGRATION_TEST=1 to run.")
	}

	ctx := context.Background()
	d, err := New(ctx, Config{
		Region:                 "us-east-1",
		Bucket:                 "content-versions-" + time.Now().Format("20060102150405"),
		AccessKeyID:            "minioadmin",
		SecretAccessKey:        "minioadmin",
		Endpoint:               "http://localhost:9000",
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)

	content := "Hello, MinIO! This is an integration test."
	n, err := d.Store(ctx, "test/integration.txt", strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)

	res, err := d.Retrieve(ctx, "test/integration.txt")
	require.NoError(t, err)
	require.True(t, res.Exists())
	rc, err := res.Open(ctx)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	require.NoError(t, d.Delete(ctx, "test/integration.txt"))
	res, err = d.Retrieve(ctx, "test/integration.txt")
	require.NoError(t, err)
	assert.False(t, res.Exists())
}
