package s3

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/storepath"
)

// newTestBackend builds a Backend directly, bypassing NewBackend's
// HealthCheck round trip so these tests exercise translateError, Protocol,
// and the Handle adapters without needing a reachable S3 endpoint.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	pool, err := NewConnectionPool(1, func() (*s3.Client, error) {
		return s3.New(s3.Options{Region: "us-east-1"}), nil
	})
	require.NoError(t, err)

	return &Backend{
		bucket:   "test-bucket",
		region:   "us-east-1",
		endpoint: "http://localhost:9000",
		pool:     pool,
		config:   &Config{Region: "us-east-1"},
	}
}

func TestBackend_Protocol(t *testing.T) {
	backend := newTestBackend(t)
	assert.Equal(t, storepath.ProtocolS3, backend.Protocol())
}

func TestTranslateError_MapsNoSuchKeyToNotFound(t *testing.T) {
	backend := newTestBackend(t)
	err := backend.translateError(&s3types.NoSuchKey{}, "GetObject", "a.txt")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestTranslateError_MapsNotFoundToNotFound(t *testing.T) {
	backend := newTestBackend(t)
	err := backend.translateError(&s3types.NotFound{}, "HeadObject", "a.txt")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestTranslateError_MapsNoSuchBucketToBucketNotFound(t *testing.T) {
	backend := newTestBackend(t)
	err := backend.translateError(&s3types.NoSuchBucket{}, "HeadBucket", "")
	assert.True(t, errors.Is(err, errors.BucketNotFound))
}

func TestTranslateError_DefaultsToRetryableUnknown(t *testing.T) {
	backend := newTestBackend(t)
	cause := assert.AnError
	err := backend.translateError(cause, "PutObject", "a.txt")
	assert.True(t, errors.Is(err, errors.Unknown))

	var megErr *errors.Error
	require.ErrorAs(t, err, &megErr)
	assert.True(t, megErr.Retryable)
}

func TestBackend_SymlinkAndReadlinkAreUnsupported(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	p := storepath.Path{Protocol: storepath.ProtocolS3, Bucket: "test-bucket", Key: "link"}

	err := backend.Symlink(ctx, p, p)
	assert.True(t, errors.Is(err, errors.Unsupported))

	_, err = backend.Readlink(ctx, p)
	assert.True(t, errors.Is(err, errors.Unsupported))
}

func TestBackend_OpenRejectsUnknownMode(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()
	p := storepath.Path{Protocol: storepath.ProtocolS3, Bucket: "test-bucket", Key: "a.txt"}

	_, err := backend.Open(ctx, p, storepath.OpenMode(99))
	assert.True(t, errors.Is(err, errors.Unsupported))
}

func TestS3Handle_ReadWriteRejectWrongMode(t *testing.T) {
	readHandle := &s3Handle{key: "a.txt"}
	_, err := readHandle.Write([]byte("x"))
	assert.True(t, errors.Is(err, errors.InvalidState))

	writeHandle := &s3Handle{key: "a.txt"}
	_, err = writeHandle.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, errors.InvalidState))

	_, err = writeHandle.Seek(0, 0)
	assert.True(t, errors.Is(err, errors.InvalidSeek))
}

func TestObjectUploader_PutObjectDelegatesWithBoundKey(t *testing.T) {
	backend := newTestBackend(t)
	up := &objectUploader{backend: backend, key: "uploads/a.txt"}
	assert.Equal(t, "uploads/a.txt", up.key)
	assert.Same(t, backend, up.backend)
}
