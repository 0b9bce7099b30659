//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	s3backend "github.com/go-megfile/megfile/internal/storage/s3"
)

// LocalStackIntegrationSuite tests ObjectFS against LocalStack S3
type LocalStackIntegrationSuite struct {
	suite.Suite
	ctx      context.Context
	client   *s3.Client
	backend  *s3backend.Backend
	bucket   string
	endpoint string
}

func TestLocalStackIntegration(t *testing.T) {
	// Skip if not running in CI with LocalStack
	if os.Getenv("AWS_ENDPOINT_URL") == "" {
		t.Skip("Skipping LocalStack integration tests - no endpoint configured")
	}
	
	suite.Run(t, new(LocalStackIntegrationSuite))
}

func (s *LocalStackIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.bucket = "test-bucket"
	s.endpoint = os.Getenv("AWS_ENDPOINT_URL")
	
	// Configure AWS client for LocalStack
	cfg, err := config.LoadDefaultConfig(s.ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			"test", "test", "",
		)),
		config.WithRegion("us-east-1"),
		// Note: Endpoint resolver configuration removed for LocalStack compatibility
	)
	require.NoError(s.T(), err)
	
	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = &s.endpoint
		o.UsePathStyle = true
	})
	
	// Create S3 backend
	backendConfig := &s3backend.Config{
		Region:         "us-east-1",
		Endpoint:       s.endpoint,
		ForcePathStyle: true,
		MaxRetries:     3,
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		PoolSize:       4,
	}
	
	s.backend, err = s3backend.NewBackend(s.ctx, s.bucket, backendConfig)
	require.NoError(s.T(), err)
}

func (s *LocalStackIntegrationSuite) TearDownSuite() {
	if s.backend != nil {
		s.backend.Close()
	}
}

func (s *LocalStackIntegrationSuite) SetupTest() {
	// Ensure bucket exists and is empty
	_, err := s.client.CreateBucket(s.ctx, &s3.CreateBucketInput{
		Bucket: &s.bucket,
	})
	// Ignore error if bucket already exists
	
	// Clean up any existing objects
	resp, err := s.client.ListObjectsV2(s.ctx, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
	})
	require.NoError(s.T(), err)
	
	for _, obj := range resp.Contents {
		_, err := s.client.DeleteObject(s.ctx, &s3.DeleteObjectInput{
			Bucket: &s.bucket,
			Key:    obj.Key,
		})
		require.NoError(s.T(), err)
	}
}

func (s *LocalStackIntegrationSuite) TestBasicS3Operations() {
	t := s.T()
	
	// Test data
	key := "test-object"
	data := []byte("Hello, ObjectFS!")
	
	// Test PutObject
	err := s.backend.PutObject(s.ctx, key, data)
	assert.NoError(t, err)
	
	// Test GetObject
	retrieved, err := s.backend.GetObject(s.ctx, key, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, data, retrieved)
	
	// Test HeadObject
	info, err := s.backend.HeadObject(s.ctx, key)
	assert.NoError(t, err)
	assert.Equal(t, key, info.Key)
	assert.Equal(t, int64(len(data)), info.Size)
	
	// Test ListObjects
	objects, err := s.backend.ListObjects(s.ctx, "", 10)
	assert.NoError(t, err)
	assert.Len(t, objects, 1)
	assert.Equal(t, key, objects[0].Key)
	
	// Test DeleteObject
	err = s.backend.DeleteObject(s.ctx, key)
	assert.NoError(t, err)
	
	// Verify deletion
	_, err = s.backend.GetObject(s.ctx, key, 0, 0)
	assert.Error(t, err)
}

func (s *LocalStackIntegrationSuite) TestRangeRequests() {
	t := s.T()
	
	key := "test-range"
	data := []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	
	// Put test data
	err := s.backend.PutObject(s.ctx, key, data)
	require.NoError(t, err)
	
	// Test range request - first 10 bytes
	partial, err := s.backend.GetObject(s.ctx, key, 0, 10)
	assert.NoError(t, err)
	assert.Equal(t, data[:10], partial)
	
	// Test range request - middle 10 bytes
	partial, err = s.backend.GetObject(s.ctx, key, 10, 10)
	assert.NoError(t, err)
	assert.Equal(t, data[10:20], partial)
	
	// Test range request - last 10 bytes
	partial, err = s.backend.GetObject(s.ctx, key, int64(len(data)-10), 10)
	assert.NoError(t, err)
	assert.Equal(t, data[len(data)-10:], partial)
}

func (s *LocalStackIntegrationSuite) TestBatchOperations() {
	t := s.T()
	
	// Test batch put
	objects := map[string][]byte{
		"batch1": []byte("data1"),
		"batch2": []byte("data2"),
		"batch3": []byte("data3"),
	}
	
	err := s.backend.PutObjects(s.ctx, objects)
	assert.NoError(t, err)
	
	// Test batch get
	keys := []string{"batch1", "batch2", "batch3"}
	results, err := s.backend.GetObjects(s.ctx, keys)
	assert.NoError(t, err)
	assert.Len(t, results, 3)
	
	for key, expectedData := range objects {
		actualData, exists := results[key]
		assert.True(t, exists, "Key %s should exist in results", key)
		assert.Equal(t, expectedData, actualData)
	}
}

func (s *LocalStackIntegrationSuite) TestConnectionPooling() {
	t := s.T()
	
	// Test concurrent operations to verify connection pooling
	const numOperations = 20
	done := make(chan error, numOperations)
	
	for i := 0; i < numOperations; i++ {
		go func(id int) {
			key := fmt.Sprintf("concurrent-%d", id)
			data := []byte(fmt.Sprintf("data-%d", id))
			
			// Put object
			err := s.backend.PutObject(s.ctx, key, data)
			if err != nil {
				done <- err
				return
			}
			
			// Get object
			retrieved, err := s.backend.GetObject(s.ctx, key, 0, 0)
			if err != nil {
				done <- err
				return
			}
			
			if !bytes.Equal(data, retrieved) {
				done <- fmt.Errorf("data mismatch for key %s", key)
				return
			}
			
			done <- nil
		}(i)
	}
	
	// Wait for all operations to complete
	for i := 0; i < numOperations; i++ {
		err := <-done
		assert.NoError(t, err)
	}
}

func (s *LocalStackIntegrationSuite) TestHealthCheck() {
	t := s.T()
	
	err := s.backend.HealthCheck(s.ctx)
	assert.NoError(t, err)
}

func (s *LocalStackIntegrationSuite) TestMetricsCollection() {
	t := s.T()
	
	// Perform some operations to generate metrics
	key := "metrics-test"
	data := []byte("test data for metrics")
	
	err := s.backend.PutObject(s.ctx, key, data)
	require.NoError(t, err)
	
	_, err = s.backend.GetObject(s.ctx, key, 0, 0)
	require.NoError(t, err)
	
	// Check metrics
	metrics := s.backend.GetMetrics()
	assert.Greater(t, metrics.Requests, int64(0))
	assert.Greater(t, metrics.BytesUploaded, int64(0))
	assert.Greater(t, metrics.BytesDownloaded, int64(0))
}

func (s *LocalStackIntegrationSuite) TestErrorHandling() {
	t := s.T()
	
	// Test getting non-existent object
	_, err := s.backend.GetObject(s.ctx, "non-existent", 0, 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")
	
	// Test head of non-existent object
	_, err = s.backend.HeadObject(s.ctx, "non-existent")
	assert.Error(t, err)
	
	// Test deleting non-existent object (should not error)
	err = s.backend.DeleteObject(s.ctx, "non-existent")
	assert.NoError(t, err) // S3 returns success for deleting non-existent objects
}

