package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-megfile/megfile/pkg/types"
)

// mockBackend is a minimal types.Backend that records calls and lets a test
// force the batch entry points to fail so the per-operation fallback runs.
type mockBackend struct {
	mu sync.Mutex

	objects       map[string][]byte
	failGetObjects bool
	failPutObjects bool

	getCalls int
	putCalls int
}

func newMockBackend() *mockBackend {
	return &mockBackend{objects: make(map[string][]byte)}
}

func (m *mockBackend) GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", key)
	}
	return data, nil
}

func (m *mockBackend) PutObject(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	m.objects[key] = data
	return nil
}

func (m *mockBackend) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *mockBackend) HeadObject(ctx context.Context, key string) (*types.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", key)
	}
	return &types.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *mockBackend) GetObjects(ctx context.Context, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetObjects {
		return nil, fmt.Errorf("batch get unavailable")
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if data, ok := m.objects[k]; ok {
			out[k] = data
		}
	}
	return out, nil
}

func (m *mockBackend) PutObjects(ctx context.Context, objects map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPutObjects {
		return fmt.Errorf("batch put unavailable")
	}
	for k, v := range objects {
		m.objects[k] = v
	}
	return nil
}

func (m *mockBackend) ListObjects(ctx context.Context, prefix string, limit int) ([]types.ObjectInfo, error) {
	return nil, nil
}

func (m *mockBackend) HealthCheck(ctx context.Context) error {
	return nil
}

func TestNewProcessor_DefaultConfig(t *testing.T) {
	p := NewProcessor(newMockBackend(), nil)
	assert.Equal(t, 100, p.maxBatchSize)
	assert.Equal(t, 10*time.Millisecond, p.maxWaitTime)
	assert.Equal(t, 10, p.maxConcurrency)
}

func TestProcessor_SubmitBeforeStart(t *testing.T) {
	p := NewProcessor(newMockBackend(), nil)
	err := p.Submit(&Operation{Type: OpTypeGet, Key: "a"})
	assert.Error(t, err)
}

func TestProcessor_PutThenGetRoundTrip(t *testing.T) {
	backend := newMockBackend()
	p := NewProcessor(backend, &ProcessorConfig{
		MaxBatchSize:   10,
		MaxWaitTime:    5 * time.Millisecond,
		MaxConcurrency: 4,
	})
	require.NoError(t, p.Start())
	defer p.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Submit(&Operation{
		Type:    OpTypePut,
		Key:     "file.txt",
		Data:    []byte("hello"),
		Context: context.Background(),
		Callback: func(data []byte, err error) {
			defer wg.Done()
			assert.NoError(t, err)
		},
	}))
	wg.Wait()

	wg.Add(1)
	var got []byte
	require.NoError(t, p.Submit(&Operation{
		Type:    OpTypeGet,
		Key:     "file.txt",
		Context: context.Background(),
		Callback: func(data []byte, err error) {
			defer wg.Done()
			assert.NoError(t, err)
			got = data
		},
	}))
	wg.Wait()

	assert.Equal(t, []byte("hello"), got)
}

func TestProcessor_FlushOnBatchSize(t *testing.T) {
	backend := newMockBackend()
	p := NewProcessor(backend, &ProcessorConfig{
		MaxBatchSize:   2,
		MaxWaitTime:    time.Hour,
		MaxConcurrency: 4,
	})
	require.NoError(t, p.Start())
	defer p.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		key := fmt.Sprintf("key-%d", i)
		require.NoError(t, p.Submit(&Operation{
			Type:    OpTypePut,
			Key:     key,
			Data:    []byte(key),
			Context: context.Background(),
			Callback: func(data []byte, err error) {
				wg.Done()
			},
		}))
	}

	wg.Wait()
	assert.Equal(t, int64(1), p.GetStats().BatchCount)
}

func TestProcessor_BatchGetFallsBackToIndividualOnError(t *testing.T) {
	backend := newMockBackend()
	backend.failGetObjects = true
	backend.objects["a"] = []byte("A")

	p := NewProcessor(backend, &ProcessorConfig{
		MaxBatchSize:   1,
		MaxWaitTime:    5 * time.Millisecond,
		MaxConcurrency: 1,
	})
	require.NoError(t, p.Start())
	defer p.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	require.NoError(t, p.Submit(&Operation{
		Type:    OpTypeGet,
		Key:     "a",
		Context: context.Background(),
		Callback: func(data []byte, err error) {
			defer wg.Done()
			assert.NoError(t, err)
			got = data
		},
	}))
	wg.Wait()

	assert.Equal(t, []byte("A"), got)
	assert.GreaterOrEqual(t, backend.getCalls, 1)
}

func TestOperationType_String(t *testing.T) {
	assert.Equal(t, "GET", OpTypeGet.String())
	assert.Equal(t, "PUT", OpTypePut.String())
	assert.Equal(t, "DELETE", OpTypeDelete.String())
	assert.Equal(t, "HEAD", OpTypeHead.String())
	assert.Equal(t, "UNKNOWN", OperationType(99).String())
}
