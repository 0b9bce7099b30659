package prefetch

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-megfile/megfile/pkg/errors"
)

func makeObject(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func fetcherFor(data []byte, blockSize int64) BlockFetcher {
	return func(ctx context.Context, index int64) ([]byte, error) {
		start := index * blockSize
		end := start + blockSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		out := make([]byte, end-start)
		copy(out, data[start:end])
		return out, nil
	}
}

func newTestReader(t *testing.T, size, blockSize, maxBufferSize int64, fetch BlockFetcher) *Reader {
	t.Helper()
	r, err := NewReader(context.Background(), ReaderOptions{
		Size:          size,
		BlockSize:     blockSize,
		MaxBufferSize: maxBufferSize,
		Fetch:         fetch,
	})
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	return r
}

func TestReader_SequentialReadMatchesSource(t *testing.T) {
	data := makeObject(100_000)
	blockSize := int64(8192)
	r := newTestReader(t, int64(len(data)), blockSize, blockSize*4, fetcherFor(data, blockSize))
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read data mismatch: got %d bytes, want %d bytes", len(got), len(data))
	}
}

func TestReader_SeekThenRead(t *testing.T) {
	data := makeObject(100_000)
	blockSize := int64(4096)
	r := newTestReader(t, int64(len(data)), blockSize, blockSize*4, fetcherFor(data, blockSize))
	defer r.Close()

	offset := int64(50_000)
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		t.Fatalf("Seek error: %v", err)
	}

	buf := make([]byte, 1000)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		t.Fatalf("ReadFull error: %v", err)
	}
	if n != 1000 {
		t.Fatalf("read %d bytes, want 1000", n)
	}
	if !bytes.Equal(buf, data[offset:offset+1000]) {
		t.Error("data read after seek does not match source at that offset")
	}
}

func TestReader_RepeatedRandomSeeksShrinkLookahead(t *testing.T) {
	data := makeObject(1_000_000)
	blockSize := int64(4096)
	r := newTestReader(t, int64(len(data)), blockSize, blockSize*16, fetcherFor(data, blockSize))
	defer r.Close()

	initial := r.BlockForward()

	buf := make([]byte, 16)
	offsets := []int64{0, 500_000, 10_000, 800_000, 300_000, 900_000, 50_000, 700_000}
	for _, off := range offsets {
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			t.Fatalf("Seek error: %v", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatalf("ReadFull error: %v", err)
		}
	}

	after := r.BlockForward()
	if after >= initial {
		t.Errorf("expected block_forward to shrink after repeated random seeks: initial=%d after=%d", initial, after)
	}
}

func TestReader_EOF(t *testing.T) {
	data := makeObject(10)
	blockSize := int64(4096)
	r := newTestReader(t, int64(len(data)), blockSize, blockSize*4, fetcherFor(data, blockSize))
	defer r.Close()

	buf := make([]byte, 100)
	n, err := r.Read(buf)
	if n != 10 {
		t.Errorf("got n=%d, want 10", n)
	}
	if err != nil && err != io.EOF {
		t.Fatalf("unexpected error: %v", err)
	}

	n2, err2 := r.Read(buf)
	if n2 != 0 || err2 != io.EOF {
		t.Errorf("expected (0, io.EOF) on read past end, got (%d, %v)", n2, err2)
	}
}

// TestReader_ReadLineSpansBlocks is scenario S2: object "1\n2\n3\n\n4444\n5"
// with block_size=3, where sequential ReadLine calls must each return a
// full line even though no single block boundary lines up with a '\n'.
func TestReader_ReadLineSpansBlocks(t *testing.T) {
	data := []byte("1\n2\n3\n\n4444\n5")
	blockSize := int64(3)
	r := newTestReader(t, int64(len(data)), blockSize, blockSize*4, fetcherFor(data, blockSize))
	defer r.Close()

	want := []string{"1\n", "2\n", "3\n", "\n", "4444\n", "5"}
	for i, w := range want {
		line, err := r.ReadLine(0)
		if err != nil && err != io.EOF {
			t.Fatalf("ReadLine %d error: %v", i, err)
		}
		if string(line) != w {
			t.Errorf("ReadLine %d = %q, want %q", i, line, w)
		}
	}

	if tell := r.Tell(); tell != int64(len(data)) {
		t.Errorf("Tell() = %d, want %d", tell, len(data))
	}

	if _, err := r.ReadLine(0); err != io.EOF {
		t.Errorf("expected io.EOF after last line, got %v", err)
	}
}

func TestReader_InvalidBlockForwardRejected(t *testing.T) {
	data := makeObject(1000)
	blockSize := int64(100)
	maxBuffer := blockSize * 5 // block_capacity == 5
	forward := int64(9)       // forward >= capacity must be rejected
	_, err := NewReader(context.Background(), ReaderOptions{
		Size:          int64(len(data)),
		BlockSize:     blockSize,
		MaxBufferSize: maxBuffer,
		BlockForward:  &forward,
		Fetch:         fetcherFor(data, blockSize),
	})
	if !errors.Is(err, errors.InvalidArgument) {
		t.Fatalf("expected errors.InvalidArgument, got %v", err)
	}
}

func TestReader_FixedBlockForwardNeverRescales(t *testing.T) {
	data := makeObject(1_000_000)
	blockSize := int64(4096)
	forward := int64(3)
	r, err := NewReader(context.Background(), ReaderOptions{
		Size:          int64(len(data)),
		BlockSize:     blockSize,
		MaxBufferSize: blockSize * 16,
		BlockForward:  &forward,
		Fetch:         fetcherFor(data, blockSize),
	})
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 16)
	for _, off := range []int64{0, 500_000, 10_000, 800_000, 300_000} {
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			t.Fatalf("Seek error: %v", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatalf("ReadFull error: %v", err)
		}
	}

	if got := r.BlockForward(); got != forward {
		t.Errorf("BlockForward() = %d, want fixed %d", got, forward)
	}
}

// TestReader_ObjectChangedPropagatesAndIsNotRetried verifies a fetch
// failing with errors.ObjectChanged surfaces through Read as-is rather
// than being retried, matching the "fail with ObjectChangedError" (not
// "retry until it stops changing") contract.
func TestReader_ObjectChangedPropagatesAndIsNotRetried(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, index int64) ([]byte, error) {
		// Count block 0 only: the reader also prefetches blocks 1..3.
		if index == 0 {
			atomic.AddInt32(&calls, 1)
		}
		return nil, errors.New(errors.ObjectChanged, "get_object", "k")
	}

	r, err := NewReader(context.Background(), ReaderOptions{
		Size:          1000,
		BlockSize:     100,
		MaxBufferSize: 400,
		MaxRetries:    3,
		Fetch:         fetch,
	})
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 10)
	_, err = r.Read(buf)
	if !errors.Is(err, errors.ObjectChanged) {
		t.Fatalf("expected errors.ObjectChanged, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch called %d times, want exactly 1 (no retry on ObjectChanged)", got)
	}
}

// TestReader_CloseCancelsInFlightFetch verifies Close cancels the
// reader-owned context so a fetch blocked on ctx.Done() unblocks instead
// of running to completion after the reader has been closed.
func TestReader_CloseCancelsInFlightFetch(t *testing.T) {
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	fetch := func(ctx context.Context, index int64) ([]byte, error) {
		if index != 0 {
			// Look-ahead fetches of blocks 1..3 only wait for cancellation.
			<-ctx.Done()
			return nil, ctx.Err()
		}
		close(started)
		<-ctx.Done()
		wg.Done()
		return nil, ctx.Err()
	}

	r, err := NewReader(context.Background(), ReaderOptions{
		Size:          1000,
		BlockSize:     100,
		MaxBufferSize: 400,
		Fetch:         fetch,
	})
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}

	go func() {
		buf := make([]byte, 10)
		_, _ = r.Read(buf)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("fetch never started")
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the in-flight fetch")
	}
}
