// Package writer implements the buffered, multipart-upload streaming writer
// and its head/tail-buffered seekable variant.
package writer

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/types"
)

// MinBlockSize is the smallest size (besides the final part) a multipart
// part may have, matching the S3 API's 8 MiB practical minimum.
const MinBlockSize = 8 * 1024 * 1024

// PartUploader is the object-store surface MultipartWriter needs. A backend
// implements this against its own client (e.g. aws-sdk-go-v2's S3 client).
type PartUploader interface {
	CreateMultipartUpload(ctx context.Context) (uploadID string, err error)
	UploadPart(ctx context.Context, uploadID string, partNumber int, data []byte) (etag string, err error)
	CompleteMultipartUpload(ctx context.Context, uploadID string, parts []types.Part) error
	AbortMultipartUpload(ctx context.Context, uploadID string) error
	PutObject(ctx context.Context, data []byte) (etag string, err error)
}

// autoscaleThresholds and their multipliers: the block size used for part N
// scales up as the part count grows, keeping the total part count under
// S3's 10,000-part ceiling for very large uploads.
var autoscaleThresholds = []struct {
	minPart    int
	multiplier int64
}{
	{10000, 16},
	{1000, 8},
	{100, 4},
	{10, 2},
	{0, 1},
}

func blockSizeForPart(base int64, partNum int, autoscale bool) int64 {
	if !autoscale {
		return base
	}
	for _, t := range autoscaleThresholds {
		if partNum >= t.minPart {
			return base * t.multiplier
		}
	}
	return base
}

// Options configures NewMultipartWriter. BlockSize and MaxConcurrentParts
// fall back to defaults when left zero.
type Options struct {
	// BlockSize is the base part size (before BlockAutoscale's multiplier
	// table is applied).
	BlockSize int64

	// BlockAutoscale enables the growing-part-size table as the part
	// count climbs, keeping very large uploads under S3's 10,000-part
	// ceiling. Disabled, every part (but the last) is exactly BlockSize.
	BlockAutoscale bool

	// MaxConcurrentParts bounds the number of part uploads running at
	// once, independent of their size.
	MaxConcurrentParts int

	// MaxBufferSize bounds the total bytes outstanding across in-flight
	// part uploads: a part large enough to exceed it on its own is still
	// allowed through (the writer never refuses to make forward
	// progress), but Write blocks before starting an additional part
	// once outstanding bytes already meet or exceed this budget. Zero
	// means unbounded (MaxConcurrentParts is the only back-pressure).
	MaxBufferSize int64

	// Logger receives Debug records on open/close and Warn records when a
	// part upload fails. Defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// MultipartWriter is an io.WriteCloser that buffers writes and uploads them
// as S3 multipart parts, lazily creating the multipart upload on the first
// part that actually needs one. A write sequence shorter than MinBlockSize
// never creates a multipart upload at all; Close uploads it with a single
// PutObject instead.
type MultipartWriter struct {
	ctx       context.Context
	uploader  PartUploader
	key       string
	blockSize int64
	autoscale bool

	mu          sync.Mutex
	buf         []byte
	uploadID    string
	uploadIDSet bool
	nextPartNum int
	parts       []types.Part
	closed      bool

	sem           chan struct{}       // bounds concurrent in-flight uploads
	bytesSem      *semaphore.Weighted // bounds total bytes outstanding in-flight
	maxBufferSize int64               // weight bytesSem was built with
	wg            sync.WaitGroup
	errOnce       sync.Once
	firstErr      error

	logger *slog.Logger
}

// NewMultipartWriter creates a writer buffering at opts.BlockSize
// granularity (before autoscaling) with at most opts.MaxConcurrentParts
// uploads in flight at once and, when opts.MaxBufferSize is set, at most
// that many bytes outstanding across them - the two back-pressure knobs the
// component design calls for.
func NewMultipartWriter(ctx context.Context, uploader PartUploader, key string, opts Options) *MultipartWriter {
	blockSize := opts.BlockSize
	if blockSize < MinBlockSize {
		blockSize = MinBlockSize
	}
	maxConcurrentParts := opts.MaxConcurrentParts
	if maxConcurrentParts <= 0 {
		maxConcurrentParts = 4
	}

	var bytesSem *semaphore.Weighted
	if opts.MaxBufferSize > 0 {
		bytesSem = semaphore.NewWeighted(opts.MaxBufferSize)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("multipart writer opened", "key", key, "block_size", blockSize, "autoscale", opts.BlockAutoscale, "max_concurrent_parts", maxConcurrentParts)

	return &MultipartWriter{
		ctx:           ctx,
		uploader:      uploader,
		key:           key,
		blockSize:     blockSize,
		autoscale:     opts.BlockAutoscale,
		nextPartNum:   1,
		sem:           make(chan struct{}, maxConcurrentParts),
		bytesSem:      bytesSem,
		maxBufferSize: opts.MaxBufferSize,
		logger:        logger,
	}
}

// Write buffers p and submits completed parts for upload once the buffer
// grows enough beyond the current adaptive block size, per
// len(buf) - blockSize > MinBlockSize.
func (w *MultipartWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New(errors.InvalidState, "write", w.key)
	}
	if err := w.firstErrorLocked(); err != nil {
		return 0, err
	}

	w.buf = append(w.buf, p...)

	for {
		blockSize := blockSizeForPart(w.blockSize, w.nextPartNum-1, w.autoscale)
		if int64(len(w.buf))-blockSize <= MinBlockSize {
			break
		}
		chunk := w.buf[:blockSize]
		w.buf = append([]byte(nil), w.buf[blockSize:]...)
		if err := w.submitPartLocked(chunk); err != nil {
			return len(p), err
		}
	}

	return len(p), nil
}

// submitPartLocked lazily creates the multipart upload (double-checked:
// callers always hold w.mu here, so there is no race to check), waits for
// byte-based back-pressure headroom, and uploads chunk as the next part
// number, bounded by the concurrency semaphore.
func (w *MultipartWriter) submitPartLocked(chunk []byte) error {
	if !w.uploadIDSet {
		id, err := w.uploader.CreateMultipartUpload(w.ctx)
		if err != nil {
			return err
		}
		w.uploadID = id
		w.uploadIDSet = true
	}

	partNum := w.nextPartNum
	w.nextPartNum++

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	if w.bytesSem != nil {
		weight := int64(len(chunk))
		if weight > w.maxBufferSize {
			weight = w.maxBufferSize // oversized chunk still goes through, just alone
		}
		// Acquire while holding w.mu: other Write/Close calls block behind
		// it too, which is exactly the back-pressure MaxBufferSize asks
		// for - a writer racing far ahead of its uploads stalls here
		// instead of buffering unbounded bytes client-side.
		if err := w.bytesSem.Acquire(w.ctx, weight); err != nil {
			<-w.sem
			return err
		}
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		etag, err := w.uploader.UploadPart(w.ctx, w.uploadID, partNum, chunk)

		// Free both back-pressure slots before taking w.mu below: a Write
		// waiting in submitPartLocked for a slot is holding w.mu.
		if w.bytesSem != nil {
			weight := int64(len(chunk))
			if weight > w.maxBufferSize {
				weight = w.maxBufferSize
			}
			w.bytesSem.Release(weight)
		}
		<-w.sem

		if err != nil {
			w.logger.Warn("multipart part upload failed", "key", w.key, "part_number", partNum, "error", err)
			w.setFirstErr(err)
			return
		}

		w.mu.Lock()
		w.parts = append(w.parts, types.Part{Number: partNum, ETag: etag, Size: int64(len(chunk))})
		w.mu.Unlock()
	}()

	return nil
}

func (w *MultipartWriter) setFirstErr(err error) {
	w.errOnce.Do(func() {
		w.mu.Lock()
		w.firstErr = err
		w.mu.Unlock()
	})
}

func (w *MultipartWriter) firstErrorLocked() error {
	return w.firstErr
}

// Close flushes any buffered tail, waits for in-flight part uploads, and
// completes the upload - as a single PutObject if no multipart upload was
// ever created, or CompleteMultipartUpload with parts ordered by number
// otherwise.
func (w *MultipartWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true

	tail := w.buf
	w.buf = nil
	usedMultipart := w.uploadIDSet
	uploadID := w.uploadID
	w.mu.Unlock()

	if !usedMultipart {
		_, err := w.uploader.PutObject(w.ctx, tail)
		w.logger.Debug("multipart writer closed", "key", w.key, "used_multipart", false)
		return err
	}

	if len(tail) > 0 {
		w.mu.Lock()
		err := w.submitPartLocked(tail)
		w.mu.Unlock()
		if err != nil {
			return err
		}
	}

	w.wg.Wait()

	if err := w.firstErrorLocked(); err != nil {
		w.logger.Warn("multipart writer aborting upload after error", "key", w.key, "upload_id", uploadID, "error", err)
		_ = w.uploader.AbortMultipartUpload(w.ctx, uploadID)
		return err
	}

	w.mu.Lock()
	parts := append([]types.Part(nil), w.parts...)
	w.mu.Unlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })

	err := w.uploader.CompleteMultipartUpload(w.ctx, uploadID, parts)
	w.logger.Debug("multipart writer closed", "key", w.key, "used_multipart", true, "parts", len(parts))
	return err
}
