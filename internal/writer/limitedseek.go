package writer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/types"
)

// LimitedSeekableWriter is a multipart writer that additionally supports
// seeking within a fixed-size head region and a fixed-size tail region of
// an object whose total size is known upfront. The middle of the object
// (between the head and tail regions) is streamed forward-only through a
// MultipartWriter; only the head and tail are buffered in memory so a
// caller can revisit and rewrite them before Close.
//
// This matches the use case of rewriting a large object's header/trailer
// (e.g. updating a container format's metadata block) without buffering the
// entire object.
type LimitedSeekableWriter struct {
	ctx         context.Context
	uploader    PartUploader
	key         string
	contentSize int64
	headSize    int64
	tailSize    int64
	blockSize   int64
	maxConcurrentParts int

	mu        sync.Mutex
	headBuf   []byte
	tailBuf   []byte
	pos       int64
	middle    *MultipartWriter
	closed    bool

	logger *slog.Logger
}

// NewLimitedSeekableWriter creates a writer for an object of contentSize
// bytes, buffering headSize bytes at the front and tailSize bytes at the
// back in memory while streaming the interior through multipart uploads of
// blockSize (the interior MultipartWriter runs with BlockAutoscale off).
func NewLimitedSeekableWriter(ctx context.Context, uploader PartUploader, key string, contentSize, headSize, tailSize, blockSize int64, maxConcurrentParts int) (*LimitedSeekableWriter, error) {
	if headSize+tailSize > contentSize {
		return nil, errors.New(errors.InvalidState, "open", key)
	}
	logger := slog.Default()
	logger.Debug("limited-seekable writer opened", "key", key, "content_size", contentSize, "head_size", headSize, "tail_size", tailSize)
	return &LimitedSeekableWriter{
		ctx:                ctx,
		uploader:           uploader,
		key:                key,
		contentSize:        contentSize,
		headSize:           headSize,
		tailSize:           tailSize,
		blockSize:          blockSize,
		maxConcurrentParts: maxConcurrentParts,
		headBuf:            make([]byte, headSize),
		tailBuf:            make([]byte, tailSize),
		logger:             logger,
	}, nil
}

func (w *LimitedSeekableWriter) tailStart() int64 { return w.contentSize - w.tailSize }

// Seek allows repositioning only within the head region (offset < headSize)
// or the tail region (offset >= contentSize-tailSize); the streamed middle
// region, once passed, cannot be revisited.
func (w *LimitedSeekableWriter) Seek(offset int64, whence int) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var newPos int64
	switch whence {
	case 0:
		newPos = offset
	case 1:
		newPos = w.pos + offset
	case 2:
		newPos = w.contentSize + offset
	default:
		return 0, errors.New(errors.InvalidSeek, "seek", w.key)
	}

	if newPos < w.headSize || newPos >= w.tailStart() {
		w.pos = newPos
		return w.pos, nil
	}

	return 0, errors.New(errors.InvalidSeek, "seek", w.key)
}

// Write dispatches each byte range of p to the head buffer, the tail
// buffer, or the streamed middle writer depending on the current position,
// matching the three-way write dispatch of the component design.
func (w *LimitedSeekableWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New(errors.InvalidState, "write", w.key)
	}

	written := 0
	for len(p) > 0 {
		switch {
		case w.pos < w.headSize:
			n := w.headSize - w.pos
			if n > int64(len(p)) {
				n = int64(len(p))
			}
			copy(w.headBuf[w.pos:w.pos+n], p[:n])
			w.pos += n
			p = p[n:]
			written += int(n)

		case w.pos >= w.tailStart():
			tailOffset := w.pos - w.tailStart()
			n := int64(len(w.tailBuf)) - tailOffset
			if n <= 0 {
				return written, errors.New(errors.InvalidSeek, "write", w.key)
			}
			if n > int64(len(p)) {
				n = int64(len(p))
			}
			copy(w.tailBuf[tailOffset:tailOffset+n], p[:n])
			w.pos += n
			p = p[n:]
			written += int(n)

		default:
			if w.middle == nil {
				w.middle = NewMultipartWriter(w.ctx, w.uploader, w.key, Options{BlockSize: w.blockSize, MaxConcurrentParts: w.maxConcurrentParts})
				// Part 1 is reserved for the head, uploaded explicitly in Close.
				w.middle.nextPartNum = 2
			}
			n := w.tailStart() - w.pos
			if n > int64(len(p)) {
				n = int64(len(p))
			}
			wn, err := w.middle.Write(p[:n])
			w.pos += int64(wn)
			written += wn
			if err != nil {
				return written, err
			}
			p = p[wn:]
		}
	}

	return written, nil
}

// Close uploads the head buffer as part 1, flushes and completes the
// middle multipart upload (if any bytes ever reached it), and appends the
// tail as the final part.
func (w *LimitedSeekableWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	middle := w.middle
	head := w.headBuf
	tail := w.tailBuf
	w.mu.Unlock()

	if middle == nil {
		// Entire object fit within head+tail with nothing streamed: a single
		// PutObject of head+tail is equivalent and cheaper than multipart.
		buf := append(append([]byte(nil), head...), tail...)
		_, err := w.uploader.PutObject(w.ctx, buf)
		w.logger.Debug("limited-seekable writer closed", "key", w.key, "used_multipart", false)
		return err
	}

	if _, err := middle.Write(tail); err != nil {
		return err
	}

	uploadID, err := middle.ensureUploadIDForHead(w.ctx)
	if err != nil {
		return err
	}
	etag, err := w.uploader.UploadPart(w.ctx, uploadID, 1, head)
	if err != nil {
		w.logger.Warn("limited-seekable writer head part upload failed", "key", w.key, "upload_id", uploadID, "error", err)
		_ = w.uploader.AbortMultipartUpload(w.ctx, uploadID)
		return err
	}
	middle.recordHeadPart(etag, int64(len(head)))

	err = middle.Close()
	w.logger.Debug("limited-seekable writer closed", "key", w.key, "used_multipart", true)
	return err
}

// ensureUploadIDForHead forces creation of the multipart upload id if no
// part has triggered it yet (e.g. the middle region was empty), so Close
// can still upload the head as part 1.
func (m *MultipartWriter) ensureUploadIDForHead(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.uploadIDSet {
		id, err := m.uploader.CreateMultipartUpload(ctx)
		if err != nil {
			return "", err
		}
		m.uploadID = id
		m.uploadIDSet = true
	}
	return m.uploadID, nil
}

// recordHeadPart registers the head part (always part 1, uploaded directly
// by LimitedSeekableWriter.Close rather than through Write's buffering) so
// CompleteMultipartUpload includes it.
func (m *MultipartWriter) recordHeadPart(etag string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parts = append(m.parts, types.Part{Number: 1, ETag: etag, Size: size})
}
