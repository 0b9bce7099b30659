package prefetch

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/go-megfile/megfile/internal/cache"
	"github.com/go-megfile/megfile/pkg/errors"
)

// defaultSharedBlockForward is the fixed look-ahead window used by shared
// readers. Unlike Reader's adaptive window, a SharedReader never rescales:
// many independent readers may be attached to the same object, so one
// reader's seek pattern should not retune prefetch depth for the others.
const defaultSharedBlockForward = 12

// SharedReader is a prefetching reader like Reader, but its block futures
// live in a SharedFutureCache keyed by object identity: opening several
// SharedReaders against the same object causes them to share in-flight
// fetches instead of each re-downloading the same blocks.
type SharedReader struct {
	mu sync.Mutex

	ctx       context.Context
	fetch     BlockFetcher
	size      int64
	blockSize int64
	objectKey string
	registry  *cache.SharedFutureCache
	fc        *cache.FutureCache

	pos      int64
	curBlock int64
	curData  []byte
	curOffset int

	logger *slog.Logger

	closed bool
}

// NewSharedReader registers objectKey with registry and returns a reader
// over it. Close must be called exactly once to unregister.
func NewSharedReader(ctx context.Context, registry *cache.SharedFutureCache, objectKey string, size, blockSize int64, fetch BlockFetcher) *SharedReader {
	if blockSize <= 0 {
		blockSize = 8 * 1024 * 1024
	}
	logger := slog.Default()
	logger.Debug("shared prefetch reader opened", "object_key", objectKey, "size", size, "block_size", blockSize)
	return &SharedReader{
		ctx:       ctx,
		fetch:     fetch,
		size:      size,
		blockSize: blockSize,
		objectKey: objectKey,
		registry:  registry,
		fc:        registry.Register(objectKey),
		logger:    logger,
		curBlock:  -1,
	}
}

func (r *SharedReader) blockIndex(offset int64) int64 { return offset / r.blockSize }

func (r *SharedReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, errors.New(errors.InvalidState, "read", r.objectKey)
	}
	if r.pos >= r.size {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) && r.pos < r.size {
		if err := r.ensureCurrentBlockLocked(); err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}

		n := copy(p[total:], r.curData[r.curOffset:])
		r.curOffset += n
		r.pos += int64(n)
		total += n

		if r.curOffset >= len(r.curData) {
			r.curBlock = -1
			r.curData = nil
			r.curOffset = 0
		}
	}

	return total, nil
}

func (r *SharedReader) ensureCurrentBlockLocked() error {
	index := r.blockIndex(r.pos)
	if r.curBlock == index && r.curData != nil {
		return nil
	}

	future := r.fc.GetOrSubmit(r.ctx, index, func(ctx context.Context) ([]byte, error) {
		return r.fetch(ctx, index)
	})

	lastBlock := (r.size - 1) / r.blockSize
	for i := int64(1); i <= defaultSharedBlockForward; i++ {
		next := index + i
		if next > lastBlock {
			break
		}
		r.fc.GetOrSubmit(r.ctx, next, func(ctx context.Context) ([]byte, error) {
			return r.fetch(ctx, next)
		})
	}

	data, err := future.Wait(r.ctx)
	if err != nil {
		return err
	}

	start := index * r.blockSize
	r.curBlock = index
	r.curData = data
	r.curOffset = int(r.pos - start)
	if r.curOffset < 0 {
		r.curOffset = 0
	}
	return nil
}

func (r *SharedReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = r.size + offset
	default:
		return 0, errors.New(errors.InvalidSeek, "seek", r.objectKey)
	}
	if newPos < 0 {
		return 0, errors.New(errors.InvalidSeek, "seek", r.objectKey)
	}

	if r.blockIndex(newPos) != r.curBlock {
		r.curBlock = -1
		r.curData = nil
		r.curOffset = 0
	}
	r.pos = newPos
	return r.pos, nil
}

// Close unregisters this reader from the shared cache. The underlying
// FutureCache for the object is torn down only once every SharedReader
// opened against it has closed.
func (r *SharedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.registry.Unregister(r.objectKey)
	r.logger.Debug("shared prefetch reader closed", "object_key", r.objectKey, "pos", r.pos)
	return nil
}
