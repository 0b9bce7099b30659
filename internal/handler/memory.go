// Package handler implements the in-memory file handle and the read-through
// cached wrapper used in front of slow backends.
package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-megfile/megfile/internal/cache"
	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/types"
)

// MemoryHandler is a fully in-memory, seekable read/write handle - the
// backing store for temporary objects and for small files materialized
// entirely in RAM rather than streamed.
type MemoryHandler struct {
	mu   sync.Mutex
	buf  *bytes.Buffer
	data []byte
	pos  int64
}

// NewMemoryHandler creates a handler seeded with initial (which may be nil
// for a fresh, empty buffer).
func NewMemoryHandler(initial []byte) *MemoryHandler {
	data := append([]byte(nil), initial...)
	slog.Default().Debug("memory handler opened", "size", len(data))
	return &MemoryHandler{data: data}
}

func (h *MemoryHandler) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pos >= int64(len(h.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.data[h.pos:])
	h.pos += int64(n)
	return n, nil
}

func (h *MemoryHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	end := h.pos + int64(len(p))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	n := copy(h.data[h.pos:end], p)
	h.pos += int64(n)
	return n, nil
}

func (h *MemoryHandler) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = h.pos + offset
	case io.SeekEnd:
		newPos = int64(len(h.data)) + offset
	default:
		return 0, errors.New(errors.InvalidSeek, "seek", "")
	}
	if newPos < 0 {
		return 0, errors.New(errors.InvalidSeek, "seek", "")
	}
	h.pos = newPos
	return h.pos, nil
}

func (h *MemoryHandler) Close() error {
	slog.Default().Debug("memory handler closed", "size", len(h.Bytes()))
	return nil
}

func (h *MemoryHandler) Stat(ctx context.Context) (types.StatResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return types.StatResult{Size: int64(len(h.data)), LastModified: time.Now()}, nil
}

// Bytes returns a copy of the handler's current content.
func (h *MemoryHandler) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.data...)
}

// CachedHandler wraps a read-only backend handle with a read-through
// LRUCache of fixed-size chunks, so repeated reads of the same range (e.g.
// a directory of small files scanned more than once) avoid re-fetching from
// the backend.
type CachedHandler struct {
	mu        sync.Mutex
	key       string
	size      int64
	chunkSize int64
	fetch     func(ctx context.Context, offset, size int64) ([]byte, error)
	cache     *cache.LRUCache
	pos       int64
}

// NewCachedHandler wraps fetch (a range-read against the real backend) with
// chunkSize-granularity caching in lru.
func NewCachedHandler(key string, size, chunkSize int64, lru *cache.LRUCache, fetch func(ctx context.Context, offset, size int64) ([]byte, error)) *CachedHandler {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	slog.Default().Debug("cached handler opened", "key", key, "size", size, "chunk_size", chunkSize)
	return &CachedHandler{key: key, size: size, chunkSize: chunkSize, fetch: fetch, cache: lru}
}

func (h *CachedHandler) chunkIndex(offset int64) int64 { return offset / h.chunkSize }

func (h *CachedHandler) Read(ctx context.Context, p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pos >= h.size {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) && h.pos < h.size {
		idx := h.chunkIndex(h.pos)
		chunkStart := idx * h.chunkSize

		data := h.cache.Get(h.key, chunkStart, h.chunkSize)
		if data == nil {
			end := chunkStart + h.chunkSize
			if end > h.size {
				end = h.size
			}
			fetched, err := h.fetch(ctx, chunkStart, end-chunkStart)
			if err != nil {
				slog.Default().Warn("cached handler chunk fetch failed", "key", h.key, "offset", chunkStart, "error", err)
				if total > 0 {
					return total, nil
				}
				return 0, err
			}
			h.cache.Put(h.key, chunkStart, fetched)
			data = fetched
		}

		within := h.pos - chunkStart
		if within >= int64(len(data)) {
			return total, io.EOF
		}
		n := copy(p[total:], data[within:])
		h.pos += int64(n)
		total += n
	}

	return total, nil
}

func (h *CachedHandler) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = h.pos + offset
	case io.SeekEnd:
		newPos = h.size + offset
	default:
		return 0, errors.New(errors.InvalidSeek, "seek", h.key)
	}
	if newPos < 0 {
		return 0, errors.New(errors.InvalidSeek, "seek", h.key)
	}
	h.pos = newPos
	return h.pos, nil
}
