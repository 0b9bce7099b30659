// Package combine implements the combine reader: a virtual concatenation of
// several seekable readers presented as one contiguous stream.
package combine

import (
	"io"
	"log/slog"
	"sync"

	"github.com/go-megfile/megfile/pkg/errors"
)

// Segment is one constituent reader plus its declared size. Sizes are
// supplied rather than discovered (via Seek(0, io.SeekEnd)) so combine
// readers can be built over sources whose size is already known from a
// prior stat, matching the "virtual concatenation" design.
type Segment struct {
	Reader io.ReadSeeker
	Size   int64
}

// Reader presents a sequence of Segments as one io.ReadSeeker, computing a
// global offset as the sum of preceding segment sizes plus the current
// segment's local offset, exactly as combine_reader.py's cumulative
// _blocks_sizes lookup does.
type Reader struct {
	mu       sync.Mutex
	segments []Segment
	cum      []int64 // cum[i] = sum of sizes of segments[0:i]
	total    int64
	pos      int64
	curIdx   int
}

// New builds a combine Reader over segments, which must be given in the
// order they should appear in the combined stream.
func New(segments []Segment) (*Reader, error) {
	if len(segments) == 0 {
		return nil, errors.New(errors.InvalidState, "open", "")
	}

	cum := make([]int64, len(segments)+1)
	for i, s := range segments {
		if s.Size < 0 {
			return nil, errors.New(errors.InvalidState, "open", "")
		}
		cum[i+1] = cum[i] + s.Size
	}

	slog.Default().Debug("combine reader opened", "segments", len(segments), "total_size", cum[len(cum)-1])
	return &Reader{segments: segments, cum: cum, total: cum[len(cum)-1]}, nil
}

// blockIndexAndOffset finds which segment contains global offset and the
// local offset within it, via linear scan over the (typically small) list
// of segments - mirroring _block_index_and_offset.
func (r *Reader) blockIndexAndOffset(offset int64) (idx int, local int64) {
	for i := 0; i < len(r.segments); i++ {
		if offset < r.cum[i+1] || i == len(r.segments)-1 {
			return i, offset - r.cum[i]
		}
	}
	return len(r.segments) - 1, offset - r.cum[len(r.segments)-1]
}

func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pos >= r.total {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) && r.pos < r.total {
		idx, local := r.blockIndexAndOffset(r.pos)
		seg := r.segments[idx]

		if idx != r.curIdx {
			if _, err := seg.Reader.Seek(local, io.SeekStart); err != nil {
				return total, err
			}
			r.curIdx = idx
		}

		remaining := seg.Size - local
		if remaining <= 0 {
			r.pos = r.cum[idx+1]
			continue
		}

		readLen := int64(len(p) - total)
		if readLen > remaining {
			readLen = remaining
		}

		n, err := seg.Reader.Read(p[total : int64(total)+readLen])
		total += n
		r.pos += int64(n)

		if err != nil && err != io.EOF {
			return total, err
		}
		if n == 0 {
			// Segment is exhausted before its declared size; move on.
			r.pos = r.cum[idx+1]
		}
	}

	return total, nil
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = r.total + offset
	default:
		return 0, errors.New(errors.InvalidSeek, "seek", "")
	}
	if newPos < 0 || newPos > r.total {
		return 0, errors.New(errors.InvalidSeek, "seek", "")
	}

	idx, local := r.blockIndexAndOffset(newPos)
	if idx != r.curIdx || newPos != r.pos {
		if _, err := r.segments[idx].Reader.Seek(local, io.SeekStart); err != nil {
			return 0, err
		}
	}
	r.curIdx = idx
	r.pos = newPos
	return r.pos, nil
}

// Close closes every underlying segment reader that implements io.Closer.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, s := range r.segments {
		if c, ok := s.Reader.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	slog.Default().Debug("combine reader closed", "segments", len(r.segments))
	return firstErr
}

// Size returns the total combined size.
func (r *Reader) Size() int64 { return r.total }
