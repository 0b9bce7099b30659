// Package stdio implements storepath.Backend over the process's own
// stdin/stdout, the "stdio://-" protocol spec.md names for piping a
// backend operation's input or output through a shell pipeline instead of
// a named file or object.
package stdio

import (
	"context"
	"io"
	"os"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/storepath"
	"github.com/go-megfile/megfile/pkg/types"
)

// Backend implements storepath.Backend against os.Stdin/os.Stdout by
// default. In and Out are exported so tests can substitute pipes instead
// of the process's real stdio streams; every path handled here has
// Key == "-" - there is no tree to stat, list, or rename, only the one
// read or write stream the process was given.
type Backend struct {
	In  io.Reader
	Out io.Writer
}

// New returns a stdio Backend bound to the process's real os.Stdin and
// os.Stdout, ready for registration.
func New() *Backend { return &Backend{In: os.Stdin, Out: os.Stdout} }

func (b *Backend) Protocol() storepath.Protocol { return storepath.ProtocolStdio }

// handle adapts os.Stdin or os.Stdout to storepath.Handle. Seek always
// fails: stdio streams are not seekable, matching spec.md's open question
// resolution that stdio offers streaming access only.
type handle struct {
	reader io.Reader
	writer io.Writer
	closer io.Closer
}

func (h *handle) Read(p []byte) (int, error) {
	if h.reader == nil {
		return 0, errors.New(errors.InvalidState, "read", "-")
	}
	return h.reader.Read(p)
}

func (h *handle) Write(p []byte) (int, error) {
	if h.writer == nil {
		return 0, errors.New(errors.InvalidState, "write", "-")
	}
	return h.writer.Write(p)
}

func (h *handle) Seek(offset int64, whence int) (int64, error) {
	return 0, errors.New(errors.InvalidSeek, "seek", "-")
}

// Close is a no-op: closing the process's stdin/stdout would break any
// other component still using them, so ownership is never transferred
// here even though storepath.Handle requires io.Closer.
func (h *handle) Close() error { return nil }

func (h *handle) Stat(ctx context.Context) (types.StatResult, error) {
	return types.StatResult{}, nil
}

// Open implements storepath.Backend. ModeRead binds os.Stdin, ModeWrite
// and ModeAppend both bind os.Stdout (stdio has no distinct append mode).
func (b *Backend) Open(ctx context.Context, path storepath.Path, mode storepath.OpenMode) (storepath.Handle, error) {
	switch mode {
	case storepath.ModeRead:
		return &handle{reader: b.In}, nil
	case storepath.ModeWrite, storepath.ModeAppend:
		return &handle{writer: b.Out}, nil
	default:
		return nil, errors.New(errors.Unsupported, "open", path.Raw)
	}
}

// Stat implements storepath.Backend; a stream has no known size ahead of
// being consumed.
func (b *Backend) Stat(ctx context.Context, path storepath.Path) (types.StatResult, error) {
	return types.StatResult{}, nil
}

// Exists implements storepath.Backend; the stdio stream always exists.
func (b *Backend) Exists(ctx context.Context, path storepath.Path) (bool, error) {
	return true, nil
}

func (b *Backend) ListDir(ctx context.Context, path storepath.Path) ([]types.FileEntry, error) {
	return nil, errors.New(errors.Unsupported, "listdir", path.Raw)
}

func (b *Backend) Remove(ctx context.Context, path storepath.Path) error {
	return errors.New(errors.Unsupported, "remove", path.Raw)
}

func (b *Backend) Rename(ctx context.Context, src, dst storepath.Path) error {
	return errors.New(errors.Unsupported, "rename", src.Raw)
}

func (b *Backend) Symlink(ctx context.Context, target, link storepath.Path) error {
	return errors.New(errors.Unsupported, "symlink", link.Raw)
}

func (b *Backend) Readlink(ctx context.Context, path storepath.Path) (string, error) {
	return "", errors.New(errors.Unsupported, "readlink", path.Raw)
}

func (b *Backend) MD5(ctx context.Context, path storepath.Path) (string, error) {
	return "", errors.New(errors.Unsupported, "md5", path.Raw)
}
