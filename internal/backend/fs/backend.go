// Package fs implements storepath.Backend over the local POSIX filesystem,
// grounded on megfile's fs.py: symlinks are treated as files rather than
// followed transparently (Exists/ListDir use Lstat), Remove recurses into
// directories, and Rename creates the destination's parent directory first.
package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/storepath"
	"github.com/go-megfile/megfile/pkg/types"
)

// Backend implements storepath.Backend against the local filesystem. It
// carries no state: every operation goes straight to the os package.
type Backend struct{}

// New returns a filesystem Backend ready for registration.
func New() *Backend { return &Backend{} }

func (b *Backend) Protocol() storepath.Protocol { return storepath.ProtocolFile }

func translateError(err error, op, path string) error {
	if err == nil {
		return nil
	}
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return errors.Wrap(errors.NotFound, op, path, err)
	case stderrors.Is(err, fs.ErrExist):
		return errors.Wrap(errors.AlreadyExists, op, path, err)
	case stderrors.Is(err, fs.ErrPermission):
		return errors.Wrap(errors.PermissionDenied, op, path, err)
	default:
		return errors.Wrap(errors.Unknown, op, path, err)
	}
}

// fsHandle adapts an *os.File to storepath.Handle.
type fsHandle struct {
	file *os.File
}

func (h *fsHandle) Read(p []byte) (int, error)  { return h.file.Read(p) }
func (h *fsHandle) Write(p []byte) (int, error) { return h.file.Write(p) }
func (h *fsHandle) Seek(offset int64, whence int) (int64, error) {
	return h.file.Seek(offset, whence)
}
func (h *fsHandle) Close() error { return h.file.Close() }

func (h *fsHandle) Stat(ctx context.Context) (types.StatResult, error) {
	info, err := h.file.Stat()
	if err != nil {
		return types.StatResult{}, translateError(err, "stat", h.file.Name())
	}
	return fileInfoToStat(info), nil
}

// Open implements storepath.Backend. ModeWrite truncates, ModeAppend
// appends, and a write or append on a path whose parent directory is
// missing creates it first, matching fs_save_as's "create parent
// directories if needed" behavior.
func (b *Backend) Open(ctx context.Context, path storepath.Path, mode storepath.OpenMode) (storepath.Handle, error) {
	var flag int
	switch mode {
	case storepath.ModeRead:
		flag = os.O_RDONLY
	case storepath.ModeWrite:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case storepath.ModeAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case storepath.ModeReadWrite:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, errors.New(errors.Unsupported, "open", path.Raw)
	}

	if flag&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(path.Key), 0o755); err != nil {
			return nil, translateError(err, "open", path.Key)
		}
	}

	f, err := os.OpenFile(path.Key, flag, 0o644)
	if err != nil {
		return nil, translateError(err, "open", path.Key)
	}
	return &fsHandle{file: f}, nil
}

func fileInfoToStat(info os.FileInfo) types.StatResult {
	mode := info.Mode()
	return types.StatResult{
		Size:         info.Size(),
		IsDir:        info.IsDir(),
		IsSymlink:    mode&os.ModeSymlink != 0,
		LastModified: info.ModTime(),
		Ownership:    types.Ownership{Mode: uint32(mode.Perm())},
	}
}

// Stat implements storepath.Backend, following symlinks like fs_stat's
// default follow_symlinks=True.
func (b *Backend) Stat(ctx context.Context, path storepath.Path) (types.StatResult, error) {
	info, err := os.Stat(path.Key)
	if err != nil {
		return types.StatResult{}, translateError(err, "stat", path.Key)
	}
	return fileInfoToStat(info), nil
}

// Exists implements storepath.Backend using Lstat, treating a symlink
// (even a broken one) as existing the way fs_exists regards symlinks as
// files rather than resolving through them.
func (b *Backend) Exists(ctx context.Context, path storepath.Path) (bool, error) {
	_, err := os.Lstat(path.Key)
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, translateError(err, "stat", path.Key)
}

// ListDir implements storepath.Backend, returning entries in the order
// os.ReadDir provides (already ascending alphabetical), using Lstat per
// entry so symlinks report as themselves rather than their targets.
func (b *Backend) ListDir(ctx context.Context, path storepath.Path) ([]types.FileEntry, error) {
	dirEntries, err := os.ReadDir(path.Key)
	if err != nil {
		return nil, translateError(err, "listdir", path.Key)
	}

	entries := make([]types.FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		childPath := filepath.Join(path.Key, de.Name())
		info, err := os.Lstat(childPath)
		if err != nil {
			return nil, translateError(err, "listdir", childPath)
		}
		entries = append(entries, types.FileEntry{
			Path: childPath,
			Stat: fileInfoToStat(info),
		})
	}
	return entries, nil
}

// Remove implements storepath.Backend. Directories are removed
// recursively, matching fs_remove's directory-or-file handling.
func (b *Backend) Remove(ctx context.Context, path storepath.Path) error {
	info, err := os.Lstat(path.Key)
	if err != nil {
		return translateError(err, "remove", path.Key)
	}
	if info.IsDir() {
		return translateError(os.RemoveAll(path.Key), "remove", path.Key)
	}
	return translateError(os.Remove(path.Key), "remove", path.Key)
}

// Rename implements storepath.Backend, creating dst's parent directory
// first so a rename into a not-yet-created tree succeeds, matching the
// "create parent directory if missing" convenience fs_copy documents.
func (b *Backend) Rename(ctx context.Context, src, dst storepath.Path) error {
	if err := os.MkdirAll(filepath.Dir(dst.Key), 0o755); err != nil {
		return translateError(err, "rename", dst.Key)
	}
	return translateError(os.Rename(src.Key, dst.Key), "rename", src.Key)
}

// Symlink implements storepath.Backend.
func (b *Backend) Symlink(ctx context.Context, target, link storepath.Path) error {
	return translateError(os.Symlink(target.Key, link.Key), "symlink", link.Key)
}

// Readlink implements storepath.Backend.
func (b *Backend) Readlink(ctx context.Context, path storepath.Path) (string, error) {
	target, err := os.Readlink(path.Key)
	if err != nil {
		return "", translateError(err, "readlink", path.Key)
	}
	return target, nil
}

// MD5 implements storepath.Backend by streaming the file through an md5
// hash, mirroring fs_getmd5 (the recalculate/followlinks parameters are
// accepted there only for cross-backend signature compatibility).
func (b *Backend) MD5(ctx context.Context, path storepath.Path) (string, error) {
	f, err := os.Open(path.Key)
	if err != nil {
		return "", translateError(err, "md5", path.Key)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", translateError(err, "md5", path.Key)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SetTimes implements storepath.TimesSetter over os.Chtimes, letting the
// copy/sync engine mirror a source's timestamps onto an fs destination.
func (b *Backend) SetTimes(ctx context.Context, path storepath.Path, atime, mtime time.Time) error {
	if err := os.Chtimes(path.Key, atime, mtime); err != nil {
		return translateError(err, "set_times", path.Key)
	}
	return nil
}
