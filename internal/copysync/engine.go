// Package copysync implements the cross-backend copy and sync orchestrator:
// a (src protocol, dst protocol) -> copy function dispatch table with a
// generic streaming fallback, plus a directory-tree sync built on top of it.
package copysync

import (
	"context"
	"io"
	"sort"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/storepath"
	"github.com/go-megfile/megfile/pkg/types"
)

// ProgressFunc is called with the number of bytes copied since the last
// call, letting callers drive a progress bar without the engine knowing
// about one.
type ProgressFunc func(copiedBytes int)

// CopyFunc performs one file-to-file copy, optionally reporting progress.
// Implementations that can do a server-side copy (e.g. S3 same-bucket
// CopyObject) should do so instead of streaming through the process.
type CopyFunc func(ctx context.Context, src, dst storepath.Path, opts CopyOptions) error

// CopyOptions controls one copy operation.
type CopyOptions struct {
	Progress    ProgressFunc
	FollowLinks bool
	Overwrite   bool
}

const defaultCopyChunkSize = 16 * 1024

// Engine dispatches copy operations to a registered CopyFunc for the
// (src protocol, dst protocol) pair, falling back to a generic
// read-from-src/write-to-dst stream copy through the registry when no
// specialized function is registered.
type Engine struct {
	registry  *storepath.Registry
	copyFuncs map[storepath.Protocol]map[storepath.Protocol]CopyFunc
}

// New builds an Engine that resolves backends through registry.
func New(registry *storepath.Registry) *Engine {
	return &Engine{
		registry:  registry,
		copyFuncs: make(map[storepath.Protocol]map[storepath.Protocol]CopyFunc),
	}
}

// Register installs fn as the copy function used whenever src is srcProto
// and dst is dstProto. Re-registering the same pair replaces the previous
// function, so backends can override the generic default at init time.
func (e *Engine) Register(srcProto, dstProto storepath.Protocol, fn CopyFunc) {
	dstMap, ok := e.copyFuncs[srcProto]
	if !ok {
		dstMap = make(map[storepath.Protocol]CopyFunc)
		e.copyFuncs[srcProto] = dstMap
	}
	dstMap[dstProto] = fn
}

func (e *Engine) lookup(srcProto, dstProto storepath.Protocol) CopyFunc {
	if dstMap, ok := e.copyFuncs[srcProto]; ok {
		if fn, ok := dstMap[dstProto]; ok {
			return fn
		}
	}
	return nil
}

// Copy copies src to dst, using a registered specialized CopyFunc when one
// exists for the pair's protocols and otherwise streaming through
// storepath.Open on both ends.
func (e *Engine) Copy(ctx context.Context, rawSrc, rawDst string, opts CopyOptions) error {
	src, err := storepath.Parse(rawSrc)
	if err != nil {
		return err
	}
	dst, err := storepath.Parse(rawDst)
	if err != nil {
		return err
	}

	if fn := e.lookup(src.Protocol, dst.Protocol); fn != nil {
		return fn(ctx, src, dst, opts)
	}
	return e.defaultCopy(ctx, src, dst, opts)
}

// defaultCopy is the generic stream-copy fallback, grounded on the smart
// copy's plain read/write loop: open src for read, open dst for write,
// copy in fixed-size chunks so memory use does not scale with file size,
// then best-effort mirror the source's mtime onto the destination.
func (e *Engine) defaultCopy(ctx context.Context, src, dst storepath.Path, opts CopyOptions) error {
	if !opts.Overwrite {
		if exists, err := e.registry.Exists(ctx, dst.Raw); err == nil && exists {
			return nil
		}
	}

	srcHandle, err := e.registry.Open(ctx, src.Raw, storepath.ModeRead)
	if err != nil {
		return err
	}
	defer srcHandle.Close()

	dstHandle, err := e.registry.Open(ctx, dst.Raw, storepath.ModeWrite)
	if err != nil {
		return err
	}
	defer dstHandle.Close()

	buf := make([]byte, defaultCopyChunkSize)
	for {
		n, readErr := srcHandle.Read(buf)
		if n > 0 {
			if _, err := dstHandle.Write(buf[:n]); err != nil {
				return err
			}
			if opts.Progress != nil {
				opts.Progress(n)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if err := dstHandle.Close(); err != nil {
		return err
	}

	if srcStat, err := e.registry.Stat(ctx, src.Raw); err == nil {
		// Mirroring is best-effort: most object-store/HTTP destinations have
		// no TimesSetter, and errors.Unsupported from SetTimes is expected
		// there, not a copy failure.
		_ = e.registry.SetTimes(ctx, dst.Raw, srcStat.LastModified, srcStat.LastModified)
	}
	return nil
}

// SyncOptions controls a directory-tree sync.
type SyncOptions struct {
	Progress      func(srcPath string, copiedBytes int)
	AfterCopyFile func(srcPath, dstPath string)
	FollowLinks   bool
	Force         bool // sync unconditionally, ignoring Overwrite and same-file checks
	Overwrite     bool
}

// SameFileChecker reports whether src and dst already hold identical
// content, so Sync can skip a redundant copy. Backend-specific
// implementations typically compare size plus mtime or etag.
type SameFileChecker func(ctx context.Context, src, dst types.StatResult) bool

// Sync mirrors every file under srcRoot into dstRoot, preserving relative
// paths. entries lists the files to sync (normally produced by the glob
// engine's recursive scan of srcRoot); Sync itself only does the per-file
// copy-or-skip decision and the copy.
func (e *Engine) Sync(ctx context.Context, srcRoot, dstRoot string, entries []types.FileEntry, sameFile SameFileChecker, opts SyncOptions) error {
	srcRootPath, err := storepath.Parse(srcRoot)
	if err != nil {
		return err
	}
	dstRootPath, err := storepath.Parse(dstRoot)
	if err != nil {
		return err
	}

	sorted := make([]types.FileEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	for _, entry := range sorted {
		if entry.Stat.IsDir {
			continue
		}

		rel := relativeKey(srcRootPath.Raw, entry.Path)
		var dstPath string
		if rel == "" || rel == "." {
			dstPath = dstRootPath.Raw
		} else {
			dstPath = dstRootPath.Join(rel).Raw
		}

		shouldSync, err := e.shouldSync(ctx, entry, dstPath, sameFile, opts)
		if err != nil {
			return err
		}

		if shouldSync {
			copyOpts := CopyOptions{FollowLinks: opts.FollowLinks, Overwrite: true}
			if opts.Progress != nil {
				srcPath := entry.Path
				copyOpts.Progress = func(n int) { opts.Progress(srcPath, n) }
			}
			if err := e.Copy(ctx, entry.Path, dstPath, copyOpts); err != nil {
				return err
			}
		}

		if opts.AfterCopyFile != nil {
			opts.AfterCopyFile(entry.Path, dstPath)
		}
	}

	return nil
}

func (e *Engine) shouldSync(ctx context.Context, entry types.FileEntry, dstPath string, sameFile SameFileChecker, opts SyncOptions) (bool, error) {
	if opts.Force {
		return true, nil
	}

	exists, err := e.registry.Exists(ctx, dstPath)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}
	if !opts.Overwrite {
		return false, nil
	}
	if sameFile == nil {
		return true, nil
	}

	dstStat, err := e.registry.Stat(ctx, dstPath)
	if err != nil {
		return true, nil // can't compare, default to copying
	}
	if sameFile(ctx, entry.Stat, dstStat) {
		return false, nil
	}
	return true, nil
}

// relativeKey trims the root prefix and any leading slash from full,
// matching os.path.relpath's behavior for the common case of full being a
// descendant of root.
func relativeKey(root, full string) string {
	if len(full) >= len(root) && full[:len(root)] == root {
		rest := full[len(root):]
		for len(rest) > 0 && rest[0] == '/' {
			rest = rest[1:]
		}
		return rest
	}
	return full
}

// ErrNoHandler is returned by callers that choose not to fall back to the
// generic copy and require a specialized CopyFunc to exist.
var ErrNoHandler = errors.New(errors.Unsupported, "copy", "")
