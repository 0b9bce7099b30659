// Package megfile is the module's top-level programmatic surface: it
// wires every backend into one storepath.Registry and exposes it through
// the copy/sync and glob engines, the shape megfile's smart.py collapses
// down to once a CLI layer is out of scope (see SPEC_FULL.md's
// "Programmatic surface" note).
package megfile

import (
	"context"

	"github.com/go-megfile/megfile/internal/backend/fs"
	"github.com/go-megfile/megfile/internal/backend/httpfs"
	"github.com/go-megfile/megfile/internal/backend/stdio"
	"github.com/go-megfile/megfile/internal/copysync"
	"github.com/go-megfile/megfile/internal/globengine"
	s3backend "github.com/go-megfile/megfile/internal/storage/s3"
	"github.com/go-megfile/megfile/pkg/storepath"
	"github.com/go-megfile/megfile/pkg/types"
)

// Options configures which backends New wires into the Client. The local
// filesystem, stdio, and HTTP(S) backends are always registered since
// they need no credentials; S3 is registered only when S3Bucket is set,
// matching the S3 client pool's one-bucket-per-instance binding (see
// DESIGN.md's "S3 backend is bucket-scoped" note).
type Options struct {
	S3Bucket string
	S3Config *s3backend.Config
}

// Client binds a storepath.Registry to the copy/sync and glob engines so
// callers get one object for every path operation the module supports,
// mirroring smart.py's module-level smart_* functions as methods instead
// of free functions bound to a package-global registry.
type Client struct {
	Registry *storepath.Registry

	copy *copysync.Engine
	glob *globengine.Engine
}

// New builds a Client with the backends named in opts registered.
func New(ctx context.Context, opts Options) (*Client, error) {
	registry := storepath.NewRegistry()
	registry.Register(fs.New())
	registry.Register(stdio.New())
	registry.Register(httpfs.New(storepath.ProtocolHTTP))
	registry.Register(httpfs.New(storepath.ProtocolHTTPS))

	copyEngine := copysync.New(registry)

	if opts.S3Bucket != "" {
		backend, err := s3backend.NewBackend(ctx, opts.S3Bucket, opts.S3Config)
		if err != nil {
			return nil, err
		}
		registry.Register(backend)

		// Same-bucket S3-to-S3 copies go through a server-side CopyObject
		// instead of copysync's generic read/write stream fallback.
		copyEngine.Register(storepath.ProtocolS3, storepath.ProtocolS3,
			func(ctx context.Context, src, dst storepath.Path, _ copysync.CopyOptions) error {
				return backend.CopyObject(ctx, src, dst)
			})
	}

	return &Client{
		Registry: registry,
		copy:     copyEngine,
		glob:     globengine.New(registry),
	}, nil
}

// Open opens path for reading or writing, dispatching through the
// registered backend for its protocol. Mirrors smart_open.
func (c *Client) Open(ctx context.Context, path string, mode storepath.OpenMode) (storepath.Handle, error) {
	return c.Registry.Open(ctx, path, mode)
}

// Stat mirrors smart_stat.
func (c *Client) Stat(ctx context.Context, path string) (types.StatResult, error) {
	return c.Registry.Stat(ctx, path)
}

// Exists mirrors smart_exists.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	return c.Registry.Exists(ctx, path)
}

// ListDir mirrors smart_listdir, listing one directory level non-recursively.
func (c *Client) ListDir(ctx context.Context, path string) ([]types.FileEntry, error) {
	return c.Registry.ListDir(ctx, path)
}

// ScanDir mirrors smart_scandir, the non-recursive single-level listing
// sitting alongside ListDir in the external interface.
func (c *Client) ScanDir(ctx context.Context, path string) ([]types.FileEntry, error) {
	return c.Registry.ScanDir(ctx, path)
}

// Walk mirrors smart_walk: fn is called once per directory under root with
// that directory's path and its direct subdirectory/file entries, in the
// style of a conventional recursive directory walk.
func (c *Client) Walk(ctx context.Context, root string, fn func(dir string, dirs, files []types.FileEntry) error) error {
	return c.Registry.Walk(ctx, root, fn)
}

// Scan mirrors smart_scan: every file under root, recursively, flattened
// into one slice with no directory entries - the form Sync needs when
// driven from a bare root path instead of a caller-supplied entry list.
func (c *Client) Scan(ctx context.Context, root string) ([]types.FileEntry, error) {
	return c.Registry.Scan(ctx, root)
}

// Remove mirrors smart_remove/smart_unlink.
func (c *Client) Remove(ctx context.Context, path string) error {
	return c.Registry.Remove(ctx, path)
}

// Rename mirrors smart_rename/smart_move.
func (c *Client) Rename(ctx context.Context, src, dst string) error {
	return c.Registry.Rename(ctx, src, dst)
}

// Symlink mirrors smart_symlink.
func (c *Client) Symlink(ctx context.Context, target, link string) error {
	return c.Registry.Symlink(ctx, target, link)
}

// Readlink mirrors smart_readlink.
func (c *Client) Readlink(ctx context.Context, path string) (string, error) {
	return c.Registry.Readlink(ctx, path)
}

// MD5 mirrors smart_getmd5.
func (c *Client) MD5(ctx context.Context, path string) (string, error) {
	return c.Registry.MD5(ctx, path)
}

// Copy mirrors smart_copy, dispatching to a registered specialized
// CopyFunc (e.g. an S3-to-S3 server-side copy) when one exists for the
// (src, dst) protocol pair, falling back to a streamed read/write copy.
func (c *Client) Copy(ctx context.Context, src, dst string, opts copysync.CopyOptions) error {
	return c.copy.Copy(ctx, src, dst, opts)
}

// RegisterCopyFunc installs a specialized CopyFunc for one protocol pair,
// mirroring smart.py's register_copy_func.
func (c *Client) RegisterCopyFunc(srcProto, dstProto storepath.Protocol, fn copysync.CopyFunc) {
	c.copy.Register(srcProto, dstProto, fn)
}

// Sync mirrors smart_sync: it walks entries (as produced by Glob or
// ListDir against srcRoot) and copies each into dstRoot, preserving the
// relative path under srcRoot.
func (c *Client) Sync(ctx context.Context, srcRoot, dstRoot string, entries []types.FileEntry, sameFile copysync.SameFileChecker, opts copysync.SyncOptions) error {
	return c.copy.Sync(ctx, srcRoot, dstRoot, entries, sameFile, opts)
}

// SyncDir is Sync without a caller-supplied entry list: it scans srcRoot
// itself (via Scan) before syncing, so a directory sync can be driven
// end-to-end from a bare path.
func (c *Client) SyncDir(ctx context.Context, srcRoot, dstRoot string, sameFile copysync.SameFileChecker, opts copysync.SyncOptions) error {
	entries, err := c.Scan(ctx, srcRoot)
	if err != nil {
		return err
	}
	return c.copy.Sync(ctx, srcRoot, dstRoot, entries, sameFile, opts)
}

// Glob mirrors smart_glob: it returns every path matching pattern, sorted
// in ascending alphabetical order. missingOk=false surfaces NotFound for a
// pattern that matched nothing.
func (c *Client) Glob(ctx context.Context, pattern string, recursive, missingOk bool) ([]types.FileEntry, error) {
	return c.glob.Expand(ctx, pattern, recursive, missingOk)
}

// GlobStream mirrors smart_iglob/smart_glob_stat: it streams matches as
// they're discovered instead of collecting them all before returning.
func (c *Client) GlobStream(ctx context.Context, pattern string, recursive, missingOk bool) (<-chan types.FileEntry, <-chan error) {
	return c.glob.Stream(ctx, pattern, recursive, missingOk)
}
