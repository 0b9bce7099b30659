// Package httpfs implements storepath.Backend over plain HTTP(S) GET
// requests, grounded on megfile's http_path.py: read-only access to a
// URL's body, with Stat reading Content-Length/Last-Modified off the
// response headers rather than a separate metadata call.
package httpfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/storepath"
	"github.com/go-megfile/megfile/pkg/types"
)

// defaultTimeout matches http_path.py's hardcoded requests timeout of
// 10 seconds per request.
const defaultTimeout = 10 * time.Second

// Backend implements storepath.Backend against one of the http/https
// protocols; New returns one bound to its scheme since a Backend only
// serves the single protocol its Protocol method reports.
type Backend struct {
	protocol storepath.Protocol
	client   *http.Client
}

// New returns an httpfs Backend for protocol ("http" or "https"), using
// an *http.Client with the package's default per-request timeout.
func New(protocol storepath.Protocol) *Backend {
	return &Backend{protocol: protocol, client: &http.Client{Timeout: defaultTimeout}}
}

func (b *Backend) Protocol() storepath.Protocol { return b.protocol }

func (b *Backend) url(path storepath.Path) string {
	return fmt.Sprintf("%s://%s", b.protocol, path.Key)
}

func (b *Backend) translateStatus(status int, op, url string) error {
	switch status {
	case http.StatusNotFound:
		return errors.New(errors.NotFound, op, url)
	case http.StatusForbidden, http.StatusUnauthorized:
		return errors.New(errors.PermissionDenied, op, url)
	default:
		return errors.Wrap(errors.Unknown, op, url, fmt.Errorf("unexpected status %d", status))
	}
}

// readHandle adapts an HTTP response body to storepath.Handle. It is not
// seekable: http_path.py's reader offers no seek support either, since a
// plain GET stream can't rewind without reissuing the request.
type readHandle struct {
	body io.ReadCloser
	size int64
}

func (h *readHandle) Read(p []byte) (int, error) { return h.body.Read(p) }
func (h *readHandle) Write(p []byte) (int, error) {
	return 0, errors.New(errors.InvalidState, "write", "")
}
func (h *readHandle) Seek(offset int64, whence int) (int64, error) {
	return 0, errors.New(errors.InvalidSeek, "seek", "")
}
func (h *readHandle) Close() error { return h.body.Close() }
func (h *readHandle) Stat(ctx context.Context) (types.StatResult, error) {
	return types.StatResult{Size: h.size}, nil
}

// Open implements storepath.Backend. Only ModeRead is supported, matching
// http_path.py's open() rejecting any mode other than "rb".
func (b *Backend) Open(ctx context.Context, path storepath.Path, mode storepath.OpenMode) (storepath.Handle, error) {
	if mode != storepath.ModeRead {
		return nil, errors.New(errors.Unsupported, "open", path.Raw)
	}

	url := b.url(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.Unknown, "open", url, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.Unknown, "open", url, err).WithRetryable(true)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, b.translateStatus(resp.StatusCode, "open", url)
	}

	return &readHandle{body: resp.Body, size: resp.ContentLength}, nil
}

// Stat implements storepath.Backend by issuing a GET and reading
// Content-Length/Last-Modified off the response headers, matching
// http_path.py's stat() (which also uses GET rather than HEAD, since not
// every server implements HEAD correctly for dynamic resources).
func (b *Backend) Stat(ctx context.Context, path storepath.Path) (types.StatResult, error) {
	url := b.url(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.StatResult{}, errors.Wrap(errors.Unknown, "stat", url, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return types.StatResult{}, errors.Wrap(errors.Unknown, "stat", url, err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return types.StatResult{}, b.translateStatus(resp.StatusCode, "stat", url)
	}

	result := types.StatResult{Size: resp.ContentLength}
	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		if t, err := http.ParseTime(lastModified); err == nil {
			result.LastModified = t
		}
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		result.ETag = etag
	}
	return result, nil
}

// Exists implements storepath.Backend, treating any non-404 response
// (including error statuses other than not-found) as the resource
// existing, since HTTP has no exists-only verb this module relies on.
func (b *Backend) Exists(ctx context.Context, path storepath.Path) (bool, error) {
	url := b.url(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Wrap(errors.Unknown, "exists", url, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return false, errors.Wrap(errors.Unknown, "exists", url, err).WithRetryable(true)
	}
	resp.Body.Close()
	return resp.StatusCode != http.StatusNotFound, nil
}

// ListDir is not supported: HTTP(S) URLs name individual resources, not
// directories, matching http_path.py (which defines no listdir/scandir).
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

// MD5 is not supported: HTTP responses carry an ETag, not an md5 this
// module can trust is a content digest (many servers use weak ETags),
// matching http_path.py which defines no getmd5.
func (b *Backend) MD5(ctx context.Context, path storepath.Path) (string, error) {
	return "", errors.New(errors.Unsupported, "md5", path.Raw)
}
