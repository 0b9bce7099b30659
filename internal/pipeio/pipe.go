// Package pipeio bridges a blocking object-store upload/download call to a
// streaming io.Reader/io.Writer using an in-memory pipe and a single
// goroutine, the idiomatic Go replacement for an OS-level pipe plus a
// background thread.
package pipeio

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Handler wraps one end of an io.Pipe whose other end is being driven by a
// goroutine performing the actual object-store transfer. Errors from that
// goroutine are not returned immediately - io.Pipe already surfaces them to
// the next Read/Write/Close through the pipe itself - but Handler also
// keeps its own copy so Err() can be polled without consuming a read.
type Handler struct {
	mu     sync.Mutex
	err    error
	done   chan struct{}
	closer io.Closer
}

// NewUploadHandler starts a goroutine that reads everything written to the
// returned handler (the write side of an internal io.Pipe) and passes it to
// upload. The caller writes
// to the handler as an ordinary io.WriteCloser; Close waits for upload to
// finish draining the pipe and returns its error, if any.
func NewUploadHandler(ctx context.Context, upload func(context.Context, io.Reader) error) *Handler {
	pr, pw := io.Pipe()
	h := &Handler{done: make(chan struct{}), closer: pw}

	slog.Default().Debug("pipe upload handler opened")

	go func() {
		defer close(h.done)
		err := upload(ctx, pr)
		if err != nil {
			h.setErr(err)
			pr.CloseWithError(err)
			return
		}
		pr.Close()
	}()

	registerPipe(h)
	return h
}

// NewDownloadHandler starts a goroutine that calls download with the write
// side of the pipe; the caller reads the result from the returned
// io.ReadCloser (the read side) and closes the handler to wait for download
// to finish.
func NewDownloadHandler(ctx context.Context, download func(context.Context, io.Writer) error) (*Handler, io.ReadCloser) {
	pr, pw := io.Pipe()
	h := &Handler{done: make(chan struct{})}

	slog.Default().Debug("pipe download handler opened")

	go func() {
		defer close(h.done)
		err := download(ctx, pw)
		if err != nil {
			h.setErr(err)
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	registerPipe(h)
	return h, pr
}

func (h *Handler) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

// Err returns the error the driving goroutine finished with, if it has
// finished; it does not block.
func (h *Handler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Write writes to the upload side of the pipe. Valid only on handlers
// returned by NewUploadHandler.
func (h *Handler) Write(p []byte) (int, error) {
	w, ok := h.closer.(io.Writer)
	if !ok {
		return 0, io.ErrClosedPipe
	}
	return w.Write(p)
}

// Close closes the caller's side of the pipe and waits for the driving
// goroutine to finish, returning its error if it failed after the close
// signal - the deferred-exception-on-next-op contract.
func (h *Handler) Close() error {
	if h.closer != nil {
		_ = h.closer.Close()
	}
	<-h.done
	unregisterPipe(h)
	err := h.Err()
	if err != nil {
		slog.Default().Warn("pipe handler worker failed", "error", err)
	} else {
		slog.Default().Debug("pipe handler closed")
	}
	return err
}

// registry of open pipe handlers, drained by DrainAll so a process can wait
// for every in-flight streaming transfer to finish before exiting - the Go
// analogue of the atexit-registered pipe cleanup in the component design.
var (
	registryMu sync.Mutex
	registry   = make(map[*Handler]struct{})
)

func registerPipe(h *Handler)   { registryMu.Lock(); registry[h] = struct{}{}; registryMu.Unlock() }
func unregisterPipe(h *Handler) { registryMu.Lock(); delete(registry, h); registryMu.Unlock() }

// DrainAll closes and waits for every still-open pipe handler. Call this at
// process shutdown so a background upload/download goroutine is never
// silently abandoned.
func DrainAll() {
	registryMu.Lock()
	handlers := make([]*Handler, 0, len(registry))
	for h := range registry {
		handlers = append(handlers, h)
	}
	registryMu.Unlock()

	for _, h := range handlers {
		_ = h.Close()
	}
}
