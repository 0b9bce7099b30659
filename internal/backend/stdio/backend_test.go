package stdio

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/storepath"
)

func stdioPath() storepath.Path {
	return storepath.Path{Protocol: storepath.ProtocolStdio, Key: "-", Raw: "-"}
}

func TestBackend_Protocol(t *testing.T) {
	b := &Backend{}
	if b.Protocol() != storepath.ProtocolStdio {
		t.Errorf("Protocol() = %v, want %v", b.Protocol(), storepath.ProtocolStdio)
	}
}

func TestBackend_OpenReadReadsFromIn(t *testing.T) {
	b := &Backend{In: strings.NewReader("hello")}
	h, err := b.Open(context.Background(), stdioPath(), storepath.ModeRead)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	buf := make([]byte, 5)
	n, err := h.Read(buf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("Read = %q, want %q", buf[:n], "hello")
	}
}

func TestBackend_OpenWriteWritesToOut(t *testing.T) {
	var out bytes.Buffer
	b := &Backend{Out: &out}
	h, err := b.Open(context.Background(), stdioPath(), storepath.ModeWrite)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, err := h.Write([]byte("world")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if out.String() != "world" {
		t.Errorf("out = %q, want %q", out.String(), "world")
	}
}

func TestBackend_OpenAppendAlsoWritesToOut(t *testing.T) {
	var out bytes.Buffer
	b := &Backend{Out: &out}
	h, err := b.Open(context.Background(), stdioPath(), storepath.ModeAppend)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, err := h.Write([]byte("x")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if out.String() != "x" {
		t.Errorf("out = %q, want %q", out.String(), "x")
	}
}

func TestBackend_OpenRejectsUnknownMode(t *testing.T) {
	b := &Backend{}
	_, err := b.Open(context.Background(), stdioPath(), storepath.OpenMode(99))
	if !errors.Is(err, errors.Unsupported) {
		t.Errorf("err = %v, want Unsupported", err)
	}
}

func TestHandle_SeekAlwaysFails(t *testing.T) {
	b := &Backend{In: strings.NewReader("x")}
	h, err := b.Open(context.Background(), stdioPath(), storepath.ModeRead)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	_, err = h.Seek(0, 0)
	if !errors.Is(err, errors.InvalidSeek) {
		t.Errorf("Seek err = %v, want InvalidSeek", err)
	}
}

func TestHandle_WriteOnReadHandleFails(t *testing.T) {
	b := &Backend{In: strings.NewReader("x")}
	h, err := b.Open(context.Background(), stdioPath(), storepath.ModeRead)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	_, err = h.Write([]byte("x"))
	if !errors.Is(err, errors.InvalidState) {
		t.Errorf("Write err = %v, want InvalidState", err)
	}
}

func TestBackend_ExistsAlwaysTrue(t *testing.T) {
	b := &Backend{}
	ok, err := b.Exists(context.Background(), stdioPath())
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v, want true, nil", ok, err)
	}
}

func TestBackend_UnsupportedOperations(t *testing.T) {
	b := &Backend{}
	ctx := context.Background()
	p := stdioPath()

	if _, err := b.ListDir(ctx, p); !errors.Is(err, errors.Unsupported) {
		t.Errorf("ListDir err = %v, want Unsupported", err)
	}
	if err := b.Remove(ctx, p); !errors.Is(err, errors.Unsupported) {
		t.Errorf("Remove err = %v, want Unsupported", err)
	}
	if err := b.Rename(ctx, p, p); !errors.Is(err, errors.Unsupported) {
		t.Errorf("Rename err = %v, want Unsupported", err)
	}
	if err := b.Symlink(ctx, p, p); !errors.Is(err, errors.Unsupported) {
		t.Errorf("Symlink err = %v, want Unsupported", err)
	}
	if _, err := b.Readlink(ctx, p); !errors.Is(err, errors.Unsupported) {
		t.Errorf("Readlink err = %v, want Unsupported", err)
	}
	if _, err := b.MD5(ctx, p); !errors.Is(err, errors.Unsupported) {
		t.Errorf("MD5 err = %v, want Unsupported", err)
	}
}
