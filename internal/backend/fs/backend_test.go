package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/storepath"
)

func pathFor(key string) storepath.Path {
	return storepath.Path{Protocol: storepath.ProtocolFile, Key: key, Raw: key}
}

func TestBackend_OpenWriteCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	b := New()
	target := filepath.Join(dir, "a", "b", "c.txt")

	h, err := b.Open(context.Background(), pathFor(target), storepath.ModeWrite)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, err := h.Write([]byte("hello")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want %q", data, "hello")
	}
}

func TestBackend_OpenReadMissingFileReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	b := New()
	_, err := b.Open(context.Background(), pathFor(filepath.Join(dir, "missing.txt")), storepath.ModeRead)
	if !errors.Is(err, errors.NotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestBackend_StatReportsSizeAndDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("abcde"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := New()
	stat, err := b.Stat(context.Background(), pathFor(file))
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if stat.Size != 5 || stat.IsDir {
		t.Errorf("Stat = %+v, want size 5 non-dir", stat)
	}

	dirStat, err := b.Stat(context.Background(), pathFor(dir))
	if err != nil {
		t.Fatalf("Stat(dir) error: %v", err)
	}
	if !dirStat.IsDir {
		t.Error("expected directory stat to report IsDir")
	}
}

func TestBackend_ExistsTreatsSymlinkAsExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink unsupported on this platform: %v", err)
	}
	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}

	b := New()
	ok, err := b.Exists(context.Background(), pathFor(link))
	if err != nil {
		t.Fatalf("Exists error: %v", err)
	}
	if !ok {
		t.Error("expected a broken symlink to still report as existing")
	}
}

func TestBackend_ExistsFalseForMissingPath(t *testing.T) {
	dir := t.TempDir()
	b := New()
	ok, err := b.Exists(context.Background(), pathFor(filepath.Join(dir, "nope")))
	if err != nil {
		t.Fatalf("Exists error: %v", err)
	}
	if ok {
		t.Error("expected missing path to report not existing")
	}
}

func TestBackend_ListDirReturnsChildren(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	b := New()
	entries, err := b.ListDir(context.Background(), pathFor(dir))
	if err != nil {
		t.Fatalf("ListDir error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListDir returned %d entries, want 2", len(entries))
	}

	var sawFile, sawDir bool
	for _, e := range entries {
		if filepath.Base(e.Path) == "a.txt" && !e.Stat.IsDir {
			sawFile = true
		}
		if filepath.Base(e.Path) == "sub" && e.Stat.IsDir {
			sawDir = true
		}
	}
	if !sawFile || !sawDir {
		t.Errorf("ListDir entries = %+v, missing expected file/dir", entries)
	}
}

func TestBackend_RemoveRecursesIntoDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := New()
	if err := b.Remove(context.Background(), pathFor(sub)); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, err := os.Stat(sub); !os.IsNotExist(err) {
		t.Error("expected directory to be removed")
	}
}

func TestBackend_RenameCreatesDestinationParent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "nested", "b.txt")

	b := New()
	if err := b.Rename(context.Background(), pathFor(src), pathFor(dst)); err != nil {
		t.Fatalf("Rename error: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("content = %q, want %q", data, "payload")
	}
}

func TestBackend_SymlinkAndReadlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.txt")

	b := New()
	if err := b.Symlink(context.Background(), pathFor(target), pathFor(link)); err != nil {
		t.Skipf("symlink unsupported on this platform: %v", err)
	}
	got, err := b.Readlink(context.Background(), pathFor(link))
	if err != nil {
		t.Fatalf("Readlink error: %v", err)
	}
	if got != target {
		t.Errorf("Readlink = %q, want %q", got, target)
	}
}

func TestBackend_MD5MatchesKnownDigest(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := New()
	sum, err := b.MD5(context.Background(), pathFor(file))
	if err != nil {
		t.Fatalf("MD5 error: %v", err)
	}
	const want = "5eb63bbbe01eeed093cb22bb8f5acdc3" // md5("hello world")
	if sum != want {
		t.Errorf("MD5 = %q, want %q", sum, want)
	}
}
