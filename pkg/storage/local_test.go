package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateAndOpen(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	const data = `{"audio_path":"clips/a.wav","text":"hi","duration":1.2}`
	w, err := s.Create(ctx, "train/manifest.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := s.Open(ctx, "train/manifest.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != data {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestOpenNotExist(t *testing.T) {
	s := newTestLocal(t)

	_, err := s.Open(context.Background(), "no-such-clip.wav")
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLocalStat(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	if _, err := s.Stat(ctx, "missing.wav"); !os.IsNotExist(err) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}

	before := time.Now().Add(-time.Minute)
	if err := WriteFile(ctx, s, "clips/a.wav", make([]byte, 1234)); err != nil {
		t.Fatal(err)
	}
	info, err := s.Stat(ctx, "clips/a.wav")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 1234 {
		t.Errorf("Size = %d, want 1234", info.Size)
	}
	if info.ModTime.Before(before) {
		t.Errorf("ModTime = %v, want recent", info.ModTime)
	}

	// Directories are not artifacts.
	if _, err := s.Stat(ctx, "clips"); err == nil {
		t.Error("Stat of a directory succeeded")
	}
}

func TestLocalExists(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected false for missing artifact")
	}

	if err := WriteFile(ctx, s, "present", []byte("x")); err != nil {
		t.Fatal(err)
	}
	ok, err = s.Exists(ctx, "present")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected true for existing artifact")
	}
}

func TestLocalDeleteIdempotent(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "ghost"); err != nil {
		t.Fatal(err)
	}

	if err := WriteFile(ctx, s, "tmp", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "tmp"); err != nil {
		t.Fatal(err)
	}
	ok, err := s.Exists(ctx, "tmp")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("artifact should be gone after delete")
	}
	if err := s.Delete(ctx, "tmp"); err != nil {
		t.Fatal(err)
	}
}

func TestCreateTruncates(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	if err := WriteFile(ctx, s, "f", []byte("long content here")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(ctx, s, "f", []byte("short")); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(ctx, s, "f")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "short" {
		t.Fatalf("got %q, want %q", got, "short")
	}
}

func TestNewLocalCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	s, err := NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatal("expected directory")
	}
}

func TestFromURLLocal(t *testing.T) {
	dir := t.TempDir()
	fs, err := FromURL(dir)
	if err != nil {
		t.Fatal(err)
	}
	l, ok := fs.(*Local)
	if !ok {
		t.Fatalf("FromURL(%q) = %T, want *Local", dir, fs)
	}
	if l.Root() != dir {
		t.Errorf("root = %q, want %q", l.Root(), dir)
	}
}
