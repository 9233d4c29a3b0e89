package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/druk/gc"
	"github.com/chazu/druk/image"
	"github.com/chazu/druk/vm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "images.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// printImage builds a one-function image that prints n.
func printImage(t *testing.T, n int64) *image.Image {
	t.Helper()
	h := gc.NewHeap(gc.DefaultConfig())
	c := vm.NewChunk()
	if _, err := c.EmitConstant(vm.Int(n), 1); err != nil {
		t.Fatal(err)
	}
	c.WriteOp(vm.OpPrint, 1)
	c.WriteOp(vm.OpNil, 1)
	c.WriteOp(vm.OpReturn, 1)
	img, err := image.Build(vm.NewFunction(h, "", 0, c))
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	img := printImage(t, 5)

	digest, err := s.Put(ctx, "five", img)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, _ := img.Encode()
	if digest != Digest(data) {
		t.Errorf("Put digest = %s, want %s", digest, Digest(data))
	}

	got, err := s.Get(ctx, "five")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Functions) != 1 || string(got.Functions[0].Chunk) != string(img.Functions[0].Chunk) {
		t.Error("stored image differs from the original")
	}
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.Put(ctx, "prog", printImage(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Put(ctx, "prog", printImage(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("different images produced the same digest")
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Digest != second {
		t.Errorf("List = %+v, want one entry with digest %s", entries, second)
	}
}

func TestListOrdered(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := s.Put(ctx, name, printImage(t, int64(i))); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(entries) != len(want) {
		t.Fatalf("List returned %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Name != want[i] {
			t.Errorf("entries[%d] = %s, want %s", i, e.Name, want[i])
		}
		if e.Size == 0 || e.Updated.IsZero() || len(e.Digest) != 64 {
			t.Errorf("entry %s incomplete: %+v", e.Name, e)
		}
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.Put(ctx, "gone", printImage(t, 3)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}

func TestPutRejectsEmptyName(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Put(context.Background(), "", printImage(t, 1)); err == nil {
		t.Error("Put with empty name succeeded")
	}
}

func TestDigestMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.Put(ctx, "prog", printImage(t, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("UPDATE images SET digest = 'bogus' WHERE name = 'prog'"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "prog"); err == nil {
		t.Error("Get with corrupted digest succeeded")
	}
}

func TestReopenKeepsImages(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "images.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "kept", printImage(t, 9)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Get(ctx, "kept"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %s", s.Path())
	}
}
