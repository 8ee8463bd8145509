package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
)

// stores under test share one behavioral suite.
func testFileStore(t *testing.T, store FileStore) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		if _, err := store.Read(ctx, "nope/missing.bin"); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Read missing = %v, want ErrNotExist", err)
		}
		ok, err := store.Exists(ctx, "nope/missing.bin")
		if err != nil || ok {
			t.Errorf("Exists missing = %v, %v", ok, err)
		}
	})

	t.Run("write read roundtrip", func(t *testing.T) {
		w, err := store.Write(ctx, "dir/data.bin")
		if err != nil {
			t.Fatal(err)
		}
		payload := []byte("0123456789abcdef")
		if _, err := w.Write(payload); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}

		ok, err := store.Exists(ctx, "dir/data.bin")
		if err != nil || !ok {
			t.Fatalf("Exists = %v, %v", ok, err)
		}
		size, err := store.Size(ctx, "dir/data.bin")
		if err != nil || size != int64(len(payload)) {
			t.Fatalf("Size = %d, %v", size, err)
		}

		rc, err := store.Read(ctx, "dir/data.bin")
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil || string(got) != string(payload) {
			t.Fatalf("Read = %q, %v", got, err)
		}
	})

	t.Run("read range", func(t *testing.T) {
		rc, err := store.ReadRange(ctx, "dir/data.bin", 4, 6)
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil || string(got) != "456789" {
			t.Fatalf("ReadRange = %q, %v", got, err)
		}

		// A range past the end yields a short read, not an error.
		rc, err = store.ReadRange(ctx, "dir/data.bin", 12, 100)
		if err != nil {
			t.Fatal(err)
		}
		got, err = io.ReadAll(rc)
		rc.Close()
		if err != nil || string(got) != "cdef" {
			t.Fatalf("tail ReadRange = %q, %v", got, err)
		}
	})
}

func TestLocal(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	testFileStore(t, store)
}

func TestMemory(t *testing.T) {
	testFileStore(t, NewMemory())
}
