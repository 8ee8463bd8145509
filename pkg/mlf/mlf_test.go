package mlf

import (
	"context"
	"testing"

	"github.com/samjabrahams/CNTK/pkg/storage"
)

func put(store *storage.Memory, path, content string) {
	store.Put(path, []byte(content))
}

func TestReadStateList(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	put(store, "states.list", "sil\nax_s2\nax_s3\n\n")

	states, err := ReadStateList(ctx, store, "states.list")
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 3 {
		t.Fatalf("got %d states, want 3", len(states))
	}
	if states["sil"] != 0 || states["ax_s2"] != 1 || states["ax_s3"] != 2 {
		t.Errorf("ids = %v", states)
	}

	put(store, "dup.list", "sil\nsil\n")
	if _, err := ReadStateList(ctx, store, "dup.list"); err == nil {
		t.Error("duplicate state expected error, got nil")
	}
}

func TestRead(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	put(store, "states.list", "sil\na\nb\n")
	put(store, "train.mlf", `#!MLF!#
"*/utt1.lab"
0 200000 sil
200000 500000 a
.
"*/utt2.lab"
sil
b
.
`)

	states, err := ReadStateList(ctx, store, "states.list")
	if err != nil {
		t.Fatal(err)
	}
	labels, err := Read(ctx, store, []string{"train.mlf"}, Options{States: states})
	if err != nil {
		t.Fatal(err)
	}
	if labels.NumClasses() != 3 {
		t.Errorf("NumClasses = %d, want 3", labels.NumClasses())
	}
	if labels.NumUtterances() != 2 {
		t.Errorf("NumUtterances = %d, want 2", labels.NumUtterances())
	}

	frames, ok := labels.Frames("utt1")
	if !ok {
		t.Fatal("utt1 not found")
	}
	want := []ClassID{0, 0, 1, 1, 1}
	if len(frames) != len(want) {
		t.Fatalf("utt1 frames = %v, want %v", frames, want)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Fatalf("utt1 frames = %v, want %v", frames, want)
		}
	}

	frames, ok = labels.Frames("utt2")
	if !ok {
		t.Fatal("utt2 not found")
	}
	if len(frames) != 2 || frames[0] != 0 || frames[1] != 2 {
		t.Errorf("utt2 frames = %v, want [0 2]", frames)
	}

	if _, ok := labels.Frames("missing"); ok {
		t.Error("missing key reported present")
	}
}

func TestReadErrors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	put(store, "nomagic.mlf", "\"*/u.lab\"\nsil\n.\n")
	if _, err := Read(ctx, store, []string{"nomagic.mlf"}, Options{}); err == nil {
		t.Error("missing magic expected error")
	}

	put(store, "orphan.mlf", "#!MLF!#\nsil\n.\n")
	if _, err := Read(ctx, store, []string{"orphan.mlf"}, Options{}); err == nil {
		t.Error("label outside section expected error")
	}

	put(store, "badtime.mlf", "#!MLF!#\n\"*/u.lab\"\n0 150000 sil\n.\n")
	states := map[string]ClassID{"sil": 0}
	if _, err := Read(ctx, store, []string{"badtime.mlf"}, Options{States: states}); err == nil {
		t.Error("misaligned time expected error")
	}

	put(store, "unknown.mlf", "#!MLF!#\n\"*/u.lab\"\n0 100000 zz\n.\n")
	if _, err := Read(ctx, store, []string{"unknown.mlf"}, Options{States: states}); err == nil {
		t.Error("unknown state expected error")
	}
}

func TestNumericLabels(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	put(store, "num.mlf", "#!MLF!#\n\"*/u.lab\"\n0 200000 7\n.\n")

	labels, err := Read(ctx, store, []string{"num.mlf"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	frames, ok := labels.Frames("u")
	if !ok || len(frames) != 2 || frames[0] != 7 {
		t.Errorf("frames = %v ok=%v", frames, ok)
	}
	if labels.NumClasses() != 8 {
		t.Errorf("NumClasses = %d, want 8", labels.NumClasses())
	}
}
