package htk

import (
	"context"
	"testing"

	"github.com/samjabrahams/CNTK/pkg/storage"
)

func TestKindName(t *testing.T) {
	cases := []struct {
		kind uint16
		want string
	}{
		{KindFBank, "FBANK"},
		{KindMFCC | QualE | QualD | QualA, "MFCC_E_D_A"},
		{KindUser | Qual0, "USER_0"},
		{KindPLP | QualZ, "PLP_Z"},
	}
	for _, c := range cases {
		if got := KindName(c.kind); got != c.want {
			t.Errorf("KindName(%#x) = %q, want %q", c.kind, got, c.want)
		}
		back, err := ParseKind(c.want)
		if err != nil {
			t.Errorf("ParseKind(%q): %v", c.want, err)
		} else if back != c.kind {
			t.Errorf("ParseKind(%q) = %#x, want %#x", c.want, back, c.kind)
		}
	}
	if _, err := ParseKind("NOPE"); err == nil {
		t.Error("ParseKind(NOPE) expected error, got nil")
	}
	if _, err := ParseKind("MFCC_Q"); err == nil {
		t.Error("ParseKind(MFCC_Q) expected error, got nil")
	}
}

func TestParsePath(t *testing.T) {
	t.Run("bare", func(t *testing.T) {
		p, err := ParsePath("an4/train/utt1.fbank")
		if err != nil {
			t.Fatal(err)
		}
		if p.Logical != "an4/train/utt1.fbank" || p.Physical != p.Logical {
			t.Errorf("got %+v", p)
		}
		if p.NumFrames() != -1 {
			t.Errorf("NumFrames = %d, want -1", p.NumFrames())
		}
		if p.Key() != "an4/train/utt1" {
			t.Errorf("Key = %q", p.Key())
		}
	})

	t.Run("alias and range", func(t *testing.T) {
		p, err := ParsePath("utt7.fbank=archive/block3.chunk[120,219]")
		if err != nil {
			t.Fatal(err)
		}
		if p.Logical != "utt7.fbank" || p.Physical != "archive/block3.chunk" {
			t.Errorf("got %+v", p)
		}
		if p.First != 120 || p.Last != 219 || p.NumFrames() != 100 {
			t.Errorf("range = [%d,%d] n=%d", p.First, p.Last, p.NumFrames())
		}
		if p.Key() != "utt7" {
			t.Errorf("Key = %q", p.Key())
		}
	})

	t.Run("dotted directory", func(t *testing.T) {
		p, err := ParsePath("corpus.v2/utt9")
		if err != nil {
			t.Fatal(err)
		}
		if p.Key() != "corpus.v2/utt9" {
			t.Errorf("Key = %q, extension stripping crossed a separator", p.Key())
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, entry := range []string{"", "a.fbank[12]", "a.fbank[5,2]", "a.fbank[x,y]", "logical="} {
			if _, err := ParsePath(entry); err == nil {
				t.Errorf("ParsePath(%q) expected error, got nil", entry)
			}
		}
	})
}

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	const dim = 3
	frames := []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
		10, 11, 12,
	}
	if err := WriteArchive(ctx, store, "utt.fbank", KindFBank, 100000, dim, frames); err != nil {
		t.Fatal(err)
	}

	r := NewReader(store)
	p, err := ParsePath("utt.fbank")
	if err != nil {
		t.Fatal(err)
	}
	info, err := r.Info(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if info.Kind != "FBANK" || info.Dim != dim || info.NumFrames != 4 || info.SamplePeriod != 100000 {
		t.Errorf("info = %+v", info)
	}

	got := make([]float32, 2*dim)
	if err := r.ReadFrames(ctx, p, 1, 2, dim, got); err != nil {
		t.Fatal(err)
	}
	want := []float32{4, 5, 6, 7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frames[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	t.Run("ranged entry", func(t *testing.T) {
		rp, err := ParsePath("sub.fbank=utt.fbank[2,3]")
		if err != nil {
			t.Fatal(err)
		}
		info, err := r.Info(ctx, rp)
		if err != nil {
			t.Fatal(err)
		}
		if info.NumFrames != 2 {
			t.Errorf("NumFrames = %d, want 2", info.NumFrames)
		}
		got := make([]float32, dim)
		if err := r.ReadFrames(ctx, rp, 0, 1, dim, got); err != nil {
			t.Fatal(err)
		}
		if got[0] != 7 || got[1] != 8 || got[2] != 9 {
			t.Errorf("got %v, want [7 8 9]", got)
		}
	})

	t.Run("range beyond archive", func(t *testing.T) {
		rp, err := ParsePath("sub.fbank=utt.fbank[2,9]")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := r.Info(ctx, rp); err == nil {
			t.Error("expected range error, got nil")
		}
	})
}
