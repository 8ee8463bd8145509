package fbank

import (
	"math"
	"testing"

	"github.com/samjabrahams/CNTK/pkg/htk"
)

func TestHammingWindow(t *testing.T) {
	w := hammingWindow(400)
	if len(w) != 400 {
		t.Fatalf("expected 400, got %d", len(w))
	}
	// Hamming window: endpoints should be ~0.08
	if math.Abs(w[0]-0.08) > 0.01 {
		t.Errorf("w[0] = %f, want ~0.08", w[0])
	}
	// Center should be ~1.0
	if math.Abs(w[199]-1.0) > 0.02 {
		t.Errorf("w[199] = %f, want ~1.0", w[199])
	}
}

func TestMelConversion(t *testing.T) {
	// HTK mel scale: 2595 * log10(1 + f/700)
	// hzToMel(1000) = 2595 * log10(1 + 1000/700) ≈ 999.99
	mel := hzToMel(1000)
	if math.Abs(mel-999.99) > 1.0 {
		t.Errorf("hzToMel(1000) = %f, want ~999.99", mel)
	}
	// Round-trip
	hz := melToHz(mel)
	if math.Abs(hz-1000) > 0.1 {
		t.Errorf("melToHz(hzToMel(1000)) = %f, want 1000", hz)
	}
}

func TestBuildMelFilters(t *testing.T) {
	filters := buildMelFilters(80, 512, 16000, 20, 7600)
	if len(filters) != 80 {
		t.Fatalf("expected 80 filters, got %d", len(filters))
	}
	halfFFT := 512/2 + 1
	prev := -1
	for i, f := range filters {
		if len(f.weights) == 0 {
			t.Fatalf("filter %d is empty", i)
		}
		if f.first < 0 || f.first+len(f.weights) > halfFFT {
			t.Errorf("filter %d spans bins [%d,%d) outside the spectrum", i, f.first, f.first+len(f.weights))
		}
		// Filters march up the spectrum and each has a positive peak.
		if f.first < prev {
			t.Errorf("filter %d starts at %d, before filter %d", i, f.first, i-1)
		}
		prev = f.first
		peak := 0.0
		for _, w := range f.weights {
			if w < 0 {
				t.Fatalf("filter %d has negative weight %f", i, w)
			}
			if w > peak {
				peak = w
			}
		}
		if math.Abs(peak-1.0) > 1e-9 {
			t.Errorf("filter %d peak = %f, want 1", i, peak)
		}
	}
}

func TestFFTPlan(t *testing.T) {
	// Test with known signal: DC + 1Hz cosine in 8-sample window
	n := 8
	re := make([]float64, n)
	im := make([]float64, n)
	for i := range re {
		re[i] = 1.0 + math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	newFFTPlan(n).transform(re, im)

	// DC component should be n (sum of 1.0*8)
	if math.Abs(re[0]-float64(n)) > 0.01 {
		t.Errorf("DC = %f, want %d", re[0], n)
	}
	// First harmonic should be n/2
	if math.Abs(re[1]-float64(n)/2) > 0.01 {
		t.Errorf("H1 real = %f, want %f", re[1], float64(n)/2)
	}
	// A pure 2-cycle cosine lands in bin 2 only.
	for i := range re {
		re[i] = math.Cos(2 * math.Pi * 2 * float64(i) / float64(n))
		im[i] = 0
	}
	newFFTPlan(n).transform(re, im)
	if math.Abs(re[2]-float64(n)/2) > 0.01 {
		t.Errorf("H2 real = %f, want %f", re[2], float64(n)/2)
	}
	if math.Abs(re[3]) > 0.01 || math.Abs(re[1]) > 0.01 {
		t.Errorf("leakage into bins 1/3: %f, %f", re[1], re[3])
	}
}

func TestConfigDerived(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Dim() != 80 {
		t.Errorf("Dim = %d, want 80", cfg.Dim())
	}
	if cfg.SamplePeriod() != 100000 {
		t.Errorf("SamplePeriod = %d, want 100000 (10 ms)", cfg.SamplePeriod())
	}
	if cfg.ParmKind() != htk.KindFBank {
		t.Errorf("ParmKind = %#x, want FBANK", cfg.ParmKind())
	}

	cfg.Deltas = 2
	if cfg.Dim() != 240 {
		t.Errorf("Dim with deltas = %d, want 240", cfg.Dim())
	}
	if want := uint16(htk.KindFBank | htk.QualD | htk.QualA); cfg.ParmKind() != want {
		t.Errorf("ParmKind with deltas = %#x, want %#x", cfg.ParmKind(), want)
	}
}

func TestExtract(t *testing.T) {
	cfg := DefaultConfig()
	ext := New(cfg)

	// Generate 1 second of 440Hz sine at 16kHz
	n := 16000
	pcm := make([]float32, n)
	for i := range pcm {
		pcm[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 16000))
	}

	features := ext.Extract(pcm)
	expectedFrames := (n-cfg.WindowSize)/cfg.HopSize + 1
	if got := len(features) / cfg.Dim(); got != expectedFrames {
		t.Fatalf("expected %d frames, got %d", expectedFrames, got)
	}
	if ext.NumFrames(n) != expectedFrames {
		t.Errorf("NumFrames = %d, want %d", ext.NumFrames(n), expectedFrames)
	}

	// All values should be finite
	for i, v := range features {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Errorf("features[%d] = %f (not finite)", i, v)
		}
	}
}

func TestExtractDeltas(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Deltas = 2
	ext := New(cfg)

	pcm := make([]float32, 8000)
	for i := range pcm {
		pcm[i] = float32(math.Sin(2*math.Pi*440*float64(i)/16000)) * 0.5
	}
	features := ext.Extract(pcm)
	dim := cfg.Dim()
	numFrames := len(features) / dim
	if numFrames == 0 {
		t.Fatal("no frames extracted")
	}

	// A steady tone has near-constant mels, so interior deltas are
	// small relative to the statics.
	mid := numFrames / 2
	static, delta := features[mid*dim], features[mid*dim+cfg.NumMels]
	if math.Abs(float64(delta)) > math.Abs(float64(static)) {
		t.Errorf("delta %f larger than static %f on a steady tone", delta, static)
	}
}

func TestExtractFromInt16(t *testing.T) {
	cfg := DefaultConfig()
	ext := New(cfg)

	// 0.5s of 440Hz at 16kHz, int16
	n := 8000
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(math.Sin(2*math.Pi*440*float64(i)/16000) * 32767)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}

	features := ext.ExtractFromInt16(pcm)
	if len(features) == 0 {
		t.Fatal("no features extracted")
	}
}

func TestCMVN(t *testing.T) {
	cfg := DefaultConfig()
	ext := New(cfg)

	pcm := make([]float32, 16000)
	for i := range pcm {
		pcm[i] = float32(math.Sin(2*math.Pi*440*float64(i)/16000)) * 0.5
	}

	features := ext.Extract(pcm)
	dim := cfg.Dim()
	CMVN(features, dim)

	// After CMVN, each dimension should have mean ~0 and std ~1
	numFrames := len(features) / dim
	for m := 0; m < dim; m++ {
		sum := float64(0)
		for t2 := 0; t2 < numFrames; t2++ {
			sum += float64(features[t2*dim+m])
		}
		mean := sum / float64(numFrames)
		if math.Abs(mean) > 0.01 {
			t.Errorf("mel[%d] mean = %f, want ~0", m, mean)
		}

		varSum := float64(0)
		for t2 := 0; t2 < numFrames; t2++ {
			d := float64(features[t2*dim+m]) - mean
			varSum += d * d
		}
		std := math.Sqrt(varSum / float64(numFrames))
		if math.Abs(std-1.0) > 0.01 {
			t.Errorf("mel[%d] std = %f, want ~1", m, std)
		}
	}
}

func BenchmarkExtract(b *testing.B) {
	cfg := DefaultConfig()
	ext := New(cfg)

	// 3 seconds at 16kHz
	pcm := make([]float32, 48000)
	for i := range pcm {
		pcm[i] = float32(math.Sin(2*math.Pi*440*float64(i)/16000)) * 0.5
	}

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		_ = ext.Extract(pcm)
	}
}
