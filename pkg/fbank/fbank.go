// Package fbank computes log mel filterbank features from PCM audio.
//
// This is the corpus-preparation front end: it turns raw speech audio
// into the FBANK feature matrices the training pipeline consumes. Output
// is a flat [T * dim] float32 buffer with one dim-vector per frame, the
// column layout of a [dim x T] matrix and exactly what the archive
// writer expects.
//
// Default parameters match the common Kaldi/HTK convention:
//
//	SampleRate:  16000
//	WindowSize:  400 (25 ms)
//	HopSize:     160 (10 ms)
//	FFTSize:     512
//	NumMels:     80
//	LowFreq:     20
//	HighFreq:    7600
//	PreEmphasis: 0.97
package fbank

import (
	"math"

	"github.com/samjabrahams/CNTK/pkg/htk"
)

// Config controls mel filterbank extraction parameters.
type Config struct {
	SampleRate  int     // audio sample rate in Hz (default 16000)
	WindowSize  int     // window length in samples (default 400 = 25ms)
	HopSize     int     // hop length in samples (default 160 = 10ms)
	FFTSize     int     // FFT size (default 512)
	NumMels     int     // number of mel bins (default 80)
	LowFreq     float64 // lowest mel frequency (default 20)
	HighFreq    float64 // highest mel frequency (default 7600)
	PreEmphasis float64 // pre-emphasis coefficient (default 0.97)

	// Deltas selects appended difference features: 0 for static only,
	// 1 adds deltas, 2 adds deltas and accelerations.
	Deltas int
}

// DefaultConfig returns the standard 80-mel front-end configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
	}
}

// Dim returns the output feature dimension including delta blocks.
func (c Config) Dim() int { return c.NumMels * (1 + c.Deltas) }

// ParmKind returns the HTK parameter kind code matching the
// configuration: FBANK with _D and _A qualifiers as deltas are enabled.
func (c Config) ParmKind() uint16 {
	kind := uint16(htk.KindFBank)
	if c.Deltas >= 1 {
		kind |= htk.QualD
	}
	if c.Deltas >= 2 {
		kind |= htk.QualA
	}
	return kind
}

// SamplePeriod returns the frame shift in 100 ns units.
func (c Config) SamplePeriod() uint32 {
	return uint32(int64(c.HopSize) * 1e7 / int64(c.SampleRate))
}

// Extractor computes mel filterbank features from PCM samples.
type Extractor struct {
	cfg     Config
	window  []float64 // Hamming window
	plan    *fftPlan
	filters []melFilter
}

// New creates an Extractor with the given config.
func New(cfg Config) *Extractor {
	return &Extractor{
		cfg:     cfg,
		window:  hammingWindow(cfg.WindowSize),
		plan:    newFFTPlan(cfg.FFTSize),
		filters: buildMelFilters(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}
}

// NumFrames returns the frame count produced for n input samples.
func (e *Extractor) NumFrames(n int) int {
	if n < e.cfg.WindowSize {
		return 0
	}
	return (n-e.cfg.WindowSize)/e.cfg.HopSize + 1
}

// Extract computes features from normalized float32 samples in [-1, 1].
// The result is a flat [numFrames * Dim] buffer, one feature vector per
// frame, with delta blocks appended after the static mels when
// configured.
func (e *Extractor) Extract(pcm []float32) []float32 {
	cfg := e.cfg
	numFrames := e.NumFrames(len(pcm))
	if numFrames == 0 {
		return nil
	}
	nfft := cfg.FFTSize
	halfFFT := nfft/2 + 1
	dim := cfg.Dim()

	features := make([]float32, numFrames*dim)

	frame := make([]float64, nfft)
	re := make([]float64, nfft)
	im := make([]float64, nfft)
	power := make([]float64, halfFFT)

	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize

		// Pre-emphasis + windowing.
		for i := 0; i < cfg.WindowSize; i++ {
			s := float64(pcm[start+i])
			if i > 0 {
				s -= cfg.PreEmphasis * float64(pcm[start+i-1])
			}
			frame[i] = s * e.window[i]
		}
		for i := cfg.WindowSize; i < nfft; i++ {
			frame[i] = 0
		}

		copy(re, frame)
		for i := range im {
			im[i] = 0
		}
		e.plan.transform(re, im)

		for i := 0; i < halfFFT; i++ {
			power[i] = re[i]*re[i] + im[i]*im[i]
		}

		out := features[t*dim:]
		for m, f := range e.filters {
			sum := 0.0
			for k, w := range f.weights {
				sum += w * power[f.first+k]
			}
			// Log with floor to avoid -inf.
			if sum < 1e-10 {
				sum = 1e-10
			}
			out[m] = float32(math.Log(sum))
		}
	}

	for order := 1; order <= cfg.Deltas; order++ {
		appendDeltas(features, numFrames, dim, cfg.NumMels, order)
	}
	return features
}

// ExtractFromInt16 converts little-endian int16 PCM bytes to float32 and
// extracts features.
func (e *Extractor) ExtractFromInt16(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return e.Extract(samples)
}

// appendDeltas fills delta block `order` (1-based) from the previous
// block using the standard 2-frame regression window, clamping at the
// utterance boundaries.
func appendDeltas(features []float32, numFrames, dim, numMels, order int) {
	const win = 2
	norm := float32(0)
	for d := 1; d <= win; d++ {
		norm += float32(2 * d * d)
	}
	srcOff := (order - 1) * numMels
	dstOff := order * numMels
	at := func(t int) []float32 {
		if t < 0 {
			t = 0
		} else if t >= numFrames {
			t = numFrames - 1
		}
		return features[t*dim:]
	}
	for t := 0; t < numFrames; t++ {
		dst := features[t*dim:]
		for m := 0; m < numMels; m++ {
			acc := float32(0)
			for d := 1; d <= win; d++ {
				acc += float32(d) * (at(t + d)[srcOff+m] - at(t - d)[srcOff+m])
			}
			dst[dstOff+m] = acc / norm
		}
	}
}

// CMVN applies cepstral mean and variance normalization in place over a
// flat [numFrames * dim] feature buffer.
func CMVN(features []float32, dim int) {
	if len(features) == 0 || dim <= 0 {
		return
	}
	numFrames := len(features) / dim
	T := float64(numFrames)

	for m := 0; m < dim; m++ {
		sum := 0.0
		for t := 0; t < numFrames; t++ {
			sum += float64(features[t*dim+m])
		}
		mean := sum / T

		varSum := 0.0
		for t := 0; t < numFrames; t++ {
			d := float64(features[t*dim+m]) - mean
			varSum += d * d
		}
		std := math.Sqrt(varSum / T)
		if std < 1e-10 {
			std = 1e-10
		}

		for t := 0; t < numFrames; t++ {
			features[t*dim+m] = float32((float64(features[t*dim+m]) - mean) / std)
		}
	}
}
