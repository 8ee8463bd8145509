package fbank

import "math"

// fftPlan is a radix-2 Cooley-Tukey FFT precomputed for one transform
// size. The front end runs one transform per 10 ms frame over a fixed
// FFTSize, so the bit-reversal permutation and twiddle factors are built
// once per Extractor rather than re-derived inside the frame loop.
type fftPlan struct {
	n   int
	rev []int     // bit-reversal permutation
	cos []float64 // cos(-2*pi*k/n), k < n/2
	sin []float64 // sin(-2*pi*k/n), k < n/2
}

// newFFTPlan builds the tables for a power-of-2 transform size.
func newFFTPlan(n int) *fftPlan {
	p := &fftPlan{
		n:   n,
		rev: make([]int, n),
		cos: make([]float64, n/2),
		sin: make([]float64, n/2),
	}
	j := 0
	for i := 1; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		p.rev[i] = j
	}
	for k := 0; k < n/2; k++ {
		angle := -2 * math.Pi * float64(k) / float64(n)
		p.cos[k] = math.Cos(angle)
		p.sin[k] = math.Sin(angle)
	}
	return p
}

// transform runs the in-place FFT. re and im must both have length n.
func (p *fftPlan) transform(re, im []float64) {
	n := p.n
	for i, j := range p.rev {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		stride := n / size
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				wR, wI := p.cos[k*stride], p.sin[k*stride]
				u := start + k
				v := u + half

				tR := wR*re[v] - wI*im[v]
				tI := wR*im[v] + wI*re[v]
				re[v] = re[u] - tR
				im[v] = im[u] - tI
				re[u] += tR
				im[u] += tI
			}
		}
	}
}

// melFilter is one triangular filter stored sparsely: weights cover the
// power-spectrum bins [first, first+len(weights)). Filters overlap only
// with their neighbors, so the sparse form keeps the per-frame filter
// pass proportional to the spectrum size instead of numMels*halfFFT.
type melFilter struct {
	first   int
	weights []float64
}

// buildMelFilters lays numMels triangular filters over the mel-warped
// [lowFreq, highFreq] band of an fftSize-point spectrum.
func buildMelFilters(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) []melFilter {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)
	step := (highMel - lowMel) / float64(numMels+1)

	// Edges of the numMels triangles: numMels+2 equally spaced mel
	// points mapped to spectrum bins, forced strictly increasing so
	// every filter keeps at least one bin.
	bins := make([]int, numMels+2)
	for i := range bins {
		hz := melToHz(lowMel + float64(i)*step)
		bin := int(math.Round(hz * float64(fftSize) / float64(sampleRate)))
		if bin >= halfFFT {
			bin = halfFFT - 1
		}
		if i > 0 && bin <= bins[i-1] {
			bin = bins[i-1] + 1
		}
		bins[i] = bin
	}

	filters := make([]melFilter, numMels)
	for m := range filters {
		left, center, right := bins[m], bins[m+1], bins[m+2]
		f := melFilter{first: left}
		for k := left; k <= right && k < halfFFT; k++ {
			var w float64
			if k < center {
				w = float64(k-left) / float64(center-left)
			} else {
				w = float64(right-k) / float64(right-center)
			}
			f.weights = append(f.weights, w)
		}
		filters[m] = f
	}
	return filters
}

// hzToMel converts frequency in Hz to the HTK mel scale.
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// melToHz converts a mel value back to Hz.
func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// hammingWindow generates a Hamming window of the given length.
func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
