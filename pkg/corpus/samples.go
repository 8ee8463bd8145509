package corpus

import (
	"fmt"

	"github.com/samjabrahams/CNTK/pkg/mlf"
)

// resolveContext reconciles the configured sample dimension and context
// window with the archive dimension discovered on first read.
func (d *Deserializer) resolveContext() error {
	if d.wantDim == 0 {
		return nil
	}
	if d.left == 0 && d.right == 0 && d.wantDim != d.featDim {
		// Archive-native augmentation: the requested dimension implies
		// the replication extent.
		q := d.wantDim / d.featDim
		if d.wantDim%d.featDim != 0 || q%2 == 0 {
			return fmt.Errorf("%w: dimension %d is not an odd multiple of archive dimension %d",
				ErrFormatMismatch, d.wantDim, d.featDim)
		}
		d.left = (q - 1) / 2
		d.right = d.left
		return nil
	}
	if want := (1 + d.left + d.right) * d.featDim; d.wantDim != want {
		return fmt.Errorf("%w: configured dimension %d, archive dimension %d with context (%d,%d) yields %d",
			ErrFormatMismatch, d.wantDim, d.featDim, d.left, d.right, want)
	}
	return nil
}

// FeatureKind returns the feature kind name, "" before the first
// RequireChunk.
func (d *Deserializer) FeatureKind() string { return d.featKind }

// FeatureDim returns the archive feature dimension, 0 before the first
// RequireChunk.
func (d *Deserializer) FeatureDim() int { return d.featDim }

// SamplePeriod returns the frame shift in 100 ns units, 0 before the
// first RequireChunk.
func (d *Deserializer) SamplePeriod() uint32 { return d.samplePeriod }

// SampleDim returns the dimension of one sample delivered by GetSamples:
// (1 + contextLeft + contextRight) * featureDim. Valid after the first
// RequireChunk; before that it returns the configured dimension (which
// may be 0 when everything is archive-derived).
func (d *Deserializer) SampleDim() int {
	if d.featDim == 0 {
		return d.wantDim
	}
	return (1 + d.left + d.right) * d.featDim
}

// Context returns the effective context window half-widths.
func (d *Deserializer) Context() (left, right int) { return d.left, d.right }

// GetSamples copies the context-augmented sample for one frame into dst:
// the frames [frame-left, frame+right] of the utterance, clamped to the
// utterance boundaries, concatenated into one (1+left+right)*featureDim
// vector. dst must hold at least SampleDim values; the written prefix is
// returned.
//
// The chunk must be paged in and the indices in range; violations are
// programmer errors and panic.
func (d *Deserializer) GetSamples(chunkIndex, uttIndex, frame int, dst []float32) []float32 {
	c := &d.chunks[chunkIndex]
	if !c.pagedIn() {
		panic(fmt.Sprintf("corpus: GetSamples on paged-out chunk %d", chunkIndex))
	}
	u := c.utterances[uttIndex]
	if frame < 0 || frame >= u.NumFrames {
		panic(fmt.Sprintf("corpus: frame %d out of range [0,%d) in chunk %d utterance %d",
			frame, u.NumFrames, chunkIndex, uttIndex))
	}
	sampleDim := d.SampleDim()
	if len(dst) < sampleDim {
		panic(fmt.Sprintf("corpus: destination holds %d values, need %d", len(dst), sampleDim))
	}

	out := dst[:sampleDim]
	pos := 0
	for off := -d.left; off <= d.right; off++ {
		src := frame + off
		// Boundary frames replicate their nearest valid neighbor.
		if src < 0 {
			src = 0
		} else if src >= u.NumFrames {
			src = u.NumFrames - 1
		}
		col := (c.firstFrames[uttIndex] + src) * d.featDim
		copy(out[pos:pos+d.featDim], c.frames[col:col+d.featDim])
		pos += d.featDim
	}
	return out
}

// Label returns the class id of one frame. It requires a label archive;
// chunks need not be paged in (labels are always resident).
func (d *Deserializer) Label(chunkIndex, uttIndex, frame int) mlf.ClassID {
	u := d.chunks[chunkIndex].utterances[uttIndex]
	if u.labels == nil {
		panic("corpus: Label called on a corpus without a label archive")
	}
	return u.labels[frame]
}

// HasLabels reports whether the corpus carries a label archive.
func (d *Deserializer) HasLabels() bool { return d.numClasses > 0 }
