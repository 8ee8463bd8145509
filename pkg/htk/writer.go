package htk

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/samjabrahams/CNTK/pkg/storage"
)

// WriteArchive writes a feature archive to the store. Frames are given as
// the columns of a [dim x numFrames] matrix stored column-major, i.e. one
// dim-vector per frame, the same layout ReadFrames fills.
//
// This is the output side of the pipeline: network outputs and freshly
// extracted features are written back as parameter files that any HTK
// tooling (and this package's Reader) can consume.
func WriteArchive(ctx context.Context, store storage.FileStore, path string, kind uint16, samplePeriod uint32, dim int, frames []float32) error {
	if dim <= 0 {
		return fmt.Errorf("htk: write %s: non-positive dimension %d", path, dim)
	}
	if len(frames)%dim != 0 {
		return fmt.Errorf("htk: write %s: %d values do not divide into %d-dim frames", path, len(frames), dim)
	}
	numFrames := len(frames) / dim

	wc, err := store.Write(ctx, path)
	if err != nil {
		return fmt.Errorf("htk: write %s: %w", path, err)
	}
	w := bufio.NewWriter(wc)

	h := Header{
		NumSamples:   uint32(numFrames),
		SamplePeriod: samplePeriod,
		SampleSize:   uint16(dim * 4),
		ParmKind:     kind,
	}
	if _, err := w.Write(encodeHeader(h)); err != nil {
		wc.Close()
		return fmt.Errorf("htk: write %s: %w", path, err)
	}
	var scratch [4]byte
	for _, v := range frames {
		binary.BigEndian.PutUint32(scratch[:], math.Float32bits(v))
		if _, err := w.Write(scratch[:]); err != nil {
			wc.Close()
			return fmt.Errorf("htk: write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		wc.Close()
		return fmt.Errorf("htk: write %s: %w", path, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("htk: write %s: %w", path, err)
	}
	return nil
}
