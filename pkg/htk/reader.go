package htk

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/samjabrahams/CNTK/pkg/storage"
)

// Info describes a feature archive as reported by its header, adjusted for
// the frame range of a script entry.
type Info struct {
	Kind         string // parameter kind name, e.g. "FBANK_D_A"
	Dim          int    // feature dimension
	SamplePeriod uint32 // frame shift in 100 ns units
	NumFrames    int64  // frames covered by the path (range or whole file)
}

// Reader reads feature frames from archives in a FileStore.
// It is stateless apart from the store handle and safe for concurrent use.
type Reader struct {
	store storage.FileStore
}

// NewReader creates a Reader over the given store.
func NewReader(store storage.FileStore) *Reader {
	return &Reader{store: store}
}

// Info reads the archive header for a path and returns the feature kind,
// dimension, sample period and the frame count the path covers.
func (r *Reader) Info(ctx context.Context, p Path) (Info, error) {
	h, err := r.header(ctx, p.Physical)
	if err != nil {
		return Info{}, err
	}
	n := p.NumFrames()
	if n < 0 {
		n = int64(h.NumSamples)
	} else if p.Last >= int64(h.NumSamples) {
		return Info{}, fmt.Errorf("htk: %s: frame range [%d,%d] exceeds archive length %d",
			p.Physical, p.First, p.Last, h.NumSamples)
	}
	return Info{
		Kind:         h.KindName(),
		Dim:          h.Dim(),
		SamplePeriod: h.SamplePeriod,
		NumFrames:    n,
	}, nil
}

// ReadFrames copies n frames starting at the path's frame `first` (relative
// to the path range) into dst, which must hold at least n*dim float32
// values. Frames are stored consecutively, one dim-vector per frame, which
// is the column layout of a [dim x n] matrix.
func (r *Reader) ReadFrames(ctx context.Context, p Path, first, n int64, dim int, dst []float32) error {
	if int64(len(dst)) < n*int64(dim) {
		return fmt.Errorf("htk: destination holds %d values, need %d", len(dst), n*int64(dim))
	}
	base := p.First
	if base < 0 {
		base = 0
	}
	sampleSize := int64(dim) * 4
	off := int64(HeaderSize) + (base+first)*sampleSize
	length := n * sampleSize

	rc, err := r.store.ReadRange(ctx, p.Physical, off, length)
	if err != nil {
		return fmt.Errorf("htk: read %s: %w", p.Physical, err)
	}
	defer rc.Close()

	buf := make([]byte, length)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return fmt.Errorf("htk: read %s frames [%d,%d): %w", p.Physical, base+first, base+first+n, err)
	}
	for i := range n * int64(dim) {
		dst[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return nil
}

// header reads and decodes the archive header.
func (r *Reader) header(ctx context.Context, physical string) (Header, error) {
	rc, err := r.store.ReadRange(ctx, physical, 0, HeaderSize)
	if err != nil {
		return Header{}, fmt.Errorf("htk: open %s: %w", physical, err)
	}
	defer rc.Close()
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return Header{}, fmt.Errorf("htk: read %s header: %w", physical, err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return Header{}, fmt.Errorf("htk: %s: %w", physical, err)
	}
	return h, nil
}
