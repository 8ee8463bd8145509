package minibatch

import (
	"encoding/binary"
	"math"
)

// ElementType tags the numeric element width of a stream buffer.
type ElementType int

const (
	// Float32 elements, 4 bytes.
	Float32 ElementType = iota
	// Float64 elements, 8 bytes.
	Float64
)

// ByteSize returns the element width in bytes.
func (e ElementType) ByteSize() int {
	if e == Float64 {
		return 8
	}
	return 4
}

func (e ElementType) String() string {
	if e == Float64 {
		return "float64"
	}
	return "float32"
}

// StreamDescription describes one stream of the mini-batch source.
type StreamDescription struct {
	ID      int
	Name    string
	Type    string // StreamReal or StreamCategory
	Dim     int
	Element ElementType
}

// Layout describes the shape shared by all streams of one mini-batch.
// Buffers are column-major: dim rows by TimeSteps*ParallelSequences
// columns, frame k of channel c in column k*ParallelSequences + c.
type Layout struct {
	ParallelSequences int
	TimeSteps         int

	// SequenceBoundaries holds the starting column of each logical
	// sequence. In frame mode every column is its own one-frame
	// sequence.
	SequenceBoundaries []int
}

// Columns returns the number of matrix columns.
func (l Layout) Columns() int { return l.TimeSteps * l.ParallelSequences }

// StreamMinibatch is one stream's slice of a mini-batch. Data is valid
// until the next ReadMinibatch call on the packer that produced it.
type StreamMinibatch struct {
	Stream StreamDescription
	Data   []byte // Dim x Columns elements, column-major, native endian
}

// ByteSize returns the populated buffer length in bytes.
func (s StreamMinibatch) ByteSize() int { return len(s.Data) }

// Float32At reads the element at (row, col) from a Float32 buffer.
// It exists for consumers and tests; the trainer normally hands Data to
// device code wholesale.
func (s StreamMinibatch) Float32At(row, col int) float32 {
	off := (col*s.Stream.Dim + row) * 4
	return math.Float32frombits(binary.NativeEndian.Uint32(s.Data[off:]))
}

// Float64At reads the element at (row, col) from a Float64 buffer.
func (s StreamMinibatch) Float64At(row, col int) float64 {
	off := (col*s.Stream.Dim + row) * 8
	return math.Float64frombits(binary.NativeEndian.Uint64(s.Data[off:]))
}

// Minibatch is one packed batch.
type Minibatch struct {
	Streams    []StreamMinibatch
	Layout     Layout
	EndOfEpoch bool
}

// Empty reports whether the batch carries no frames.
func (m Minibatch) Empty() bool { return m.Layout.TimeSteps == 0 }

// putElement writes v at element index i of a buffer with the given
// element type.
func putElement(buf []byte, elem ElementType, i int, v float32) {
	if elem == Float64 {
		binary.NativeEndian.PutUint64(buf[i*8:], math.Float64bits(float64(v)))
		return
	}
	binary.NativeEndian.PutUint32(buf[i*4:], math.Float32bits(v))
}
