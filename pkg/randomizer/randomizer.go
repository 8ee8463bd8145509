// Package randomizer implements the two-level block randomizer.
//
// For each sweep over the corpus it derives, deterministically from the
// sweep number, a permutation of the chunks and a constrained permutation
// of the sequences (utterances, or frames in frame mode) inside a sliding
// chunk window. Every sequence stays within the randomization range R of
// its original chunk, so a consumer walking the stream front to back only
// ever needs a bounded window of chunks paged in.
//
// The randomizer owns no I/O: it works on chunk frame counts supplied at
// construction and emits sequence references; the paging driver in
// pkg/minibatch turns its residency windows into RequireChunk and
// ReleaseChunk calls on the corpus.
package randomizer

import (
	"errors"
	"fmt"
	"log/slog"
)

// Mode selects the sequence granularity of the stream.
type Mode int

const (
	// FrameMode emits one sequence reference per frame.
	FrameMode Mode = iota
	// UtteranceMode emits one sequence reference per utterance.
	UtteranceMode
)

func (m Mode) String() string {
	switch m {
	case FrameMode:
		return "frame"
	case UtteranceMode:
		return "utterance"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ChunkInfo describes one original chunk to the randomizer.
type ChunkInfo struct {
	UtteranceFrames []int // frame count per utterance, in chunk order
}

// SequenceRef locates one sequence of the current sweep.
type SequenceRef struct {
	ChunkIndex  int   // rank in the randomized chunk order
	UttIndex    int   // utterance index within that chunk
	FrameIndex  int   // frame index within the utterance, 0 in utterance mode
	GlobalStart int64 // start frame on the global timeline (includes the sweep base)
	NumFrames   int   // 1 in frame mode
}

// NoSweep is the cached sweep value before the first randomization.
const NoSweep = int64(-1)

// randChunk is a chunk placed in the randomized order.
type randChunk struct {
	original    int // original chunk index
	numFrames   int64
	numUtts     int
	uttPosBegin int   // first utterance position of this chunk
	globalStart int64 // sweep-local start frame

	// windowBegin/windowEnd bound the randomized-chunk ranks this
	// chunk's sequences may be permuted into.
	windowBegin, windowEnd int
}

func (c *randChunk) globalEnd() int64 { return c.globalStart + c.numFrames }
func (c *randChunk) uttPosEnd() int   { return c.uttPosBegin + c.numUtts }
func (c *randChunk) midpoint() int64  { return c.globalStart + c.numFrames/2 }

// Options configures a Randomizer.
type Options struct {
	// Mode selects frame or utterance sequences.
	Mode Mode

	// Chunks are the original chunks in corpus order. Required.
	Chunks []ChunkInfo

	// Range is the randomization range R in frames: the full window
	// diameter; sequences move at most R/2 frames from their original
	// chunk's midpoint. Required, > 0.
	Range int64

	// Verbosity controls log chatter.
	Verbosity int

	// Logger. Nil means slog.Default().
	Logger *slog.Logger
}

// Randomizer produces the randomized sequence stream. It is single-
// consumer; all methods must be called from one goroutine.
type Randomizer struct {
	mode      Mode
	chunks    []ChunkInfo
	uttPrefix [][]int64 // per original chunk: frame prefix sums over utterances
	rng       int64     // randomization range R
	verbosity int
	log       *slog.Logger

	totalFrames int64
	numUtts     int

	// Randomization cache, rebuilt when the sweep changes.
	cachedSweep int64
	randomized  []randChunk
	refs        []SequenceRef // [utterance position], sweep-local GlobalStart
	posStarts   []int64       // [utterance position] sweep-local start frame
	frameRefs   []SequenceRef // frame-mode expansion, indexed by sweep offset

	// Consumer cursor.
	cursor int64 // absolute global frame
	budget int64 // frames remaining in the epoch slice
}

// New creates a Randomizer over the given chunks.
func New(opts Options) (*Randomizer, error) {
	if len(opts.Chunks) == 0 {
		return nil, errors.New("randomizer: no chunks")
	}
	if opts.Range <= 0 {
		return nil, errors.New("randomizer: randomization range must be positive")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Randomizer{
		mode:        opts.Mode,
		chunks:      opts.Chunks,
		rng:         opts.Range,
		verbosity:   opts.Verbosity,
		log:         log,
		cachedSweep: NoSweep,
	}
	r.uttPrefix = make([][]int64, len(opts.Chunks))
	for i, c := range opts.Chunks {
		if len(c.UtteranceFrames) == 0 {
			return nil, fmt.Errorf("randomizer: chunk %d has no utterances", i)
		}
		prefix := make([]int64, len(c.UtteranceFrames)+1)
		for j, f := range c.UtteranceFrames {
			if f <= 0 {
				return nil, fmt.Errorf("randomizer: chunk %d utterance %d has %d frames", i, j, f)
			}
			prefix[j+1] = prefix[j] + int64(f)
		}
		r.uttPrefix[i] = prefix
		r.totalFrames += prefix[len(prefix)-1]
		r.numUtts += len(c.UtteranceFrames)
	}
	return r, nil
}

// TotalFrames returns the frame count of one sweep.
func (r *Randomizer) TotalFrames() int64 { return r.totalFrames }

// NumUtterances returns the utterance count of one sweep.
func (r *Randomizer) NumUtterances() int { return r.numUtts }

// NumChunks returns the chunk count.
func (r *Randomizer) NumChunks() int { return len(r.chunks) }

// Sweep returns the currently randomized sweep, NoSweep before the first
// randomization.
func (r *Randomizer) Sweep() int64 { return r.cachedSweep }

// Position returns the absolute global-frame cursor.
func (r *Randomizer) Position() int64 { return r.cursor }

// OriginalChunk translates a randomized chunk rank to the original chunk
// index.
func (r *Randomizer) OriginalChunk(rank int) int {
	return r.randomized[rank].original
}
