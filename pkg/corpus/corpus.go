// Package corpus implements the chunked deserializer: it enumerates the
// utterances of a feature corpus, partitions them into fixed-duration
// chunks, and lazily pages chunk payloads (dense frame matrices) in and
// out of memory.
//
// A chunk is the unit of paging. Its payload is a [dim x totalFrames]
// column-major matrix holding the concatenated frames of its utterances;
// paging a chunk in costs two ranged reads per utterance (its archive
// header and its frame range), which keeps disk
// access sequential even though the randomizer visits chunks in a
// permuted order.
package corpus

import (
	"errors"
)

// Sentinel errors.
var (
	// ErrIO is returned when paging a chunk in still fails after all
	// retry attempts. It aborts the epoch.
	ErrIO = errors.New("corpus: archive read failed")

	// ErrFormatMismatch is returned when an archive reports a feature
	// kind, dimension or sample period different from the one the corpus
	// was locked to on first read.
	ErrFormatMismatch = errors.New("corpus: feature format mismatch")

	// ErrInvalidState is returned for operations on chunks that were
	// never enumerated.
	ErrInvalidState = errors.New("corpus: invalid chunk state")
)

// Chunking limits.
const (
	// ChunkTargetFrames is the frame count at which a chunk closes:
	// 15 minutes at 100 frames per second. Chunks run slightly over the
	// target because the utterance that crosses it is kept.
	ChunkTargetFrames = 15 * 60 * 100

	// MaxChunkUtterances caps the utterance count of one chunk.
	MaxChunkUtterances = 65535

	// MinUtteranceFrames is the shortest utterance admitted to the
	// corpus; boundary replication needs at least two frames.
	MinUtteranceFrames = 2
)

// requireAttempts is how many times paging a chunk in is tried before
// surfacing ErrIO. Corpora live on network storage; transient read
// failures are expected.
const requireAttempts = 5
