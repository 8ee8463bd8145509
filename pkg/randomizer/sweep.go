package randomizer

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

// Seed salts separating the chunk-permutation and sequence-swap RNG
// streams. Changing these changes every randomized order.
const (
	chunkSeedSalt = 0x9e3779b97f4a7c15
	seqSeedSalt   = 0xc2b2ae3d27d4eb4f
)

// LazyRandomize maps an absolute global frame to its sweep and offset,
// rebuilding the randomization cache when the sweep differs from the
// cached one. It returns the offset within the sweep.
func (r *Randomizer) LazyRandomize(globalFrame int64) int64 {
	sweep := globalFrame / r.totalFrames
	offset := globalFrame % r.totalFrames
	if sweep != r.cachedSweep {
		r.randomize(sweep)
	}
	return offset
}

// randomize rebuilds all derived arrays for one sweep. Everything below
// is a pure function of (sweep, chunking, R).
func (r *Randomizer) randomize(sweep int64) {
	r.permuteChunks(sweep)
	r.computeWindows()
	r.placeSequences(sweep)
	if r.mode == FrameMode {
		r.expandFrames()
	}
	r.cachedSweep = sweep
	if r.verbosity >= 1 {
		r.log.Debug("randomizer: sweep randomized",
			"sweep", sweep, "chunks", len(r.randomized), "utterances", r.numUtts)
	}
}

// permuteChunks draws the sweep's chunk permutation by Fisher-Yates over
// a PCG stream seeded from the sweep number and assigns each randomized
// chunk its position space and timeline.
func (r *Randomizer) permuteChunks(sweep int64) {
	n := len(r.chunks)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	rng := rand.New(rand.NewPCG(uint64(sweep), chunkSeedSalt))
	for i := n - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	r.randomized = r.randomized[:0]
	uttPos := 0
	var globalStart int64
	for _, orig := range perm {
		prefix := r.uttPrefix[orig]
		c := randChunk{
			original:    orig,
			numFrames:   prefix[len(prefix)-1],
			numUtts:     len(prefix) - 1,
			uttPosBegin: uttPos,
			globalStart: globalStart,
		}
		r.randomized = append(r.randomized, c)
		uttPos += c.numUtts
		globalStart += c.numFrames
	}
}

// computeWindows assigns each randomized chunk the maximal interval of
// consecutive ranks whose midpoints lie within R/2 frames of its own
// midpoint. Midpoints are strictly increasing in rank, so both bounds are
// monotone and a two-pointer sweep suffices.
func (r *Randomizer) computeWindows() {
	half := r.rng / 2
	begin, end := 0, 0
	for rank := range r.randomized {
		c := &r.randomized[rank]
		m := c.midpoint()
		for begin < rank && r.randomized[begin].midpoint() < m-half {
			begin++
		}
		if end <= rank {
			end = rank + 1
		}
		for end < len(r.randomized) && r.randomized[end].midpoint() <= m+half {
			end++
		}
		c.windowBegin, c.windowEnd = begin, end
	}
}

// placeSequences lays utterances out in randomized chunk order and then
// permutes them by the constrained swap protocol: each position p draws a
// partner position q inside its defining chunk's window and swaps when
// both sequences remain inside the other position's window; otherwise the
// draw is skipped. Each position is visited exactly once, and every draw
// is seeded from (sweep, p), so the result is deterministic and
// independent of visit history.
func (r *Randomizer) placeSequences(sweep int64) {
	r.refs = r.refs[:0]
	for rank := range r.randomized {
		c := &r.randomized[rank]
		frames := r.chunks[c.original].UtteranceFrames
		for ui, f := range frames {
			r.refs = append(r.refs, SequenceRef{
				ChunkIndex: rank,
				UttIndex:   ui,
				NumFrames:  f,
			})
		}
	}

	for p := range r.refs {
		def := r.definingChunk(p)
		wb, we := r.randomized[def].windowBegin, r.randomized[def].windowEnd
		lo := r.randomized[wb].globalStart
		hi := r.randomized[we-1].globalEnd()
		rng := rand.New(rand.NewPCG(uint64(sweep)^seqSeedSalt, uint64(p)))
		t := lo + rng.Int64N(hi-lo)
		q := r.layoutPosition(t)
		if p == q {
			continue
		}
		qdef := r.definingChunk(q)
		if r.inWindow(def, r.refs[q].ChunkIndex) && r.inWindow(qdef, r.refs[p].ChunkIndex) {
			r.refs[p], r.refs[q] = r.refs[q], r.refs[p]
		}
	}

	// Reassign the timeline over the swapped order and verify the window
	// invariant; a violation here is a bug, not an input error.
	r.posStarts = r.posStarts[:0]
	var ts int64
	for p := range r.refs {
		r.refs[p].GlobalStart = ts
		r.posStarts = append(r.posStarts, ts)
		ts += int64(r.refs[p].NumFrames)
		if def := r.definingChunk(p); !r.inWindow(def, r.refs[p].ChunkIndex) {
			panic(fmt.Sprintf("randomizer: sequence at position %d escaped its window", p))
		}
	}
	if ts != r.totalFrames {
		panic(fmt.Sprintf("randomizer: timeline covers %d frames, corpus has %d", ts, r.totalFrames))
	}
}

// expandFrames expands the utterance placement into per-frame sequence
// references in natural intra-utterance order.
func (r *Randomizer) expandFrames() {
	if int64(cap(r.frameRefs)) < r.totalFrames {
		r.frameRefs = make([]SequenceRef, r.totalFrames)
	}
	r.frameRefs = r.frameRefs[:r.totalFrames]
	for _, ref := range r.refs {
		for k := 0; k < ref.NumFrames; k++ {
			r.frameRefs[ref.GlobalStart+int64(k)] = SequenceRef{
				ChunkIndex:  ref.ChunkIndex,
				UttIndex:    ref.UttIndex,
				FrameIndex:  k,
				GlobalStart: ref.GlobalStart + int64(k),
				NumFrames:   1,
			}
		}
	}
}

// definingChunk returns the randomized rank of the chunk that defined
// utterance position p (fixed by the initial layout, independent of
// swaps).
func (r *Randomizer) definingChunk(p int) int {
	return sort.Search(len(r.randomized), func(i int) bool {
		return r.randomized[i].uttPosEnd() > p
	})
}

// layoutPosition maps a sweep-local frame to the utterance position that
// covered it in the initial (pre-swap) layout. The chunk timeline is
// fixed, so this mapping is stable while swaps are in progress.
func (r *Randomizer) layoutPosition(t int64) int {
	rank := sort.Search(len(r.randomized), func(i int) bool {
		return r.randomized[i].globalEnd() > t
	})
	c := &r.randomized[rank]
	prefix := r.uttPrefix[c.original]
	off := t - c.globalStart
	ui := sort.Search(len(prefix)-1, func(i int) bool {
		return prefix[i+1] > off
	})
	return c.uttPosBegin + ui
}

// inWindow reports whether a randomized chunk rank lies inside the window
// of the chunk at rank def.
func (r *Randomizer) inWindow(def, rank int) bool {
	c := &r.randomized[def]
	return rank >= c.windowBegin && rank < c.windowEnd
}

// positionForOffset returns the utterance position whose frame span
// covers the sweep-local offset.
func (r *Randomizer) positionForOffset(offset int64) int {
	return sort.Search(len(r.posStarts), func(i int) bool {
		end := r.totalFrames
		if i+1 < len(r.posStarts) {
			end = r.posStarts[i+1]
		}
		return end > offset
	})
}
