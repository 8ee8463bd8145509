package randomizer

// StartEpoch places the cursor at startFrame on the global timeline and
// sets the epoch budget to budgetFrames. The epoch driver computes both
// from (epoch index, worker rank, worker count).
func (r *Randomizer) StartEpoch(startFrame, budgetFrames int64) {
	r.Seek(startFrame)
	r.budget = budgetFrames
}

// Seek positions the cursor at an absolute global frame. Crossing a sweep
// boundary triggers re-randomization; seeking within the cached sweep is
// cheap. Seek is idempotent.
func (r *Randomizer) Seek(globalFrame int64) {
	r.LazyRandomize(globalFrame)
	r.cursor = globalFrame
}

// EndOfEpoch reports whether the epoch budget is exhausted.
func (r *Randomizer) EndOfEpoch() bool { return r.budget <= 0 }

// NextSequences returns up to count sequence references starting at the
// cursor and advances it. A batch never spans a sweep boundary: at the
// end of a sweep a short batch is returned and the next call
// re-randomizes for the following sweep.
//
// endOfEpoch is true once the epoch budget is exhausted; the final batch
// may be short. Subsequent calls return an empty batch.
func (r *Randomizer) NextSequences(count int) (refs []SequenceRef, endOfEpoch bool) {
	if count <= 0 || r.budget <= 0 {
		return nil, r.budget <= 0
	}
	offset := r.LazyRandomize(r.cursor)
	sweepBase := r.cursor - offset

	if r.mode == FrameMode {
		n := int64(count)
		if left := r.totalFrames - offset; n > left {
			n = left
		}
		if n > r.budget {
			n = r.budget
		}
		refs = make([]SequenceRef, n)
		copy(refs, r.frameRefs[offset:offset+n])
		for i := range refs {
			refs[i].GlobalStart += sweepBase
		}
		r.cursor += n
		r.budget -= n
		return refs, r.budget <= 0
	}

	// Utterance mode: serve whole utterances from the position covering
	// the cursor; the budget is still counted in frames.
	p := r.positionForOffset(offset)
	for len(refs) < count && p < len(r.refs) && r.budget > 0 {
		ref := r.refs[p]
		ref.GlobalStart += sweepBase
		refs = append(refs, ref)
		r.cursor = sweepBase + r.posStarts[p] + int64(ref.NumFrames)
		r.budget -= int64(ref.NumFrames)
		p++
	}
	return refs, r.budget <= 0
}

// ChunkResidency returns the half-open interval [begin, end) of
// randomized chunk ranks that must be paged in to serve the position at
// an absolute global frame. Both bounds are monotone non-decreasing as
// the frame advances within a sweep.
func (r *Randomizer) ChunkResidency(globalFrame int64) (begin, end int) {
	offset := r.LazyRandomize(globalFrame)
	p := r.positionForOffset(offset)
	def := r.definingChunk(p)
	c := &r.randomized[def]
	return c.windowBegin, c.windowEnd
}

// OriginalChunks translates a randomized-rank interval to the original
// chunk ids it covers, in rank order.
func (r *Randomizer) OriginalChunks(begin, end int) []int {
	ids := make([]int, 0, end-begin)
	for rank := begin; rank < end; rank++ {
		ids = append(ids, r.randomized[rank].original)
	}
	return ids
}
