package minibatch

import (
	"context"
	"log/slog"
	"sort"

	"github.com/samjabrahams/CNTK/pkg/randomizer"
)

// ChunkStore is the paging surface of the corpus the driver operates on.
// *corpus.Deserializer satisfies it.
type ChunkStore interface {
	RequireChunk(ctx context.Context, chunk int) error
	ReleaseChunk(chunk int) error
}

// Pager keeps the set of paged-in chunks aligned with the randomizer's
// residency windows. Before a batch is served it pages in the window
// union of the batch's positions and pages out everything that fell
// behind.
//
// With prefetch enabled, the chunks the next batch will add are paged in
// by a background worker while the trainer consumes the current batch;
// Ensure waits for the worker before any of those chunks is touched.
type Pager struct {
	corpus   ChunkStore
	rnd      *randomizer.Randomizer
	log      *slog.Logger
	prefetch bool

	resident map[int]bool // original chunk id -> paged in

	inflight    chan error
	inflightIDs []int
}

// NewPager creates a paging driver. log may be nil.
func NewPager(corpus ChunkStore, rnd *randomizer.Randomizer, prefetch bool, log *slog.Logger) *Pager {
	if log == nil {
		log = slog.Default()
	}
	return &Pager{
		corpus:   corpus,
		rnd:      rnd,
		log:      log,
		prefetch: prefetch,
		resident: make(map[int]bool),
	}
}

// window returns the original chunk ids required for the positions
// [startFrame, startFrame+frames), clamped to the sweep holding
// startFrame. Residency windows are monotone in position, so the union
// is the window of the first position joined with the window of the
// last.
func (p *Pager) window(startFrame, frames int64) []int {
	total := p.rnd.TotalFrames()
	sweepEnd := (startFrame/total + 1) * total
	last := startFrame + frames - 1
	if last >= sweepEnd {
		last = sweepEnd - 1
	}
	begin, _ := p.rnd.ChunkResidency(startFrame)
	_, end := p.rnd.ChunkResidency(last)
	return p.rnd.OriginalChunks(begin, end)
}

// Ensure pages in every chunk needed for the positions
// [startFrame, startFrame+frames) and pages out residents outside that
// window. It first drains any prefetch in flight.
func (p *Pager) Ensure(ctx context.Context, startFrame, frames int64) error {
	if err := p.drain(); err != nil {
		return err
	}
	next := p.window(startFrame, frames)
	inWindow := make(map[int]bool, len(next))
	for _, id := range next {
		inWindow[id] = true
	}

	// Release what fell out of the window, in stable order.
	var stale []int
	for id := range p.resident {
		if !inWindow[id] {
			stale = append(stale, id)
		}
	}
	sort.Ints(stale)
	for _, id := range stale {
		if err := p.corpus.ReleaseChunk(id); err != nil {
			return err
		}
		delete(p.resident, id)
	}

	// Page in the newcomers in window order.
	for _, id := range next {
		if p.resident[id] {
			continue
		}
		if err := p.corpus.RequireChunk(ctx, id); err != nil {
			return err
		}
		p.resident[id] = true
	}
	return nil
}

// Prefetch starts paging in, on a background worker, the chunks the
// positions [startFrame, startFrame+frames) will need beyond the current
// residents. No-op when prefetch is disabled or a worker is already
// running.
func (p *Pager) Prefetch(ctx context.Context, startFrame, frames int64) {
	if !p.prefetch || p.inflight != nil {
		return
	}
	if startFrame/p.rnd.TotalFrames() != p.rnd.Sweep() {
		// The next batch starts a new sweep; its windows are unknown
		// until re-randomization, which must not happen on a worker.
		return
	}
	var need []int
	for _, id := range p.window(startFrame, frames) {
		if !p.resident[id] {
			need = append(need, id)
		}
	}
	if len(need) == 0 {
		return
	}
	ch := make(chan error, 1)
	p.inflight = ch
	p.inflightIDs = need
	go func() {
		for _, id := range need {
			if err := p.corpus.RequireChunk(ctx, id); err != nil {
				ch <- err
				return
			}
		}
		ch <- nil
	}()
}

// drain waits for an in-flight prefetch and folds its result into the
// resident set.
func (p *Pager) drain() error {
	if p.inflight == nil {
		return nil
	}
	err := <-p.inflight
	if err == nil {
		for _, id := range p.inflightIDs {
			p.resident[id] = true
		}
	}
	p.inflight = nil
	p.inflightIDs = nil
	return err
}

// Reset releases every resident chunk, e.g. when a source is closed.
func (p *Pager) Reset() error {
	if err := p.drain(); err != nil {
		return err
	}
	var ids []int
	for id := range p.resident {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if err := p.corpus.ReleaseChunk(id); err != nil {
			return err
		}
		delete(p.resident, id)
	}
	return nil
}
