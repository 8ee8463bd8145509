package minibatch

import (
	"context"
	"sync"
	"testing"

	"github.com/samjabrahams/CNTK/pkg/randomizer"
)

// recordingStore records paging calls and the live resident set.
type recordingStore struct {
	mu       sync.Mutex
	requires map[int]int
	releases map[int]int
	resident map[int]bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		requires: make(map[int]int),
		releases: make(map[int]int),
		resident: make(map[int]bool),
	}
}

func (r *recordingStore) RequireChunk(_ context.Context, chunk int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.resident[chunk] {
		r.requires[chunk]++
		r.resident[chunk] = true
	}
	return nil
}

func (r *recordingStore) ReleaseChunk(chunk int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resident[chunk] {
		r.releases[chunk]++
		delete(r.resident, chunk)
	}
	return nil
}

func (r *recordingStore) isResident(chunk int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resident[chunk]
}

func TestPagerWindowWalk(t *testing.T) {
	ctx := context.Background()

	// 10 chunks of one 100-frame utterance; midpoints sit 100 frames
	// apart, so a half range of 200 puts three chunks in the leading
	// window.
	chunks := make([]randomizer.ChunkInfo, 10)
	for i := range chunks {
		chunks[i] = randomizer.ChunkInfo{UtteranceFrames: []int{100}}
	}
	rnd, err := randomizer.New(randomizer.Options{Mode: randomizer.FrameMode, Chunks: chunks, Range: 400})
	if err != nil {
		t.Fatal(err)
	}
	rnd.StartEpoch(0, rnd.TotalFrames())

	store := newRecordingStore()
	pager := NewPager(store, rnd, false, nil)

	const mbSize = 50
	if err := pager.Ensure(ctx, 0, mbSize); err != nil {
		t.Fatal(err)
	}
	// At position 0 the residency window is the first chunk's window:
	// ranks {0,1,2} translated to original ids.
	b, e := rnd.ChunkResidency(0)
	if b != 0 || e != 3 {
		t.Fatalf("initial residency = [%d,%d), want [0,3)", b, e)
	}
	for _, id := range rnd.OriginalChunks(b, e) {
		if !store.isResident(id) {
			t.Errorf("chunk %d in window but not required", id)
		}
	}
	if len(store.requires) != 3 {
		t.Errorf("%d chunks required at start, want 3", len(store.requires))
	}

	// Walk the sweep; every served position must hit a resident chunk.
	for !rnd.EndOfEpoch() {
		start := rnd.Position()
		if err := pager.Ensure(ctx, start, mbSize); err != nil {
			t.Fatal(err)
		}
		refs, _ := rnd.NextSequences(mbSize)
		for _, ref := range refs {
			orig := rnd.OriginalChunk(ref.ChunkIndex)
			if !store.isResident(orig) {
				t.Fatalf("position %d served from non-resident chunk %d", ref.GlobalStart, orig)
			}
		}
	}

	// Each chunk was paged in exactly once (windows are monotone) and
	// everything that left the window was released exactly once.
	for id := 0; id < 10; id++ {
		if store.requires[id] != 1 {
			t.Errorf("chunk %d required %d times, want 1", id, store.requires[id])
		}
		if n := store.releases[id]; n > 1 {
			t.Errorf("chunk %d released %d times", id, n)
		}
	}
	released := 0
	for range store.releases {
		released++
	}
	if released+len(store.resident) != 10 {
		t.Errorf("releases (%d) + resident (%d) != 10", released, len(store.resident))
	}
	// The trailing window is still resident; the earliest chunks are not.
	first := rnd.OriginalChunk(0)
	if store.isResident(first) {
		t.Errorf("rank-0 chunk %d still resident at sweep end", first)
	}

	if err := pager.Reset(); err != nil {
		t.Fatal(err)
	}
	for id := 0; id < 10; id++ {
		if store.isResident(id) {
			t.Errorf("chunk %d resident after Reset", id)
		}
	}
}

func TestPagerPrefetch(t *testing.T) {
	ctx := context.Background()
	chunks := make([]randomizer.ChunkInfo, 6)
	for i := range chunks {
		chunks[i] = randomizer.ChunkInfo{UtteranceFrames: []int{50}}
	}
	rnd, err := randomizer.New(randomizer.Options{Mode: randomizer.FrameMode, Chunks: chunks, Range: 150})
	if err != nil {
		t.Fatal(err)
	}
	rnd.StartEpoch(0, rnd.TotalFrames())

	store := newRecordingStore()
	pager := NewPager(store, rnd, true, nil)

	if err := pager.Ensure(ctx, 0, 25); err != nil {
		t.Fatal(err)
	}
	refs, _ := rnd.NextSequences(25)
	if len(refs) != 25 {
		t.Fatalf("got %d refs", len(refs))
	}
	// Positions [25,75) reach the second utterance, whose window adds
	// rank 2, so the prefetch starts a worker.
	pager.Prefetch(ctx, rnd.Position(), 50)

	// The next Ensure drains the worker; afterwards the window for the
	// next positions is fully resident.
	if err := pager.Ensure(ctx, rnd.Position(), 50); err != nil {
		t.Fatal(err)
	}
	b, e := rnd.ChunkResidency(rnd.Position())
	for _, id := range rnd.OriginalChunks(b, e) {
		if !store.isResident(id) {
			t.Errorf("chunk %d not resident after prefetch+ensure", id)
		}
	}
}
