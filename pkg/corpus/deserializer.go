package corpus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/samjabrahams/CNTK/pkg/corpus/indexcache"
	"github.com/samjabrahams/CNTK/pkg/htk"
	"github.com/samjabrahams/CNTK/pkg/mlf"
	"github.com/samjabrahams/CNTK/pkg/storage"
)

// Utterance describes one enumerated utterance. Immutable after New.
type Utterance struct {
	ID           int      // enumeration order, stable
	Key          string   // logical path minus extension
	Path         htk.Path // archive location
	NumFrames    int      // 0 when invalid
	ChunkID      int      // owning chunk, -1 when invalid
	IndexInChunk int      // utterance index within the chunk
	FirstFrame   int      // first frame offset within the chunk matrix
	Valid        bool

	labels []mlf.ClassID // per-frame class ids, nil without a label archive
}

// SequenceDesc describes one sequence the deserializer can serve: a full
// utterance in utterance mode, a single frame in frame mode.
type SequenceDesc struct {
	ID        int // dense id in enumeration order
	ChunkID   int
	UttIndex  int // utterance index within the chunk
	Frame     int // frame index within the utterance (0 in utterance mode)
	NumFrames int // 1 in frame mode
}

// chunk groups consecutive utterances and owns their paged payload.
type chunk struct {
	utterances  []*Utterance
	firstFrames []int // [i] first frame of utterance i in the matrix
	totalFrames int

	frames []float32 // [dim x totalFrames] column-major; nil = paged out
}

func (c *chunk) pagedIn() bool { return c.frames != nil }

func (c *chunk) push(u *Utterance) {
	u.IndexInChunk = len(c.utterances)
	u.FirstFrame = c.totalFrames
	c.firstFrames = append(c.firstFrames, c.totalFrames)
	c.utterances = append(c.utterances, u)
	c.totalFrames += u.NumFrames
}

// Options configures a Deserializer.
type Options struct {
	// Store holds the feature archives. Required.
	Store storage.FileStore

	// FeaturePaths are script-file entries (see htk.ParsePath). Required.
	FeaturePaths []string

	// Labels is the loaded label archive. Optional; without it the
	// corpus serves features only.
	Labels *mlf.Labels

	// FrameMode selects per-frame sequence descriptors.
	FrameMode bool

	// Dim is the expected sample dimension delivered by GetSamples.
	// Zero means (1+left+right) * archive dimension. When set with a
	// zero context window, the context is derived from Dim by neighbor
	// replication (Dim must be an odd multiple of the archive dimension).
	Dim int

	// ContextLeft and ContextRight are the context window half-widths in
	// frames.
	ContextLeft, ContextRight int

	// Cache, when set, is consulted for per-archive frame counts so
	// enumeration can skip header probes for unchanged archives.
	Cache *indexcache.Cache

	// TargetFrames and MaxUtterances override the chunking limits.
	// Zero means ChunkTargetFrames and MaxChunkUtterances.
	TargetFrames  int
	MaxUtterances int

	// RetryDelay is the base pause between requireChunk attempts; the
	// pause after failed attempt k is k*RetryDelay. Zero means 100ms.
	RetryDelay time.Duration

	// Logger for enumeration and paging diagnostics. Nil means
	// slog.Default().
	Logger *slog.Logger

	// Verbosity controls paging log chatter.
	Verbosity int
}

// Stats counts paging activity, mostly for diagnostics and tests.
type Stats struct {
	RequireCalls    int // RequireChunk calls that found the chunk paged out
	RequireAttempts int // total read attempts including retries
	Releases        int // ReleaseChunk calls that found the chunk paged in
	ChunksInRAM     int
}

// Deserializer is the chunked corpus deserializer.
//
// It is driven by a single consumer; RequireChunk and ReleaseChunk on
// distinct chunks may additionally be called from one background prefetch
// worker, serialized per chunk by the caller.
type Deserializer struct {
	store  storage.FileStore
	reader *htk.Reader
	log    *slog.Logger

	frameMode   bool
	left, right int
	wantDim     int
	target      int
	maxUtts     int
	retryDelay  time.Duration
	verbosity   int

	utterances  []Utterance
	chunks      []chunk
	numClasses  int
	totalFrames int64

	// Feature format, discovered on first RequireChunk, immutable after.
	featKind     string
	featDim      int
	samplePeriod uint32

	stats Stats
}

// New enumerates the corpus and partitions it into chunks. Payloads are
// not read; the corpus starts fully paged out.
func New(ctx context.Context, opts Options) (*Deserializer, error) {
	if opts.Store == nil {
		return nil, errors.New("corpus: Options.Store is required")
	}
	if len(opts.FeaturePaths) == 0 {
		return nil, errors.New("corpus: Options.FeaturePaths is empty")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	d := &Deserializer{
		store:      opts.Store,
		reader:     htk.NewReader(opts.Store),
		log:        log,
		frameMode:  opts.FrameMode,
		left:       opts.ContextLeft,
		right:      opts.ContextRight,
		wantDim:    opts.Dim,
		target:     opts.TargetFrames,
		maxUtts:    opts.MaxUtterances,
		retryDelay: opts.RetryDelay,
		verbosity:  opts.Verbosity,
	}
	if d.target <= 0 {
		d.target = ChunkTargetFrames
	}
	if d.maxUtts <= 0 {
		d.maxUtts = MaxChunkUtterances
	}
	if d.retryDelay <= 0 {
		d.retryDelay = 100 * time.Millisecond
	}
	if opts.Labels != nil {
		d.numClasses = opts.Labels.NumClasses()
	}
	if err := d.enumerate(ctx, opts); err != nil {
		return nil, err
	}
	d.partition()
	log.Info("corpus: enumerated",
		"utterances", len(d.utterances),
		"chunks", len(d.chunks),
		"totalFrames", d.totalFrames)
	return d, nil
}

// enumerate parses every script entry, resolves frame counts and labels,
// and drops utterances that cannot be served.
func (d *Deserializer) enumerate(ctx context.Context, opts Options) error {
	d.utterances = make([]Utterance, 0, len(opts.FeaturePaths))
	for i, entry := range opts.FeaturePaths {
		p, err := htk.ParsePath(entry)
		if err != nil {
			return err
		}
		u := Utterance{ID: i, Key: p.Key(), Path: p, ChunkID: -1}

		n := p.NumFrames()
		if n < 0 {
			n, err = d.archiveFrames(ctx, opts.Cache, p.Physical)
			if err != nil {
				return err
			}
		}
		u.NumFrames = int(n)

		switch {
		case u.NumFrames < MinUtteranceFrames:
			d.log.Warn("corpus: skipping short utterance",
				"key", u.Key, "frames", u.NumFrames)
			u.NumFrames = 0
		case opts.Labels != nil:
			labels, ok := opts.Labels.Frames(u.Key)
			if !ok {
				d.log.Warn("corpus: skipping unlabeled utterance", "key", u.Key)
				u.NumFrames = 0
			} else if len(labels) != u.NumFrames {
				d.log.Warn("corpus: skipping utterance with label length mismatch",
					"key", u.Key, "featureFrames", u.NumFrames, "labelFrames", len(labels))
				u.NumFrames = 0
			} else {
				u.labels = labels
				u.Valid = true
			}
		default:
			u.Valid = true
		}
		d.utterances = append(d.utterances, u)
	}
	return nil
}

// archiveFrames returns the whole-archive frame count, via the index cache
// when possible.
func (d *Deserializer) archiveFrames(ctx context.Context, cache *indexcache.Cache, physical string) (int64, error) {
	var size int64 = -1
	if cache != nil {
		var err error
		size, err = d.store.Size(ctx, physical)
		if err != nil {
			return 0, fmt.Errorf("corpus: stat %s: %w", physical, err)
		}
		if n, ok := cache.Lookup(physical, size); ok {
			return n, nil
		}
	}
	info, err := d.reader.Info(ctx, htk.Path{Logical: physical, Physical: physical, First: -1, Last: -1})
	if err != nil {
		return 0, err
	}
	if cache != nil {
		if err := cache.Store(physical, size, info.NumFrames); err != nil {
			d.log.Warn("corpus: index cache store failed", "path", physical, "error", err)
		}
	}
	return info.NumFrames, nil
}

// partition distributes valid utterances over chunks: a chunk closes once
// it meets the frame target or the utterance cap.
func (d *Deserializer) partition() {
	for i := range d.utterances {
		u := &d.utterances[i]
		if !u.Valid {
			continue
		}
		if len(d.chunks) == 0 || d.chunkFull(&d.chunks[len(d.chunks)-1]) {
			d.chunks = append(d.chunks, chunk{})
		}
		u.ChunkID = len(d.chunks) - 1
		d.chunks[u.ChunkID].push(u)
		d.totalFrames += int64(u.NumFrames)
	}
}

func (d *Deserializer) chunkFull(c *chunk) bool {
	return c.totalFrames >= d.target || len(c.utterances) >= d.maxUtts
}

// Sequences returns a lazy enumeration of the sequence descriptors this
// corpus serves: one per frame in frame mode, one per utterance otherwise.
// Invalid utterances are not emitted.
func (d *Deserializer) Sequences() iter.Seq[SequenceDesc] {
	return func(yield func(SequenceDesc) bool) {
		id := 0
		for ci := range d.chunks {
			c := &d.chunks[ci]
			for ui, u := range c.utterances {
				if d.frameMode {
					for f := 0; f < u.NumFrames; f++ {
						if !yield(SequenceDesc{ID: id, ChunkID: ci, UttIndex: ui, Frame: f, NumFrames: 1}) {
							return
						}
						id++
					}
				} else {
					if !yield(SequenceDesc{ID: id, ChunkID: ci, UttIndex: ui, NumFrames: u.NumFrames}) {
						return
					}
					id++
				}
			}
		}
	}
}

// NumChunks returns the number of chunks.
func (d *Deserializer) NumChunks() int { return len(d.chunks) }

// TotalFrames returns the summed frame count of all valid utterances.
func (d *Deserializer) TotalFrames() int64 { return d.totalFrames }

// NumUtterances returns the number of valid utterances.
func (d *Deserializer) NumUtterances() int {
	n := 0
	for i := range d.chunks {
		n += len(d.chunks[i].utterances)
	}
	return n
}

// ChunkFrames returns the total frame count of chunk i.
func (d *Deserializer) ChunkFrames(i int) int { return d.chunks[i].totalFrames }

// ChunkUtteranceFrames returns the per-utterance frame counts of chunk i.
func (d *Deserializer) ChunkUtteranceFrames(i int) []int {
	c := &d.chunks[i]
	frames := make([]int, len(c.utterances))
	for j, u := range c.utterances {
		frames[j] = u.NumFrames
	}
	return frames
}

// Utterances returns all enumerated utterances, including dropped ones.
func (d *Deserializer) Utterances() []Utterance { return d.utterances }

// NumClasses returns the label inventory size, 0 without labels.
func (d *Deserializer) NumClasses() int { return d.numClasses }

// Stats returns a snapshot of paging counters.
func (d *Deserializer) Stats() Stats { return d.stats }

// StartEpoch is part of the deserializer contract but carries no state;
// paging is driven from the randomizer side.
func (d *Deserializer) StartEpoch() {}
