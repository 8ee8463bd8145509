package minibatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samjabrahams/CNTK/pkg/corpus"
	"github.com/samjabrahams/CNTK/pkg/randomizer"
)

// EpochConfig selects the global-frame slice one worker serves for one
// epoch.
type EpochConfig struct {
	Epoch          int
	WorkerRank     int
	WorkerCount    int
	FramesPerEpoch int64
	MinibatchSize  int // frames per mini-batch
}

// Packer pulls sequence references from the randomizer and assembles
// dense column-major mini-batches.
//
// Buffers are owned by the packer, grow geometrically, never shrink
// during an epoch, and are reused: a Minibatch is valid until the next
// ReadMinibatch call.
type Packer struct {
	cfg    Config
	corpus *corpus.Deserializer
	rnd    *randomizer.Randomizer
	pager  *Pager
	log    *slog.Logger

	streams []StreamDescription
	labelID int // index into streams, -1 without labels
	elem    ElementType

	buffers [][]byte  // per stream, reused across batches
	sample  []float32 // GetSamples scratch

	mbSize  int
	numSeqs int // parallel sequences; 1 in frame mode
	partial bool
	started bool
}

// NewPacker wires a packer over a deserializer and randomizer built for
// the same corpus. The configuration must already be validated.
func NewPacker(cfg Config, c *corpus.Deserializer, rnd *randomizer.Randomizer, log *slog.Logger) (*Packer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Packer{
		cfg:     cfg,
		corpus:  c,
		rnd:     rnd,
		pager:   NewPager(c, rnd, cfg.Prefetch, log),
		log:     log,
		labelID: -1,
		partial: cfg.MinibatchMode == ModePartial,
	}
	if cfg.Precision == PrecisionDouble {
		p.elem = Float64
	}

	feat := cfg.FeatureStream()
	p.streams = append(p.streams, StreamDescription{
		ID:      0,
		Name:    feat.Name,
		Type:    StreamReal,
		Dim:     feat.Dim,
		Element: p.elem,
	})
	if label, ok := cfg.LabelStream(); ok {
		if !c.HasLabels() {
			return nil, fmt.Errorf("%w: stream %q is categorical but the corpus has no label archive", ErrConfig, label.Name)
		}
		if label.Dim != c.NumClasses() {
			return nil, fmt.Errorf("%w: stream %q has dimension %d, label archive has %d classes",
				ErrConfig, label.Name, label.Dim, c.NumClasses())
		}
		p.labelID = len(p.streams)
		p.streams = append(p.streams, StreamDescription{
			ID:      p.labelID,
			Name:    label.Name,
			Type:    StreamCategory,
			Dim:     label.Dim,
			Element: p.elem,
		})
	}
	p.buffers = make([][]byte, len(p.streams))
	return p, nil
}

// StreamDescriptions returns the streams every mini-batch will carry, in
// stream id order.
func (p *Packer) StreamDescriptions() []StreamDescription { return p.streams }

// StartEpoch positions the source at the slice of the randomized stream
// this worker serves: the epoch's base frame plus the worker's stride,
// with a budget of framesPerEpoch / workerCount frames.
func (p *Packer) StartEpoch(cfg EpochConfig) error {
	if cfg.WorkerCount <= 0 || cfg.WorkerRank < 0 || cfg.WorkerRank >= cfg.WorkerCount {
		return fmt.Errorf("%w: worker %d of %d", ErrConfig, cfg.WorkerRank, cfg.WorkerCount)
	}
	if cfg.FramesPerEpoch <= 0 {
		return fmt.Errorf("%w: framesPerEpoch = %d", ErrConfig, cfg.FramesPerEpoch)
	}
	if cfg.MinibatchSize <= 0 {
		return fmt.Errorf("%w: minibatchSize = %d", ErrConfig, cfg.MinibatchSize)
	}
	epochIdx := cfg.Epoch
	if epochIdx >= len(p.cfg.NbrUttsInEachRecurrentIter) {
		epochIdx = len(p.cfg.NbrUttsInEachRecurrentIter) - 1
	}
	p.numSeqs = p.cfg.NbrUttsInEachRecurrentIter[epochIdx]
	if p.numSeqs != 1 {
		return fmt.Errorf("%w: nbrUttsInEachRecurrentIter = %d; frame mode requires 1", ErrConfig, p.numSeqs)
	}

	slice := cfg.FramesPerEpoch / int64(cfg.WorkerCount)
	start := int64(cfg.Epoch)*cfg.FramesPerEpoch + int64(cfg.WorkerRank)*slice
	p.mbSize = cfg.MinibatchSize
	p.rnd.StartEpoch(start, slice)
	p.started = true
	p.log.Info("minibatch: epoch started",
		"epoch", cfg.Epoch, "worker", cfg.WorkerRank, "workers", cfg.WorkerCount,
		"startFrame", start, "budgetFrames", slice, "sweep", p.rnd.Sweep())
	return nil
}

// ReadMinibatch assembles the next mini-batch. A batch is topped up
// across sweep boundaries, so mid-epoch batches are always full;
// the final batch of the epoch may be short and is returned or dropped
// according to the minibatch mode. After the epoch budget is exhausted
// every call returns an empty batch with EndOfEpoch set.
func (p *Packer) ReadMinibatch(ctx context.Context) (Minibatch, error) {
	if !p.started {
		return Minibatch{}, fmt.Errorf("%w: ReadMinibatch before StartEpoch", ErrConfig)
	}
	if p.rnd.EndOfEpoch() {
		return Minibatch{EndOfEpoch: true, Layout: Layout{ParallelSequences: p.numSeqs}}, nil
	}

	refs := make([]randomizer.SequenceRef, 0, p.mbSize)
	endOfEpoch := false
	for len(refs) < p.mbSize {
		want := p.mbSize - len(refs)
		if err := p.pager.Ensure(ctx, p.rnd.Position(), int64(want)); err != nil {
			return Minibatch{}, err
		}
		batch, end := p.rnd.NextSequences(want)
		refs = append(refs, batch...)
		if end {
			endOfEpoch = true
			break
		}
		if len(batch) == 0 {
			break
		}
	}

	if len(refs) == 0 || (!p.partial && len(refs) < p.mbSize) {
		if n := len(refs); n > 0 && p.log.Enabled(ctx, slog.LevelDebug) {
			p.log.Debug("minibatch: dropping short final batch", "frames", n)
		}
		return Minibatch{EndOfEpoch: true, Layout: Layout{ParallelSequences: p.numSeqs}}, nil
	}

	mb, err := p.pack(refs)
	if err != nil {
		return Minibatch{}, err
	}
	mb.EndOfEpoch = endOfEpoch

	if !endOfEpoch {
		p.pager.Prefetch(ctx, p.rnd.Position(), int64(p.mbSize))
	}
	return mb, nil
}

// pack copies the referenced samples into the stream buffers.
func (p *Packer) pack(refs []randomizer.SequenceRef) (Minibatch, error) {
	timeSteps := len(refs)
	cols := timeSteps * p.numSeqs
	elemSize := p.elem.ByteSize()

	layout := Layout{
		ParallelSequences:  p.numSeqs,
		TimeSteps:          timeSteps,
		SequenceBoundaries: make([]int, timeSteps),
	}
	for k := range layout.SequenceBoundaries {
		layout.SequenceBoundaries[k] = k
	}

	mb := Minibatch{Layout: layout, Streams: make([]StreamMinibatch, len(p.streams))}
	for id, desc := range p.streams {
		need := desc.Dim * cols * elemSize
		if cap(p.buffers[id]) < need {
			p.buffers[id] = make([]byte, grow(need, cap(p.buffers[id])))
		}
		buf := p.buffers[id][:need]
		if desc.Type == StreamCategory {
			clear(buf)
		}
		mb.Streams[id] = StreamMinibatch{Stream: desc, Data: buf}
	}

	featDesc := p.streams[0]
	if p.sample == nil {
		p.sample = make([]float32, p.corpus.SampleDim())
	}
	for k, ref := range refs {
		orig := p.rnd.OriginalChunk(ref.ChunkIndex)
		col := k * p.numSeqs

		sample := p.corpus.GetSamples(orig, ref.UttIndex, ref.FrameIndex, p.sample)
		if len(sample) != featDesc.Dim {
			return Minibatch{}, fmt.Errorf("%w: corpus delivers %d-dim samples, stream %q wants %d",
				corpus.ErrFormatMismatch, len(sample), featDesc.Name, featDesc.Dim)
		}
		featBuf := mb.Streams[0].Data
		base := col * featDesc.Dim
		for i, v := range sample {
			putElement(featBuf, p.elem, base+i, v)
		}

		if p.labelID >= 0 {
			class := int(p.corpus.Label(orig, ref.UttIndex, ref.FrameIndex))
			labelBuf := mb.Streams[p.labelID].Data
			putElement(labelBuf, p.elem, col*p.streams[p.labelID].Dim+class, 1)
		}
	}
	return mb, nil
}

// Close releases every resident chunk.
func (p *Packer) Close() error { return p.pager.Reset() }

// grow doubles capacity until it covers need.
func grow(need, have int) int {
	if have == 0 {
		return need
	}
	for have < need {
		have *= 2
	}
	return have
}
