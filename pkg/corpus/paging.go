package corpus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RequireChunk pages chunk i in. It blocks on archive I/O, retries
// transient failures up to 5 attempts with a blocking backoff, and is
// idempotent: a paged-in chunk returns immediately.
//
// The first chunk ever paged in locks the corpus to the feature kind,
// dimension and sample period its archives report; later chunks whose
// archives disagree fail with ErrFormatMismatch.
func (d *Deserializer) RequireChunk(ctx context.Context, i int) error {
	if i < 0 || i >= len(d.chunks) {
		return fmt.Errorf("%w: chunk %d of %d", ErrInvalidState, i, len(d.chunks))
	}
	c := &d.chunks[i]
	if c.pagedIn() {
		return nil
	}
	d.stats.RequireCalls++

	var lastErr error
	for attempt := 1; attempt <= requireAttempts; attempt++ {
		d.stats.RequireAttempts++
		err := d.requireData(ctx, i, c)
		if err == nil {
			d.stats.ChunksInRAM++
			if d.verbosity >= 2 {
				d.log.Debug("corpus: chunk paged in",
					"chunk", i, "utterances", len(c.utterances), "frames", c.totalFrames,
					"attempt", attempt)
			}
			return nil
		}
		// Format disagreements and cancellation are not transient.
		if errors.Is(err, ErrFormatMismatch) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if attempt < requireAttempts {
			d.log.Warn("corpus: chunk read failed, retrying",
				"chunk", i, "attempt", attempt, "error", err)
			time.Sleep(d.retryDelay * time.Duration(attempt))
		}
	}
	return fmt.Errorf("%w: chunk %d after %d attempts: %v", ErrIO, i, requireAttempts, lastErr)
}

// requireData reads the chunk's frame matrix. On failure the chunk is
// rolled back to paged-out so a retry starts clean.
func (d *Deserializer) requireData(ctx context.Context, ci int, c *chunk) (err error) {
	defer func() {
		if err != nil {
			c.frames = nil
		}
	}()

	if d.featDim == 0 {
		// First read ever: the first utterance's archive decides the
		// feature format for the whole corpus.
		info, ierr := d.reader.Info(ctx, c.utterances[0].Path)
		if ierr != nil {
			return ierr
		}
		d.featKind = info.Kind
		d.featDim = info.Dim
		d.samplePeriod = info.SamplePeriod
		d.log.Info("corpus: determined feature format",
			"kind", d.featKind, "dim", d.featDim,
			"frameShiftMs", float64(d.samplePeriod)/1e4)
		if err := d.resolveContext(); err != nil {
			return err
		}
	}

	c.frames = make([]float32, d.featDim*c.totalFrames)
	for ui, u := range c.utterances {
		info, ierr := d.reader.Info(ctx, u.Path)
		if ierr != nil {
			return ierr
		}
		if info.Kind != d.featKind || info.Dim != d.featDim || info.SamplePeriod != d.samplePeriod {
			return fmt.Errorf("%w: %s reports %s/%d/%d, corpus is %s/%d/%d",
				ErrFormatMismatch, u.Path.Physical,
				info.Kind, info.Dim, info.SamplePeriod,
				d.featKind, d.featDim, d.samplePeriod)
		}
		dst := c.frames[d.featDim*c.firstFrames[ui] : d.featDim*(c.firstFrames[ui]+u.NumFrames)]
		if rerr := d.reader.ReadFrames(ctx, u.Path, 0, int64(u.NumFrames), d.featDim, dst); rerr != nil {
			return rerr
		}
	}
	if d.verbosity >= 1 {
		d.log.Debug("corpus: utterances read", "chunk", ci, "count", len(c.utterances))
	}
	return nil
}

// ReleaseChunk pages chunk i out. Releasing a paged-out chunk is a no-op;
// only a chunk index that was never enumerated is an error.
func (d *Deserializer) ReleaseChunk(i int) error {
	if i < 0 || i >= len(d.chunks) {
		return fmt.Errorf("%w: chunk %d of %d", ErrInvalidState, i, len(d.chunks))
	}
	c := &d.chunks[i]
	if !c.pagedIn() {
		return nil
	}
	c.frames = nil
	d.stats.Releases++
	d.stats.ChunksInRAM--
	if d.verbosity >= 2 {
		d.log.Debug("corpus: chunk paged out", "chunk", i)
	}
	return nil
}

// PagedIn reports whether chunk i currently holds its payload.
func (d *Deserializer) PagedIn(i int) bool {
	return i >= 0 && i < len(d.chunks) && d.chunks[i].pagedIn()
}
