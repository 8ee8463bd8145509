package minibatch

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samjabrahams/CNTK/pkg/corpus"
	"github.com/samjabrahams/CNTK/pkg/corpus/indexcache"
	"github.com/samjabrahams/CNTK/pkg/mlf"
	"github.com/samjabrahams/CNTK/pkg/randomizer"
	"github.com/samjabrahams/CNTK/pkg/storage"
)

// Source is the assembled mini-batch source: label archive, chunked
// deserializer, block randomizer and packer wired from one configuration.
type Source struct {
	*Packer
	Corpus     *corpus.Deserializer
	Randomizer *randomizer.Randomizer
}

// SourceOptions carries the collaborators a Source is built over.
type SourceOptions struct {
	// Store holds archives, script files and label files. Required.
	Store storage.FileStore

	// Cache is an optional archive index cache.
	Cache *indexcache.Cache

	// Logger. Nil means slog.Default().
	Logger *slog.Logger
}

// OpenSource builds the full pipeline from a validated configuration:
// it loads the label archive, enumerates and chunks the corpus, and
// constructs the randomizer and packer.
func OpenSource(ctx context.Context, cfg Config, opts SourceOptions) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	entries, err := readScript(ctx, opts.Store, cfg.FeatureScript)
	if err != nil {
		return nil, err
	}

	var labels *mlf.Labels
	if _, ok := cfg.LabelStream(); ok {
		if len(cfg.LabelFiles) == 0 {
			return nil, fmt.Errorf("%w: a category stream is configured but labels: is empty", ErrConfig)
		}
		var states map[string]mlf.ClassID
		if cfg.StateList != "" {
			states, err = mlf.ReadStateList(ctx, opts.Store, cfg.StateList)
			if err != nil {
				return nil, err
			}
		}
		labels, err = mlf.Read(ctx, opts.Store, cfg.LabelFiles, mlf.Options{States: states, Logger: log})
		if err != nil {
			return nil, err
		}
	}

	feat := cfg.FeatureStream()
	c, err := corpus.New(ctx, corpus.Options{
		Store:        opts.Store,
		FeaturePaths: entries,
		Labels:       labels,
		FrameMode:    cfg.FrameMode,
		Dim:          feat.Dim,
		ContextLeft:  feat.ContextWindow[0],
		ContextRight: feat.ContextWindow[1],
		Cache:        opts.Cache,
		Logger:       log,
		Verbosity:    cfg.Verbosity,
	})
	if err != nil {
		return nil, err
	}
	if c.NumChunks() == 0 {
		return nil, fmt.Errorf("%w: corpus has no usable utterances", ErrConfig)
	}

	chunks := make([]randomizer.ChunkInfo, c.NumChunks())
	for i := range chunks {
		chunks[i] = randomizer.ChunkInfo{UtteranceFrames: c.ChunkUtteranceFrames(i)}
	}
	mode := randomizer.UtteranceMode
	if cfg.FrameMode {
		mode = randomizer.FrameMode
	}
	rnd, err := randomizer.New(randomizer.Options{
		Mode:      mode,
		Chunks:    chunks,
		Range:     cfg.RandomizationWindow,
		Verbosity: cfg.Verbosity,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	packer, err := NewPacker(cfg, c, rnd, log)
	if err != nil {
		return nil, err
	}
	return &Source{Packer: packer, Corpus: c, Randomizer: rnd}, nil
}

// readScript loads a feature script file: one archive entry per line,
// blank lines and '#' comments skipped.
func readScript(ctx context.Context, store storage.FileStore, path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: features: script path is empty", ErrConfig)
	}
	rc, err := store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("minibatch: open script %s: %w", path, err)
	}
	defer rc.Close()

	var entries []string
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("minibatch: read script %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: script %s lists no archives", ErrConfig, path)
	}
	return entries, nil
}
