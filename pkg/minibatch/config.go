// Package minibatch assembles the randomized sequence stream into dense
// column-major mini-batches for the trainer. It hosts the frame-mode
// packer, the paging driver that keeps the corpus residency aligned with
// the randomizer's chunk windows, and the epoch driver translating
// (epoch, worker rank) into a global-frame slice.
package minibatch

import (
	"errors"
	"fmt"

	"github.com/goccy/go-yaml"
)

// ErrConfig is returned for unsupported reader configurations. It is
// fatal at startup.
var ErrConfig = errors.New("minibatch: invalid configuration")

// BlockRandomizeName is the only supported randomizer selector.
const BlockRandomizeName = "blockRandomize"

// DefaultRandomizationWindow is 48 hours of audio at 100 frames per
// second.
const DefaultRandomizationWindow = 48 * 3600 * 100

// Stream types.
const (
	StreamReal     = "real"
	StreamCategory = "category"
)

// Minibatch modes.
const (
	ModePartial = "partial" // return the short final batch
	ModeFull    = "full"    // discard the short final batch
)

// Precisions.
const (
	PrecisionFloat  = "float"
	PrecisionDouble = "double"
)

// StreamConfig describes one stream delivered to the trainer.
type StreamConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // "real" or "category"
	Dim  int    `yaml:"dim"`

	// ContextWindow is (left, right) context in frames; real streams
	// only. (0,0) with a dim larger than the archive dimension selects
	// archive-native neighbor replication.
	ContextWindow [2]int `yaml:"contextWindow"`
}

// Config is the reader configuration.
type Config struct {
	Randomizer                 string         `yaml:"randomizer"`
	RandomizationWindow        int64          `yaml:"randomizationWindow"`
	FrameMode                  bool           `yaml:"frameMode"`
	NbrUttsInEachRecurrentIter []int          `yaml:"nbrUttsInEachRecurrentIter"`
	MinibatchMode              string         `yaml:"minibatchMode"`
	Precision                  string         `yaml:"precision"`
	Verbosity                  int            `yaml:"verbosity"`
	Streams                    []StreamConfig `yaml:"streams"`

	// FeatureScript is the store path of the script file listing one
	// archive entry per line (see htk.ParsePath).
	FeatureScript string `yaml:"features"`

	// LabelFiles are the store paths of the MLF label archives.
	LabelFiles []string `yaml:"labels"`

	// StateList is the store path of the state list file mapping state
	// names to class ids.
	StateList string `yaml:"stateList"`

	// Prefetch enables background paging of the next batch's chunk
	// window while the trainer consumes the current batch.
	Prefetch bool `yaml:"prefetch"`
}

// DefaultConfig returns the baseline configuration: block randomization
// over a 48-hour window, frame mode, partial minibatches, float
// precision.
func DefaultConfig() Config {
	return Config{
		Randomizer:                 BlockRandomizeName,
		RandomizationWindow:        DefaultRandomizationWindow,
		FrameMode:                  true,
		NbrUttsInEachRecurrentIter: []int{1},
		MinibatchMode:              ModePartial,
		Precision:                  PrecisionFloat,
	}
}

// ParseConfig decodes a YAML reader configuration over the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks everything that must be rejected at startup.
func (c *Config) Validate() error {
	if c.Randomizer != BlockRandomizeName {
		return fmt.Errorf("%w: randomizer must be %q, got %q", ErrConfig, BlockRandomizeName, c.Randomizer)
	}
	if !c.FrameMode {
		return fmt.Errorf("%w: frameMode must be true", ErrConfig)
	}
	if c.RandomizationWindow <= 0 {
		return fmt.Errorf("%w: randomizationWindow must be positive, got %d", ErrConfig, c.RandomizationWindow)
	}
	if len(c.NbrUttsInEachRecurrentIter) == 0 {
		return fmt.Errorf("%w: nbrUttsInEachRecurrentIter is empty", ErrConfig)
	}
	for e, n := range c.NbrUttsInEachRecurrentIter {
		if n != 1 {
			return fmt.Errorf("%w: nbrUttsInEachRecurrentIter[%d] = %d; frame mode requires 1", ErrConfig, e, n)
		}
	}
	switch c.MinibatchMode {
	case ModePartial, ModeFull:
	default:
		return fmt.Errorf("%w: minibatchMode must be %q or %q, got %q", ErrConfig, ModePartial, ModeFull, c.MinibatchMode)
	}
	switch c.Precision {
	case PrecisionFloat, PrecisionDouble:
	default:
		return fmt.Errorf("%w: precision must be %q or %q, got %q", ErrConfig, PrecisionFloat, PrecisionDouble, c.Precision)
	}
	if len(c.Streams) == 0 {
		return fmt.Errorf("%w: no streams configured", ErrConfig)
	}
	numReal, numCategory := 0, 0
	for _, s := range c.Streams {
		if s.Name == "" {
			return fmt.Errorf("%w: stream without a name", ErrConfig)
		}
		if s.Dim <= 0 {
			return fmt.Errorf("%w: stream %q has dimension %d", ErrConfig, s.Name, s.Dim)
		}
		switch s.Type {
		case StreamReal:
			numReal++
		case StreamCategory:
			numCategory++
			if s.ContextWindow != [2]int{} {
				return fmt.Errorf("%w: stream %q: context windows apply to real streams only", ErrConfig, s.Name)
			}
		default:
			return fmt.Errorf("%w: stream %q has type %q, want %q or %q",
				ErrConfig, s.Name, s.Type, StreamReal, StreamCategory)
		}
		if s.ContextWindow[0] < 0 || s.ContextWindow[1] < 0 {
			return fmt.Errorf("%w: stream %q has negative context window", ErrConfig, s.Name)
		}
	}
	if numReal != 1 {
		return fmt.Errorf("%w: exactly one real stream required, got %d", ErrConfig, numReal)
	}
	if numCategory > 1 {
		return fmt.Errorf("%w: at most one category stream supported, got %d", ErrConfig, numCategory)
	}
	return nil
}

// FeatureStream returns the real stream.
func (c *Config) FeatureStream() StreamConfig {
	for _, s := range c.Streams {
		if s.Type == StreamReal {
			return s
		}
	}
	panic("minibatch: validated config without a real stream")
}

// LabelStream returns the category stream and whether one is configured.
func (c *Config) LabelStream() (StreamConfig, bool) {
	for _, s := range c.Streams {
		if s.Type == StreamCategory {
			return s, true
		}
	}
	return StreamConfig{}, false
}
