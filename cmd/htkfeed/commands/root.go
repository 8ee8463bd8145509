// Package commands implements the htkfeed command tree.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/samjabrahams/CNTK/pkg/storage"
)

var (
	// Global flags
	verbosity int
	storeRoot string
)

var rootCmd = &cobra.Command{
	Use:   "htkfeed",
	Short: "Speech corpus tooling for the mini-batch source",
	Long: `htkfeed - tooling around HTK feature corpora and the block-randomized
mini-batch source.

Corpus paths are resolved against --root on the local filesystem; the
--cache-dir directory is used as given. Corpora on
S3-compatible stores are handled by embedding the library; the CLI works
on local mirrors.

Examples:
  # Inspect archive headers
  htkfeed inspect corpus/utt001.fbank corpus/utt002.fbank

  # Extract 80-mel FBANK features from raw 44.1 kHz PCM (resampled to 16 kHz)
  htkfeed extract --input-rate 44100 speech.pcm corpus/utt001.fbank

  # Warm the archive index cache for a training script
  htkfeed index --cache-dir .htkfeed-index corpus/train.scp

  # Run one epoch of the reader and print throughput
  htkfeed dump --config reader.yaml --epoch 0 --mb-size 256`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0, "log verbosity (0=warn, 1=info, 2=debug)")
	rootCmd.PersistentFlags().StringVar(&storeRoot, "root", ".", "root directory for corpus paths")
}

func initLogging() {
	level := slog.LevelWarn
	switch {
	case verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// openStore opens the local file store rooted at --root.
func openStore() (*storage.Local, error) {
	return storage.NewLocal(storeRoot)
}
