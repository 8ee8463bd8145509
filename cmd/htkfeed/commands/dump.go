package commands

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/samjabrahams/CNTK/pkg/corpus/indexcache"
	"github.com/samjabrahams/CNTK/pkg/minibatch"
)

var (
	dumpConfigPath string
	dumpEpoch      int
	dumpMBSize     int
	dumpEpochSize  int64
	dumpWorker     int
	dumpWorkers    int
	dumpCacheDir   string
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Drive the mini-batch source and report epoch statistics",
	Long: `Dump builds the full pipeline from a reader configuration, runs one
epoch worth of mini-batches, and reports throughput and paging counters.
It exercises exactly the code path a trainer drives, without a trainer.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore()
		if err != nil {
			return err
		}

		rc, err := store.Read(ctx, dumpConfigPath)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		cfg, err := minibatch.ParseConfig(data)
		if err != nil {
			return err
		}
		cfg.Verbosity = verbosity

		opts := minibatch.SourceOptions{Store: store}
		if dumpCacheDir != "" {
			cache, err := indexcache.Open(indexcache.Options{Dir: dumpCacheDir})
			if err != nil {
				return err
			}
			defer cache.Close()
			opts.Cache = cache
		}

		src, err := minibatch.OpenSource(ctx, cfg, opts)
		if err != nil {
			return err
		}
		defer src.Close()

		epochSize := dumpEpochSize
		if epochSize <= 0 {
			epochSize = src.Randomizer.TotalFrames()
		}
		log := slog.With("run", uuid.NewString()[:8])
		log.Info("dump: starting epoch",
			"epoch", dumpEpoch, "worker", dumpWorker, "workers", dumpWorkers,
			"framesPerEpoch", epochSize, "mbSize", dumpMBSize,
			"chunks", src.Corpus.NumChunks(), "utterances", src.Corpus.NumUtterances())

		if err := src.StartEpoch(minibatch.EpochConfig{
			Epoch:          dumpEpoch,
			WorkerRank:     dumpWorker,
			WorkerCount:    dumpWorkers,
			FramesPerEpoch: epochSize,
			MinibatchSize:  dumpMBSize,
		}); err != nil {
			return err
		}

		start := time.Now()
		var batches, frames int64
		for {
			mb, err := src.ReadMinibatch(ctx)
			if err != nil {
				return err
			}
			if !mb.Empty() {
				batches++
				frames += int64(mb.Layout.TimeSteps)
			}
			if mb.EndOfEpoch {
				break
			}
		}
		elapsed := time.Since(start)
		stats := src.Corpus.Stats()

		fmt.Printf("epoch %d worker %d/%d: %d minibatches, %d frames in %s (%.0f frames/s)\n",
			dumpEpoch, dumpWorker, dumpWorkers, batches, frames,
			elapsed.Round(time.Millisecond), float64(frames)/elapsed.Seconds())
		fmt.Printf("paging: %d chunk loads (%d read attempts), %d releases, %d resident at end\n",
			stats.RequireCalls, stats.RequireAttempts, stats.Releases, stats.ChunksInRAM)
		return nil
	},
}

func init() {
	dumpCmd.Flags().StringVar(&dumpConfigPath, "config", "reader.yaml", "reader configuration file")
	dumpCmd.Flags().IntVar(&dumpEpoch, "epoch", 0, "epoch index")
	dumpCmd.Flags().IntVar(&dumpMBSize, "mb-size", 256, "minibatch size in frames")
	dumpCmd.Flags().Int64Var(&dumpEpochSize, "epoch-size", 0, "frames per epoch (0 = one sweep)")
	dumpCmd.Flags().IntVar(&dumpWorker, "worker", 0, "worker rank")
	dumpCmd.Flags().IntVar(&dumpWorkers, "workers", 1, "worker count")
	dumpCmd.Flags().StringVar(&dumpCacheDir, "cache-dir", "", "index cache directory (empty = disabled)")
	rootCmd.AddCommand(dumpCmd)
}
