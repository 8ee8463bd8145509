package commands

import (
	"bufio"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samjabrahams/CNTK/pkg/corpus/indexcache"
	"github.com/samjabrahams/CNTK/pkg/htk"
)

var indexCacheDir string

var indexCmd = &cobra.Command{
	Use:   "index <script.scp>",
	Short: "Warm the archive index cache for a script file",
	Long: `Index probes every archive named by a script file and records its frame
count in the index cache, so later corpus enumerations skip the header
reads. Entries that carry an explicit frame range need no probing and
are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		cache, err := indexcache.Open(indexcache.Options{Dir: indexCacheDir})
		if err != nil {
			return err
		}
		defer cache.Close()

		ctx := cmd.Context()
		rc, err := store.Read(ctx, args[0])
		if err != nil {
			return err
		}
		defer rc.Close()

		reader := htk.NewReader(store)
		probed, cached, ranged := 0, 0, 0
		sc := bufio.NewScanner(rc)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			p, err := htk.ParsePath(line)
			if err != nil {
				return err
			}
			if p.NumFrames() >= 0 {
				ranged++
				continue
			}
			size, err := store.Size(ctx, p.Physical)
			if err != nil {
				return err
			}
			if _, ok := cache.Lookup(p.Physical, size); ok {
				cached++
				continue
			}
			info, err := reader.Info(ctx, p)
			if err != nil {
				return err
			}
			if err := cache.Store(p.Physical, size, info.NumFrames); err != nil {
				return err
			}
			probed++
		}
		if err := sc.Err(); err != nil {
			return err
		}
		slog.Info("index: cache warmed",
			"script", args[0], "probed", probed, "alreadyCached", cached, "rangedEntries", ranged)
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexCacheDir, "cache-dir", ".htkfeed-index", "index cache directory")
	rootCmd.AddCommand(indexCmd)
}
