package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samjabrahams/CNTK/pkg/htk"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <entry>...",
	Short: "Print feature archive headers",
	Long: `Inspect reads the header of each archive entry and prints the feature
kind, dimension, frame shift and frame count. Entries use script-file
syntax, so aliased ranges like utt1.fbank=block3.chunk[120,219] work.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		reader := htk.NewReader(store)
		for _, entry := range args {
			p, err := htk.ParsePath(entry)
			if err != nil {
				return err
			}
			info, err := reader.Info(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Printf("%s\tkind=%s dim=%d frameShift=%.1fms frames=%d\n",
				p.Key(), info.Kind, info.Dim, float64(info.SamplePeriod)/1e4, info.NumFrames)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
