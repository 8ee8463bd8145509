package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/samjabrahams/CNTK/pkg/fbank"
	"github.com/samjabrahams/CNTK/pkg/htk"
)

var (
	extractInputRate int
	extractDeltas    int
	extractCMVN      bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <input.pcm> <output>",
	Short: "Extract FBANK features from raw PCM into an archive",
	Long: `Extract reads raw mono 16-bit little-endian PCM, resamples it to the
front-end rate (16 kHz) when --input-rate differs, computes log mel
filterbank features (optionally with deltas and CMVN), and writes an HTK
parameter file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		rc, err := store.Read(ctx, args[0])
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}

		cfg := fbank.DefaultConfig()
		cfg.Deltas = extractDeltas

		samples := pcmToFloat32(raw)
		if extractInputRate != cfg.SampleRate {
			samples, err = resample(samples, extractInputRate, cfg.SampleRate)
			if err != nil {
				return err
			}
		}

		features := fbank.New(cfg).Extract(samples)
		if len(features) == 0 {
			return fmt.Errorf("extract: %s yields no frames (input shorter than one window)", args[0])
		}
		if extractCMVN {
			fbank.CMVN(features, cfg.Dim())
		}

		if err := htk.WriteArchive(ctx, store, args[1], cfg.ParmKind(), cfg.SamplePeriod(), cfg.Dim(), features); err != nil {
			return err
		}
		slog.Info("extract: archive written",
			"input", args[0], "output", args[1],
			"kind", htk.KindName(cfg.ParmKind()), "dim", cfg.Dim(),
			"frames", len(features)/cfg.Dim())
		return nil
	},
}

func init() {
	extractCmd.Flags().IntVar(&extractInputRate, "input-rate", 16000, "input sample rate in Hz")
	extractCmd.Flags().IntVar(&extractDeltas, "deltas", 0, "delta orders to append (0, 1 or 2)")
	extractCmd.Flags().BoolVar(&extractCMVN, "cmvn", false, "apply cepstral mean/variance normalization")
	rootCmd.AddCommand(extractCmd)
}

// pcmToFloat32 converts mono 16-bit little-endian PCM to [-1,1] floats.
func pcmToFloat32(raw []byte) []float32 {
	n := len(raw) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// resample converts mono samples between rates.
func resample(in []float32, srcRate, dstRate int) ([]float32, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("extract: create resampler: %w", err)
	}
	input := make([]float64, len(in))
	for i, v := range in {
		input[i] = float64(v)
	}
	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("extract: resample: %w", err)
	}
	out := make([]float32, len(output))
	for i, v := range output {
		out[i] = float32(v)
	}
	return out, nil
}
