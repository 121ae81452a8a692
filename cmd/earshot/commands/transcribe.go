package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/earshot/cmd/earshot/internal/cli"
	"github.com/haivivi/earshot/pkg/audio/feature"
	"github.com/haivivi/earshot/pkg/ctc"
	"github.com/haivivi/earshot/pkg/infer"
)

var (
	transcribeFormat string
	transcribeOut    string
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <wav-file>",
	Short: "Transcribe a WAV file",
	Long: `Transcribe a WAV file against the configured model backend.

The file is featurized with the configured front-end, run through the
model in one pass, and greedy-decoded with the configured vocabulary.
Audio at other sample rates is resampled first.

Example:
  earshot transcribe -c earshot.yaml clip.wav
  earshot transcribe --format json -o result.json clip.wav`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if err := cfg.ApplyEnv(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		fc, err := cfg.FeatureConfig()
		if err != nil {
			return err
		}
		ex, err := feature.New(fc)
		if err != nil {
			return err
		}
		tab, err := openVocab(ctx, cfg.Vocab.Path)
		if err != nil {
			return err
		}
		model, err := dialModel(ctx, cfg, ex, tab)
		if err != nil {
			return err
		}

		slog.Debug("extracting features", "file", args[0])
		m, err := ex.ExtractFile(args[0])
		if err != nil {
			return err
		}
		slog.Debug("features ready", "freq", m.Freq, "frames", m.Time)

		sess, err := infer.NewSession(model)
		if err != nil {
			return err
		}
		out, err := sess.Predict(ctx, &infer.Input{
			Features: m.Data,
			Batch:    1,
			Freq:     m.Freq,
			Time:     m.Time,
			Lengths:  []int{m.Time},
		})
		if err != nil {
			return fmt.Errorf("inference: %w", err)
		}

		dec := ctc.NewGreedy(tab)
		dec.Blank = cfg.Vocab.Blank
		res, err := dec.Decode(out.Probs, out.Batch, out.Time, out.Vocab, out.Lengths)
		if err != nil {
			return err
		}

		text := res[0].Text
		if cli.OutputFormat(transcribeFormat) == cli.FormatText {
			fmt.Println(text)
			return nil
		}
		return cli.Output(map[string]any{
			"file":   args[0],
			"text":   text,
			"frames": m.Time,
		}, cli.OutputOptions{
			Format: cli.OutputFormat(transcribeFormat),
			File:   transcribeOut,
		})
	},
}

func init() {
	transcribeCmd.Flags().StringVar(&transcribeFormat, "format", "text", "output format (text, yaml, json)")
	transcribeCmd.Flags().StringVarP(&transcribeOut, "out", "o", "", "write output to a file")
	rootCmd.AddCommand(transcribeCmd)
}
