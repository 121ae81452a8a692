package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haivivi/earshot/cmd/earshot/internal/cli"
	"github.com/haivivi/earshot/pkg/audio/feature"
	"github.com/haivivi/earshot/pkg/ctc"
	"github.com/haivivi/earshot/pkg/dataset"
	"github.com/haivivi/earshot/pkg/infer"
	"github.com/haivivi/earshot/pkg/storage"
)

var (
	evalManifest  string
	evalBatchSize int
	evalFormat    string
	evalOut       string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score the model against a labeled manifest",
	Long: `Evaluate transcription quality over a labeled dataset.

Each manifest record is featurized (through the feature cache when one
is configured), batched, run through the model, decoded, and scored as
character error rate against its reference text. Records with empty
references are counted but not scored.

Example:
  earshot eval -c earshot.yaml
  earshot eval --manifest data/test.jsonl --batch-size 32
  earshot eval --format json -o report.json`,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalManifest, "manifest", "", "manifest path within the dataset root (overrides config)")
	evalCmd.Flags().IntVar(&evalBatchSize, "batch-size", 0, "samples per inference batch (overrides config)")
	evalCmd.Flags().StringVar(&evalFormat, "format", "text", "output format (text, yaml, json)")
	evalCmd.Flags().StringVarP(&evalOut, "out", "o", "", "write the report to a file")
	rootCmd.AddCommand(evalCmd)
}

// evalReport is the machine-readable evaluation summary.
type evalReport struct {
	Samples     int     `json:"samples" yaml:"samples"`
	Scored      int     `json:"scored" yaml:"scored"`
	EmptyRefs   int     `json:"empty_refs" yaml:"empty_refs"`
	MeanCER     float64 `json:"mean_cer" yaml:"mean_cer"`
	SkippedRows int     `json:"skipped_rows" yaml:"skipped_rows"`
	Filtered    int     `json:"filtered_rows" yaml:"filtered_rows"`
	CacheHits   int64   `json:"cache_hits,omitempty" yaml:"cache_hits,omitempty"`
	CacheMisses int64   `json:"cache_misses,omitempty" yaml:"cache_misses,omitempty"`
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	manifest := cfg.Dataset.Manifest
	if evalManifest != "" {
		manifest = evalManifest
	}
	batchSize := cfg.Dataset.BatchSize
	if evalBatchSize > 0 {
		batchSize = evalBatchSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("interrupted, stopping evaluation")
		cancel()
	}()

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

	fs, err := storage.FromURL(cfg.Dataset.Root)
	if err != nil {
		return err
	}

	var opts []dataset.Option
	var cache *dataset.Cache
	if cfg.Cache.Dir != "" {
		cache, err = dataset.OpenCache(dataset.CacheOptions{Dir: cfg.Cache.Dir})
		if err != nil {
			return fmt.Errorf("open feature cache: %w", err)
		}
		defer cache.Close()
		opts = append(opts, dataset.WithCache(cache))
	}

	ds, err := dataset.Open(ctx, fs, manifest, tab, dataset.Config{
		Feature:  fc,
		Manifest: cfg.ManifestConfig(),
		Workers:  cfg.Dataset.Workers,
	}, opts...)
	if err != nil {
		return err
	}
	slog.Info("dataset loaded",
		"records", ds.Len(), "skipped", ds.Skipped(), "filtered", ds.Filtered())

	sess, err := infer.NewSession(model)
	if err != nil {
		return err
	}
	dec := ctc.NewGreedy(tab)
	dec.Blank = cfg.Vocab.Blank

	records := ds.Records()
	hyps := make([]string, 0, len(records))
	refs := make([]string, 0, len(records))
	for b, err := range ds.Batches(ctx, batchSize) {
		if err != nil {
			return fmt.Errorf("featurize: %w", err)
		}
		out, err := sess.Predict(ctx, &infer.Input{
			Features: b.Inputs,
			Batch:    b.Size,
			Freq:     b.Freq,
			Time:     b.MaxTime,
			Lengths:  b.InputLengths,
		})
		if err != nil {
			return fmt.Errorf("inference: %w", err)
		}
		res, err := dec.Decode(out.Probs, out.Batch, out.Time, out.Vocab, out.Lengths)
		if err != nil {
			return err
		}
		// Batches preserve manifest order, so batch row i lines up
		// with records[len(hyps)].
		for _, r := range res {
			hyps = append(hyps, r.Text)
			refs = append(refs, records[len(hyps)-1].Text)
		}
		slog.Debug("batch scored", "done", len(hyps), "total", len(records))
	}

	mean, emptyRefs, err := ctc.MeanCER(hyps, refs)
	if err != nil {
		return err
	}

	report := evalReport{
		Samples:     len(hyps),
		Scored:      len(hyps) - emptyRefs,
		EmptyRefs:   emptyRefs,
		MeanCER:     mean,
		SkippedRows: ds.Skipped(),
		Filtered:    ds.Filtered(),
	}
	if cache != nil {
		report.CacheHits, report.CacheMisses = cache.Stats()
	}

	if cli.OutputFormat(evalFormat) != cli.FormatText {
		return cli.Output(report, cli.OutputOptions{
			Format: cli.OutputFormat(evalFormat),
			File:   evalOut,
		})
	}

	rows := [][2]string{
		{"samples", fmt.Sprintf("%d", report.Samples)},
		{"scored", fmt.Sprintf("%d", report.Scored)},
		{"empty refs", fmt.Sprintf("%d", report.EmptyRefs)},
		{"mean CER", fmt.Sprintf("%.4f", report.MeanCER)},
		{"skipped rows", fmt.Sprintf("%d", report.SkippedRows)},
		{"filtered rows", fmt.Sprintf("%d", report.Filtered)},
	}
	if cache != nil {
		rows = append(rows, [2]string{
			"cache", fmt.Sprintf("%d hits / %d misses", report.CacheHits, report.CacheMisses),
		})
	}
	fmt.Print(cli.RenderReport(cli.NewStyles(cli.DefaultTheme), "Evaluation", rows))
	return nil
}
