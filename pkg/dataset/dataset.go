// Package dataset turns a JSONL manifest of transcribed audio into
// padded feature batches ready for a model forward pass.
//
// A manifest line names one utterance:
//
//	{"audio_path": "clips/a.wav", "text": "你好", "duration": 1.92}
//
// Loading filters by duration (and optionally a jq predicate), then
// Batches walks the surviving records in manifest order: row i of a
// batch always corresponds to record batchStart+i, so predictions can
// be scored against references positionally.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/haivivi/earshot/pkg/audio/feature"
	"github.com/haivivi/earshot/pkg/audio/resampler"
	"github.com/haivivi/earshot/pkg/audio/wav"
	"github.com/haivivi/earshot/pkg/batch"
	"github.com/haivivi/earshot/pkg/storage"
	"github.com/haivivi/earshot/pkg/vocab"
)

// Config assembles a Dataset.
type Config struct {
	Feature  feature.Config
	Manifest ManifestConfig

	// Workers bounds concurrent featurization inside Batches.
	// Zero means runtime.NumCPU().
	Workers int
}

// Dataset binds a manifest to a store, a vocabulary, and a featurizer.
type Dataset struct {
	fs    storage.FileStore
	tab   *vocab.Table
	ex    *feature.Extractor
	cfg   Config
	fp    string
	cache *Cache
	log   *slog.Logger

	records  []Record
	skipped  int
	filtered int
}

// Option configures Open.
type Option func(*Dataset)

// WithCache attaches a feature cache. The dataset does not close it.
func WithCache(c *Cache) Option {
	return func(d *Dataset) { d.cache = c }
}

// WithLogger substitutes the logger used for skip warnings and cache
// trouble.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dataset) { d.log = log }
}

// Open loads the manifest at manifestPath from fs and prepares the
// pipeline. Manifest problems surface here, not at iteration time.
func Open(ctx context.Context, fs storage.FileStore, manifestPath string, tab *vocab.Table, cfg Config, opts ...Option) (*Dataset, error) {
	if fs == nil {
		return nil, errors.New("dataset: nil store")
	}
	if tab == nil {
		return nil, errors.New("dataset: nil vocabulary")
	}
	ex, err := feature.New(cfg.Feature)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	d := &Dataset{
		fs:  fs,
		tab: tab,
		ex:  ex,
		cfg: cfg,
		fp:  Fingerprint(ex.Config()),
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	m, err := LoadManifest(ctx, fs, manifestPath, cfg.Manifest, d.log)
	if err != nil {
		return nil, err
	}
	d.records = m.Records
	d.skipped = m.Skipped
	d.filtered = m.Filtered
	return d, nil
}

// Len reports the number of usable records.
func (d *Dataset) Len() int { return len(d.records) }

// Records exposes the usable records in manifest order.
func (d *Dataset) Records() []Record { return d.records }

// Skipped reports malformed manifest lines dropped during load.
func (d *Dataset) Skipped() int { return d.skipped }

// Filtered reports well-formed records dropped by the duration bounds
// or the Where predicate.
func (d *Dataset) Filtered() int { return d.filtered }

// FeatureDim reports the featurizer's output dimension F.
func (d *Dataset) FeatureDim() int { return d.ex.FeatureDim() }

// Sample loads, featurizes, and labels record i. Features come from
// the cache when a fresh entry exists.
func (d *Dataset) Sample(ctx context.Context, i int) (*batch.Sample, error) {
	if i < 0 || i >= len(d.records) {
		return nil, fmt.Errorf("dataset: sample %d out of range [0, %d)", i, len(d.records))
	}
	rec := d.records[i]
	m, err := d.features(ctx, rec.AudioPath)
	if err != nil {
		return nil, err
	}
	return &batch.Sample{Features: m, Labels: d.tab.Encode(rec.Text)}, nil
}

// Batches yields collated batches of up to size records, in manifest
// order. Featurization of a batch runs on up to Workers goroutines; a
// failed record stops the iteration with its error.
func (d *Dataset) Batches(ctx context.Context, size int) iter.Seq2[*batch.Batch, error] {
	return func(yield func(*batch.Batch, error) bool) {
		if size <= 0 {
			yield(nil, fmt.Errorf("dataset: batch size %d", size))
			return
		}
		for start := 0; start < len(d.records); start += size {
			end := min(start+size, len(d.records))
			samples := make([]batch.Sample, end-start)
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(d.cfg.Workers)
			for i := start; i < end; i++ {
				g.Go(func() error {
					s, err := d.Sample(gctx, i)
					if err != nil {
						return err
					}
					samples[i-start] = *s
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				yield(nil, err)
				return
			}
			b, err := batch.Collate(samples)
			if err != nil {
				yield(nil, fmt.Errorf("dataset: collate records %d-%d: %w", start, end-1, err))
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// features returns the feature matrix for one audio path, consulting
// the cache when present. Cache trouble degrades to recomputation.
func (d *Dataset) features(ctx context.Context, path string) (*feature.Matrix, error) {
	var key CacheKey
	if d.cache != nil {
		info, err := d.fs.Stat(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("dataset: stat %s: %w", path, err)
		}
		key = CacheKey{Path: path, Size: info.Size, ModTime: info.ModTime, Fingerprint: d.fp}
		m, ok, err := d.cache.Get(ctx, key)
		if err != nil {
			d.log.Warn("feature cache read failed", "path", path, "err", err)
		} else if ok {
			return m, nil
		}
	}
	m, err := d.extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		if err := d.cache.Put(ctx, key, m); err != nil {
			d.log.Warn("feature cache write failed", "path", path, "err", err)
		}
	}
	return m, nil
}

func (d *Dataset) extract(ctx context.Context, path string) (*feature.Matrix, error) {
	rc, err := d.fs.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer rc.Close()
	a, err := wav.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	a = a.Mono()
	samples := a.Samples
	if a.SampleRate != d.ex.SampleRate() {
		samples, err = resampler.Resample(samples, a.SampleRate, d.ex.SampleRate())
		if err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", path, err)
		}
	}
	m, err := d.ex.ExtractInt16(samples)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return m, nil
}
