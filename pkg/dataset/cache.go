package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/earshot/pkg/audio/feature"
)

// Cache memoizes extracted features so repeated runs over a corpus do
// not redo STFTs. Entries are keyed by source identity (path, size,
// mtime) plus the featurizer fingerprint; any change to the source file
// or the feature configuration leaves stale entries unreachable.
// Backed by BadgerDB.
type Cache struct {
	db     *badger.DB
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheOptions configures OpenCache.
type CacheOptions struct {
	// Dir is the directory for data files. Required unless InMemory.
	Dir string

	// InMemory runs the cache without disk persistence.
	// Useful for testing with a real badger engine.
	InMemory bool

	// Logger sets the badger logger. If nil, badger output is routed
	// through slog with info/debug suppressed.
	Logger badger.Logger
}

// OpenCache opens (or creates) a feature cache.
func OpenCache(opts CacheOptions) (*Cache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("dataset: CacheOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(badgerLogger{slog.Default()})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("dataset: open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// CacheKey identifies one featurized audio file.
type CacheKey struct {
	Path        string
	Size        int64
	ModTime     time.Time
	Fingerprint string
}

func (k CacheKey) encode() []byte {
	return fmt.Appendf(nil, "%s\x00%d\x00%d\x00%s",
		k.Path, k.Size, k.ModTime.UnixNano(), k.Fingerprint)
}

// Fingerprint renders every featurizer knob that affects output, so a
// configuration change invalidates cached entries.
func Fingerprint(cfg feature.Config) string {
	return fmt.Sprintf("%s|%d|%d|%d|%d|%d|%d|%g|%g|%g|%t|%g|%g",
		cfg.Transform, cfg.SampleRate, cfg.WindowSize, cfg.HopSize,
		cfg.FFTSize, cfg.NumMels, cfg.NumCoeffs, cfg.LowFreq, cfg.HighFreq,
		cfg.PreEmphasis, cfg.Normalize, cfg.Mean, cfg.Std)
}

// cachedMatrix is the msgpack value layout.
type cachedMatrix struct {
	Freq int       `msgpack:"freq"`
	Time int       `msgpack:"time"`
	Data []float32 `msgpack:"data"`
}

// Get returns the cached features for key, reporting whether an entry
// was found. A missing entry is not an error.
func (c *Cache) Get(_ context.Context, key CacheKey) (*feature.Matrix, bool, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.encode())
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dataset: cache get %s: %w", key.Path, err)
	}
	var cm cachedMatrix
	if err := msgpack.Unmarshal(val, &cm); err != nil {
		return nil, false, fmt.Errorf("dataset: decode cached features for %s: %w", key.Path, err)
	}
	if len(cm.Data) != cm.Freq*cm.Time {
		return nil, false, fmt.Errorf("dataset: cached features for %s are %dx%d with %d values",
			key.Path, cm.Freq, cm.Time, len(cm.Data))
	}
	c.hits.Add(1)
	return &feature.Matrix{Freq: cm.Freq, Time: cm.Time, Data: cm.Data}, true, nil
}

// Put stores features under key, overwriting any previous entry.
func (c *Cache) Put(_ context.Context, key CacheKey, m *feature.Matrix) error {
	val, err := msgpack.Marshal(&cachedMatrix{Freq: m.Freq, Time: m.Time, Data: m.Data})
	if err != nil {
		return fmt.Errorf("dataset: encode features for %s: %w", key.Path, err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key.encode(), val)
	})
	if err != nil {
		return fmt.Errorf("dataset: cache put %s: %w", key.Path, err)
	}
	return nil
}

// Stats reports lookup hits and misses since the cache was opened.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// badgerLogger routes badger output through slog, suppressing the
// chatty info and debug levels.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error("badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn("badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
