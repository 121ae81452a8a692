package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/itchyny/gojq"

	"github.com/haivivi/earshot/pkg/storage"
)

// Record is one manifest line: a transcribed utterance.
type Record struct {
	AudioPath string  `json:"audio_path"`
	Text      string  `json:"text"`
	Duration  float64 `json:"duration"`
}

// ManifestConfig controls manifest loading.
type ManifestConfig struct {
	// MinDuration and MaxDuration bound utterance length in seconds.
	// MaxDuration <= 0 disables the upper bound (the conventional -1
	// sentinel included).
	MinDuration float64
	MaxDuration float64

	// Where is an optional jq predicate evaluated per record, e.g.
	// `.duration < 10 and (.text | length) > 2`. Records whose first
	// result is false or null are dropped.
	Where string

	// Strict aborts on the first malformed line instead of skipping it,
	// and schema-checks every line so unknown fields become errors.
	Strict bool
}

// Manifest is the usable slice of one manifest file.
type Manifest struct {
	Records  []Record
	Skipped  int // malformed lines dropped (non-strict mode)
	Filtered int // well-formed records dropped by duration bounds or Where
}

// LoadManifest reads a JSONL manifest from fs. Malformed lines are
// skipped with a warning, or abort the load in strict mode; either way
// the error carries the line number.
func LoadManifest(ctx context.Context, fs storage.FileStore, path string, cfg ManifestConfig, log *slog.Logger) (*Manifest, error) {
	if log == nil {
		log = slog.Default()
	}
	var query *gojq.Query
	if cfg.Where != "" {
		q, err := gojq.Parse(cfg.Where)
		if err != nil {
			return nil, fmt.Errorf("dataset: parse where %q: %w", cfg.Where, err)
		}
		query = q
	}
	var schema *jsonschema.Resolved
	if cfg.Strict {
		s, err := recordSchema()
		if err != nil {
			return nil, fmt.Errorf("dataset: record schema: %w", err)
		}
		schema = s
	}

	r, err := fs.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open manifest: %w", err)
	}
	defer r.Close()

	m := &Manifest{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		rec, err := parseRecord([]byte(text), schema)
		if err != nil {
			if cfg.Strict {
				return nil, fmt.Errorf("dataset: %s:%d: %w", path, line, err)
			}
			log.Warn("skipping malformed manifest line",
				"manifest", path, "line", line, "err", err)
			m.Skipped++
			continue
		}
		keep, err := keepRecord(rec, cfg, query)
		if err != nil {
			return nil, fmt.Errorf("dataset: %s:%d: %w", path, line, err)
		}
		if !keep {
			m.Filtered++
			continue
		}
		m.Records = append(m.Records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read manifest: %w", err)
	}
	return m, nil
}

func parseRecord(data []byte, schema *jsonschema.Resolved) (Record, error) {
	if schema != nil {
		var loose map[string]any
		if err := json.Unmarshal(data, &loose); err != nil {
			return Record{}, err
		}
		if err := schema.Validate(loose); err != nil {
			return Record{}, err
		}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	if rec.AudioPath == "" {
		return Record{}, fmt.Errorf("missing audio_path")
	}
	if rec.Duration < 0 {
		return Record{}, fmt.Errorf("negative duration %v", rec.Duration)
	}
	return rec, nil
}

// recordSchema derives the strict-mode schema from Record itself, with
// additional properties forbidden via the false schema.
func recordSchema() (*jsonschema.Resolved, error) {
	s, err := jsonschema.For[Record](&jsonschema.ForOptions{})
	if err != nil {
		return nil, err
	}
	s.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	return s.Resolve(nil)
}

func keepRecord(rec Record, cfg ManifestConfig, query *gojq.Query) (bool, error) {
	if rec.Duration < cfg.MinDuration {
		return false, nil
	}
	if cfg.MaxDuration > 0 && rec.Duration > cfg.MaxDuration {
		return false, nil
	}
	if query == nil {
		return true, nil
	}
	it := query.Run(map[string]any{
		"audio_path": rec.AudioPath,
		"text":       rec.Text,
		"duration":   rec.Duration,
	})
	v, ok := it.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, fmt.Errorf("where %q: %w", cfg.Where, err)
	}
	return v != nil && v != false, nil
}
