// Package config loads the earshot CLI configuration.
//
// Configuration is a single YAML file:
//
//	model:
//	  endpoint: http://127.0.0.1:8060
//	feature:
//	  transform: spectrogram
//	  sample_rate: 16000
//	  window_size: 320
//	  hop_size: 160
//	  fft_size: 512
//	  normalize: true
//	vocab:
//	  path: vocab.json
//	dataset:
//	  root: data
//	  manifest: test.jsonl
//	  max_duration: 20
//	cache:
//	  dir: /var/cache/earshot
//	server:
//	  addr: :8070
//
// Every section has working defaults; an empty file is a valid
// configuration. Flags override file values, and EARSHOT_* environment
// variables override the model and server sections via ApplyEnv.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v9"
	"github.com/goccy/go-yaml"

	"github.com/haivivi/earshot/pkg/audio/feature"
	"github.com/haivivi/earshot/pkg/dataset"
)

const (
	// defaultDir is the directory name under the user home directory.
	defaultDir = ".earshot"

	// defaultFile is the default configuration filename.
	defaultFile = "config.yaml"
)

// Config is the root configuration.
type Config struct {
	Model   Model   `yaml:"model"`
	Feature Feature `yaml:"feature"`
	Vocab   Vocab   `yaml:"vocab"`
	Dataset Dataset `yaml:"dataset"`
	Cache   Cache   `yaml:"cache"`
	Server  Server  `yaml:"server"`

	// path is the file this configuration was loaded from, empty when
	// running on defaults.
	path string
}

// Model locates the acoustic-model backend.
type Model struct {
	// Endpoint is the base URL of the model sidecar.
	Endpoint string `yaml:"endpoint" env:"EARSHOT_MODEL_ENDPOINT"`
}

// Feature mirrors the front-end knobs of feature.Config in YAML form.
type Feature struct {
	Transform   string  `yaml:"transform"`
	SampleRate  int     `yaml:"sample_rate"`
	WindowSize  int     `yaml:"window_size"`
	HopSize     int     `yaml:"hop_size"`
	FFTSize     int     `yaml:"fft_size"`
	NumMels     int     `yaml:"num_mels,omitempty"`
	NumCoeffs   int     `yaml:"num_coeffs,omitempty"`
	PreEmphasis float64 `yaml:"pre_emphasis,omitempty"`
	Normalize   bool    `yaml:"normalize"`
	Mean        float32 `yaml:"mean,omitempty"`
	Std         float32 `yaml:"std,omitempty"`
}

// Vocab locates the symbol table.
type Vocab struct {
	// Path is a local path or s3:// URL of the vocabulary JSON file.
	Path string `yaml:"path"`

	// Blank is the CTC blank index.
	Blank int `yaml:"blank"`
}

// Dataset configures manifest evaluation.
type Dataset struct {
	// Root is the store holding the manifest and its audio: a local
	// directory or an s3:// URL.
	Root string `yaml:"root"`

	// Manifest is the JSONL manifest path within Root.
	Manifest string `yaml:"manifest"`

	MinDuration float64 `yaml:"min_duration,omitempty"`
	MaxDuration float64 `yaml:"max_duration,omitempty"`

	// Where is an optional jq filter over manifest records.
	Where string `yaml:"where,omitempty"`

	// Strict rejects manifests with malformed records instead of
	// skipping them.
	Strict bool `yaml:"strict,omitempty"`

	Workers   int `yaml:"workers,omitempty"`
	BatchSize int `yaml:"batch_size"`
}

// Cache configures the on-disk feature cache.
type Cache struct {
	// Dir is the badger directory; empty disables caching.
	Dir string `yaml:"dir,omitempty"`
}

// Server configures the streaming server.
type Server struct {
	Addr string `yaml:"addr" env:"EARSHOT_ADDR"`
	Path string `yaml:"path" env:"EARSHOT_PATH"`
}

// Default returns the configuration used when no file overrides it:
// the reference log-spectrogram front-end with its normalization
// constants, and a local sidecar endpoint.
func Default() *Config {
	fc := feature.DefaultSpectrogramConfig()
	return &Config{
		Model: Model{Endpoint: "http://127.0.0.1:8060"},
		Feature: Feature{
			Transform:  "spectrogram",
			SampleRate: fc.SampleRate,
			WindowSize: fc.WindowSize,
			HopSize:    fc.HopSize,
			FFTSize:    fc.FFTSize,
			Normalize:  true,
			Mean:       feature.DefaultMean,
			Std:        feature.DefaultStd,
		},
		Vocab: Vocab{Path: "vocab.json"},
		Dataset: Dataset{
			Root:      ".",
			Manifest:  "manifest.jsonl",
			BatchSize: 16,
		},
		Server: Server{
			Addr: ":8070",
			Path: "/v1/stream",
		},
	}
}

// Load reads the configuration. An empty path tries the default
// location (~/.earshot/config.yaml) and falls back to defaults when no
// file exists there; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, defaultDir, defaultFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Path returns the file this configuration came from, or "" when
// running on defaults.
func (c *Config) Path() string { return c.path }

// ApplyEnv overlays EARSHOT_* environment variables on the model and
// server sections.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(&c.Model); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	if err := env.Parse(&c.Server); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// FeatureConfig converts the feature section into an extractor
// configuration.
func (c *Config) FeatureConfig() (feature.Config, error) {
	tr, err := feature.ParseTransform(c.Feature.Transform)
	if err != nil {
		return feature.Config{}, err
	}
	return feature.Config{
		Transform:   tr,
		SampleRate:  c.Feature.SampleRate,
		WindowSize:  c.Feature.WindowSize,
		HopSize:     c.Feature.HopSize,
		FFTSize:     c.Feature.FFTSize,
		NumMels:     c.Feature.NumMels,
		NumCoeffs:   c.Feature.NumCoeffs,
		PreEmphasis: c.Feature.PreEmphasis,
		Normalize:   c.Feature.Normalize,
		Mean:        c.Feature.Mean,
		Std:         c.Feature.Std,
	}, nil
}

// ManifestConfig converts the dataset section into manifest loading
// options.
func (c *Config) ManifestConfig() dataset.ManifestConfig {
	return dataset.ManifestConfig{
		MinDuration: c.Dataset.MinDuration,
		MaxDuration: c.Dataset.MaxDuration,
		Where:       c.Dataset.Where,
		Strict:      c.Dataset.Strict,
	}
}
