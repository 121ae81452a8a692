package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/earshot/cmd/earshot/internal/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "earshot",
	Short: "Speech transcription against a model backend",
	Long: `earshot - speech transcription tooling.

The acoustic model runs out of process behind an HTTP backend; earshot
handles feature extraction, batching, streaming sessions and decoding.

Commands:
  transcribe  Transcribe a WAV file
  eval        Score the model against a labeled manifest
  serve       Run the websocket streaming server
  stream      Stream a WAV file to a server in real time
  version     Show version information

Configuration is a YAML file, by default ~/.earshot/config.yaml:

  model:
    endpoint: http://127.0.0.1:8060
  feature:
    transform: spectrogram
    normalize: true
  vocab:
    path: vocab.json

Examples:
  earshot transcribe -c earshot.yaml clip.wav
  earshot eval -c earshot.yaml --batch-size 32
  earshot serve -c earshot.yaml --addr :8070
  earshot stream --server ws://127.0.0.1:8070/v1/stream clip.wav`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// configLoadErr stores the error from config.Load() for deferred
// reporting, so commands that never touch the config still run.
var configLoadErr error

func initConfig() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the global configuration.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
