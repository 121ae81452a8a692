package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/earshot/pkg/audio/feature"
	"github.com/haivivi/earshot/pkg/stream"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket streaming server",
	Long: `Run the real-time transcription server.

Clients connect over websocket, stream PCM16 audio in chunks, and
receive incremental transcripts. The model backend must support
chunked inference.

The listen address resolves in order: --addr flag, EARSHOT_ADDR,
config file, default :8070.

Example:
  earshot serve -c earshot.yaml
  EARSHOT_ADDR=:9000 earshot serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config and environment)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
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

	srv, err := stream.NewServer(model, tab, stream.Config{
		Addr:    cfg.Server.Addr,
		Path:    cfg.Server.Path,
		Feature: fc,
		Blank:   cfg.Vocab.Blank,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	slog.Info("server ready", "addr", srv.Addr(), "model", model.Info().Name)

	<-ctx.Done()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	return srv.Shutdown(shCtx)
}
