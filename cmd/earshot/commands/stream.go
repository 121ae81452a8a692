package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/earshot/pkg/audio/wav"
	"github.com/haivivi/earshot/pkg/stream"
)

var (
	streamServer string
	streamPace   time.Duration
)

var streamCmd = &cobra.Command{
	Use:   "stream <wav-file>",
	Short: "Stream a WAV file to a server in real time",
	Long: `Stream a WAV file to a running earshot server, paced like live
capture, and print the transcript. Partial transcripts print as they
arrive in verbose mode.

Example:
  earshot stream --server ws://127.0.0.1:8070/v1/stream clip.wav
  earshot stream --pace 0 clip.wav   # send as fast as possible`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := wav.DecodeFile(args[0])
		if err != nil {
			return err
		}
		a = a.Mono()

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
		defer cancel()

		c, err := stream.Dial(ctx, streamServer, a.SampleRate)
		if err != nil {
			return err
		}
		defer c.Close()

		// Send in the background so partials print while audio is
		// still going out.
		sendErr := make(chan error, 1)
		go func() {
			sendErr <- sendPaced(c, a.Samples, a.SampleRate, streamPace)
		}()

		var final string
		for r, err := range c.Results() {
			if err != nil {
				return err
			}
			if r.IsFinal {
				final = r.Text
				break
			}
			if IsVerbose() && r.Text != "" {
				fmt.Printf("[partial] %s\n", r.Text)
			}
		}
		if err := <-sendErr; err != nil {
			return err
		}
		fmt.Println(final)
		return nil
	},
}

func init() {
	streamCmd.Flags().StringVar(&streamServer, "server", "ws://127.0.0.1:8070/v1/stream", "server websocket URL")
	streamCmd.Flags().DurationVar(&streamPace, "pace", 100*time.Millisecond, "interval between chunks; 0 sends without pacing")
	rootCmd.AddCommand(streamCmd)
}

// sendPaced streams samples in pace-sized chunks the way live capture
// would deliver them, then finishes the utterance.
func sendPaced(c *stream.Client, samples []int16, rate int, pace time.Duration) error {
	chunk := int(int64(rate) * int64(pace) / int64(time.Second))
	if chunk <= 0 {
		chunk = rate / 10
	}
	for i := 0; i < len(samples); i += chunk {
		end := min(i+chunk, len(samples))
		if err := c.Send(samples[i:end]); err != nil {
			return err
		}
		if end < len(samples) && pace > 0 {
			time.Sleep(pace)
		}
	}
	return c.Finish()
}
