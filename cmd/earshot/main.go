// Package main is the entry point for the earshot CLI.
//
// Usage:
//
//	earshot [flags] <command> [args]
//
// Commands:
//
//	transcribe - Transcribe a WAV file against a model backend
//	eval       - Score a model against a labeled manifest
//	serve      - Run the websocket streaming transcription server
//	stream     - Stream a WAV file to a server in real time
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/earshot/cmd/earshot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
