// Package stream carries real-time transcription over a websocket.
//
// The client opens an utterance with a JSON control message
//
//	{"type": "start", "sample_rate": 16000, "format": "pcm16"}
//
// then sends audio as binary frames of little-endian PCM16 and ends
// with {"type": "finish"}. The server answers each decoded chunk with
//
//	{"type": "result", "session_id": "...", "text": "...", "is_final": false}
//
// and a final result after finish. Errors arrive as
// {"type": "error", "code": "...", "message": "..."} and close the
// connection. A connection can carry any number of utterances in
// sequence; each starts fresh.
package stream

import (
	"encoding/binary"
	"fmt"
)

const (
	typeStart  = "start"
	typeFinish = "finish"
	typeResult = "result"
	typeError  = "error"

	formatPCM16 = "pcm16"
)

// control is a client-to-server JSON message.
type control struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Format     string `json:"format,omitempty"`
}

// Result is one transcription update. Text is the full utterance
// transcript so far, not a delta.
type Result struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"`
}

// serverError is the wire form of a fatal session error.
type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerError is an error the remote side reported before closing.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("stream: server error %s: %s", e.Code, e.Message)
}

// pcmToSamples decodes little-endian PCM16 audio.
func pcmToSamples(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("stream: PCM payload of %d bytes is not sample-aligned", len(b))
	}
	s := make([]int16, len(b)/2)
	for i := range s {
		s[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return s, nil
}

// samplesToPCM encodes samples as little-endian PCM16.
func samplesToPCM(s []int16) []byte {
	b := make([]byte, 2*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}
