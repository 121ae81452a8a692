package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/gorilla/websocket"
)

// Client streams audio to a transcription server and reads incremental
// results back.
type Client struct {
	ws        *websocket.Conn
	recvChan  chan *Result
	errChan   chan error
	closeChan chan struct{}
	closeOnce sync.Once
}

// Dial connects to a server and opens the first utterance at the given
// sample rate.
func Dial(ctx context.Context, url string, sampleRate int) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", url, err)
	}
	c := &Client{
		ws:        ws,
		recvChan:  make(chan *Result, 64),
		errChan:   make(chan error, 1),
		closeChan: make(chan struct{}),
	}
	if err := c.Start(sampleRate); err != nil {
		ws.Close()
		return nil, err
	}
	go c.receiveLoop()
	return c, nil
}

// Start opens an utterance. Dial sends the first start itself; call
// this only when beginning another utterance on the same connection.
func (c *Client) Start(sampleRate int) error {
	msg := control{Type: typeStart, SampleRate: sampleRate, Format: formatPCM16}
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("stream: send start: %w", err)
	}
	return nil
}

// Send streams one chunk of audio.
func (c *Client) Send(samples []int16) error {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, samplesToPCM(samples)); err != nil {
		return fmt.Errorf("stream: send audio: %w", err)
	}
	return nil
}

// Finish closes the current utterance; the server answers with its
// final result.
func (c *Client) Finish() error {
	if err := c.ws.WriteJSON(control{Type: typeFinish}); err != nil {
		return fmt.Errorf("stream: send finish: %w", err)
	}
	return nil
}

// Results yields transcription updates through the final one for the
// current utterance, or until an error ends the session. After Start,
// iterate again for the next utterance's results.
func (c *Client) Results() iter.Seq2[*Result, error] {
	return func(yield func(*Result, error) bool) {
		for {
			select {
			case r, ok := <-c.recvChan:
				if !ok {
					return
				}
				if !yield(r, nil) {
					return
				}
				if r.IsFinal {
					return
				}
			case err := <-c.errChan:
				yield(nil, err)
				return
			case <-c.closeChan:
				return
			}
		}
	}
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.ws.Close()
	})
	return nil
}

func (c *Client) receiveLoop() {
	defer close(c.recvChan)

	for {
		select {
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case c.errChan <- fmt.Errorf("stream: read: %w", err):
				default:
				}
			}
			return
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}
		switch probe.Type {
		case typeResult:
			var r Result
			if err := json.Unmarshal(data, &r); err != nil {
				continue
			}
			select {
			case c.recvChan <- &r:
			case <-c.closeChan:
				return
			}
		case typeError:
			var e serverError
			if err := json.Unmarshal(data, &e); err != nil {
				continue
			}
			select {
			case c.errChan <- &ServerError{Code: e.Code, Message: e.Message}:
			default:
			}
			return
		}
	}
}
