package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haivivi/earshot/pkg/audio/feature"
	"github.com/haivivi/earshot/pkg/audio/resampler"
	"github.com/haivivi/earshot/pkg/ctc"
	"github.com/haivivi/earshot/pkg/infer"
	"github.com/haivivi/earshot/pkg/vocab"
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. ":8070". Use "127.0.0.1:0" in
	// tests and read the bound address back from Addr().
	Addr string

	// Path is the websocket endpoint path. Default "/v1/stream".
	Path string

	// Feature configures the featurizer every connection shares.
	Feature feature.Config

	// Blank is the CTC blank index.
	Blank int
}

// Server accepts websocket connections and transcribes the audio they
// stream. Each connection gets its own inference session and feature
// streamer; the model and featurizer are shared.
type Server struct {
	cfg       Config
	model     infer.Model
	vocabSize int
	ex        *feature.Extractor
	dec       *ctc.Greedy
	log       *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	ln       net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

// Option configures NewServer.
type Option func(*Server)

// WithLogger substitutes the server logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer builds a transcription server. The model must be a
// streaming one whose contract matches the featurizer and vocabulary;
// mismatched artifacts fail here, not on the first connection.
func NewServer(model infer.Model, tab *vocab.Table, cfg Config, opts ...Option) (*Server, error) {
	if model == nil {
		return nil, errors.New("stream: nil model")
	}
	if tab == nil {
		return nil, errors.New("stream: nil vocabulary")
	}
	ex, err := feature.New(cfg.Feature)
	if err != nil {
		return nil, err
	}
	info := model.Info()
	if !info.Streaming {
		return nil, fmt.Errorf("stream: model %q does not support chunked inference", info.Name)
	}
	if info.FeatureDim != ex.FeatureDim() {
		return nil, fmt.Errorf("stream: model %q expects %d-dim features, featurizer yields %d",
			info.Name, info.FeatureDim, ex.FeatureDim())
	}
	if info.VocabSize != tab.Len() {
		return nil, fmt.Errorf("stream: model %q emits %d symbols, vocabulary has %d",
			info.Name, info.VocabSize, tab.Len())
	}
	if cfg.Path == "" {
		cfg.Path = "/v1/stream"
	}
	dec := ctc.NewGreedy(tab)
	dec.Blank = cfg.Blank

	s := &Server{
		cfg:       cfg,
		model:     model,
		vocabSize: info.VocabSize,
		ex:        ex,
		dec:       dec,
		log:       slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start binds the listen address and begins serving in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("stream: listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("stream server stopped", "err", err)
		}
	}()
	s.log.Info("stream server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown stops accepting connections, closes the active ones, and
// waits for their handlers up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	// Websocket connections are hijacked, so the HTTP server does not
	// know about them; close them directly.
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[ws] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)
	defer func() {
		s.mu.Lock()
		delete(s.conns, ws)
		s.mu.Unlock()
		ws.Close()
		s.wg.Done()
	}()

	sess, err := infer.NewSession(s.model, infer.WithLogger(s.log))
	if err != nil {
		s.log.Error("session construction failed", "err", err)
		return
	}
	c := &conn{
		srv:      s,
		ws:       ws,
		id:       uuid.NewString(),
		sess:     sess,
		streamer: s.ex.NewStreamer(),
	}
	c.log = s.log.With("session", c.id)
	c.log.Info("session opened", "remote", r.RemoteAddr)
	c.run()
	c.log.Info("session closed")
}

// conn is one websocket transcription session.
type conn struct {
	srv      *Server
	ws       *websocket.Conn
	id       string
	sess     *infer.Session
	streamer *feature.Streamer
	conv     *resampler.Converter // nil when the client rate matches
	probs    []float32            // accumulated posteriors, frames x vocab
	frames   int
	started  bool
	log      *slog.Logger
}

// run reads messages until the client leaves or a protocol error ends
// the session. Processing is sequential, so chunks reach the inference
// session in arrival order.
func (c *conn) run() {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("connection dropped", "err", err)
			}
			return
		}
		switch typ {
		case websocket.TextMessage:
			if !c.handleControl(data) {
				return
			}
		case websocket.BinaryMessage:
			if !c.handleAudio(data) {
				return
			}
		}
	}
}

func (c *conn) handleControl(data []byte) bool {
	var msg control
	if err := json.Unmarshal(data, &msg); err != nil {
		c.fail("bad_message", "control frame is not valid JSON")
		return false
	}
	switch msg.Type {
	case typeStart:
		return c.handleStart(msg)
	case typeFinish:
		return c.handleFinish()
	default:
		c.fail("bad_message", fmt.Sprintf("unknown control type %q", msg.Type))
		return false
	}
}

func (c *conn) handleStart(msg control) bool {
	if msg.Format != formatPCM16 {
		c.fail("unsupported_format", fmt.Sprintf("format %q not supported, want %q", msg.Format, formatPCM16))
		return false
	}
	if msg.SampleRate <= 0 {
		c.fail("bad_start", fmt.Sprintf("sample rate %d", msg.SampleRate))
		return false
	}
	if c.started {
		// A restart without finish: the previous utterance is gone.
		c.log.Warn("start during active utterance, discarding its state")
		c.resetUtterance()
	}
	if msg.SampleRate != c.srv.ex.SampleRate() {
		conv, err := resampler.New(msg.SampleRate, c.srv.ex.SampleRate())
		if err != nil {
			c.fail("bad_start", err.Error())
			return false
		}
		c.conv = conv
	}
	c.started = true
	return true
}

func (c *conn) handleAudio(data []byte) bool {
	if !c.started {
		c.fail("bad_message", "binary audio before start")
		return false
	}
	samples, err := pcmToSamples(data)
	if err != nil {
		c.fail("bad_audio", err.Error())
		return false
	}
	if c.conv != nil {
		samples, err = c.conv.Convert(samples)
		if err != nil {
			c.log.Error("resample failed", "err", err)
			c.fail("internal", "resampling failed")
			return false
		}
	}
	m, err := c.streamer.PushInt16(samples)
	if err != nil {
		c.log.Error("featurization failed", "err", err)
		c.fail("internal", "featurization failed")
		return false
	}
	if m == nil {
		// Not enough buffered audio for a full frame yet.
		return true
	}
	return c.inferChunk(m)
}

func (c *conn) handleFinish() bool {
	if !c.started {
		c.fail("bad_message", "finish before start")
		return false
	}
	text, ok := c.decodeAll()
	if !ok {
		return false
	}
	c.resetUtterance()
	return c.send(&Result{Type: typeResult, SessionID: c.id, Text: text, IsFinal: true})
}

// inferChunk runs one forward pass and reports the transcript so far.
func (c *conn) inferChunk(m *feature.Matrix) bool {
	in := &infer.Input{
		Features: m.Data,
		Batch:    1,
		Freq:     m.Freq,
		Time:     m.Time,
		Lengths:  []int{m.Time},
	}
	out, err := c.sess.PredictChunk(context.Background(), in)
	if err != nil {
		c.log.Error("chunk inference failed", "err", err)
		c.fail("inference_failed", "model invocation failed")
		return false
	}
	c.probs = append(c.probs, out.Probs...)
	c.frames += out.Time

	text, ok := c.decodeAll()
	if !ok {
		return false
	}
	return c.send(&Result{Type: typeResult, SessionID: c.id, Text: text, IsFinal: false})
}

// decodeAll greedy-decodes the posteriors accumulated so far, so each
// partial is the transcript of the whole utterance to date.
func (c *conn) decodeAll() (string, bool) {
	if c.frames == 0 {
		return "", true
	}
	res, err := c.srv.dec.Decode(c.probs, 1, c.frames, c.srv.vocabSize, []int{c.frames})
	if err != nil {
		c.log.Error("decode failed", "err", err)
		c.fail("internal", "decoding failed")
		return "", false
	}
	return res[0].Text, true
}

func (c *conn) resetUtterance() {
	c.sess.Reset()
	c.streamer.Reset()
	c.probs = nil
	c.frames = 0
	c.conv = nil
	c.started = false
}

func (c *conn) send(r *Result) bool {
	if err := c.ws.WriteJSON(r); err != nil {
		c.log.Warn("result write failed", "err", err)
		return false
	}
	return true
}

// fail sends a terminal error message; the caller closes the session.
func (c *conn) fail(code, message string) {
	c.log.Warn("session failed", "code", code, "message", message)
	if err := c.ws.WriteJSON(serverError{Type: typeError, Code: code, Message: message}); err != nil {
		c.log.Warn("error write failed", "err", err)
	}
}
