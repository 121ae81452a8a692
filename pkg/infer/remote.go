package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// HTTPModel reaches an inference sidecar over HTTP. The sidecar owns
// the engine and the weights; this client only moves tensors. Model
// metadata comes from GET /v1/model once at construction; forward
// passes POST msgpack-encoded tensors to /v1/forward.
type HTTPModel struct {
	base   string
	client *http.Client
	info   Info
}

// HTTPOption configures DialHTTP.
type HTTPOption func(*HTTPModel)

// WithHTTPClient substitutes the client used for all calls, e.g. to
// adjust timeouts or transports.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(m *HTTPModel) { m.client = c }
}

// DialHTTP connects to a sidecar and fetches the model contract. An
// unreachable backend or a sidecar without a loaded model fails here,
// never at the first forward pass.
func DialHTTP(ctx context.Context, baseURL string, opts ...HTTPOption) (*HTTPModel, error) {
	m := &HTTPModel{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base+"/v1/model", nil)
	if err != nil {
		return nil, fmt.Errorf("infer: create metadata request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("infer: model backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("infer: model metadata: %w", readBackendError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(&m.info); err != nil {
		return nil, fmt.Errorf("infer: decode model metadata: %w", err)
	}
	if err := m.info.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Info reports the contract fetched at dial time.
func (m *HTTPModel) Info() Info { return m.info }

// Wire layout of one forward pass. Tensors stay flat; shape travels
// alongside. State fields are empty for stateless calls.
type forwardRequest struct {
	Features []float32 `msgpack:"features"`
	Batch    int       `msgpack:"batch"`
	Freq     int       `msgpack:"freq"`
	Time     int       `msgpack:"time"`
	Lengths  []int     `msgpack:"lengths"`
	StateH   []float32 `msgpack:"state_h,omitempty"`
	StateC   []float32 `msgpack:"state_c,omitempty"`
}

type forwardResponse struct {
	Probs   []float32 `msgpack:"probs"`
	Batch   int       `msgpack:"batch"`
	Time    int       `msgpack:"time"`
	Vocab   int       `msgpack:"vocab"`
	Lengths []int     `msgpack:"lengths"`
	StateH  []float32 `msgpack:"state_h,omitempty"`
	StateC  []float32 `msgpack:"state_c,omitempty"`
}

// Forward posts one forward pass to the sidecar. Safe for concurrent
// use.
func (m *HTTPModel) Forward(ctx context.Context, in *Input) (*Output, error) {
	wire := forwardRequest{
		Features: in.Features,
		Batch:    in.Batch,
		Freq:     in.Freq,
		Time:     in.Time,
		Lengths:  in.Lengths,
	}
	if in.State != nil {
		wire.StateH = in.State.H
		wire.StateC = in.State.C
	}
	body, err := msgpack.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("marshal forward request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+"/v1/forward", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/msgpack")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send forward request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readBackendError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read forward response: %w", err)
	}
	var rsp forwardResponse
	if err := msgpack.Unmarshal(respBody, &rsp); err != nil {
		return nil, fmt.Errorf("unmarshal forward response: %w", err)
	}

	out := &Output{
		Probs:   rsp.Probs,
		Batch:   rsp.Batch,
		Time:    rsp.Time,
		Vocab:   rsp.Vocab,
		Lengths: rsp.Lengths,
	}
	if len(rsp.StateH) > 0 || len(rsp.StateC) > 0 {
		out.State = &State{
			H:      rsp.StateH,
			C:      rsp.StateC,
			Layers: m.info.StateLayers,
			Batch:  rsp.Batch,
			Hidden: m.info.StateSize,
		}
	}
	return out, nil
}

// backendError is the sidecar's error payload.
type backendError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func readBackendError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	var be backendError
	if json.Unmarshal(body, &be) == nil && be.Message != "" {
		return fmt.Errorf("backend %s: %s", resp.Status, be.Message)
	}
	return fmt.Errorf("backend returned %s", resp.Status)
}
