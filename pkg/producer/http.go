package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds one producer call. The producer owns the LLM
// timeout; this is the outer safety net.
const DefaultTimeout = 120 * time.Second

// HTTPProducer talks JSON over HTTP to a producer service. It
// implements both TranscriptProducer and SummaryProducer; probe and
// summary services may live at different base URLs by constructing two
// instances.
type HTTPProducer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProducer creates a producer client for the given base URL.
func NewHTTPProducer(baseURL string, timeout time.Duration) *HTTPProducer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProducer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Probe implements TranscriptProducer.
func (p *HTTPProducer) Probe(ctx context.Context, req *ProbeRequest) (*ProbeResponse, error) {
	var resp ProbeResponse
	if err := p.post(ctx, "/probe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Summarize implements SummaryProducer.
func (p *HTTPProducer) Summarize(ctx context.Context, req *SummaryRequest) (*SummaryResponse, error) {
	var resp SummaryResponse
	if err := p.post(ctx, "/summarize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post sends the request body and decodes the envelope. Transport and
// HTTP-status failures come back as plain errors whose message feeds
// the retryability classifier.
func (p *HTTPProducer) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode producer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build producer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("producer call failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("producer returned HTTP %d: %s", httpResp.StatusCode, string(snippet))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode producer response: %w", err)
	}
	return nil
}
