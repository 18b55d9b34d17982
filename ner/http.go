package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hannes/textanon/anonymize"
)

// sidecarTimeout bounds a single recognition round-trip.
const sidecarTimeout = 10 * time.Second

// HTTPProvider calls an external NER sidecar's /recognize endpoint. The
// sidecar contract: POST {"text": ...} returns {"spans": [{"start", "end",
// "label"}, ...]} with offsets over the exact text sent.
type HTTPProvider struct {
	url  string
	http *http.Client
}

// NewHTTPProvider creates a provider pointing at the given base URL
// (e.g. "http://textanon-ner:8001").
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		url: baseURL + "/recognize",
		http: &http.Client{
			Timeout: sidecarTimeout,
		},
	}
}

type recognizeRequest struct {
	Text string `json:"text"`
}

type recognizeResponse struct {
	Spans []sidecarSpan `json:"spans"`
}

type sidecarSpan struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

// Name implements Provider.
func (p *HTTPProvider) Name() string {
	return "sidecar"
}

// Recognize implements Provider. It is safe for concurrent use.
func (p *HTTPProvider) Recognize(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(recognizeRequest{Text: text})
	if err != nil {
		return Result{}, fmt.Errorf("sidecar: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("sidecar: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("sidecar: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Printf("Warning: failed to close sidecar response body: %v\n", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("sidecar: unexpected status %d", resp.StatusCode)
	}

	var decoded recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("sidecar: decode: %w", err)
	}

	spans := make([]anonymize.Span, 0, len(decoded.Spans))
	for _, sp := range decoded.Spans {
		spans = append(spans, anonymize.Span{Start: sp.Start, End: sp.End, Label: sp.Label})
	}
	return Result{Spans: spans}, nil
}

// Close implements Provider.
func (p *HTTPProvider) Close() error {
	p.http.CloseIdleConnections()
	return nil
}
