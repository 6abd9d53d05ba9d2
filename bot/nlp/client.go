// Package nlp calls the external natural-language date/time extraction
// service. Every call is a single bounded round trip; the caller decides
// what a failure means for the conversation.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	coreconfig "github.com/m3rciful/finbot/core/config"
	"github.com/m3rciful/finbot/core/logger"
	"log/slog"
)

// Extraction is the service's answer for one utterance. Date and Time are
// the service's own string encodings; they are stored and echoed, never
// re-parsed here.
type Extraction struct {
	Date string
	Time string
}

// Result is either an extraction or a service-reported failure reason.
type Result struct {
	Success bool
	Reason  string
	Extraction
}

// Client is a bounded HTTP client for the extraction endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client from configuration. A missing URL yields a disabled
// client; Extract then reports the service as unavailable.
func New(cfg coreconfig.NLPConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	return &Client{
		baseURL: cfg.URL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Enabled reports whether a service URL is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

type extractRequest struct {
	Text      string `json:"text"`
	Reference string `json:"reference"`
}

type extractResponse struct {
	Status string `json:"status"`
	Date   string `json:"date,omitempty"`
	Time   string `json:"time,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Extract sends one utterance with a reference moment and returns the
// service's verdict. Transport failures surface as errors; a parsed
// negative answer is a Result with Success=false.
func (c *Client) Extract(ctx context.Context, text string, reference time.Time) (Result, error) {
	if !c.Enabled() {
		return Result{}, fmt.Errorf("nlp: service not configured")
	}

	body, err := json.Marshal(extractRequest{
		Text:      text,
		Reference: reference.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Result{}, fmt.Errorf("nlp: encode request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("nlp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn(ctx, "nlp", "extract.fail",
			slog.String("err", err.Error()),
		)
		return Result{}, fmt.Errorf("nlp: call service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn(ctx, "nlp", "extract.status",
			slog.Int("status", resp.StatusCode),
		)
		return Result{}, fmt.Errorf("nlp: unexpected status %s", resp.Status)
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("nlp: decode response: %w", err)
	}

	logger.Debug(ctx, "nlp", "extract.ok",
		slog.String("status", parsed.Status),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)

	if parsed.Status != "Success" {
		return Result{Success: false, Reason: parsed.Reason}, nil
	}
	return Result{
		Success:    true,
		Extraction: Extraction{Date: parsed.Date, Time: parsed.Time},
	}, nil
}
