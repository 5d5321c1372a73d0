package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// HTTPClient talks to a model gateway over JSON/HTTP. It implements
// Transcriber, Analyzer and Synthesizer.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a gateway client. timeout bounds a single request;
// callers still pass a per-attempt context.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type transcribeBody struct {
	AudioRef string `json:"audio_ref"`
	Language string `json:"language"`
}

type transcribeResult struct {
	Text string `json:"text"`
}

func (c *HTTPClient) Transcribe(ctx context.Context, req TranscribeRequest) (string, error) {
	var out transcribeResult
	if err := c.post(ctx, "/v1/transcribe", transcribeBody(req), &out); err != nil {
		return "", fmt.Errorf("assistant.HTTPClient.Transcribe: %w", err)
	}
	return out.Text, nil
}

type analyzeBody struct {
	TenantID      string `json:"tenant_id"`
	HouseID       string `json:"house_id"`
	Prompt        string `json:"prompt"`
	Language      string `json:"language"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (c *HTTPClient) Analyze(ctx context.Context, req AnalyzeRequest) (*Response, error) {
	body := analyzeBody{
		TenantID:      req.TenantID.String(),
		HouseID:       req.HouseID.String(),
		Prompt:        req.Prompt,
		Language:      req.Language,
		CorrelationID: req.CorrelationID,
	}

	var out Response
	if err := c.post(ctx, "/v1/analyze", body, &out); err != nil {
		return nil, fmt.Errorf("assistant.HTTPClient.Analyze: %w", err)
	}
	if out.Text == "" {
		return nil, fmt.Errorf("assistant.HTTPClient.Analyze: empty response: %w", ErrPermanent)
	}
	return &out, nil
}

type synthesizeBody struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type synthesizeResult struct {
	SpeechRef string `json:"speech_ref"`
}

func (c *HTTPClient) Synthesize(ctx context.Context, text, language string) (string, error) {
	var out synthesizeResult
	if err := c.post(ctx, "/v1/synthesize", synthesizeBody{Text: text, Language: language}, &out); err != nil {
		return "", fmt.Errorf("assistant.HTTPClient.Synthesize: %w", err)
	}
	return out.SpeechRef, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", errors.Join(err, ErrInvalidRequest))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", errors.Join(err, ErrPermanent))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors and timeouts are retried.
		return fmt.Errorf("do request: %w", errors.Join(err, ErrTransient))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", errors.Join(err, ErrPermanent))
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(msg))

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("gateway status %d: %s: %w", resp.StatusCode, detail, ErrTransient)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("gateway status %d: %s: %w", resp.StatusCode, detail, errors.Join(ErrInvalidRequest, ErrPermanent))
	default:
		return fmt.Errorf("gateway status %d: %s: %w", resp.StatusCode, detail, ErrPermanent)
	}
}
