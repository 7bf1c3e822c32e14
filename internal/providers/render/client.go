package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/infra"
)

// Options controls how the generation client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is an HTTP-backed Generator. When no API key is configured it
// produces deterministic synthetic assets instead, which keeps the full
// pipeline (claiming, persistence, packaging, notifications) exercised
// in local and CI environments.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a generation client from the given options.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "default"
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

var _ Generator = (*Client)(nil)

// Generate produces one asset for the request. Missing credentials
// switch the client into synthetic mode; a remote failure is returned
// to the caller untouched so the scheduler can mark the job failed.
func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if c.apiKey == "" || c.baseURL == "" {
		return Synthetic(req), nil
	}
	return c.remoteGenerate(ctx, req)
}

type generateRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

type generateResponse struct {
	MIME      string `json:"mime"`
	Data      string `json:"data"`
	ThumbData string `json:"thumb_data,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (c *Client) remoteGenerate(ctx context.Context, req Request) (Result, error) {
	payload := generateRequest{
		Model:       c.model,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		RequestID:   req.JobID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("render: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generate", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("render: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("render: call provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Result{}, fmt.Errorf("render: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("render: provider status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("render: decode response: %w", err)
	}
	if decoded.Error != "" {
		return Result{}, fmt.Errorf("render: provider rejected request: %s", decoded.Error)
	}
	data, err := base64.StdEncoding.DecodeString(decoded.Data)
	if err != nil || len(data) == 0 {
		return Result{}, fmt.Errorf("render: malformed asset payload")
	}
	result := Result{MIME: decoded.MIME, Data: data}
	if result.MIME == "" {
		result.MIME = "image/png"
	}
	if decoded.ThumbData != "" {
		if thumb, thumbErr := base64.StdEncoding.DecodeString(decoded.ThumbData); thumbErr == nil {
			result.ThumbData = thumb
		}
	}
	return result, nil
}

func truncateBody(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max]
	}
	return s
}
