package openai

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

	"github.com/spigell/career-matcher/internal/ai"
	"github.com/spigell/career-matcher/internal/logger"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the OpenAI-compatible gateway used when none is configured.
	DefaultBaseURL = "https://ai.gateway.lovable.dev/v1"
	// DefaultModel is the model requested when none is configured.
	DefaultModel = "google/gemini-2.5-flash"

	provider            = "openai"
	contentType         = "application/json"
	defaultTimeout      = 55 * time.Second
	defaultMaxLogLength = 200
	// Upper bound for a response body read into memory.
	maxResponseBytes = 4 << 20
)

// Config configures a chat-completions client.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	MaxLogLength int
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey    string
	baseURL   string
	model     string
	maxLogLen int
	logger    *zap.Logger

	HTTPClient *http.Client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []choice  `json:"choices"`
	Usage   usage     `json:"usage"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// New validates the configuration and returns a ready client.
// A missing key fails here so no request is ever sent without credentials.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", ai.ErrMisconfigured)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("%w: invalid base url %q", ai.ErrMisconfigured, cfg.BaseURL)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxLogLen := cfg.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		maxLogLen: maxLogLen,
		logger:    logger.WithCommonFields(log, provider, model),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Complete sends a system and user message and returns the first choice content.
func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	if c == nil || c.HTTPClient == nil || c.apiKey == "" {
		return "", fmt.Errorf("%w: openai client is not initialized", ai.ErrMisconfigured)
	}

	body := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ai.ErrMisconfigured, err)
	}
	c.setHeaders(httpReq)

	c.logger.Debug("make request", zap.String("url", httpReq.URL.String()))

	start := time.Now()
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", fmt.Errorf("%w: request timed out after %s: %v", ai.ErrUpstream, time.Since(start).Round(time.Millisecond), err)
		}
		return "", fmt.Errorf("%w: %v", ai.ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ai.ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("chat completion failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body_preview", logger.TruncateForLog(string(data), c.maxLogLen)),
		)
		return "", ai.StatusError(resp.StatusCode, resp.Status)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ai.ErrUpstream, err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ai.ErrUpstream, parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ai.ErrUpstream)
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", ai.ErrUpstream)
	}

	c.logger.Debug("got chat completion",
		zap.Duration("took", time.Since(start)),
		zap.Int("total_tokens", parsed.Usage.TotalTokens),
		zap.String("finish_reason", parsed.Choices[0].FinishReason),
	)

	return content, nil
}

func (c *Client) Provider() string {
	return provider
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", contentType)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
