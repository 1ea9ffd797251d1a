package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.x.ai/v1"
	DefaultModel   = "grok-4-1-fast-reasoning"

	maxResponseBytes = 1 << 20
)

// ChatConfig configures a ChatClient.
type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// Temperature is sent as-is. Zero leaves the server default.
	Temperature float64
	HTTPClient  *http.Client
}

// ChatClient calls an OpenAI-compatible /chat/completions endpoint. It makes
// a single attempt per call and never retries.
type ChatClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
	log         zerolog.Logger
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// NewChatClient creates a chat client. The API key is required.
func NewChatClient(cfg ChatConfig, log zerolog.Logger) (*ChatClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &ChatClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: cfg.Temperature,
		client:      client,
		log:         log.With().Str("component", "oracle").Logger(),
	}, nil
}

// Complete sends the request and returns the cleaned JSON object.
func (c *ChatClient) Complete(ctx context.Context, req Request) Result {
	body := chatRequest{
		Model:       c.model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: c.temperature,
	}
	if req.JSONOnly {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Fail(KindMalformed, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Fail(KindTransport, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			c.log.Warn().Str("purpose", req.Purpose).Dur("elapsed", time.Since(start)).Msg("Oracle request timed out")
			return Fail(KindTimeout, "request timed out", err)
		}
		c.log.Warn().Err(err).Str("purpose", req.Purpose).Msg("Oracle request failed")
		return Fail(KindTransport, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return Fail(KindTimeout, "reading response timed out", err)
		}
		return Fail(KindTransport, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Str("purpose", req.Purpose).Msg("Oracle returned non-2xx status")
		return Fail(KindTransport, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Fail(KindMalformed, "failed to parse completion envelope", err)
	}
	if len(parsed.Choices) == 0 {
		return Fail(KindMalformed, "no choices in response", nil)
	}

	content, cerr := CleanJSON(parsed.Choices[0].Message.Content)
	if cerr != nil {
		return Result{Err: cerr}
	}

	c.log.Debug().
		Str("purpose", req.Purpose).
		Dur("elapsed", time.Since(start)).
		Int("bytes", len(content)).
		Msg("Oracle call completed")
	return Ok(content)
}

func isTimeout(ctx context.Context, err error) bool {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
