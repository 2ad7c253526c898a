// Package llm talks to the local Ollama-compatible generation backend.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/miraihub/mirai-gateway/internal/config"
	"github.com/miraihub/mirai-gateway/internal/metrics"
)

// Generator produces a reply for a prompt. Satisfied by *Client.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request is one generation request.
type Request struct {
	Prompt      string
	System      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Response is one generation result.
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	Duration   time.Duration
}

// Client is an Ollama generate-endpoint client.
type Client struct {
	baseURL      string
	defaultModel string
	temperature  float64
	topP         float64
	maxTokens    int
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient creates a generation client from config.
func NewClient(cfg config.LLMConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      cfg.URL,
		defaultModel: cfg.Model,
		temperature:  cfg.Temperature,
		topP:         cfg.TopP,
		maxTokens:    cfg.MaxTokens,
		httpClient:   &http.Client{Timeout: cfg.Timeout()},
		logger:       logger,
	}
}

type generateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
}

// Generate sends a non-streaming generate request.
func (c *Client) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	topP := req.TopP
	if topP == 0 {
		topP = c.topP
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	payload := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": temperature,
			"top_p":       topP,
			"num_predict": maxTokens,
		},
	}
	if req.System != "" {
		payload["system"] = req.System
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("generation backend returned status %d: %s", resp.StatusCode, string(data))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode generate response: %w", err)
	}

	duration := time.Since(start)
	metrics.InferenceLatency.Observe(duration.Seconds())
	c.logger.Debug("generation complete", "model", decoded.Model, "tokens", decoded.EvalCount, "duration", duration)

	return &Response{
		Content:    decoded.Response,
		Model:      decoded.Model,
		TokensUsed: decoded.EvalCount,
		Duration:   duration,
	}, nil
}

// Health checks the backend's model listing endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("generation backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generation backend health returned status %d", resp.StatusCode)
	}
	return nil
}
