package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/velvetcat/aiko/common/redact"
	"github.com/velvetcat/aiko/common/retry"
)

const (
	defaultOpenAIBase      = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenAIEmbedding = "text-embedding-3-small"
	defaultHTTPTimeout     = 30 * time.Second
)

// OpenAIConfig configures the OpenAI-compatible completion provider.
type OpenAIConfig struct {
	// APIKey is the bearer token for the API. May be empty for local
	// endpoints that skip authentication.
	APIKey string

	// BaseURL overrides the API endpoint. Any OpenAI-compatible server
	// works here (Ollama, Cerebras, Azure). Defaults to api.openai.com.
	BaseURL string

	// Model is the chat model name. Defaults to gpt-4o-mini.
	Model string

	// EmbeddingModel is the model used by Embed. Defaults to
	// text-embedding-3-small.
	EmbeddingModel string

	// Timeout is the per-request HTTP timeout. Defaults to 30 s.
	Timeout time.Duration

	// Retry controls backoff for transient transport failures. The zero
	// value uses retry.DefaultConfig. Rate-limit responses are never retried.
	Retry retry.Config
}

// OpenAI implements CompletionProvider against the chat completions API with
// JSON-mode output, and exposes the embeddings endpoint for long-term memory.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a client for an OpenAI-compatible API. Safe for
// concurrent use.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultOpenAIEmbedding
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal wire types ---

type oaiRequest struct {
	Model          string     `json:"model"`
	Messages       []Message  `json:"messages"`
	MaxTokens      int        `json:"max_completion_tokens,omitempty"`
	Temperature    float64    `json:"temperature,omitempty"`
	ResponseFormat *oaiFormat `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the chat context with response_format=json_object and parses
// the {"text","emotion"} payload. Malformed JSON degrades to a plain-text
// Response with the raw content.
func (p *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	body, err := json.Marshal(oaiRequest{
		Model:          p.cfg.Model,
		Messages:       req.Messages,
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: &oaiFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("llm openai: marshal request: %w", err)
	}

	start := time.Now()
	var parsed oaiResponse

	err = retry.Do(ctx, p.cfg.Retry, func() error {
		return p.call(ctx, body, &parsed)
	})
	if err != nil {
		return nil, err
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("llm openai: API error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, ErrEmptyCompletion
	}

	resp := parseStructured(content)
	resp.Usage = &TokenUsage{
		Model:     parsed.Model,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if parsed.Usage != nil {
		resp.Usage.PromptTokens = parsed.Usage.PromptTokens
		resp.Usage.CompletionTokens = parsed.Usage.CompletionTokens
		resp.Usage.TotalTokens = parsed.Usage.TotalTokens
	}
	return resp, nil
}

// call performs a single HTTP round trip. Returned errors are wrapped with
// retry.Permanent when retrying cannot help (auth failures, rate limits).
func (p *OpenAI) call(ctx context.Context, body []byte, out *oaiResponse) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("llm openai: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llm openai: http: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("llm openai: read response: %w", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return retry.Permanent(ErrRateLimit)
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("llm openai: auth failed: HTTP %d", httpResp.StatusCode))
	case httpResp.StatusCode >= 500:
		return fmt.Errorf("llm openai: HTTP %d: %s", httpResp.StatusCode, p.safeBody(respBody))
	case httpResp.StatusCode != http.StatusOK:
		return retry.Permanent(fmt.Errorf("llm openai: HTTP %d: %s", httpResp.StatusCode, p.safeBody(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Permanent(fmt.Errorf("llm openai: decode response: %w", err))
	}
	return nil
}

type oaiEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type oaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding vector for text, for long-term memory storage
// and retrieval.
func (p *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(oaiEmbedRequest{
		Model: p.cfg.EmbeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("llm openai: marshal embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm openai: build embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm openai: embed http: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("llm openai: read embed response: %w", err)
	}
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimit
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm openai: embed HTTP %d: %s", httpResp.StatusCode, p.safeBody(respBody))
	}

	var parsed oaiEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llm openai: decode embed response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("llm openai: embed API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("llm openai: embed returned no vector")
	}
	return parsed.Data[0].Embedding, nil
}

// parseStructured interprets the model content as {"text","emotion"} JSON,
// salvaging the raw content as plain text when parsing fails.
func parseStructured(content string) *Response {
	var resp Response
	if err := json.Unmarshal([]byte(content), &resp); err == nil && resp.Text != "" {
		return &resp
	}
	return &Response{Text: content}
}

// safeBody prepares an upstream error body for inclusion in an error message.
// Some proxies echo request headers back in error pages, so the API key is
// scrubbed before the body can reach a log line.
func (p *OpenAI) safeBody(b []byte) string {
	return redact.String(truncate(b, 200), p.cfg.APIKey)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
