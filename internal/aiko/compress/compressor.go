// Package compress wraps the optional token-compression collaborator. The
// compressor shrinks the assembled system prompt before each LLM call to cut
// token spend; every failure mode here is absorbable by the caller, which
// falls back to the uncompressed prompt. Compression is never allowed to
// fail a response.
package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/velvetcat/aiko/common/retry"
)

// Result reports the outcome of one compression call.
type Result struct {
	// Text is the compressed text, or the original when nothing happened.
	Text string
	// OriginalTokens and CompressedTokens are the provider-reported counts.
	OriginalTokens   int
	CompressedTokens int
	// Compressed is false when the input passed through untouched.
	Compressed bool
}

// Saved returns the number of tokens the call removed.
func (r Result) Saved() int {
	return r.OriginalTokens - r.CompressedTokens
}

// Compressor reduces the token count of a text while preserving meaning.
type Compressor interface {
	Compress(ctx context.Context, text string) (Result, error)
}

// HTTPConfig configures the HTTP compressor client.
type HTTPConfig struct {
	// BaseURL is the compression service endpoint.
	BaseURL string
	// APIKey is the bearer token, if the service requires one.
	APIKey string
	// Aggressiveness is the compression intensity in [0,1]. Defaults to 0.5.
	Aggressiveness float64
	// Timeout is the per-request HTTP timeout. Defaults to 10 s.
	Timeout time.Duration
}

// httpCompressor calls a token-compression HTTP service.
type httpCompressor struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTP returns a Compressor backed by an HTTP compression service.
func NewHTTP(cfg HTTPConfig) Compressor {
	if cfg.Aggressiveness <= 0 {
		cfg.Aggressiveness = 0.5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &httpCompressor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type compressRequest struct {
	Input          string  `json:"input"`
	Aggressiveness float64 `json:"aggressiveness"`
}

type compressResponse struct {
	Output              string `json:"output"`
	OriginalInputTokens int    `json:"original_input_tokens"`
	OutputTokens        int    `json:"output_tokens"`
}

// Compress posts text to the compression service. Blank input passes through
// without a network call.
func (c *httpCompressor) Compress(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Text: text}, nil
	}

	body, err := json.Marshal(compressRequest{
		Input:          text,
		Aggressiveness: c.cfg.Aggressiveness,
	})
	if err != nil {
		return Result{Text: text}, fmt.Errorf("compress: marshal request: %w", err)
	}

	var parsed compressResponse
	err = retry.Do(ctx, retry.Config{Attempts: 2, BaseDelay: 200 * time.Millisecond}, func() error {
		return c.call(ctx, body, &parsed)
	})
	if err != nil {
		return Result{Text: text}, err
	}
	if parsed.Output == "" {
		return Result{Text: text}, nil
	}

	return Result{
		Text:             parsed.Output,
		OriginalTokens:   parsed.OriginalInputTokens,
		CompressedTokens: parsed.OutputTokens,
		Compressed:       true,
	}, nil
}

func (c *httpCompressor) call(ctx context.Context, body []byte, out *compressResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/compress", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("compress: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("compress: http: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("compress: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Permanent(fmt.Errorf("compress: HTTP %d", resp.StatusCode))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Permanent(fmt.Errorf("compress: decode response: %w", err))
	}
	return nil
}
