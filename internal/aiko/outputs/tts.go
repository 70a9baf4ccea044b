package outputs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/velvetcat/aiko/common/retry"
	"github.com/velvetcat/aiko/internal/aiko/event"
)

// TTSConfig configures the HTTP text-to-speech sink.
type TTSConfig struct {
	// URL is the speech endpoint; the sink POSTs one JSON document per
	// response. The endpoint owns vendor specifics (voice synthesis, audio
	// routing) — this sink only ships text and emotion.
	URL string
	// Voice carries persona voice settings forwarded verbatim.
	Voice map[string]string
	// Timeout is the per-request HTTP timeout. Defaults to 15 s.
	Timeout time.Duration
}

// TTSSink delivers responses to a speech-synthesis HTTP service.
type TTSSink struct {
	cfg    TTSConfig
	client *http.Client
}

// NewTTS creates a TTS sink for the given endpoint.
func NewTTS(cfg TTSConfig) *TTSSink {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &TTSSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements Sink.
func (s *TTSSink) Name() string { return "tts" }

type ttsPayload struct {
	Text      string            `json:"text"`
	Emotion   string            `json:"emotion"`
	Priority  int               `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
	Voice     map[string]string `json:"voice,omitempty"`
}

// Handle posts the response text to the speech endpoint, retrying transient
// transport failures.
func (s *TTSSink) Handle(ctx context.Context, out event.OutputEvent) error {
	body, err := json.Marshal(ttsPayload{
		Text:      out.Text,
		Emotion:   out.Emotion,
		Priority:  int(out.Priority),
		Timestamp: out.Timestamp,
		Voice:     s.cfg.Voice,
	})
	if err != nil {
		return fmt.Errorf("tts sink: marshal payload: %w", err)
	}

	return retry.Do(ctx, retry.Config{Attempts: 2, BaseDelay: 200 * time.Millisecond}, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("tts sink: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("tts sink: http: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 500 {
			return fmt.Errorf("tts sink: HTTP %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return retry.Permanent(fmt.Errorf("tts sink: HTTP %d", resp.StatusCode))
		}
		return nil
	})
}

var _ Sink = (*TTSSink)(nil)
