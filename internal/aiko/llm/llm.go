// Package llm defines the language-model collaborator interface used by the
// persona brain, together with two real implementations: an OpenAI-compatible
// HTTP provider (which also covers Ollama, Cerebras and other drop-in
// endpoints via BaseURL) and a Gemini provider backed by google.golang.org/genai.
//
// The provider contract deliberately keeps failure modes apart:
//   - transport and API failures surface as errors (the brain swallows them
//     and stays silent for that turn);
//   - rate limiting surfaces as ErrRateLimit so callers can log it distinctly;
//   - benign JSON-mode parse issues degrade to a best-effort plain-text
//     Response instead of an error — conversational continuity wins over
//     strictness.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimit is returned when the upstream API reports a rate-limiting
// condition (HTTP 429). Not retried — the next event simply tries again.
var ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

// ErrEmptyCompletion is returned when the provider produced a structurally
// valid response with no usable text at all.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Message is a single role/content pair sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest is the input to a single structured completion call.
type CompletionRequest struct {
	// Messages is the ordered chat context, system message first.
	Messages []Message
	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
	// Temperature controls sampling randomness. Zero uses the provider default.
	Temperature float64
}

// Response is the structured persona reply parsed from the model output.
type Response struct {
	// Text is what the persona says. Never empty on a nil error.
	Text string `json:"text"`
	// Emotion is the model's declared emotion. May be empty; the brain
	// validates it against the persona vocabulary.
	Emotion string `json:"emotion,omitempty"`
	// Usage holds token counts when the provider reports them.
	Usage *TokenUsage `json:"-"`
}

// TokenUsage carries the token counts reported by the upstream API for one
// completion call. Zero-valued when the provider reports nothing.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
	LatencyMS        int64
}

// CompletionProvider generates structured persona responses.
//
// Implementations must be safe for concurrent use and must request a
// JSON/forced-schema output mode from the backing model. When the model
// returns malformed JSON, implementations fall back to the raw text rather
// than erroring.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Response, error)
}

// Defaults shared by the bundled providers.
const (
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.8
)
