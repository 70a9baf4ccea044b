// Package config loads the runtime configuration from environment variables.
//
// Every knob has a sensible default except the credentials for the selected
// LLM provider, which are required. Validation happens once at startup;
// after that the config is read-only.
package config

import (
	"fmt"
	"time"

	"github.com/velvetcat/aiko/common/environment"
	"github.com/velvetcat/aiko/internal/aiko/brain"
	"github.com/velvetcat/aiko/internal/aiko/llm"
	"github.com/velvetcat/aiko/internal/aiko/memory"
	"github.com/velvetcat/aiko/internal/aiko/orchestrator"
)

// LLM provider selectors.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Memory store selectors.
const (
	StoreChromem = "chromem"
	StoreSQLite  = "sqlite"
)

// Config is the full runtime configuration.
type Config struct {
	// PersonaPath is the persona YAML file.
	PersonaPath string

	// Provider selects the LLM backend: "openai" or "gemini".
	Provider string
	// OpenAIKey, OpenAIBaseURL and OpenAIModel configure the OpenAI-compatible
	// backend.
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	// GeminiKey, GeminiModel and GeminiEmbedding configure the Gemini backend.
	GeminiKey       string
	GeminiModel     string
	GeminiEmbedding string

	// MaxTokens and Temperature tune generation.
	MaxTokens   int
	Temperature float64

	// Store selects the vector store: "chromem" or "sqlite".
	Store string
	// MemoryDir is the chromem persistence directory; empty keeps memory
	// volatile (in-process only).
	MemoryDir string
	// MemoryDB is the sqlite database path; ":memory:" keeps it volatile.
	MemoryDB string

	// STMCapacity bounds the short-term ring; STMWindow is how many recent
	// turns are rendered into the prompt.
	STMCapacity int
	STMWindow   int
	// LTMMinWords is the admission word floor; LTMResults and LTMMinRelevance
	// control retrieval.
	LTMMinWords     int
	LTMResults      int
	LTMMinRelevance float64

	// CompressorURL enables prompt compression when non-empty.
	CompressorURL            string
	CompressorKey            string
	CompressorAggressiveness float64

	// TTSURL enables the speech sink when non-empty.
	TTSURL string
	// AvatarAddr serves the avatar WebSocket endpoint.
	AvatarAddr string
	// ControlAddr serves the operator HTTP API; ControlToken protects it.
	ControlAddr  string
	ControlToken string

	// QueueSize bounds the orchestrator input queue; ChatLimit and ChatWindow
	// rate-limit per-viewer chat.
	QueueSize  int
	ChatLimit  int
	ChatWindow time.Duration

	// LogLevel is debug, info, warn or error.
	LogLevel string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		PersonaPath: environment.StringOr("AIKO_PERSONA", "persona.yaml"),

		Provider:        environment.StringOr("AIKO_LLM_PROVIDER", ProviderOpenAI),
		OpenAIKey:       environment.StringOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   environment.StringOr("OPENAI_BASE_URL", ""),
		OpenAIModel:     environment.StringOr("OPENAI_MODEL", ""),
		GeminiKey:       environment.StringOr("GEMINI_API_KEY", ""),
		GeminiModel:     environment.StringOr("GEMINI_MODEL", ""),
		GeminiEmbedding: environment.StringOr("GEMINI_EMBEDDING_MODEL", ""),

		MaxTokens:   environment.IntOr("AIKO_MAX_TOKENS", llm.DefaultMaxTokens),
		Temperature: environment.Float64Or("AIKO_TEMPERATURE", llm.DefaultTemperature),

		Store:     environment.StringOr("AIKO_MEMORY_STORE", StoreChromem),
		MemoryDir: environment.StringOr("AIKO_MEMORY_DIR", ""),
		MemoryDB:  environment.StringOr("AIKO_MEMORY_DB", ":memory:"),

		STMCapacity:     environment.IntOr("AIKO_STM_CAPACITY", memory.DefaultSTMCapacity),
		STMWindow:       environment.IntOr("AIKO_STM_WINDOW", brain.DefaultSTMWindow),
		LTMMinWords:     environment.IntOr("AIKO_LTM_MIN_WORDS", memory.DefaultMinWords),
		LTMResults:      environment.IntOr("AIKO_LTM_RESULTS", brain.DefaultLTMResults),
		LTMMinRelevance: environment.Float64Or("AIKO_LTM_MIN_RELEVANCE", brain.DefaultLTMMinRelevance),

		CompressorURL:            environment.StringOr("AIKO_COMPRESSOR_URL", ""),
		CompressorKey:            environment.StringOr("AIKO_COMPRESSOR_KEY", ""),
		CompressorAggressiveness: environment.Float64Or("AIKO_COMPRESSOR_AGGRESSIVENESS", 0.5),

		TTSURL:       environment.StringOr("AIKO_TTS_URL", ""),
		AvatarAddr:   environment.StringOr("AIKO_AVATAR_ADDR", ":8765"),
		ControlAddr:  environment.StringOr("AIKO_CONTROL_ADDR", ":8800"),
		ControlToken: environment.StringOr("AIKO_CONTROL_TOKEN", ""),

		QueueSize:  environment.IntOr("AIKO_QUEUE_SIZE", orchestrator.DefaultQueueSize),
		ChatLimit:  environment.IntOr("AIKO_CHAT_LIMIT", orchestrator.DefaultChatLimit),
		ChatWindow: environment.DurationOr("AIKO_CHAT_WINDOW", time.Minute),

		LogLevel: environment.StringOr("AIKO_LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Summary returns the configuration as a flat map for startup logging.
// Secret-bearing keys are named so that redact.Map catches them.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"persona":        c.PersonaPath,
		"provider":       c.Provider,
		"openai_api_key": c.OpenAIKey,
		"openai_base":    c.OpenAIBaseURL,
		"openai_model":   c.OpenAIModel,
		"gemini_api_key": c.GeminiKey,
		"gemini_model":   c.GeminiModel,
		"store":          c.Store,
		"memory_dir":     c.MemoryDir,
		"memory_db":      c.MemoryDB,
		"compressor_url": c.CompressorURL,
		"compressor_key": c.CompressorKey,
		"tts_url":        c.TTSURL,
		"avatar_addr":    c.AvatarAddr,
		"control_addr":   c.ControlAddr,
		"control_token":  c.ControlToken,
		"queue_size":     c.QueueSize,
		"chat_limit":     c.ChatLimit,
		"log_level":      c.LogLevel,
	}
}

// Validate checks cross-field consistency and required credentials.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("config: OPENAI_API_KEY is required for the openai provider (or set OPENAI_BASE_URL for a local endpoint)")
		}
	case ProviderGemini:
		if c.GeminiKey == "" {
			return fmt.Errorf("config: GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return fmt.Errorf("config: unknown AIKO_LLM_PROVIDER %q (want %q or %q)", c.Provider, ProviderOpenAI, ProviderGemini)
	}

	switch c.Store {
	case StoreChromem, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown AIKO_MEMORY_STORE %q (want %q or %q)", c.Store, StoreChromem, StoreSQLite)
	}

	if c.STMCapacity < 1 {
		return fmt.Errorf("config: AIKO_STM_CAPACITY must be ≥ 1")
	}
	if c.LTMMinRelevance < 0 || c.LTMMinRelevance > 1 {
		return fmt.Errorf("config: AIKO_LTM_MIN_RELEVANCE must be in [0,1]")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("config: AIKO_TEMPERATURE must be in [0,2]")
	}
	return nil
}
