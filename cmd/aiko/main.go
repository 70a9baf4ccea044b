// Aiko is the stream persona runtime binary.
//
// All configuration is loaded from environment variables. The runtime loads
// a persona YAML, opens the long-term memory store, starts the operator
// control server and the avatar WebSocket endpoint, and begins processing
// inbound events.
//
// Required environment variables (per provider):
//
//	OPENAI_API_KEY          - API key for the openai provider
//	GEMINI_API_KEY          - API key for the gemini provider
//
// Optional environment variables:
//
//	AIKO_PERSONA            - persona YAML path (default: "persona.yaml")
//	AIKO_LLM_PROVIDER       - "openai" (default) or "gemini"
//	OPENAI_BASE_URL         - override endpoint (Ollama, Azure, ...)
//	OPENAI_MODEL            - chat model name
//	GEMINI_MODEL            - Gemini chat model name
//	GEMINI_EMBEDDING_MODEL  - Gemini embedding model name
//	AIKO_MEMORY_STORE       - "chromem" (default) or "sqlite"
//	AIKO_MEMORY_DIR         - chromem persistence dir (default: volatile)
//	AIKO_MEMORY_DB          - sqlite path (default: ":memory:")
//	AIKO_TTS_URL            - speech endpoint; sink disabled when empty
//	AIKO_AVATAR_ADDR        - avatar WebSocket listen address (default ":8765")
//	AIKO_CONTROL_ADDR       - control API listen address (default ":8800")
//	AIKO_CONTROL_TOKEN      - bearer token for the control API
//	AIKO_LOG_LEVEL          - "debug", "info", "warn", "error" (default: "info")
package main

import (
	"log/slog"
	"os"

	"github.com/velvetcat/aiko/internal/aiko/app"
	"github.com/velvetcat/aiko/internal/aiko/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	runtime, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize aiko", "err", err)
		os.Exit(1)
	}

	if err := runtime.Run(); err != nil {
		slog.Error("aiko exited with error", "err", err)
		os.Exit(1)
	}
}
