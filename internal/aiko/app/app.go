// Package app wires the persona runtime together: memory tiers, LLM
// provider, brain, orchestrator, output sinks, and the operator control
// server. The cmd/aiko binary only loads configuration and calls Run.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velvetcat/aiko/common/redact"
	"github.com/velvetcat/aiko/common/version"
	"github.com/velvetcat/aiko/internal/aiko/brain"
	"github.com/velvetcat/aiko/internal/aiko/compress"
	"github.com/velvetcat/aiko/internal/aiko/config"
	"github.com/velvetcat/aiko/internal/aiko/control"
	"github.com/velvetcat/aiko/internal/aiko/llm"
	"github.com/velvetcat/aiko/internal/aiko/memory"
	"github.com/velvetcat/aiko/internal/aiko/orchestrator"
	"github.com/velvetcat/aiko/internal/aiko/outputs"
)

// App owns every long-lived subsystem of the persona runtime.
type App struct {
	cfg       *config.Config
	brain     *brain.Brain
	orch      *orchestrator.Orchestrator
	ctl       *control.Server
	avatar    *outputs.AvatarHub
	avatarSrv *http.Server
	sqlite    *memory.SQLiteStore // nil unless the sqlite store is selected
	startedAt time.Time
}

// New builds the full runtime from cfg. Nothing starts listening until Run.
func New(cfg *config.Config) (*App, error) {
	setupLogging(cfg.LogLevel)
	slog.Debug("configuration loaded", "config", redact.Map(cfg.Summary()))

	persona, err := brain.LoadPersona(cfg.PersonaPath)
	if err != nil {
		return nil, err
	}

	provider, embed, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:       cfg,
		startedAt: time.Now(),
	}

	store, err := app.buildStore(cfg, embed)
	if err != nil {
		return nil, err
	}

	stm := memory.NewShortTerm(cfg.STMCapacity)
	ltm := memory.NewLongTerm(store, embed, memory.Admission{MinWords: cfg.LTMMinWords}, slog.Default())

	assemblerOpts := []brain.AssemblerOption{
		brain.WithSTMWindow(cfg.STMWindow),
		brain.WithLTMRetrieval(cfg.LTMResults, cfg.LTMMinRelevance),
	}
	if cfg.CompressorURL != "" {
		assemblerOpts = append(assemblerOpts, brain.WithCompressor(compress.NewHTTP(compress.HTTPConfig{
			BaseURL:        cfg.CompressorURL,
			APIKey:         cfg.CompressorKey,
			Aggressiveness: cfg.CompressorAggressiveness,
		})))
	}
	assembler := brain.NewAssembler(stm, ltm, assemblerOpts...)

	app.brain = brain.New(provider, assembler, persona,
		brain.WithGeneration(cfg.MaxTokens, cfg.Temperature),
	)

	app.avatar = outputs.NewAvatarHub(slog.Default())
	sinks := []outputs.Sink{app.avatar}
	if cfg.TTSURL != "" {
		sinks = append(sinks, outputs.NewTTS(outputs.TTSConfig{
			URL:   cfg.TTSURL,
			Voice: persona.Voice,
		}))
	}

	app.orch = orchestrator.New(app.brain, sinks, orchestrator.Config{
		QueueSize:  cfg.QueueSize,
		ChatLimit:  cfg.ChatLimit,
		ChatWindow: cfg.ChatWindow,
	})

	app.ctl = control.New(cfg.ControlAddr, control.Handlers{
		Version:       version.Version,
		StartedAt:     app.startedAt,
		Token:         cfg.ControlToken,
		Persona:       app.brain.Persona,
		UpdatePersona: app.brain.UpdatePersona,
		Stats:         app.brain.MemoryStats,
		PublishEvent:  app.orch.Publish,
	})

	avatarMux := http.NewServeMux()
	avatarMux.Handle("/ws", app.avatar)
	app.avatarSrv = &http.Server{
		Addr:        cfg.AvatarAddr,
		Handler:     avatarMux,
		ReadTimeout: 30 * time.Second,
	}

	return app, nil
}

// Run starts all subsystems and blocks until a shutdown signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.ctl.Start(ctx); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}

	go func() {
		slog.Info("avatar endpoint listening", "addr", a.cfg.AvatarAddr)
		if err := a.avatarSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("avatar server error", "err", err)
		}
	}()

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		a.orch.Run(ctx)
	}()

	slog.Info("aiko started",
		"persona", a.brain.Persona().Name,
		"provider", a.cfg.Provider,
		"store", a.cfg.Store,
		"version", version.Version,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("received shutdown signal")

	cancel()
	<-orchDone
	a.Stop()
	return nil
}

// Stop shuts down all subsystems cleanly.
func (a *App) Stop() {
	a.ctl.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.avatarSrv.Shutdown(shutdownCtx)
	if a.sqlite != nil {
		a.sqlite.Close()
	}
}

// buildProvider selects the completion provider and embedding function for
// the configured backend.
func buildProvider(cfg *config.Config) (llm.CompletionProvider, memory.EmbedFunc, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		client := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		return client, client.Embed, nil
	case config.ProviderGemini:
		client, err := llm.NewGemini(context.Background(), llm.GeminiConfig{
			APIKey:         cfg.GeminiKey,
			Model:          cfg.GeminiModel,
			EmbeddingModel: cfg.GeminiEmbedding,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini: %w", err)
		}
		return client, client.Embed, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// buildStore selects the long-term vector store.
func (a *App) buildStore(cfg *config.Config, embed memory.EmbedFunc) (memory.VectorStore, error) {
	switch cfg.Store {
	case config.StoreChromem:
		if cfg.MemoryDir != "" {
			store, err := memory.NewChromemStore(cfg.MemoryDir, embed)
			if err != nil {
				return nil, fmt.Errorf("open chromem store: %w", err)
			}
			return store, nil
		}
		store, err := memory.NewChromemStoreInMemory(embed)
		if err != nil {
			return nil, fmt.Errorf("init chromem store: %w", err)
		}
		return store, nil
	case config.StoreSQLite:
		store, err := memory.OpenSQLiteStore(cfg.MemoryDB, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.sqlite = store
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// setupLogging installs the default slog logger at the configured level.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
