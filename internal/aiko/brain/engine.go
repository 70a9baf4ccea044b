package brain

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velvetcat/aiko/internal/aiko/event"
	"github.com/velvetcat/aiko/internal/aiko/llm"
	"github.com/velvetcat/aiko/internal/aiko/memory"
)

// Brain is the persona decision engine. Every inbound event flows through
// Process, which records it into memory and then runs the gating pipeline:
// combo check, per-source admission, cooldown, the single-generation busy
// gate, LLM generation, and deduplication against recent responses.
//
// Brain is safe for concurrent Process calls: the busy flag guarantees at
// most one in-flight generation, and a second caller returns nil immediately
// rather than queueing — slow generations must not pile up user input.
type Brain struct {
	provider  llm.CompletionProvider
	assembler *Assembler
	persona   atomic.Pointer[PersonaConfig]

	// busy enforces the at-most-one-generation invariant.
	busy atomic.Bool

	// mu guards the gating state below and the injected RNG.
	mu                sync.Mutex
	lastResponseAt    time.Time
	lastTriggerSource event.Source
	recentResponses   []string // ring of the last recentResponseLimit texts

	rng    *rand.Rand
	now    func() time.Time
	logger *slog.Logger

	maxTokens   int
	temperature float64
}

// Option configures a Brain.
type Option func(*Brain)

// WithRand injects a seedable random source, making admission-probability
// rolls deterministic in tests.
func WithRand(r *rand.Rand) Option {
	return func(b *Brain) { b.rng = r }
}

// WithClock injects the time source used for cooldown accounting.
func WithClock(now func() time.Time) Option {
	return func(b *Brain) { b.now = now }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Brain) { b.logger = l }
}

// WithGeneration overrides the completion length and temperature.
func WithGeneration(maxTokens int, temperature float64) Option {
	return func(b *Brain) {
		b.maxTokens = maxTokens
		b.temperature = temperature
	}
}

// New creates a Brain speaking through provider with the given persona.
func New(provider llm.CompletionProvider, assembler *Assembler, persona *PersonaConfig, opts ...Option) *Brain {
	b := &Brain{
		provider:    provider,
		assembler:   assembler,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		logger:      slog.Default(),
		maxTokens:   llm.DefaultMaxTokens,
		temperature: llm.DefaultTemperature,
	}
	b.persona.Store(persona)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Persona returns the active persona snapshot.
func (b *Brain) Persona() *PersonaConfig {
	return b.persona.Load()
}

// UpdatePersona atomically replaces the active persona. The new snapshot
// takes effect for the next Process call; in-flight generations finish under
// the old one.
func (b *Brain) UpdatePersona(cfg *PersonaConfig) {
	b.persona.Store(cfg)
	b.logger.Info("brain: persona updated", "name", cfg.Name)
}

// MemoryStats returns the current memory usage snapshot.
func (b *Brain) MemoryStats() MemoryStats {
	return b.assembler.Stats()
}

// Process runs one event through the decision pipeline. It returns a non-nil
// OutputEvent only when a response was generated, passed deduplication, and
// was committed to memory. A nil, nil return means the event was absorbed
// silently (gated out, busy, LLM failure, or duplicate). A non-nil error
// means a memory-tier failure; no response state was committed.
func (b *Brain) Process(ctx context.Context, ev event.InputEvent) (*event.OutputEvent, error) {
	persona := b.persona.Load()

	// Memory accumulation is unconditional — record before any gating.
	// Everything inbound is a user turn; assistant turns enter memory via
	// ProcessResponse only.
	_, err := b.assembler.ProcessInput(ctx, ev.Content, ev.Source, ev.User(), memory.RoleUser, ev.Metadata)
	if err != nil {
		return nil, fmt.Errorf("brain: %w", err)
	}

	// A vision event right after a chat-triggered turn chains a visually
	// grounded follow-up, bypassing admission and cooldown.
	b.mu.Lock()
	combo := ev.Source == event.SourceVision && b.lastTriggerSource == event.SourceChat
	b.mu.Unlock()

	if !combo {
		if !b.shouldRespond(ev, persona) {
			b.logger.Debug("brain: skipped", "reason", "admission", "source", ev.Source)
			return nil, nil
		}
		if b.inCooldown(persona) {
			b.logger.Debug("brain: skipped", "reason", "cooldown", "source", ev.Source)
			return nil, nil
		}
	} else {
		b.logger.Debug("brain: combo trigger", "source", ev.Source)
	}

	// At most one in-flight generation per brain instance. A second event
	// arriving mid-generation is dropped, not queued.
	if !b.busy.CompareAndSwap(false, true) {
		b.logger.Debug("brain: skipped", "reason", "busy", "source", ev.Source)
		return nil, nil
	}
	defer b.busy.Store(false)

	messages, err := b.assembler.BuildMessages(ctx, ev.Content, persona.SystemPrompt(), true)
	if err != nil {
		return nil, fmt.Errorf("brain: %w", err)
	}

	resp, err := b.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
	})
	if err != nil {
		// Transient generation failure: silence for this turn, clean state
		// for the next one.
		b.logger.Error("brain: generation failed", "err", err, "source", ev.Source)
		return nil, nil
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		b.logger.Warn("brain: empty generation", "source", ev.Source)
		return nil, nil
	}

	// Duplicate responses are rejected without any state update, so they do
	// not refresh the cooldown window.
	b.mu.Lock()
	duplicate := isNearDuplicate(text, b.recentResponses, persona.Behavior.SimilarityThreshold)
	b.mu.Unlock()
	if duplicate {
		b.logger.Debug("brain: skipped", "reason", "duplicate", "text", clip(text, 50))
		return nil, nil
	}

	if _, err := b.assembler.ProcessResponse(ctx, text); err != nil {
		return nil, fmt.Errorf("brain: %w", err)
	}

	now := b.now()
	b.mu.Lock()
	b.lastResponseAt = now
	b.lastTriggerSource = ev.Source
	b.recentResponses = append(b.recentResponses, text)
	if len(b.recentResponses) > recentResponseLimit {
		b.recentResponses = b.recentResponses[1:]
	}
	b.mu.Unlock()

	emotion := resp.Emotion
	if !persona.HasEmotion(emotion) {
		emotion = "neutral"
	}

	stats := b.assembler.Stats()
	b.logger.Info("brain: response",
		"text", clip(text, 50),
		"emotion", emotion,
		"source", ev.Source,
		"combo", combo,
		"stm_count", stats.STMCount,
		"ltm_count", stats.LTMCount,
	)

	return &event.OutputEvent{
		Text:      text,
		Emotion:   emotion,
		Priority:  derivePriority(ev, persona),
		Timestamp: now,
	}, nil
}

// shouldRespond applies the per-source admission policy: chat always,
// vision and speech by configured probability, anything else never.
func (b *Brain) shouldRespond(ev event.InputEvent, persona *PersonaConfig) bool {
	switch ev.Source {
	case event.SourceChat:
		return true
	case event.SourceVision:
		return b.roll() < persona.Behavior.VisionRate
	case event.SourceSpeech:
		return b.roll() < persona.Behavior.SpeechRate
	default:
		return false
	}
}

// inCooldown reports whether the cooldown window since the last committed
// response is still open.
func (b *Brain) inCooldown(persona *PersonaConfig) bool {
	b.mu.Lock()
	last := b.lastResponseAt
	b.mu.Unlock()

	if last.IsZero() {
		return false
	}
	return b.now().Sub(last) < persona.Behavior.CooldownDuration()
}

func (b *Brain) roll() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64()
}

// derivePriority ranks the response for output sinks: trigger-word mention →
// high, question → medium, otherwise normal. Informational only.
func derivePriority(ev event.InputEvent, persona *PersonaConfig) event.Priority {
	lower := strings.ToLower(ev.Content)
	for _, trigger := range persona.Behavior.TriggerWords {
		if trigger != "" && strings.Contains(lower, strings.ToLower(trigger)) {
			return event.PriorityHigh
		}
	}
	if strings.Contains(ev.Content, "?") {
		return event.PriorityMedium
	}
	return event.PriorityNormal
}


func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
