package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/velvetcat/aiko/internal/aiko/compress"
	"github.com/velvetcat/aiko/internal/aiko/event"
	"github.com/velvetcat/aiko/internal/aiko/llm"
	"github.com/velvetcat/aiko/internal/aiko/memory"
)

// Assembler defaults.
const (
	DefaultSTMWindow       = 10
	DefaultLTMResults      = 3
	DefaultLTMMinRelevance = 0.4
)

// MemoryStats is a snapshot of memory usage across both tiers.
type MemoryStats struct {
	STMCount int `json:"stm_count"`
	STMMax   int `json:"stm_max"`
	LTMCount int `json:"ltm_count"`
}

// Assembler fuses short-term and long-term memory into the two-message
// prompt sent to the LLM, and owns all memory writes: every inbound event
// and every generated response passes through it.
type Assembler struct {
	stm        *memory.ShortTermMemory
	ltm        *memory.LongTermMemory
	compressor compress.Compressor // nil when compression is disabled

	stmWindow       int
	ltmResults      int
	ltmMinRelevance float64
	logger          *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithCompressor enables best-effort prompt compression.
func WithCompressor(c compress.Compressor) AssemblerOption {
	return func(a *Assembler) { a.compressor = c }
}

// WithSTMWindow sets how many recent turns are rendered into the prompt.
func WithSTMWindow(n int) AssemblerOption {
	return func(a *Assembler) { a.stmWindow = n }
}

// WithLTMRetrieval sets the long-term retrieval depth and relevance floor.
func WithLTMRetrieval(n int, minRelevance float64) AssemblerOption {
	return func(a *Assembler) {
		a.ltmResults = n
		a.ltmMinRelevance = minRelevance
	}
}

// WithAssemblerLogger overrides the default slog logger.
func WithAssemblerLogger(l *slog.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler creates an Assembler over the given memory tiers.
func NewAssembler(stm *memory.ShortTermMemory, ltm *memory.LongTermMemory, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		stm:             stm,
		ltm:             ltm,
		stmWindow:       DefaultSTMWindow,
		ltmResults:      DefaultLTMResults,
		ltmMinRelevance: DefaultLTMMinRelevance,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProcessInput records an inbound event: unconditionally into STM, and into
// LTM when the admission predicate passes. LTM failures propagate — a lost
// write must not go unnoticed.
func (a *Assembler) ProcessInput(ctx context.Context, content string, source event.Source, user string, role memory.Role, metadata map[string]string) (memory.Entry, error) {
	entry := a.stm.Add(memory.Entry{
		Role:     role,
		Content:  content,
		Source:   source,
		User:     user,
		Metadata: metadata,
	})

	_, err := a.ltm.Add(ctx, content, memory.AddOptions{
		Source:   source,
		User:     user,
		Role:     role,
		Metadata: metadata,
	})
	if err != nil {
		return entry, fmt.Errorf("assembler: record input: %w", err)
	}
	return entry, nil
}

// ProcessResponse records a generated persona response: into STM as an
// assistant turn, and force-saved into LTM — responses anchor future recall
// of what the persona itself claimed.
func (a *Assembler) ProcessResponse(ctx context.Context, content string) (memory.Entry, error) {
	entry := a.stm.Add(memory.Entry{
		Role:    memory.RoleAssistant,
		Content: content,
	})

	_, err := a.ltm.Add(ctx, content, memory.AddOptions{
		Role:  memory.RoleAssistant,
		Force: true,
	})
	if err != nil {
		return entry, fmt.Errorf("assembler: record response: %w", err)
	}
	return entry, nil
}

// BuildMessages assembles the full LLM context for currentInput. The result
// is exactly two messages: one system message (persona prompt with the LTM
// context block appended, never interleaved with history) and one user
// message holding the rendered recent history plus the current input as a
// final instruction. Collapsing history into a single user message keeps the
// model from treating prior turns as instructions to role-play other
// speakers.
//
// Compression of the system prompt is best-effort: any compressor failure
// falls back to the uncompressed prompt and never fails the call. LTM
// retrieval failures do propagate (see package memory).
func (a *Assembler) BuildMessages(ctx context.Context, currentInput, systemPrompt string, compressPrompt bool) ([]llm.Message, error) {
	ltmContext, err := a.ltm.FormattedContext(ctx, currentInput, a.ltmResults, a.ltmMinRelevance)
	if err != nil {
		return nil, fmt.Errorf("assembler: ltm context: %w", err)
	}

	fullPrompt := systemPrompt
	if ltmContext != "" {
		fullPrompt = systemPrompt + "\n\n" + ltmContext
	}

	if compressPrompt && a.compressor != nil {
		result, err := a.compressor.Compress(ctx, fullPrompt)
		switch {
		case err != nil:
			a.logger.Warn("assembler: compression failed, using uncompressed prompt", "err", err)
		case result.Compressed:
			fullPrompt = result.Text
			a.logger.Info("assembler: prompt compressed",
				"original_tokens", result.OriginalTokens,
				"compressed_tokens", result.CompressedTokens,
				"saved", result.Saved(),
			)
		}
	}

	userBlock := a.renderHistory(currentInput)

	a.logger.Debug("assembler: context built",
		"stm_messages", a.stm.Len(),
		"has_ltm_context", ltmContext != "",
	)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: fullPrompt},
		{Role: llm.RoleUser, Content: userBlock},
	}, nil
}

// renderHistory formats the recent STM window as an annotated observation
// block, strictly oldest first, with the current input as the final
// instruction.
func (a *Assembler) renderHistory(currentInput string) string {
	var lines []string
	for _, e := range a.stm.Recent(a.stmWindow) {
		switch {
		case e.Role == memory.RoleAssistant:
			lines = append(lines, fmt.Sprintf("[You previously said]: %s", e.Content))
		case e.Source == event.SourceVision:
			lines = append(lines, fmt.Sprintf("[What you see on stream]: %s", e.Content))
		case e.Source == event.SourceSpeech:
			lines = append(lines, fmt.Sprintf("[Streamer said]: %s", e.Content))
		case e.Source == event.SourceChat:
			user := e.User
			if user == "" {
				user = "viewer"
			}
			lines = append(lines, fmt.Sprintf("[Chat from %s]: %s", user, e.Content))
		default:
			lines = append(lines, fmt.Sprintf("[Input]: %s", e.Content))
		}
	}

	lines = append(lines, fmt.Sprintf("\n[CURRENT MESSAGE]: %s", currentInput))
	lines = append(lines, "Now respond in character to this message:")
	return strings.Join(lines, "\n")
}

// Stats returns the current memory usage snapshot.
func (a *Assembler) Stats() MemoryStats {
	return MemoryStats{
		STMCount: a.stm.Len(),
		STMMax:   a.stm.Cap(),
		LTMCount: a.ltm.Count(),
	}
}
