package brain

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/velvetcat/aiko/internal/aiko/event"
	"github.com/velvetcat/aiko/internal/aiko/llm"
)

// scriptedProvider returns queued responses in order, then repeats the last.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	calls     int
	block     chan struct{} // when non-nil, Complete blocks until closed
	entered   chan struct{} // when non-nil, closed on first Complete call
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Response, error) {
	p.mu.Lock()
	p.calls++
	if p.entered != nil && p.calls == 1 {
		close(p.entered)
	}
	block := p.block
	p.mu.Unlock()

	if block != nil {
		<-block
	}
	if p.err != nil {
		return nil, p.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		return &llm.Response{Text: "fallback"}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func testPersona(t *testing.T) *PersonaConfig {
	t.Helper()
	cfg, err := ParsePersona([]byte(validPersonaYAML))
	if err != nil {
		t.Fatalf("parse persona: %v", err)
	}
	return cfg
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBrain(t *testing.T, provider llm.CompletionProvider, clock *testClock, opts ...Option) *Brain {
	t.Helper()
	assembler := newTestAssembler(&stubStore{})
	all := append([]Option{
		WithClock(clock.Now),
		WithRand(rand.New(rand.NewSource(42))),
	}, opts...)
	return New(provider, assembler, testPersona(t), all...)
}

func chatEvent(content, user string) event.InputEvent {
	return event.InputEvent{
		Source:   event.SourceChat,
		Content:  content,
		Metadata: map[string]string{"user": user},
	}
}

func TestProcessChatResponds(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Text: "hi bob!", Emotion: "happy"},
	}}
	clock := newTestClock()
	b := newTestBrain(t, provider, clock)

	out, err := b.Process(context.Background(), chatEvent("hello there", "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil {
		t.Fatal("expected a response for a chat event")
	}
	if out.Text != "hi bob!" {
		t.Errorf("expected response text, got %q", out.Text)
	}
	if out.Emotion != "happy" {
		t.Errorf("expected emotion preserved, got %q", out.Emotion)
	}
	if !out.Timestamp.Equal(clock.Now()) {
		t.Errorf("expected injected clock timestamp, got %v", out.Timestamp)
	}
}

func TestProcessCooldownSilences(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Text: "first response", Emotion: "neutral"},
		{Text: "second response", Emotion: "neutral"},
	}}
	clock := newTestClock()
	b := newTestBrain(t, provider, clock)
	ctx := context.Background()

	if out, _ := b.Process(ctx, chatEvent("hello", "bob")); out == nil {
		t.Fatal("expected first response")
	}

	// Cooldown is 2.5 s in the test persona; 1 s later is still inside it.
	clock.Advance(time.Second)
	out, err := b.Process(ctx, chatEvent("hello again", "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected silence inside cooldown, got %q", out.Text)
	}

	// Past the window the persona speaks again.
	clock.Advance(2 * time.Second)
	out, err = b.Process(ctx, chatEvent("still there?", "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil {
		t.Fatal("expected response after cooldown elapsed")
	}
}

func TestProcessComboBypassesGating(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Text: "hey chat!", Emotion: "neutral"},
		{Text: "whoa, look at that dragon", Emotion: "excited"},
	}}
	clock := newTestClock()
	b := newTestBrain(t, provider, clock)
	ctx := context.Background()

	if out, _ := b.Process(ctx, chatEvent("hi aiko", "bob")); out == nil {
		t.Fatal("expected chat response")
	}

	// A vision event immediately after a chat-triggered response chains a
	// follow-up despite the open cooldown window and the vision rate.
	out, err := b.Process(ctx, event.InputEvent{
		Source:  event.SourceVision,
		Content: "a dragon lands in front of the player",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil {
		t.Fatal("expected combo-triggered vision response")
	}
	if out.Text != "whoa, look at that dragon" {
		t.Errorf("unexpected response: %q", out.Text)
	}
}

func TestProcessVisionAdmissionRate(t *testing.T) {
	clock := newTestClock()
	visionEvent := event.InputEvent{Source: event.SourceVision, Content: "a quiet forest scene"}

	// Rate 1.0: every roll admits.
	provider := &scriptedProvider{responses: []*llm.Response{{Text: "pretty forest", Emotion: "neutral"}}}
	b := newTestBrain(t, provider, clock)
	persona := testPersona(t)
	persona.Behavior.VisionRate = 1.0
	b.UpdatePersona(persona)

	out, err := b.Process(context.Background(), visionEvent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil {
		t.Fatal("expected response with vision rate 1.0")
	}

	// Rate 0: rolls are in [0,1) so nothing is ever below zero, and the
	// provider is never called.
	provider = &scriptedProvider{}
	b = newTestBrain(t, provider, clock)
	persona = testPersona(t)
	persona.Behavior.VisionRate = 0
	b.UpdatePersona(persona)

	for range 5 {
		out, err = b.Process(context.Background(), visionEvent)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != nil {
			t.Fatalf("expected silence with vision rate 0, got %q", out.Text)
		}
	}
	if provider.calls != 0 {
		t.Errorf("expected no generation calls, got %d", provider.calls)
	}
}

func TestProcessUnknownSourceIgnored(t *testing.T) {
	provider := &scriptedProvider{}
	b := newTestBrain(t, provider, newTestClock())

	out, err := b.Process(context.Background(), event.InputEvent{
		Source:  event.Source("telemetry"),
		Content: "cpu at 80 percent",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Errorf("expected silence for unknown source, got %q", out.Text)
	}
	if provider.calls != 0 {
		t.Errorf("expected no generation, got %d calls", provider.calls)
	}
}

func TestProcessLLMFailureIsSilent(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("api down")}
	b := newTestBrain(t, provider, newTestClock())

	out, err := b.Process(context.Background(), chatEvent("hello", "bob"))
	if err != nil {
		t.Fatalf("LLM failure must not surface as an error, got %v", err)
	}
	if out != nil {
		t.Errorf("expected silence on LLM failure, got %q", out.Text)
	}
}

func TestProcessEmptyGenerationIsSilent(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{{Text: "   "}}}
	b := newTestBrain(t, provider, newTestClock())

	out, err := b.Process(context.Background(), chatEvent("hello", "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Errorf("expected silence for blank generation, got %q", out.Text)
	}
}

func TestProcessDeduplicatesWithoutStateUpdate(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Text: "what a play!", Emotion: "excited"},
		{Text: "what a play!", Emotion: "excited"},
		{Text: "something fresh", Emotion: "neutral"},
	}}
	clock := newTestClock()
	b := newTestBrain(t, provider, clock)
	ctx := context.Background()

	if out, _ := b.Process(ctx, chatEvent("nice clutch", "bob")); out == nil {
		t.Fatal("expected first response")
	}

	// Outside the cooldown, a repeated generation is dropped.
	clock.Advance(3 * time.Second)
	out, err := b.Process(ctx, chatEvent("that again!", "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected duplicate to be dropped, got %q", out.Text)
	}

	// The drop must not refresh cooldown state: a fresh generation right
	// after still passes because the last committed response is old.
	out, err = b.Process(ctx, chatEvent("ok now?", "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil {
		t.Fatal("expected fresh response after dropped duplicate")
	}
	if out.Text != "something fresh" {
		t.Errorf("unexpected response: %q", out.Text)
	}
}

func TestProcessBusyDropsConcurrentEvent(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{})
	provider := &scriptedProvider{
		responses: []*llm.Response{{Text: "thinking out loud", Emotion: "neutral"}},
		block:     block,
		entered:   entered,
	}
	b := newTestBrain(t, provider, newTestClock())
	ctx := context.Background()

	done := make(chan *event.OutputEvent, 1)
	go func() {
		out, _ := b.Process(ctx, chatEvent("slow question", "bob"))
		done <- out
	}()

	<-entered
	// While the first generation is in flight, a second event is dropped
	// rather than queued.
	out, err := b.Process(ctx, chatEvent("impatient ping", "eve"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected busy drop, got %q", out.Text)
	}

	close(block)
	if first := <-done; first == nil {
		t.Fatal("expected the in-flight generation to complete")
	}
}

func TestProcessCoercesUnknownEmotion(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Text: "so sparkly today", Emotion: "sparkly"},
	}}
	b := newTestBrain(t, provider, newTestClock())

	out, err := b.Process(context.Background(), chatEvent("how are you", "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil {
		t.Fatal("expected response")
	}
	if out.Emotion != "neutral" {
		t.Errorf("expected unknown emotion coerced to neutral, got %q", out.Emotion)
	}
}

func TestProcessMemoryErrorPropagates(t *testing.T) {
	wantErr := errors.New("vector store offline")
	assembler := newTestAssembler(&stubStore{addErr: wantErr})
	b := New(&scriptedProvider{}, assembler, testPersona(t), WithClock(newTestClock().Now))

	// Content long enough to hit the failing LTM write.
	_, err := b.Process(context.Background(), chatEvent("this message is long enough to be admitted", "bob"))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected memory error to propagate, got %v", err)
	}
}

func TestDerivePriority(t *testing.T) {
	persona := testPersona(t) // trigger word "aiko"
	tests := []struct {
		name    string
		content string
		want    event.Priority
	}{
		{"trigger word", "hey AIKO look at this", event.PriorityHigh},
		{"question", "what game is this?", event.PriorityMedium},
		{"plain", "good stream", event.PriorityNormal},
		{"trigger beats question", "aiko, you there?", event.PriorityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := event.InputEvent{Source: event.SourceChat, Content: tt.content}
			if got := derivePriority(ev, persona); got != tt.want {
				t.Errorf("derivePriority(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestUpdatePersonaHotSwap(t *testing.T) {
	b := newTestBrain(t, &scriptedProvider{}, newTestClock())
	if b.Persona().Name != "Aiko" {
		t.Fatalf("unexpected initial persona: %q", b.Persona().Name)
	}

	next := testPersona(t)
	next.Name = "Miko"
	b.UpdatePersona(next)
	if b.Persona().Name != "Miko" {
		t.Errorf("expected persona swapped, got %q", b.Persona().Name)
	}
}
