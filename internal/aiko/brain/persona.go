// Package brain implements the persona decision engine: context assembly
// from the two memory tiers, admission control, cooldown, deduplication,
// combo-trigger chaining, and the single-generation concurrency gate.
package brain

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Behavior defaults, kept as configurable knobs rather than derived values.
const (
	DefaultCooldownSeconds     = 3.0
	DefaultVisionRate          = 0.10
	DefaultSpeechRate          = 0.5
	DefaultSimilarityThreshold = 0.6
	DefaultVisionBatchSize     = 5
	DefaultVisionBatchTimeout  = 15.0
)

// Behavior holds the persona's response-gating knobs.
type Behavior struct {
	// Cooldown is the minimum number of seconds between responses.
	Cooldown float64 `yaml:"cooldown" json:"cooldown"`
	// VisionRate is the probability of reacting to a vision event (0-1).
	VisionRate float64 `yaml:"vision_rate" json:"vision_rate"`
	// SpeechRate is the probability of reacting to a speech event (0-1).
	SpeechRate float64 `yaml:"speech_rate" json:"speech_rate"`
	// TriggerWords raise response priority when mentioned in chat.
	TriggerWords []string `yaml:"trigger_words" json:"trigger_words,omitempty"`
	// SimilarityThreshold rejects generated text whose normalized similarity
	// to a recent response exceeds it (0-1).
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	// VisionBatchSize is how many vision samples the orchestrator collapses
	// into one scene observation.
	VisionBatchSize int `yaml:"vision_batch_size" json:"vision_batch_size"`
	// VisionBatchTimeout is the maximum seconds a partial vision batch waits
	// before being flushed.
	VisionBatchTimeout float64 `yaml:"vision_batch_timeout" json:"vision_batch_timeout"`
}

// CooldownDuration returns the cooldown as a time.Duration.
func (b Behavior) CooldownDuration() time.Duration {
	return time.Duration(b.Cooldown * float64(time.Second))
}

// VisionTimeoutDuration returns the vision batch timeout as a time.Duration.
func (b Behavior) VisionTimeoutDuration() time.Duration {
	return time.Duration(b.VisionBatchTimeout * float64(time.Second))
}

// PersonaConfig is an immutable snapshot of the persona's personality text,
// style rules, emotion vocabulary, voice settings, and behavior knobs.
// Snapshots are replaced atomically via Brain.UpdatePersona; readers never
// observe a partially-updated config.
type PersonaConfig struct {
	// Name is the persona's display name.
	Name string `yaml:"name" json:"name"`
	// Personality is the free-text character description.
	Personality string `yaml:"personality" json:"personality"`
	// Style lists speaking-style rules rendered into the system prompt.
	Style []string `yaml:"style" json:"style,omitempty"`
	// Emotions is the declared emotion vocabulary. Must contain "neutral",
	// the coercion target for out-of-vocabulary model output.
	Emotions []string `yaml:"emotions" json:"emotions"`
	// Voice carries TTS vendor settings, opaque to the brain.
	Voice map[string]string `yaml:"voice" json:"voice,omitempty"`
	// Behavior holds the gating knobs.
	Behavior Behavior `yaml:"behavior" json:"behavior"`
}

// LoadPersona reads and parses a persona YAML file.
func LoadPersona(path string) (*PersonaConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}
	return ParsePersona(data)
}

// ParsePersona decodes a persona YAML document, applies defaults, and
// validates it. The canonical entry point for loading personas.
func ParsePersona(data []byte) (*PersonaConfig, error) {
	var cfg PersonaConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("persona: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills zero-valued behavior knobs with their defaults.
func (c *PersonaConfig) applyDefaults() {
	if c.Behavior.Cooldown == 0 {
		c.Behavior.Cooldown = DefaultCooldownSeconds
	}
	if c.Behavior.VisionRate == 0 {
		c.Behavior.VisionRate = DefaultVisionRate
	}
	if c.Behavior.SpeechRate == 0 {
		c.Behavior.SpeechRate = DefaultSpeechRate
	}
	if c.Behavior.SimilarityThreshold == 0 {
		c.Behavior.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.Behavior.VisionBatchSize == 0 {
		c.Behavior.VisionBatchSize = DefaultVisionBatchSize
	}
	if c.Behavior.VisionBatchTimeout == 0 {
		c.Behavior.VisionBatchTimeout = DefaultVisionBatchTimeout
	}
	if len(c.Emotions) == 0 {
		c.Emotions = []string{"neutral"}
	}
}

// Validate checks the config for structural correctness.
func (c *PersonaConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("persona: name must not be empty")
	}
	if strings.TrimSpace(c.Personality) == "" {
		return fmt.Errorf("persona: personality must not be empty")
	}
	if !c.HasEmotion("neutral") {
		return fmt.Errorf("persona: emotions must include %q", "neutral")
	}
	if c.Behavior.Cooldown < 0 {
		return fmt.Errorf("persona: behavior.cooldown must not be negative")
	}
	if c.Behavior.VisionRate < 0 || c.Behavior.VisionRate > 1 {
		return fmt.Errorf("persona: behavior.vision_rate must be in [0,1], got %v", c.Behavior.VisionRate)
	}
	if c.Behavior.SpeechRate < 0 || c.Behavior.SpeechRate > 1 {
		return fmt.Errorf("persona: behavior.speech_rate must be in [0,1], got %v", c.Behavior.SpeechRate)
	}
	if c.Behavior.SimilarityThreshold <= 0 || c.Behavior.SimilarityThreshold > 1 {
		return fmt.Errorf("persona: behavior.similarity_threshold must be in (0,1], got %v", c.Behavior.SimilarityThreshold)
	}
	if c.Behavior.VisionBatchSize < 1 {
		return fmt.Errorf("persona: behavior.vision_batch_size must be ≥ 1")
	}
	return nil
}

// HasEmotion reports whether e is in the persona's emotion vocabulary.
func (c *PersonaConfig) HasEmotion(e string) bool {
	for _, known := range c.Emotions {
		if known == e {
			return true
		}
	}
	return false
}

// SystemPrompt renders the persona into the system message sent with every
// generation. Exact wording is presentation, not protocol — downstream code
// depends only on the JSON response format instruction at the end.
func (c *PersonaConfig) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a virtual AI companion for a live stream.\n\n", c.Name)
	fmt.Fprintf(&b, "PERSONALITY:\n%s\n\n", c.Personality)

	if len(c.Style) > 0 {
		b.WriteString("SPEAKING STYLE:\n")
		for _, rule := range c.Style {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
		b.WriteString("\n")
	}

	b.WriteString(`GUIDELINES:
- Keep responses SHORT (1-2 sentences max)
- React naturally and conversationally
- Engage with chat when appropriate
- Support the streamer
- Stay in character at all times
- Use past context when relevant to the current conversation

`)
	fmt.Fprintf(&b, "Available emotions: %s\n\n", strings.Join(c.Emotions, ", "))
	b.WriteString(`RESPONSE FORMAT:
You MUST respond with valid JSON in this exact format:
{"text": "your response here", "emotion": "emotion_name"}`)
	return b.String()
}
