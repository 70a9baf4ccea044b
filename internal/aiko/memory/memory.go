// Package memory implements the persona's two-tier conversation memory.
// Short-term memory keeps the last few turns in full fidelity for
// conversational coherence; long-term memory stores save-worthy lines as
// embeddings for fuzzy semantic recall across sessions.
package memory

import (
	"time"

	"github.com/velvetcat/aiko/internal/aiko/event"
)

// Role identifies who produced a conversational turn.
type Role string

const (
	// RoleUser marks turns originating from the outside world (chat,
	// speech transcripts, vision observations).
	RoleUser Role = "user"
	// RoleAssistant marks turns the persona itself produced.
	RoleAssistant Role = "assistant"
)

// Entry is a single conversational turn. Entries are immutable once created;
// they disappear only through STM eviction or an explicit LTM clear.
type Entry struct {
	Role      Role              // who spoke
	Content   string            // turn text
	Timestamp time.Time         // when the turn was recorded
	Source    event.Source      // provenance tag, used for prompt formatting
	User      string            // originating username (chat only)
	Metadata  map[string]string // producer extras, opaque to storage
}

// Message is a role/content pair in the shape LLM chat APIs consume.
type Message struct {
	Role    string
	Content string
}

// ToMessage converts the entry to its LLM chat representation.
func (e Entry) ToMessage() Message {
	return Message{Role: string(e.Role), Content: e.Content}
}
