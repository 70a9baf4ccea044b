// Package event defines the input and output event types that flow through
// the persona pipeline. It is a leaf package: everything else (memory, brain,
// orchestrator, outputs) depends on it, it depends on nothing.
package event

import "time"

// Source identifies where an input event originated.
type Source string

const (
	// SourceChat is a viewer message from the chat stream.
	SourceChat Source = "chat"
	// SourceSpeech is a transcribed utterance from the streamer.
	SourceSpeech Source = "speech"
	// SourceVision is a scene description from the vision poller.
	SourceVision Source = "vision"
	// SourceUnknown tags events whose provenance was not recorded.
	SourceUnknown Source = "unknown"
)

// Known reports whether s is one of the defined sources.
func (s Source) Known() bool {
	switch s {
	case SourceChat, SourceSpeech, SourceVision, SourceUnknown:
		return true
	}
	return false
}

// Priority ranks output events for downstream sinks. It is informational
// only — the brain never branches on it.
type Priority int

const (
	// PriorityNormal is the default for ordinary responses.
	PriorityNormal Priority = 1
	// PriorityMedium marks responses to direct questions.
	PriorityMedium Priority = 2
	// PriorityHigh marks responses triggered by a persona name mention.
	PriorityHigh Priority = 3
)

// InputEvent is one unit of inbound stimulus pushed by a producer.
type InputEvent struct {
	// Source tags the producer that emitted the event.
	Source Source
	// Content is the raw text payload: a chat line, a transcript fragment,
	// or a scene description.
	Content string
	// Timestamp is when the producer observed the stimulus.
	Timestamp time.Time
	// Metadata carries producer-specific extras (batch size, usernames).
	// Opaque to the pipeline; stored alongside the memory entry.
	Metadata map[string]string
}

// User returns the originating username recorded by chat producers,
// or the empty string when the event carries none.
func (e InputEvent) User() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata["user"]
}

// OutputEvent is one accepted persona response, fanned out to every
// registered sink exactly once.
type OutputEvent struct {
	// Text is what the persona says.
	Text string
	// Emotion is one of the persona's declared emotions ("neutral" when the
	// model returned something outside the vocabulary).
	Emotion string
	// Priority is the derived delivery priority.
	Priority Priority
	// Timestamp is when the response was accepted.
	Timestamp time.Time
}
