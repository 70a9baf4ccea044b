// Package outputs holds the delivery side of the pipeline: every accepted
// persona response is fanned out to all registered sinks. A sink failure is
// isolated — it never blocks or fails delivery to the other sinks.
package outputs

import (
	"context"

	"github.com/velvetcat/aiko/internal/aiko/event"
)

// Sink consumes accepted persona responses. Implementations must tolerate
// concurrent Handle calls for different events and should bound their own
// latency — the orchestrator waits for every sink before pulling the next
// response.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string
	// Handle delivers one output event. Errors are logged by the caller and
	// never affect other sinks.
	Handle(ctx context.Context, out event.OutputEvent) error
}
