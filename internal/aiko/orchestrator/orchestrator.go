// Package orchestrator runs the event loop that joins the input feeds to the
// persona brain and the output sinks. Producers publish into a bounded queue
// without blocking; a single consumer goroutine serializes brain calls,
// batches vision observations, and fans accepted responses out to every sink.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/velvetcat/aiko/internal/aiko/brain"
	"github.com/velvetcat/aiko/internal/aiko/event"
	"github.com/velvetcat/aiko/internal/aiko/outputs"
)

// DefaultQueueSize bounds the input queue. A full queue drops new events
// rather than blocking producers — a stalled generation must never back up
// the chat reader.
const DefaultQueueSize = 64

// Config configures an Orchestrator.
type Config struct {
	// QueueSize bounds the input queue. Defaults to DefaultQueueSize.
	QueueSize int
	// ChatLimit is the per-viewer chat quota per ChatWindow. Defaults to
	// DefaultChatLimit.
	ChatLimit int
	// ChatWindow is the rate-limit sliding window. Defaults to one minute.
	ChatWindow time.Duration
}

// Orchestrator owns the single consumer loop. Vision batching parameters are
// read from the brain's active persona on every flush decision, so a persona
// hot-swap takes effect without restarting the loop.
type Orchestrator struct {
	brain   *brain.Brain
	sinks   []outputs.Sink
	input   chan event.InputEvent
	limiter *chatLimiter
	logger  *slog.Logger
	now     func() time.Time

	// visionBatch accumulates raw vision observations between flushes. Only
	// the consumer goroutine touches it.
	visionBatch []event.InputEvent
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock injects the time source used for event timestamps.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator feeding b and delivering to sinks.
func New(b *brain.Brain, sinks []outputs.Sink, cfg Config, opts ...OrchestratorOption) *Orchestrator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	o := &Orchestrator{
		brain:   b,
		sinks:   sinks,
		input:   make(chan event.InputEvent, cfg.QueueSize),
		limiter: newChatLimiter(cfg.ChatLimit, cfg.ChatWindow),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Publish enqueues an inbound event without blocking. It returns false when
// the event was dropped, either because the queue is full or because the
// sending viewer exceeded the chat rate limit. A zero Timestamp is filled
// with the current time.
func (o *Orchestrator) Publish(ev event.InputEvent) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now()
	}
	if ev.Source == event.SourceChat {
		if user := ev.User(); user != "" && !o.limiter.Allow(user) {
			o.logger.Debug("orchestrator: chat rate limit", "user", user)
			return false
		}
	}
	select {
	case o.input <- ev:
		return true
	default:
		o.logger.Warn("orchestrator: input queue full, dropping event",
			"source", ev.Source,
			"content", clip(ev.Content, 50),
		)
		return false
	}
}

// Run drives the consumer loop until ctx is cancelled. Pending vision
// observations are flushed before returning so a graceful shutdown does not
// lose a partial batch.
func (o *Orchestrator) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	o.logger.Info("orchestrator: running", "queue_size", cap(o.input), "sinks", len(o.sinks))

	for {
		select {
		case <-ctx.Done():
			if len(o.visionBatch) > 0 {
				o.flushVision(context.WithoutCancel(ctx))
			}
			o.logger.Info("orchestrator: stopped")
			return ctx.Err()

		case ev := <-o.input:
			if ev.Source == event.SourceVision {
				o.bufferVision(ctx, ev, timer)
				continue
			}
			o.dispatch(ctx, ev)

		case <-timer.C:
			o.flushVision(ctx)
		}
	}
}

// bufferVision accumulates a vision observation and flushes when the batch
// fills. The first observation of a batch arms the flush timer.
func (o *Orchestrator) bufferVision(ctx context.Context, ev event.InputEvent, timer *time.Timer) {
	behavior := o.brain.Persona().Behavior
	o.visionBatch = append(o.visionBatch, ev)

	if len(o.visionBatch) >= behavior.VisionBatchSize {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		o.flushVision(ctx)
		return
	}
	if len(o.visionBatch) == 1 {
		timer.Reset(behavior.VisionTimeoutDuration())
	}
}

// flushVision collapses the pending batch into one synthetic scene event and
// dispatches it. Only the newest observation survives: it describes the
// current scene, and the batch_size metadata records how many frames were
// collapsed into it.
func (o *Orchestrator) flushVision(ctx context.Context) {
	if len(o.visionBatch) == 0 {
		return
	}
	newest := o.visionBatch[len(o.visionBatch)-1]
	size := len(o.visionBatch)
	o.visionBatch = o.visionBatch[:0]

	metadata := make(map[string]string, len(newest.Metadata)+1)
	for k, v := range newest.Metadata {
		metadata[k] = v
	}
	metadata["batch_size"] = fmt.Sprintf("%d", size)

	o.logger.Debug("orchestrator: vision batch flushed", "batch_size", size)

	o.dispatch(ctx, event.InputEvent{
		Source:    event.SourceVision,
		Content:   fmt.Sprintf("[Scene observation] %s", newest.Content),
		Timestamp: newest.Timestamp,
		Metadata:  metadata,
	})
}

// dispatch runs one event through the brain and fans any accepted response
// out to all sinks. Sink failures are logged per sink and never affect the
// others; the loop waits for every sink before pulling the next event so
// responses reach renderers in order.
func (o *Orchestrator) dispatch(ctx context.Context, ev event.InputEvent) {
	out, err := o.brain.Process(ctx, ev)
	if err != nil {
		o.logger.Error("orchestrator: process failed", "err", err, "source", ev.Source)
		return
	}
	if out == nil {
		return
	}

	var wg sync.WaitGroup
	for _, sink := range o.sinks {
		wg.Add(1)
		go func(s outputs.Sink) {
			defer wg.Done()
			if err := s.Handle(ctx, *out); err != nil {
				o.logger.Error("orchestrator: sink failed", "sink", s.Name(), "err", err)
			}
		}(sink)
	}
	wg.Wait()
}

// PendingVision returns the size of the unflushed vision batch. Intended for
// stats endpoints; the value is advisory since only the consumer goroutine
// mutates the batch.
func (o *Orchestrator) PendingVision() int {
	return len(o.visionBatch)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
