package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/velvetcat/aiko/internal/aiko/event"
)

// EmbedFunc produces a fixed-length vector embedding for a text. It must be
// deterministic for identical input — long-term memory relies on write/read
// symmetry between storage and retrieval.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Hit is a single nearest-neighbour result from a VectorStore query.
type Hit struct {
	ID       string
	Content  string
	Metadata map[string]string
	// Distance is the cosine distance to the query vector. Smaller is closer.
	Distance float64
}

// VectorStore is the persistence backend for long-term memory. Implementations
// must keep embedding dimensionality fixed per collection.
type VectorStore interface {
	// Add persists one record. IDs are unique; re-adding an ID replaces it.
	Add(ctx context.Context, id string, vec []float32, content string, metadata map[string]string) error
	// Query returns up to k nearest neighbours ranked closest first.
	Query(ctx context.Context, vec []float32, k int) ([]Hit, error)
	// Count returns the number of stored records.
	Count() int
	// DeleteAll removes every record in the collection.
	DeleteAll(ctx context.Context) error
}

// Result is a retrieved long-term memory with its relevance score.
type Result struct {
	Content   string
	Timestamp string // RFC 3339, from the record metadata
	Source    event.Source
	User      string
	// Relevance is 1 − cosine distance. Practically in [0,1] for normalized
	// embeddings; values outside that range are passed through untouched.
	Relevance float64
	Metadata  map[string]string
}

// String renders the result the way it appears inside an assembled prompt.
func (r Result) String() string {
	day := r.Timestamp
	if len(day) >= 10 {
		day = day[:10]
	} else if day == "" {
		day = "unknown"
	}
	if r.User != "" {
		return fmt.Sprintf("[%s] %s: %s", day, r.User, r.Content)
	}
	return fmt.Sprintf("[%s] %s", day, r.Content)
}

// AddOptions carries the provenance recorded alongside a long-term memory.
type AddOptions struct {
	Source   event.Source
	User     string
	Role     Role
	Metadata map[string]string
	// Force bypasses the admission predicate. The brain force-saves its own
	// responses so future retrieval can recall what the persona claimed.
	Force bool
}

// LongTermMemory is the content-addressed semantic store. Writes go through
// the admission predicate unless forced; reads are relevance-ranked
// nearest-neighbour lookups.
//
// Embedding or store errors propagate to the caller — a broken memory layer
// must not silently degrade to empty context without signal.
type LongTermMemory struct {
	store     VectorStore
	embed     EmbedFunc
	admission Admission
	logger    *slog.Logger
}

// NewLongTerm creates a LongTermMemory over the given store and embedder.
// If logger is nil the default slog logger is used.
func NewLongTerm(store VectorStore, embed EmbedFunc, admission Admission, logger *slog.Logger) *LongTermMemory {
	if logger == nil {
		logger = slog.Default()
	}
	return &LongTermMemory{store: store, embed: embed, admission: admission, logger: logger}
}

// Add stores content in long-term memory when it passes the admission
// predicate or opts.Force is set. Returns the new record ID, or "" when the
// line was skipped.
func (l *LongTermMemory) Add(ctx context.Context, content string, opts AddOptions) (string, error) {
	if !opts.Force && !l.admission.ShouldSave(content) {
		l.logger.Debug("ltm: skipped", "reason", "admission", "content_len", len(content))
		return "", nil
	}

	source := opts.Source
	if source == "" {
		source = event.SourceUnknown
	}
	role := opts.Role
	if role == "" {
		role = RoleUser
	}

	metadata := map[string]string{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"source":    string(source),
		"user":      opts.User,
		"role":      string(role),
	}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	vec, err := l.embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("ltm: embed content: %w", err)
	}

	id := uuid.New().String()
	if err := l.store.Add(ctx, id, vec, content, metadata); err != nil {
		return "", fmt.Errorf("ltm: store record: %w", err)
	}

	l.logger.Debug("ltm: added",
		"id", id,
		"source", source,
		"content_len", len(content),
		"total", l.store.Count(),
	)
	return id, nil
}

// Retrieve returns up to n memories relevant to query, most relevant first.
// Relevance is 1 − cosine distance; results below minRelevance are dropped.
// An empty store yields an empty slice and no error.
func (l *LongTermMemory) Retrieve(ctx context.Context, query string, n int, minRelevance float64) ([]Result, error) {
	count := l.store.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}

	vec, err := l.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ltm: embed query: %w", err)
	}

	k := n
	if k > count {
		k = count
	}
	hits, err := l.store.Query(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("ltm: query store: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		relevance := 1 - h.Distance
		if relevance < minRelevance {
			continue
		}
		results = append(results, Result{
			Content:   h.Content,
			Timestamp: h.Metadata["timestamp"],
			Source:    event.Source(h.Metadata["source"]),
			User:      h.Metadata["user"],
			Relevance: relevance,
			Metadata:  h.Metadata,
		})
	}

	// Stable: ties keep the store's return order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})

	l.logger.Debug("ltm: retrieved", "query_len", len(query), "results", len(results))
	return results, nil
}

// FormattedContext renders the relevant memories for query as a prompt block.
// Returns "" when nothing clears minRelevance.
func (l *LongTermMemory) FormattedContext(ctx context.Context, query string, n int, minRelevance float64) (string, error) {
	results, err := l.Retrieve(ctx, query, n, minRelevance)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Relevant past context:")
	for _, r := range results {
		b.WriteString("\n- ")
		b.WriteString(r.String())
	}
	return b.String(), nil
}

// Clear removes every stored memory.
func (l *LongTermMemory) Clear(ctx context.Context) error {
	if err := l.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("ltm: clear: %w", err)
	}
	l.logger.Info("ltm: cleared")
	return nil
}

// Count returns the number of stored memories.
func (l *LongTermMemory) Count() int {
	return l.store.Count()
}
