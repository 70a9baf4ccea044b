package memory

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// defaultCollection is the chromem collection name used for persona memories.
const defaultCollection = "persona_memory"

// ChromemStore implements VectorStore on top of chromem-go, an embedded
// vector database with optional on-disk persistence. Queries use cosine
// similarity; the store converts it to cosine distance (1 − similarity)
// at the interface boundary.
type ChromemStore struct {
	mu    sync.Mutex
	db    *chromem.DB
	col   *chromem.Collection
	name  string
	embed chromem.EmbeddingFunc
}

// NewChromemStore opens (or creates) a persistent store under dir.
// The embed function is registered with the collection but only exercised
// when chromem needs to embed on its own; this store always supplies
// explicit vectors.
func NewChromemStore(dir string, embed EmbedFunc) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("chromem store: open %s: %w", dir, err)
	}
	return newChromemStore(db, embed)
}

// NewChromemStoreInMemory creates a volatile store, used in tests and for
// ephemeral personas.
func NewChromemStoreInMemory(embed EmbedFunc) (*ChromemStore, error) {
	return newChromemStore(chromem.NewDB(), embed)
}

func newChromemStore(db *chromem.DB, embed EmbedFunc) (*ChromemStore, error) {
	fn := chromem.EmbeddingFunc(embed)
	col, err := db.GetOrCreateCollection(defaultCollection, nil, fn)
	if err != nil {
		return nil, fmt.Errorf("chromem store: create collection: %w", err)
	}
	return &ChromemStore{db: db, col: col, name: defaultCollection, embed: fn}, nil
}

// Add persists one record with an explicit embedding.
func (s *ChromemStore) Add(ctx context.Context, id string, vec []float32, content string, metadata map[string]string) error {
	s.mu.Lock()
	col := s.col
	s.mu.Unlock()

	err := col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: vec,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("chromem store: add document %s: %w", id, err)
	}
	return nil
}

// Query returns up to k nearest neighbours, closest first.
func (s *ChromemStore) Query(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	s.mu.Lock()
	col := s.col
	s.mu.Unlock()

	count := col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem store: query: %w", err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Distance: 1 - float64(r.Similarity),
		}
	}
	return hits, nil
}

// Count returns the number of stored records.
func (s *ChromemStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.Count()
}

// DeleteAll drops and recreates the collection.
func (s *ChromemStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("chromem store: delete collection: %w", err)
	}
	col, err := s.db.GetOrCreateCollection(s.name, nil, s.embed)
	if err != nil {
		return fmt.Errorf("chromem store: recreate collection: %w", err)
	}
	s.col = col
	return nil
}

var _ VectorStore = (*ChromemStore)(nil)
