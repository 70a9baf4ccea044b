package memory

import (
	"context"
	"testing"
)

func TestChromemStoreRoundTrip(t *testing.T) {
	store, err := NewChromemStoreInMemory(fixedEmbed([]float32{1, 0, 0}))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	ctx := context.Background()

	if err := store.Add(ctx, "a", []float32{1, 0, 0}, "about games", map[string]string{"user": "alice"}); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := store.Add(ctx, "b", []float32{0, 1, 0}, "about food", nil); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if got := store.Count(); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}

	hits, err := store.Query(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].ID != "a" || hits[0].Content != "about games" {
		t.Errorf("unexpected hit: %+v", hits[0])
	}
	if hits[0].Distance > 1e-6 {
		t.Errorf("expected near-zero distance, got %v", hits[0].Distance)
	}
	if hits[0].Metadata["user"] != "alice" {
		t.Errorf("unexpected metadata: %v", hits[0].Metadata)
	}
}

func TestChromemStoreQueryEmpty(t *testing.T) {
	store, err := NewChromemStoreInMemory(fixedEmbed([]float32{1, 0}))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	hits, err := store.Query(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits from empty store, got %d", len(hits))
	}
}

func TestChromemStoreKCappedToCount(t *testing.T) {
	store, err := NewChromemStoreInMemory(fixedEmbed([]float32{1, 0}))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	ctx := context.Background()
	if err := store.Add(ctx, "only", []float32{1, 0}, "single record", nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := store.Query(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 hit, got %d", len(hits))
	}
}

func TestChromemStoreDeleteAll(t *testing.T) {
	store, err := NewChromemStoreInMemory(fixedEmbed([]float32{1, 0}))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	ctx := context.Background()
	if err := store.Add(ctx, "a", []float32{1, 0}, "content", nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := store.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if got := store.Count(); got != 0 {
		t.Errorf("expected empty store, got %d", got)
	}

	// The store stays usable after a wipe.
	if err := store.Add(ctx, "b", []float32{0, 1}, "fresh", nil); err != nil {
		t.Fatalf("add after wipe: %v", err)
	}
	if got := store.Count(); got != 1 {
		t.Errorf("expected 1 record after re-add, got %d", got)
	}
}
