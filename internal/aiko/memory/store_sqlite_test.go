package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	records := []struct {
		id  string
		vec []float32
	}{
		{"a", []float32{1, 0, 0}},
		{"b", []float32{0, 1, 0}},
		{"c", []float32{0.9, 0.1, 0}},
	}
	for _, r := range records {
		err := store.Add(ctx, r.id, r.vec, "content-"+r.id, map[string]string{"source": "chat"})
		if err != nil {
			t.Fatalf("add %s: %v", r.id, err)
		}
	}
	if got := store.Count(); got != 3 {
		t.Fatalf("expected count 3, got %d", got)
	}

	hits, err := store.Query(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "a" {
		t.Errorf("expected closest hit a, got %s", hits[0].ID)
	}
	if hits[1].ID != "c" {
		t.Errorf("expected second hit c, got %s", hits[1].ID)
	}
	if hits[0].Distance > 1e-9 {
		t.Errorf("expected near-zero distance for identical vector, got %v", hits[0].Distance)
	}
	if hits[0].Metadata["source"] != "chat" {
		t.Errorf("unexpected metadata: %v", hits[0].Metadata)
	}
}

func TestSQLiteStoreReplaceByID(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	if err := store.Add(ctx, "x", []float32{1, 0}, "first", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Add(ctx, "x", []float32{1, 0}, "second", nil); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if got := store.Count(); got != 1 {
		t.Fatalf("expected count 1 after replace, got %d", got)
	}

	hits, err := store.Query(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "second" {
		t.Errorf("expected replaced content, got %v", hits)
	}
}

func TestSQLiteStoreDeleteAll(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	if err := store.Add(ctx, "a", []float32{1}, "content", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if got := store.Count(); got != 0 {
		t.Errorf("expected empty store, got %d", got)
	}
	hits, err := store.Query(ctx, []float32{1}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories.db")
	store, err := OpenSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	if err := store.Add(ctx, "a", []float32{1, 0}, "persisted", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	store.Close()

	reopened, err := OpenSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Count(); got != 1 {
		t.Errorf("expected 1 record after reopen, got %d", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched lengths", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
