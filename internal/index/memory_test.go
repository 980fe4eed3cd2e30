package index

import (
	"context"
	"errors"
	"testing"

	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/pkg/errkind"
)

func TestMemoryUpsertMergesFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Upsert(ctx, domain.TableVideo, "abc123xyz01", Record{"title": "First", "views": int64(10)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, domain.TableVideo, "abc123xyz01", Record{"views": int64(25)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := store.Get(ctx, domain.TableVideo, "abc123xyz01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec["title"] != "First" {
		t.Errorf("title lost on merge: %v", rec["title"])
	}
	if rec["views"] != int64(25) {
		t.Errorf("views not updated: %v", rec["views"])
	}
	if rec["id"] != "abc123xyz01" {
		t.Errorf("id not set: %v", rec["id"])
	}
}

func TestMemoryGetMissing(t *testing.T) {
	store := NewMemory()
	_, err := store.Get(context.Background(), domain.TableVideo, "nope")
	if !errors.Is(err, errkind.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestMemoryQueryFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_ = store.Upsert(ctx, domain.TableVideo, "v1", Record{"channel_id": "UC1"})
	_ = store.Upsert(ctx, domain.TableVideo, "v2", Record{"channel_id": "UC2"})
	_ = store.Upsert(ctx, domain.TableVideo, "v3", Record{"channel_id": "UC1"})

	rows, err := store.Query(ctx, domain.TableVideo, Record{"channel_id": "UC1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["id"] != "v1" || rows[1]["id"] != "v3" {
		t.Errorf("unexpected order: %v, %v", rows[0]["id"], rows[1]["id"])
	}

	all, err := store.Query(ctx, domain.TableVideo, nil)
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
}

func TestMemoryDeleteDetaches(t *testing.T) {
	ctx := context.Background()
	store := NewMemory().(*memoryStore)
	_ = store.Upsert(ctx, domain.TableVideo, "v1", Record{})
	_ = store.Upsert(ctx, domain.TableChannel, "UC1", Record{})

	src := Ref{Table: domain.TableVideo, ID: "v1"}
	dst := Ref{Table: domain.TableChannel, ID: "UC1"}
	if err := store.Link(ctx, src, domain.RelHasChannel, dst, nil); err != nil {
		t.Fatalf("link: %v", err)
	}
	if !store.HasLink(src, domain.RelHasChannel, dst) {
		t.Fatal("link not recorded")
	}

	if err := store.Delete(ctx, domain.TableVideo, "v1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.HasLink(src, domain.RelHasChannel, dst) {
		t.Error("link survived node deletion")
	}
	if _, err := store.Get(ctx, domain.TableVideo, "v1"); !errors.Is(err, errkind.ErrNotFound) {
		t.Errorf("expected not-found after delete, got %v", err)
	}
}

func TestMemoryVectorSearch(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_ = store.Upsert(ctx, domain.TableVideoChunk, "v1:0", Record{"embedding": []float32{1, 0, 0}, "video_id": "v1"})
	_ = store.Upsert(ctx, domain.TableVideoChunk, "v1:1", Record{"embedding": []float32{0, 1, 0}, "video_id": "v1"})
	_ = store.Upsert(ctx, domain.TableVideoChunk, "v2:0", Record{"embedding": []float32{0.9, 0.1, 0}, "video_id": "v2"})

	hits, err := store.VectorSearch(ctx, domain.TableVideoChunk, "embedding", []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "v1:0" {
		t.Errorf("expected exact match first, got %s", hits[0].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not sorted by score")
	}

	filtered, err := store.VectorSearch(ctx, domain.TableVideoChunk, "embedding", []float32{1, 0, 0}, 10, Record{"video_id": "v2"})
	if err != nil {
		t.Fatalf("filtered search: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "v2:0" {
		t.Fatalf("filter not applied: %v", filtered)
	}
}
