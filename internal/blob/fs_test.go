package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

func newFS(t *testing.T) Store {
	t.Helper()
	s, err := NewFS(logger.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	return s
}

func TestFSPutGetDelete(t *testing.T) {
	s := newFS(t)
	ctx := context.Background()
	key := TranscriptKey("vid1")

	if err := s.PutBytes(ctx, key, []byte("hello world")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetBytes(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("got %q", got)
	}

	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = s.Exists(ctx, key)
	if err != nil || ok {
		t.Fatalf("exists after delete = %v, %v", ok, err)
	}
	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestFSGetMissingIsNotFound(t *testing.T) {
	s := newFS(t)
	if _, err := s.GetBytes(context.Background(), "nope/missing.txt"); !errors.Is(err, errkind.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	var out map[string]any
	if err := s.GetJSON(context.Background(), "nope/missing.json", &out); !errors.Is(err, errkind.ErrNotFound) {
		t.Fatalf("json expected not-found, got %v", err)
	}
}

func TestFSJSONRoundTrip(t *testing.T) {
	s := newFS(t)
	ctx := context.Background()
	key := LLMOutputKey("vid1", "tags")

	in := map[string]any{"summary": "a video", "tags": []any{"go", "testing"}}
	if err := s.PutJSON(ctx, key, in); err != nil {
		t.Fatalf("put json: %v", err)
	}
	var out map[string]any
	if err := s.GetJSON(ctx, key, &out); err != nil {
		t.Fatalf("get json: %v", err)
	}
	if out["summary"] != "a video" {
		t.Errorf("out = %v", out)
	}
	tags, _ := out["tags"].([]any)
	if len(tags) != 2 {
		t.Errorf("tags = %v", out["tags"])
	}
}

func TestFSListByPrefix(t *testing.T) {
	s := newFS(t)
	ctx := context.Background()

	keys := []string{
		TranscriptKey("vidb"),
		TranscriptKey("vida"),
		ArchiveMirrorKey("2026-01", "vida"),
		BackupKey("20260101_000000", "manifest.json"),
	}
	for _, k := range keys {
		if err := s.PutBytes(ctx, k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	got, err := s.List(ctx, "transcripts/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"transcripts/vida.txt", "transcripts/vidb.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != len(keys) {
		t.Errorf("all = %v", all)
	}
}

func TestFSColonKeys(t *testing.T) {
	s := newFS(t)
	ctx := context.Background()
	key := VideoCacheKey("vid1")

	if err := s.PutBytes(ctx, key, []byte("cached")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetBytes(ctx, key)
	if err != nil || string(got) != "cached" {
		t.Fatalf("get = %q, %v", got, err)
	}
}
