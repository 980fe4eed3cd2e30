package steps

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tubevault/backend/internal/domain"
)

func segmentText(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestChunkSplitsOnLongPause(t *testing.T) {
	// Two dense passages separated by a 10s silence; the token target is
	// small enough that the pause becomes a boundary.
	segments := []domain.TimedSegment{
		{Text: segmentText(90), Start: 0, Duration: 30},
		{Text: segmentText(90), Start: 30, Duration: 30},
		{Text: segmentText(90), Start: 70, Duration: 30}, // 10s pause before
	}

	chunks := chunkTimedTranscript("vid01", segments, 200)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].StartTime != 0 || chunks[0].EndTime != 60 {
		t.Errorf("first chunk bounds = [%v, %v]", chunks[0].StartTime, chunks[0].EndTime)
	}
	if chunks[1].StartTime != 70 {
		t.Errorf("second chunk should start after the pause, got %v", chunks[1].StartTime)
	}
}

func TestChunkIgnoresShortPauseUntilHardLimit(t *testing.T) {
	// Pauses are all 2s, below the boundary threshold; chunks only close at
	// twice the token target.
	var segments []domain.TimedSegment
	for i := 0; i < 10; i++ {
		segments = append(segments, domain.TimedSegment{
			Text:     segmentText(75), // ~100 tokens
			Start:    float64(i * 12),
			Duration: 10,
		})
	}

	chunks := chunkTimedTranscript("vid01", segments, 200)
	if len(chunks) < 2 {
		t.Fatalf("expected hard-limit splits, got %d chunks", len(chunks))
	}
	for _, c := range chunks[:len(chunks)-1] {
		if c.TokenCount < 400 {
			t.Errorf("chunk %d closed below hard limit: %d tokens", c.Index, c.TokenCount)
		}
	}
}

func TestChunkInvariants(t *testing.T) {
	var segments []domain.TimedSegment
	for i := 0; i < 40; i++ {
		start := float64(i * 15)
		if i%7 == 0 {
			start += 9 // periodic long pauses
		}
		segments = append(segments, domain.TimedSegment{
			Text:     segmentText(60),
			Start:    start,
			Duration: 12,
		})
	}

	chunks := chunkTimedTranscript("vid01", segments, 150)
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}

	seen := map[string]bool{}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.ChunkID != domain.ChunkID("vid01", i) {
			t.Errorf("chunk id %q", c.ChunkID)
		}
		if seen[c.ChunkID] {
			t.Errorf("duplicate chunk id %q", c.ChunkID)
		}
		seen[c.ChunkID] = true
		if i > 0 && c.StartTime < chunks[i-1].StartTime {
			t.Errorf("start_time not monotonic at chunk %d", i)
		}
		if i > 0 && chunks[i-1].EndTime > c.StartTime+0.001 {
			t.Errorf("chunk %d overlaps previous (end %v > start %v)", i, chunks[i-1].EndTime, c.StartTime)
		}
		if c.Text == "" || c.TokenCount == 0 {
			t.Errorf("chunk %d empty", i)
		}
	}
}

func TestChunkBoundsSingleGiantSegment(t *testing.T) {
	// An untimed transcript arrives as one segment; the token bound must
	// still hold.
	segments := []domain.TimedSegment{
		{Text: segmentText(3000), Start: 0, Duration: 600}, // ~4000 tokens
	}

	chunks := chunkTimedTranscript("vid01", segments, 200)
	if len(chunks) < 2 {
		t.Fatalf("expected giant segment to split, got %d chunks", len(chunks))
	}
	totalWords := 0
	for i, c := range chunks {
		if c.TokenCount > 400 {
			t.Errorf("chunk %d has %d tokens, above the hard limit", i, c.TokenCount)
		}
		if i > 0 && c.StartTime < chunks[i-1].StartTime {
			t.Errorf("start_time not monotonic at chunk %d", i)
		}
		totalWords += len(strings.Fields(c.Text))
	}
	if totalWords != 3000 {
		t.Errorf("words lost in split: %d of 3000", totalWords)
	}
	if last := chunks[len(chunks)-1]; last.EndTime > 600.001 {
		t.Errorf("last chunk end %v exceeds segment duration", last.EndTime)
	}
}

func TestChunkEmptyAndBlankSegments(t *testing.T) {
	if got := chunkTimedTranscript("vid01", nil, 100); len(got) != 0 {
		t.Errorf("nil segments should produce no chunks, got %d", len(got))
	}
	blank := []domain.TimedSegment{{Text: "   ", Start: 0, Duration: 1}}
	if got := chunkTimedTranscript("vid01", blank, 100); len(got) != 0 {
		t.Errorf("blank segments should produce no chunks, got %d", len(got))
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 0 {
		t.Errorf("empty text = %d tokens", got)
	}
	if got := estimateTokens("one two three"); got != 4 {
		t.Errorf("3 words = %d tokens, want 4", got)
	}
}
