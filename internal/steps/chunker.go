package steps

import (
	"strings"

	"github.com/tubevault/backend/internal/domain"
)

// pauseBoundarySeconds is the minimum silence between two segments that
// counts as a natural chunk boundary.
const pauseBoundarySeconds = 8.0

// estimateTokens approximates token count from word count: roughly 4 tokens
// per 3 words, rounded.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}

// chunkTimedTranscript partitions the timed transcript into chunks. A chunk
// closes on a pause of at least pauseBoundarySeconds once it has reached the
// token target, and unconditionally at twice the target. start_time is
// monotonically increasing across chunks. Segments within the target are
// never split; a segment exceeding it on its own is word-split first so the
// token bound holds even for untimed single-segment transcripts.
func chunkTimedTranscript(videoID string, segments []domain.TimedSegment, targetTokens int) []domain.VideoChunk {
	if targetTokens <= 0 {
		targetTokens = 2500
	}
	maxTokens := targetTokens * 2

	var chunks []domain.VideoChunk
	var parts []string
	var tokens int
	var start, end float64

	flush := func() {
		if len(parts) == 0 {
			return
		}
		idx := len(chunks)
		chunks = append(chunks, domain.VideoChunk{
			ChunkID:    domain.ChunkID(videoID, idx),
			VideoID:    videoID,
			Index:      idx,
			Text:       strings.Join(parts, " "),
			StartTime:  start,
			EndTime:    end,
			TokenCount: tokens,
		})
		parts = parts[:0]
		tokens = 0
	}

	var parted []domain.TimedSegment
	for _, seg := range segments {
		parted = append(parted, splitOversized(seg, targetTokens)...)
	}

	for _, seg := range parted {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segStart := seg.Start
		segEnd := seg.Start + seg.Duration

		if len(parts) > 0 {
			pause := segStart - end
			if tokens >= targetTokens && pause >= pauseBoundarySeconds {
				flush()
			} else if tokens >= maxTokens {
				flush()
			}
		}
		if len(parts) == 0 {
			start = segStart
			end = segEnd
		}
		parts = append(parts, text)
		tokens += estimateTokens(text)
		if segEnd > end {
			end = segEnd
		}
	}
	flush()
	return chunks
}

// splitOversized breaks a single segment that alone exceeds the token target
// into word windows of roughly targetTokens each, apportioning start and
// duration by word position so chunk times stay monotone. Untimed transcripts
// arrive as one giant segment; without this they would defeat the token bound.
func splitOversized(seg domain.TimedSegment, targetTokens int) []domain.TimedSegment {
	words := strings.Fields(seg.Text)
	// Inverse of estimateTokens: targetTokens ≈ words*4/3.
	wordsPerPart := targetTokens * 3 / 4
	if wordsPerPart < 1 {
		wordsPerPart = 1
	}
	if len(words) <= wordsPerPart {
		return []domain.TimedSegment{seg}
	}

	total := float64(len(words))
	var parts []domain.TimedSegment
	for i := 0; i < len(words); i += wordsPerPart {
		j := i + wordsPerPart
		if j > len(words) {
			j = len(words)
		}
		start := seg.Start + seg.Duration*float64(i)/total
		end := seg.Start + seg.Duration*float64(j)/total
		parts = append(parts, domain.TimedSegment{
			Text:     strings.Join(words[i:j], " "),
			Start:    start,
			Duration: end - start,
		})
	}
	return parts
}
