// Package blob is the opaque key→bytes adapter for large artifacts:
// transcript mirrors, LLM outputs, the video cache and backups. Keys are
// hierarchical strings; implementations are swappable (S3-compatible object
// store, local filesystem).
package blob

import (
	"context"
	"fmt"
)

type Store interface {
	PutBytes(ctx context.Context, key string, data []byte) error
	GetBytes(ctx context.Context, key string) ([]byte, error)
	PutJSON(ctx context.Context, key string, v any) error
	GetJSON(ctx context.Context, key string, out any) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Canonical key builders. Concurrent writers to the same key are forbidden;
// deriving keys from video_id makes that equivalent to the archive's
// one-writer-per-video rule.

func ArchiveMirrorKey(month, videoID string) string {
	return fmt.Sprintf("archives/youtube/%s/%s.json", month, videoID)
}

func TranscriptKey(videoID string) string {
	return fmt.Sprintf("transcripts/%s.txt", videoID)
}

func LLMOutputKey(videoID, outputType string) string {
	return fmt.Sprintf("llm_outputs/%s/%s.json", videoID, outputType)
}

func VideoCacheKey(videoID string) string {
	return fmt.Sprintf("youtube:video:%s", videoID)
}

func BackupKey(timestamp, name string) string {
	return fmt.Sprintf("backups/%s/%s", timestamp, name)
}
