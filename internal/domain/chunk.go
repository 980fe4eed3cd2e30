package domain

import "fmt"

// VideoChunk is a time-bounded, token-bounded window of a transcript with
// stable (video_id, index) identity.
type VideoChunk struct {
	ChunkID    string    `json:"chunk_id"`
	VideoID    string    `json:"video_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	StartTime  float64   `json:"start_time"`
	EndTime    float64   `json:"end_time"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// ChunkID builds the stable chunk identifier "<video_id>:<index>".
func ChunkID(videoID string, index int) string {
	return fmt.Sprintf("%s:%d", videoID, index)
}

type ChannelRecord struct {
	ChannelID string `json:"channel_id"`
	Title     string `json:"title,omitempty"`
}

type TopicRecord struct {
	Topic string `json:"topic"`
}

// Logical index-store tables and relationship names.
const (
	TableVideo      = "video"
	TableChannel    = "channel"
	TableTopic      = "topic"
	TableVideoChunk = "video_chunk"
	TableBackup     = "backup"

	RelHasChannel = "has_channel"
	RelHasTopic   = "has_topic"
	RelHasChunk   = "has_chunk"
)
