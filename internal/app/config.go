// Package app loads configuration and wires the ingestion core together.
package app

import (
	"time"

	"github.com/tubevault/backend/internal/pkg/envutil"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// Config is the environment-driven configuration. Empty INDEX_URL selects
// the in-memory index; empty BLOB_URL selects the local-filesystem blob
// store under BlobRoot.
type Config struct {
	IndexURL      string
	IndexUser     string
	IndexPassword string
	IndexDatabase string

	BlobURL       string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobSecure    bool
	BlobRoot      string

	EmbeddingURL        string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingDimensions int

	LLMURL    string
	LLMModel  string
	LLMAPIKey string

	YouTubeAPIKey string
	TranscriptURL string

	ArchiveRoot        string
	ArchivePartitioned bool

	QueueRoot         string
	PollInterval      time.Duration
	RowDelay          time.Duration
	BackfillBatchSize int
}

func LoadConfig(log *logger.Logger) *Config {
	return &Config{
		IndexURL:      envutil.GetEnv("INDEX_URL", "", log),
		IndexUser:     envutil.GetEnv("INDEX_USER", "neo4j", log),
		IndexPassword: envutil.GetEnv("INDEX_PASSWORD", "", log),
		IndexDatabase: envutil.GetEnv("INDEX_DATABASE", "", log),

		BlobURL:       envutil.GetEnv("BLOB_URL", "", log),
		BlobAccessKey: envutil.GetEnv("BLOB_ACCESS_KEY", "", log),
		BlobSecretKey: envutil.GetEnv("BLOB_SECRET_KEY", "", log),
		BlobBucket:    envutil.GetEnv("BLOB_BUCKET", "tubevault", log),
		BlobSecure:    envutil.GetEnvAsBool("BLOB_SECURE", false, log),
		BlobRoot:      envutil.GetEnv("BLOB_ROOT", "./data/blobs", log),

		EmbeddingURL:        envutil.GetEnv("EMBEDDING_URL", "", log),
		EmbeddingModel:      envutil.GetEnv("EMBEDDING_MODEL", "text-embedding-3-small", log),
		EmbeddingAPIKey:     envutil.GetEnv("EMBEDDING_API_KEY", "", log),
		EmbeddingDimensions: envutil.GetEnvAsInt("EMBEDDING_DIMENSIONS", 1536, log),

		LLMURL:    envutil.GetEnv("LLM_URL", "", log),
		LLMModel:  envutil.GetEnv("LLM_MODEL", "", log),
		LLMAPIKey: envutil.GetEnv("LLM_API_KEY", "", log),

		YouTubeAPIKey: envutil.GetEnv("YOUTUBE_API_KEY", "", log),
		TranscriptURL: envutil.GetEnv("TRANSCRIPT_URL", "", log),

		ArchiveRoot:        envutil.GetEnv("ARCHIVE_ROOT", "./data/archive", log),
		ArchivePartitioned: envutil.GetEnvAsBool("ARCHIVE_PARTITIONED", true, log),

		QueueRoot:         envutil.GetEnv("QUEUE_ROOT", "./data/queue", log),
		PollInterval:      envutil.GetEnvAsDuration("POLL_INTERVAL_SECONDS", 10*time.Second, log),
		RowDelay:          envutil.GetEnvAsDuration("ROW_DELAY_SECONDS", time.Second, log),
		BackfillBatchSize: envutil.GetEnvAsInt("BACKFILL_BATCH_SIZE", 50, log),
	}
}
