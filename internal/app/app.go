package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tubevault/backend/internal/archive"
	"github.com/tubevault/backend/internal/backfill"
	"github.com/tubevault/backend/internal/backup"
	"github.com/tubevault/backend/internal/blob"
	"github.com/tubevault/backend/internal/clients/embedding"
	"github.com/tubevault/backend/internal/clients/llm"
	"github.com/tubevault/backend/internal/clients/youtube"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/index"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/logger"
	"github.com/tubevault/backend/internal/queue"
	"github.com/tubevault/backend/internal/steps"
)

// App owns the wired core: adapters, clients, step registry, runner and the
// engines built on top of them. Everything is an explicit dependency; there
// are no package-level singletons.
type App struct {
	Log    *logger.Logger
	Config *Config

	Archive *archive.Store
	Blob    blob.Store
	Index   index.Store

	Registry *pipeline.Registry
	Runner   *pipeline.Runner
	Backfill *backfill.Engine
	Queue    *queue.Processor
	Backup   *backup.Service
}

func New(log *logger.Logger, cfg *Config) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("app: logger required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("app: config required")
	}

	arch, err := archive.New(log, cfg.ArchiveRoot, cfg.ArchivePartitioned)
	if err != nil {
		return nil, err
	}

	blobStore, err := newBlobStore(log, cfg)
	if err != nil {
		return nil, err
	}
	idx, err := newIndexStore(log, cfg)
	if err != nil {
		return nil, err
	}

	var embedder embedding.Embedder
	if cfg.EmbeddingURL != "" {
		client, err := embedding.New(log, embedding.Config{
			BaseURL:    cfg.EmbeddingURL,
			Model:      cfg.EmbeddingModel,
			APIKey:     cfg.EmbeddingAPIKey,
			Dimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, err
		}
		embedder = client
	} else {
		log.Warn("embedding client not configured, embed_chunks and update_graph will fail if run")
	}

	var tagger llm.TagGenerator
	if cfg.LLMURL != "" && cfg.LLMModel != "" {
		client, err := llm.New(log, llm.Config{
			BaseURL: cfg.LLMURL,
			Model:   cfg.LLMModel,
			APIKey:  cfg.LLMAPIKey,
		})
		if err != nil {
			return nil, err
		}
		tagger = client
	} else {
		log.Warn("llm client not configured, generate_tags will fail if run")
	}

	var transcripts youtube.TranscriptClient
	if cfg.TranscriptURL != "" {
		transcripts, err = youtube.NewTranscriptClient(log, cfg.TranscriptURL)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("transcript service not configured, fetch_transcript will fail if run")
	}
	var metadata youtube.MetadataClient
	if cfg.YouTubeAPIKey != "" {
		metadata, err = youtube.NewMetadataClient(log, cfg.YouTubeAPIKey)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("youtube api key not configured, fetch_metadata will fail if run")
	}

	reg := pipeline.NewRegistry()
	if err := steps.Register(reg, steps.Deps{
		Log:         log,
		Archive:     arch,
		Blob:        blobStore,
		Index:       idx,
		Embedder:    embedder,
		Tags:        tagger,
		Transcripts: transcripts,
		Metadata:    metadata,
	}); err != nil {
		return nil, err
	}

	state, err := steps.NewStateStore(log, arch, idx)
	if err != nil {
		return nil, err
	}
	runner, err := pipeline.NewRunner(log, reg, state)
	if err != nil {
		return nil, err
	}

	engine, err := backfill.New(log, arch, reg, runner, idx, cfg.BackfillBatchSize)
	if err != nil {
		return nil, err
	}
	processor, err := queue.New(log, cfg.QueueRoot, runner, steps.FullChain, cfg.PollInterval, cfg.RowDelay)
	if err != nil {
		return nil, err
	}
	backupSvc, err := backup.NewService(log, blobStore, idx, nil)
	if err != nil {
		return nil, err
	}

	return &App{
		Log:      log,
		Config:   cfg,
		Archive:  arch,
		Blob:     blobStore,
		Index:    idx,
		Registry: reg,
		Runner:   runner,
		Backfill: engine,
		Queue:    processor,
		Backup:   backupSvc,
	}, nil
}

func newBlobStore(log *logger.Logger, cfg *Config) (blob.Store, error) {
	if cfg.BlobURL == "" {
		log.Info("BLOB_URL not set, using filesystem blob store", "root", cfg.BlobRoot)
		return blob.NewFS(log, cfg.BlobRoot)
	}
	return blob.NewS3(log, blob.S3Config{
		Endpoint:  cfg.BlobURL,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		Secure:    cfg.BlobSecure,
	})
}

func newIndexStore(log *logger.Logger, cfg *Config) (index.Store, error) {
	if cfg.IndexURL == "" {
		log.Info("INDEX_URL not set, using in-memory index store")
		return index.NewMemory(), nil
	}
	return index.NewNeo4j(log, index.Neo4jConfig{
		URI:        cfg.IndexURL,
		User:       cfg.IndexUser,
		Password:   cfg.IndexPassword,
		Database:   cfg.IndexDatabase,
		Dimensions: cfg.EmbeddingDimensions,
	})
}

// InitSchema prepares the index store; call once at startup.
func (a *App) InitSchema(ctx context.Context) error {
	return a.Index.InitSchema(ctx)
}

// IngestURL runs the full chain for one pasted URL.
func (a *App) IngestURL(ctx context.Context, rawURL string, source domain.SourceType, method domain.ImportMethod) (*pipeline.Context, error) {
	videoID, err := youtube.ParseVideoID(rawURL)
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = domain.SourceSingleImport
	}
	if method == "" {
		method = domain.ImportMethodCLI
	}
	im := &domain.ImportMetadata{
		SourceType:           source,
		ImportedAt:           time.Now().UTC(),
		ImportMethod:         method,
		RecommendationWeight: source.DefaultWeight(),
	}

	pctx := pipeline.NewContext(ctx, videoID, rawURL, map[string]any{steps.MetaImport: im})
	if err := a.Runner.Run(pctx, pipeline.Config{
		Steps:       steps.FullChain,
		UpdateGraph: true,
	}); err != nil {
		return nil, err
	}
	return pctx, nil
}

// Close releases adapter resources.
func (a *App) Close(ctx context.Context) {
	if a.Index != nil {
		if err := a.Index.Close(ctx); err != nil {
			a.Log.Warn("index close failed", "error", err)
		}
	}
}
