// Package backup serializes index tables to blob storage and restores them.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tubevault/backend/internal/blob"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/index"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DefaultTables is the backup set when the caller does not narrow it.
var DefaultTables = []string{
	domain.TableVideo, domain.TableChannel, domain.TableTopic, domain.TableVideoChunk,
}

// Job tracks one backup through its lifecycle. Snapshots returned by the
// service are copies; mutate nothing.
type Job struct {
	ID             string    `json:"backup_id"`
	Status         string    `json:"status"`
	Timestamp      string    `json:"timestamp"`
	Tables         []string  `json:"tables"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Manifest is the blob-side summary written next to the table dumps.
type Manifest struct {
	BackupID       string         `json:"backup_id"`
	Timestamp      string         `json:"timestamp"`
	Tables         []string       `json:"tables"`
	RowCounts      map[string]int `json:"row_counts"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
}

type Service struct {
	log    *logger.Logger
	blob   blob.Store
	index  index.Store
	tables []string

	mu   sync.Mutex
	jobs map[string]*Job
	done map[string]chan struct{}
}

func NewService(log *logger.Logger, blobStore blob.Store, idx index.Store, tables []string) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("backup: logger required")
	}
	if blobStore == nil {
		return nil, fmt.Errorf("backup: blob store required")
	}
	if idx == nil {
		return nil, fmt.Errorf("backup: index store required")
	}
	if len(tables) == 0 {
		tables = DefaultTables
	}
	return &Service{
		log:    log.With("service", "BackupService"),
		blob:   blobStore,
		index:  idx,
		tables: tables,
		jobs:   map[string]*Job{},
		done:   map[string]chan struct{}{},
	}, nil
}

// StartBackup creates a pending job and runs the export in the background.
func (s *Service) StartBackup(ctx context.Context) (Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Timestamp: time.Now().UTC().Format("20060102_150405"),
		Tables:    append([]string(nil), s.tables...),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.done[job.ID] = make(chan struct{})
	s.mu.Unlock()

	if err := s.persistJob(ctx, job); err != nil {
		return Job{}, err
	}
	snapshot := *job

	go s.execute(context.WithoutCancel(ctx), job.ID)
	return snapshot, nil
}

// Job returns a snapshot of the job's current state.
func (s *Service) Job(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("backup: job %s: %w", id, errkind.ErrNotFound)
	}
	return *job, nil
}

// Wait blocks until the job finishes or ctx expires.
func (s *Service) Wait(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	ch, ok := s.done[id]
	s.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("backup: job %s: %w", id, errkind.ErrNotFound)
	}
	select {
	case <-ch:
		return s.Job(id)
	case <-ctx.Done():
		return Job{}, fmt.Errorf("backup: wait: %w", ctx.Err())
	}
}

func (s *Service) setStatus(ctx context.Context, id, status, errMsg string, size int64) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		job.Status = status
		job.Error = errMsg
		if size > 0 {
			job.TotalSizeBytes = size
		}
		if status == StatusCompleted || status == StatusFailed {
			job.FinishedAt = time.Now().UTC()
		}
	}
	var snapshot Job
	if ok {
		snapshot = *job
	}
	s.mu.Unlock()

	if ok {
		if err := s.persistJobValue(ctx, snapshot); err != nil {
			s.log.Warn("backup job row update failed", "backup_id", id, "error", err)
		}
	}
}

func (s *Service) persistJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	snapshot := *job
	s.mu.Unlock()
	return s.persistJobValue(ctx, snapshot)
}

func (s *Service) persistJobValue(ctx context.Context, job Job) error {
	return s.index.Upsert(ctx, domain.TableBackup, job.ID, index.Record{
		"backup_id":        job.ID,
		"status":           job.Status,
		"timestamp":        job.Timestamp,
		"tables":           job.Tables,
		"total_size_bytes": job.TotalSizeBytes,
		"created_at":       job.CreatedAt.Format(time.RFC3339),
		"error":            job.Error,
	})
}

// execute exports every table concurrently, then the manifest.
func (s *Service) execute(ctx context.Context, id string) {
	defer func() {
		s.mu.Lock()
		ch := s.done[id]
		s.mu.Unlock()
		close(ch)
	}()

	job, err := s.Job(id)
	if err != nil {
		return
	}
	s.setStatus(ctx, id, StatusInProgress, "", 0)

	var (
		sizeMu    sync.Mutex
		totalSize int64
		rowCounts = map[string]int{}
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, table := range job.Tables {
		table := table
		g.Go(func() error {
			rows, err := s.index.Query(gctx, table, nil)
			if err != nil {
				return fmt.Errorf("backup: dump %s: %w", table, err)
			}
			if rows == nil {
				rows = []index.Record{}
			}
			payload, err := json.Marshal(rows)
			if err != nil {
				return fmt.Errorf("backup: encode %s: %w", table, err)
			}
			key := blob.BackupKey(job.Timestamp, table+".json")
			if err := s.blob.PutBytes(gctx, key, payload); err != nil {
				return err
			}
			sizeMu.Lock()
			totalSize += int64(len(payload))
			rowCounts[table] = len(rows)
			sizeMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error("backup failed", "backup_id", id, "error", err)
		s.setStatus(ctx, id, StatusFailed, err.Error(), 0)
		return
	}

	manifest := Manifest{
		BackupID:       id,
		Timestamp:      job.Timestamp,
		Tables:         job.Tables,
		RowCounts:      rowCounts,
		TotalSizeBytes: totalSize,
	}
	if err := s.blob.PutJSON(ctx, blob.BackupKey(job.Timestamp, "manifest.json"), manifest); err != nil {
		s.log.Error("manifest write failed", "backup_id", id, "error", err)
		s.setStatus(ctx, id, StatusFailed, err.Error(), totalSize)
		return
	}

	s.setStatus(ctx, id, StatusCompleted, "", totalSize)
	s.log.Info("backup completed", "backup_id", id, "tables", len(job.Tables), "bytes", totalSize)
}

// Restore deletes the current rows of every backed-up table and re-creates
// the dumped records with their original ids. Only completed backups are
// restorable. A partial failure marks the job failed and stops; nothing is
// rolled back.
func (s *Service) Restore(ctx context.Context, id string) error {
	job, err := s.Job(id)
	if err != nil {
		return err
	}
	if job.Status != StatusCompleted {
		return fmt.Errorf("backup: job %s is %s, not restorable: %w", id, job.Status, errkind.ErrInvalidInput)
	}

	var manifest Manifest
	if err := s.blob.GetJSON(ctx, blob.BackupKey(job.Timestamp, "manifest.json"), &manifest); err != nil {
		return err
	}

	for _, table := range manifest.Tables {
		if err := s.restoreTable(ctx, job.Timestamp, table); err != nil {
			s.setStatus(ctx, id, StatusFailed, err.Error(), 0)
			return err
		}
	}
	s.log.Info("restore completed", "backup_id", id, "tables", len(manifest.Tables))
	return nil
}

func (s *Service) restoreTable(ctx context.Context, timestamp, table string) error {
	var rows []index.Record
	if err := s.blob.GetJSON(ctx, blob.BackupKey(timestamp, table+".json"), &rows); err != nil {
		return err
	}

	current, err := s.index.Query(ctx, table, nil)
	if err != nil {
		return fmt.Errorf("backup: list %s: %w", table, err)
	}
	for _, row := range current {
		rid, _ := row["id"].(string)
		if rid == "" {
			continue
		}
		if err := s.index.Delete(ctx, table, rid); err != nil {
			return fmt.Errorf("backup: clear %s/%s: %w", table, rid, err)
		}
	}

	for _, row := range rows {
		rid, _ := row["id"].(string)
		if rid == "" {
			return fmt.Errorf("backup: %s dump row lacks id: %w", table, errkind.ErrIntegrity)
		}
		if err := s.index.Upsert(ctx, table, rid, normalizeRestored(row)); err != nil {
			return fmt.Errorf("backup: restore %s/%s: %w", table, rid, err)
		}
	}
	return nil
}

// normalizeRestored undoes the JSON round-trip on vector fields so restored
// rows stay searchable.
func normalizeRestored(row index.Record) index.Record {
	raw, ok := row["embedding"].([]any)
	if !ok || len(raw) == 0 {
		return row
	}
	vec := make([]float32, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return row
		}
		vec = append(vec, float32(f))
	}
	row["embedding"] = vec
	return row
}
