// Package archive implements the content-addressed per-video record store.
// Records are JSON documents under <root>/youtube/YYYY-MM/<video_id>.json;
// every mutation rewrites the whole document with a temp-file-and-rename
// protocol so readers never observe a partial record.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

const sourceDir = "youtube"

type Store struct {
	log         *logger.Logger
	root        string
	partitioned bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens (creating if needed) an archive rooted at root. When partitioned
// is false, records are written flat under <root>/youtube/.
func New(log *logger.Logger, root string, partitioned bool) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("archive: logger required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("archive: root required")
	}
	if err := os.MkdirAll(filepath.Join(root, sourceDir), 0o755); err != nil {
		return nil, fmt.Errorf("archive: create root: %w", err)
	}
	return &Store{
		log:         log.With("service", "ArchiveStore"),
		root:        root,
		partitioned: partitioned,
		locks:       map[string]*sync.Mutex{},
	}, nil
}

// lock returns the per-video mutex. The atomic write protocol is unsafe
// under concurrent writers to the same video_id, so all mutations of one
// record are serialized within the process.
func (s *Store) lock(videoID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[videoID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[videoID] = l
	}
	return l
}

func monthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (s *Store) pathFor(videoID, month string) string {
	if !s.partitioned || month == "" {
		return filepath.Join(s.root, sourceDir, videoID+".json")
	}
	return filepath.Join(s.root, sourceDir, month, videoID+".json")
}

// locate returns the on-disk path of an existing record, or "".
func (s *Store) locate(videoID string) string {
	flat := filepath.Join(s.root, sourceDir, videoID+".json")
	if _, err := os.Stat(flat); err == nil {
		return flat
	}
	entries, err := os.ReadDir(filepath.Join(s.root, sourceDir))
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(s.root, sourceDir, e.Name(), videoID+".json")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (s *Store) Exists(videoID string) bool {
	return s.locate(videoID) != ""
}

func (s *Store) Get(videoID string) (*domain.VideoRecord, error) {
	p := s.locate(videoID)
	if p == "" {
		return nil, fmt.Errorf("archive: video %s: %w", videoID, errkind.ErrNotFound)
	}
	return readRecord(p)
}

func readRecord(path string) (*domain.VideoRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive: %s: %w", path, errkind.ErrNotFound)
		}
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	var rec domain.VideoRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", path, err)
	}
	return &rec, nil
}

// write persists rec atomically: marshal, write a sibling temp file, fsync,
// rename over the target. A failed rename leaves any prior record intact.
func (s *Store) write(rec *domain.VideoRecord, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: mkdir %s: %w", dir, err)
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", rec.VideoID, err)
	}
	tmp, err := os.CreateTemp(dir, "."+rec.VideoID+".json.tmp-")
	if err != nil {
		return fmt.Errorf("archive: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("archive: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("archive: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("archive: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("archive: rename: %w", err)
	}
	return nil
}

// mutate loads the current record (nil when absent), applies fn and writes
// the result back atomically. When createIfMissing is false and the record
// does not exist, it fails with ErrNotFound.
func (s *Store) mutate(videoID string, createIfMissing bool, fn func(rec *domain.VideoRecord)) (*domain.VideoRecord, error) {
	l := s.lock(videoID)
	l.Lock()
	defer l.Unlock()

	var rec *domain.VideoRecord
	path := s.locate(videoID)
	if path != "" {
		loaded, err := readRecord(path)
		if err != nil {
			return nil, err
		}
		rec = loaded
	} else {
		if !createIfMissing {
			return nil, fmt.Errorf("archive: video %s: %w", videoID, errkind.ErrNotFound)
		}
		now := time.Now().UTC()
		rec = &domain.VideoRecord{VideoID: videoID, FetchedAt: now}
		path = s.pathFor(videoID, monthOf(now))
	}
	fn(rec)
	rec.ArchivePath = path
	if err := s.write(rec, path); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateTranscript creates the record if absent and merges the transcript
// fields. Fields absent from this partial update are left unchanged, so
// transcript-first and metadata-first ordering converge to the same record.
func (s *Store) UpdateTranscript(videoID, url, transcript string, timed []domain.TimedSegment, im *domain.ImportMetadata) (*domain.VideoRecord, error) {
	return s.mutate(videoID, true, func(rec *domain.VideoRecord) {
		if url != "" {
			rec.URL = url
		}
		rec.RawTranscript = transcript
		if len(timed) > 0 {
			rec.TimedTranscript = timed
		}
		if im != nil {
			rec.ImportMetadata = im
		}
	})
}

// UpdateMetadata creates the record if absent and shallow-merges the
// youtube_metadata map (incoming keys override stored ones).
func (s *Store) UpdateMetadata(videoID, url string, metadata map[string]any) (*domain.VideoRecord, error) {
	return s.mutate(videoID, true, func(rec *domain.VideoRecord) {
		if url != "" {
			rec.URL = url
		}
		if rec.YouTubeMetadata == nil {
			rec.YouTubeMetadata = map[string]any{}
		}
		for k, v := range metadata {
			rec.YouTubeMetadata[k] = v
		}
	})
}

func (s *Store) AppendLLMOutput(videoID string, out domain.LLMOutput) error {
	_, err := s.mutate(videoID, false, func(rec *domain.VideoRecord) {
		rec.LLMOutputs = append(rec.LLMOutputs, out)
	})
	return err
}

func (s *Store) AppendDerivedOutput(videoID string, out domain.DerivedOutput) error {
	_, err := s.mutate(videoID, false, func(rec *domain.VideoRecord) {
		rec.DerivedOutputs = append(rec.DerivedOutputs, out)
	})
	return err
}

func (s *Store) AppendProcessingRecord(videoID string, pr domain.ProcessingRecord) error {
	_, err := s.mutate(videoID, false, func(rec *domain.VideoRecord) {
		rec.ProcessingHistory = append(rec.ProcessingHistory, pr)
	})
	return err
}

// RecordRun merges the per-step versions of one pipeline run into
// pipeline_state and appends a single processing-history entry for the run,
// in one atomic write.
func (s *Store) RecordRun(videoID string, stepVersions map[string]string, pr domain.ProcessingRecord) error {
	_, err := s.mutate(videoID, false, func(rec *domain.VideoRecord) {
		if rec.PipelineState == nil {
			rec.PipelineState = map[string]string{}
		}
		for step, v := range stepVersions {
			rec.PipelineState[step] = v
		}
		rec.ProcessingHistory = append(rec.ProcessingHistory, pr)
	})
	return err
}

// SetEmbedding stores the document-level global embedding.
func (s *Store) SetEmbedding(videoID string, embedding []float32) error {
	_, err := s.mutate(videoID, false, func(rec *domain.VideoRecord) {
		rec.Embedding = embedding
	})
	return err
}

// months returns the partition directory names in ascending order. In flat
// mode there are no partitions and the empty month stands for the flat dir.
func (s *Store) months() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, sourceDir))
	if err != nil {
		return nil, fmt.Errorf("archive: list months: %w", err)
	}
	out := []string{}
	flat := false
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		} else if strings.HasSuffix(e.Name(), ".json") {
			flat = true
		}
	}
	sort.Strings(out)
	if flat {
		out = append([]string{""}, out...)
	}
	return out, nil
}

// ForEach visits every record in stable (month, video_id) order, bounded by
// the optional inclusive YYYY-MM month range. Returning an error from fn
// stops the walk; ErrStop stops it cleanly.
func (s *Store) ForEach(startMonth, endMonth string, fn func(rec *domain.VideoRecord) error) error {
	months, err := s.months()
	if err != nil {
		return err
	}
	for _, m := range months {
		if m != "" {
			if startMonth != "" && m < startMonth {
				continue
			}
			if endMonth != "" && m > endMonth {
				continue
			}
		}
		dir := filepath.Join(s.root, sourceDir, m)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("archive: list %s: %w", dir, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") && !strings.HasPrefix(e.Name(), ".") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			rec, err := readRecord(filepath.Join(dir, name))
			if err != nil {
				// Tolerate a file that vanished between list and read.
				if errors.Is(err, errkind.ErrNotFound) {
					continue
				}
				return err
			}
			if err := fn(rec); err != nil {
				if err == ErrStop {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// ErrStop is returned by a ForEach callback to end iteration early.
var ErrStop = fmt.Errorf("archive: stop iteration")

func (s *Store) Count() (int, error) {
	n := 0
	err := s.ForEach("", "", func(*domain.VideoRecord) error {
		n++
		return nil
	})
	return n, err
}

func (s *Store) MonthCounts() (map[string]int, error) {
	months, err := s.months()
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for _, m := range months {
		dir := filepath.Join(s.root, sourceDir, m)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("archive: list %s: %w", dir, err)
		}
		n := 0
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") && !strings.HasPrefix(e.Name(), ".") {
				n++
			}
		}
		key := m
		if key == "" {
			key = "flat"
		}
		out[key] = n
	}
	return out, nil
}

// Delete removes a record. Admin-only path; chunk and edge cascade happens
// at the index layer.
func (s *Store) Delete(videoID string) error {
	l := s.lock(videoID)
	l.Lock()
	defer l.Unlock()
	p := s.locate(videoID)
	if p == "" {
		return fmt.Errorf("archive: video %s: %w", videoID, errkind.ErrNotFound)
	}
	return os.Remove(p)
}
