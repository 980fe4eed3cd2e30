// Package queue watches a pending/processing/completed directory tree and
// feeds each batch file's rows through the pipeline runner.
package queue

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tubevault/backend/internal/clients/youtube"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

const (
	dirPending    = "pending"
	dirProcessing = "processing"
	dirCompleted  = "completed"
)

// Row is one queued import request. URL is required; the rest is optional
// annotation carried through to provenance.
type Row struct {
	URL          string `json:"url"`
	VideoID      string `json:"video_id,omitempty"`
	Title        string `json:"title,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelTitle string `json:"channel_title,omitempty"`
}

// batch is a parsed queue file plus its optional provenance override.
type batch struct {
	Rows       []Row
	SourceType domain.SourceType
}

// FileSummary is the per-file outcome the processor logs and returns.
type FileSummary struct {
	File      string
	Rows      int
	Succeeded int
	Failed    int
}

type Processor struct {
	log          *logger.Logger
	root         string
	runner       *pipeline.Runner
	steps        []string
	pollInterval time.Duration
	rowDelay     time.Duration
}

func New(log *logger.Logger, root string, runner *pipeline.Runner, steps []string, pollInterval, rowDelay time.Duration) (*Processor, error) {
	if log == nil {
		return nil, fmt.Errorf("queue: logger required")
	}
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("queue: root required")
	}
	if runner == nil {
		return nil, fmt.Errorf("queue: runner required")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("queue: step list required")
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if rowDelay < 0 {
		rowDelay = 0
	}
	for _, d := range []string{dirPending, dirProcessing, dirCompleted} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("queue: create %s: %w", d, err)
		}
	}
	return &Processor{
		log:          log.With("service", "QueueProcessor"),
		root:         root,
		runner:       runner,
		steps:        steps,
		pollInterval: pollInterval,
		rowDelay:     rowDelay,
	}, nil
}

// Run polls until ctx is cancelled. Files left in processing/ by an earlier
// shutdown are picked up first; processing/ is a legitimate resume point.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("queue processor starting", "root", p.root, "poll_interval", p.pollInterval)

	if err := p.drain(ctx, dirProcessing); err != nil {
		return err
	}
	for {
		if err := p.Poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			p.log.Info("queue processor stopping")
			return nil
		case <-time.After(p.pollInterval):
		}
	}
}

// Poll runs one pass over pending/ in lexicographic order.
func (p *Processor) Poll(ctx context.Context) error {
	return p.drain(ctx, dirPending)
}

func (p *Processor) drain(ctx context.Context, dir string) error {
	files, err := p.listBatchFiles(dir)
	if err != nil {
		return err
	}
	for _, name := range files {
		if ctx.Err() != nil {
			return nil
		}

		work := filepath.Join(p.root, dirProcessing, name)
		if dir != dirProcessing {
			// Claim the file; losing the race to another worker is fine.
			if err := os.Rename(filepath.Join(p.root, dir, name), work); err != nil {
				p.log.Debug("claim failed, skipping", "file", name, "error", err)
				continue
			}
		}

		summary, err := p.processFile(ctx, work)
		if err != nil {
			p.log.Error("batch file unreadable", "file", name, "error", err)
		} else {
			p.log.Info("batch processed",
				"file", name, "rows", summary.Rows,
				"succeeded", summary.Succeeded, "failed", summary.Failed)
		}

		if ctx.Err() != nil && summary != nil && summary.Succeeded+summary.Failed < summary.Rows {
			// Interrupted mid-file: leave it in processing/ for resume.
			return nil
		}
		done := filepath.Join(p.root, dirCompleted, name)
		if err := os.Rename(work, done); err != nil {
			return fmt.Errorf("queue: complete %s: %w", name, err)
		}
	}
	return nil
}

func (p *Processor) listBatchFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.root, dir))
	if err != nil {
		return nil, fmt.Errorf("queue: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".csv" || ext == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// processFile attempts every row of one claimed file. Row failures never
// abort the file; cancellation stops after the in-flight row.
func (p *Processor) processFile(ctx context.Context, path string) (*FileSummary, error) {
	b, err := p.parseFile(path)
	if err != nil {
		return nil, err
	}

	summary := &FileSummary{File: filepath.Base(path), Rows: len(b.Rows)}
	source := b.SourceType
	if source == "" {
		source = inferSourceType(b.Rows)
	}

	for i, row := range b.Rows {
		if ctx.Err() != nil {
			return summary, nil
		}
		if i > 0 && p.rowDelay > 0 {
			select {
			case <-ctx.Done():
				return summary, nil
			case <-time.After(p.rowDelay):
			}
		}

		videoID, outcome := p.processRow(ctx, row, source)
		if outcome == "" {
			summary.Succeeded++
			p.log.Info("row ok", "video_id", videoID, "url", row.URL)
		} else {
			summary.Failed++
			p.log.Warn("row failed", "video_id", videoID, "url", row.URL, "error", outcome)
		}
	}
	return summary, nil
}

// processRow runs the configured steps for one row; a non-empty return is
// the shortest diagnostic for the failure.
func (p *Processor) processRow(ctx context.Context, row Row, source domain.SourceType) (string, string) {
	videoID := strings.TrimSpace(row.VideoID)
	if videoID == "" {
		parsed, err := youtube.ParseVideoID(row.URL)
		if err != nil {
			return "", errkind.Label(err)
		}
		videoID = parsed
	}

	im := &domain.ImportMetadata{
		SourceType:   source,
		ImportedAt:   time.Now().UTC(),
		ImportMethod: domain.ImportMethodScheduled,
		ChannelContext: domain.ChannelContext{
			ChannelID:    row.ChannelID,
			ChannelName:  row.ChannelTitle,
			IsBulkImport: source == domain.SourceBulkChannel || source == domain.SourceBulkMultiChannel,
		},
		RecommendationWeight: source.DefaultWeight(),
	}

	pctx := pipeline.NewContext(ctx, videoID, row.URL, map[string]any{"import_metadata": im})
	if err := p.runner.Run(pctx, pipeline.Config{
		Steps:       p.steps,
		UpdateGraph: true,
	}); err != nil {
		return videoID, errkind.Label(err)
	}

	for _, step := range p.steps {
		if res, ok := pctx.Results[step]; !ok || !res.Success {
			msg := "step did not run"
			if ok {
				msg = res.Err
			}
			return videoID, fmt.Sprintf("%s: %s", step, msg)
		}
	}
	return videoID, ""
}

// inferSourceType implements the provenance rule: zero or one distinct
// channel_id means a single-channel bulk import, two or more a multi-channel
// one.
func inferSourceType(rows []Row) domain.SourceType {
	channels := map[string]bool{}
	for _, r := range rows {
		if id := strings.TrimSpace(r.ChannelID); id != "" {
			channels[id] = true
		}
	}
	if len(channels) >= 2 {
		return domain.SourceBulkMultiChannel
	}
	return domain.SourceBulkChannel
}

func (p *Processor) parseFile(path string) (*batch, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSONDescriptor(path)
	default:
		return parseCSV(path)
	}
}

// parseCSV reads a header-addressed CSV. Unknown columns are ignored; rows
// without a url are dropped with a warning at processing time (they simply
// never appear).
func parseCSV(path string) (*batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return &batch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read header %s: %w", path, err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["url"]; !ok {
		return nil, fmt.Errorf("queue: %s lacks a url column: %w", path, errkind.ErrInvalidInput)
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var b batch
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("queue: read %s: %w", path, err)
		}
		row := Row{
			URL:          field(rec, "url"),
			VideoID:      field(rec, "video_id"),
			Title:        field(rec, "title"),
			ChannelID:    field(rec, "channel_id"),
			ChannelTitle: field(rec, "channel_title"),
		}
		if row.URL == "" {
			continue
		}
		b.Rows = append(b.Rows, row)
	}
	return &b, nil
}

// jsonDescriptor is the JSON batch form: rows plus an optional source_type
// override.
type jsonDescriptor struct {
	SourceType string `json:"source_type,omitempty"`
	Rows       []Row  `json:"rows"`
}

func parseJSONDescriptor(path string) (*batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	var d jsonDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("queue: parse %s: %v: %w", path, err, errkind.ErrInvalidInput)
	}
	b := &batch{SourceType: domain.SourceType(d.SourceType)}
	for _, row := range d.Rows {
		if strings.TrimSpace(row.URL) == "" {
			continue
		}
		b.Rows = append(b.Rows, row)
	}
	return b, nil
}
