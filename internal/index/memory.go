package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/tubevault/backend/internal/pkg/errkind"
)

// memoryStore is the in-process Store used for tests and local development
// (INDEX_URL unset). Upserts merge fields; links are idempotent.
type memoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]Record
	links  map[string]Record // "srcTable/srcID|relation|dstTable/dstID"
}

func NewMemory() Store {
	return &memoryStore{
		tables: map[string]map[string]Record{},
		links:  map[string]Record{},
	}
}

func linkKey(src Ref, relation string, dst Ref) string {
	return src.Table + "/" + src.ID + "|" + relation + "|" + dst.Table + "/" + dst.ID
}

func (m *memoryStore) InitSchema(context.Context) error { return nil }

func (m *memoryStore) Close(context.Context) error { return nil }

func (m *memoryStore) Upsert(_ context.Context, table, id string, fields Record) error {
	if table == "" || id == "" {
		return fmt.Errorf("index: table and id required: %w", errkind.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		t = map[string]Record{}
		m.tables[table] = t
	}
	rec, ok := t[id]
	if !ok {
		rec = Record{}
		t[id] = rec
	}
	for k, v := range fields {
		rec[k] = v
	}
	rec["id"] = id
	return nil
}

func (m *memoryStore) Get(_ context.Context, table, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("index: %s/%s: %w", table, id, errkind.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (m *memoryStore) Delete(_ context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[table], id)
	// Detach: drop any relationship touching the record.
	node := table + "/" + id
	for k := range m.links {
		parts := strings.SplitN(k, "|", 3)
		if len(parts) == 3 && (parts[0] == node || parts[2] == node) {
			delete(m.links, k)
		}
	}
	return nil
}

func (m *memoryStore) Query(_ context.Context, table string, filter Record) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id := range m.tables[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []Record
	for _, id := range ids {
		rec := m.tables[table][id]
		if matches(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func matches(rec Record, filter Record) bool {
	for k, want := range filter {
		if fmt.Sprint(rec[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (m *memoryStore) Link(_ context.Context, src Ref, relation string, dst Ref, attrs Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := linkKey(src, relation, dst)
	rec, ok := m.links[key]
	if !ok {
		rec = Record{}
		m.links[key] = rec
	}
	for k, v := range attrs {
		rec[k] = v
	}
	return nil
}

func (m *memoryStore) Unlink(_ context.Context, src Ref, relation string, dst Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, linkKey(src, relation, dst))
	return nil
}

// HasLink is a test hook; the production Store interface does not need it.
func (m *memoryStore) HasLink(src Ref, relation string, dst Ref) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.links[linkKey(src, relation, dst)]
	return ok
}

func (m *memoryStore) VectorSearch(_ context.Context, table, field string, query []float32, k int, filter Record) ([]SearchHit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("index: query vector required: %w", errkind.ErrInvalidInput)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []SearchHit
	for id, rec := range m.tables[table] {
		if !matches(rec, filter) {
			continue
		}
		vec, ok := rec[field].([]float32)
		if !ok || len(vec) == 0 {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Score: cosine(query, vec), Fields: cloneRecord(rec)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
