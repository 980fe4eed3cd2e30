// Package index is the boundary between the core and the underlying
// graph/vector database. The core never issues raw query strings; every
// operation below is record-level and atomic per id.
package index

import (
	"context"
	"encoding/json"
)

// Record is a flat field map. Values are scalars, []string, or []float32
// for declared vector fields; nested structures are stored as JSON strings
// built with JSONField.
type Record map[string]any

// Ref addresses a record for relationship operations.
type Ref struct {
	Table string
	ID    string
}

// SearchHit is one vector-search result; Score is cosine similarity and
// results are returned in descending score order.
type SearchHit struct {
	ID     string
	Score  float64
	Fields Record
}

type Store interface {
	// InitSchema is idempotent: unique-id constraints per table plus the
	// declared vector indexes.
	InitSchema(ctx context.Context) error

	Upsert(ctx context.Context, table, id string, fields Record) error
	Get(ctx context.Context, table, id string) (Record, error)
	Delete(ctx context.Context, table, id string) error
	// Query returns records matching all equality pairs in filter
	// (nil/empty filter returns the whole table).
	Query(ctx context.Context, table string, filter Record) ([]Record, error)

	Link(ctx context.Context, src Ref, relation string, dst Ref, attrs Record) error
	Unlink(ctx context.Context, src Ref, relation string, dst Ref) error

	VectorSearch(ctx context.Context, table, field string, query []float32, k int, filter Record) ([]SearchHit, error)

	Close(ctx context.Context) error
}

// JSONField marshals a nested value for storage as a string property.
func JSONField(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeJSONField is the inverse of JSONField; absent or empty input leaves
// out untouched and returns false.
func DecodeJSONField(raw any, out any) bool {
	s, ok := raw.(string)
	if !ok || s == "" {
		return false
	}
	return json.Unmarshal([]byte(s), out) == nil
}
