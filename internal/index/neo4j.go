package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// Neo4jConfig carries the connection settings for the graph index.
type Neo4jConfig struct {
	URI        string
	User       string
	Password   string
	Database   string
	Dimensions int
	Timeout    time.Duration
}

type neo4jStore struct {
	driver     neo4j.DriverWithContext
	database   string
	dimensions int
	log        *logger.Logger
}

// Tables are mapped to fixed node labels; anything else is rejected so
// table names never reach Cypher as raw text.
var tableLabels = map[string]string{
	domain.TableVideo:      "Video",
	domain.TableChannel:    "Channel",
	domain.TableTopic:      "Topic",
	domain.TableVideoChunk: "VideoChunk",
	domain.TableBackup:     "Backup",
}

var relationNames = map[string]string{
	domain.RelHasChannel: "HAS_CHANNEL",
	domain.RelHasTopic:   "HAS_TOPIC",
	domain.RelHasChunk:   "HAS_CHUNK",
}

// Vector indexes kept by InitSchema: table → indexed field.
var vectorFields = map[string]string{
	domain.TableVideo:      "embedding",
	domain.TableVideoChunk: "embedding",
}

func NewNeo4j(log *logger.Logger, cfg Neo4jConfig) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("index: logger required")
	}
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("index: uri required")
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("index: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("index: verify connectivity: %w", err)
	}

	return &neo4jStore{
		driver:     driver,
		database:   cfg.Database,
		dimensions: cfg.Dimensions,
		log:        log.With("service", "IndexStore", "backend", "neo4j"),
	}, nil
}

func (s *neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func label(table string) (string, error) {
	l, ok := tableLabels[table]
	if !ok {
		return "", fmt.Errorf("index: unknown table %q: %w", table, errkind.ErrInvalidInput)
	}
	return l, nil
}

func relName(relation string) (string, error) {
	r, ok := relationNames[relation]
	if !ok {
		return "", fmt.Errorf("index: unknown relation %q: %w", relation, errkind.ErrInvalidInput)
	}
	return r, nil
}

func (s *neo4jStore) InitSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for table, l := range tableLabels {
		q := fmt.Sprintf(
			`CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE`,
			table, l,
		)
		if res, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("index: constraint for %s: %w", table, err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}

	for table, field := range vectorFields {
		l := tableLabels[table]
		q := fmt.Sprintf(
			"CREATE VECTOR INDEX %s_%s_vec IF NOT EXISTS FOR (n:%s) ON (n.%s) "+
				"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			table, field, l, field, s.dimensions,
		)
		if res, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("index: vector index for %s.%s: %w", table, field, err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
	return nil
}

// normalize converts values the driver cannot store directly; vectors go in
// as []float64 so the vector indexes accept them.
func normalize(fields Record) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch t := v.(type) {
		case []float32:
			out[k] = toFloat64(t)
		case []string:
			vals := make([]any, len(t))
			for i, s := range t {
				vals[i] = s
			}
			out[k] = vals
		default:
			out[k] = v
		}
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func (s *neo4jStore) Upsert(ctx context.Context, table, id string, fields Record) error {
	l, err := label(table)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("index: id required: %w", errkind.ErrInvalidInput)
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	q := fmt.Sprintf(`MERGE (n:%s {id: $id}) SET n += $fields`, l)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, map[string]any{"id": id, "fields": normalize(fields)})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("index: upsert %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *neo4jStore) Get(ctx context.Context, table, id string) (Record, error) {
	l, err := label(table)
	if err != nil {
		return nil, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	q := fmt.Sprintf(`MATCH (n:%s {id: $id}) RETURN n`, l)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		node, ok := rec.Get("n")
		if !ok {
			return nil, fmt.Errorf("missing node in result")
		}
		return Record(node.(neo4j.Node).Props), nil
	})
	if err != nil {
		if isNoRecordsErr(err) {
			return nil, fmt.Errorf("index: %s/%s: %w", table, id, errkind.ErrNotFound)
		}
		return nil, fmt.Errorf("index: get %s/%s: %w", table, id, err)
	}
	return out.(Record), nil
}

// isNoRecordsErr recognizes the usage error Single returns when zero records
// match; the driver capitalizes the message, so compare case-insensitively.
func isNoRecordsErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "contains no more records")
}

func (s *neo4jStore) Delete(ctx context.Context, table, id string) error {
	l, err := label(table)
	if err != nil {
		return err
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	q := fmt.Sprintf(`MATCH (n:%s {id: $id}) DETACH DELETE n`, l)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("index: delete %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *neo4jStore) Query(ctx context.Context, table string, filter Record) ([]Record, error) {
	l, err := label(table)
	if err != nil {
		return nil, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	q := fmt.Sprintf(
		`MATCH (n:%s) WHERE all(k IN keys($filter) WHERE n[k] = $filter[k]) RETURN n ORDER BY n.id`,
		l,
	)
	params := map[string]any{"filter": normalize(filter)}
	if filter == nil {
		params["filter"] = map[string]any{}
	}

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		var rows []Record
		for res.Next(ctx) {
			node, ok := res.Record().Get("n")
			if !ok {
				continue
			}
			rows = append(rows, Record(node.(neo4j.Node).Props))
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("index: query %s: %w", table, err)
	}
	return out.([]Record), nil
}

func (s *neo4jStore) Link(ctx context.Context, src Ref, relation string, dst Ref, attrs Record) error {
	srcLabel, err := label(src.Table)
	if err != nil {
		return err
	}
	dstLabel, err := label(dst.Table)
	if err != nil {
		return err
	}
	rel, err := relName(relation)
	if err != nil {
		return err
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	q := fmt.Sprintf(
		`MATCH (a:%s {id: $srcID}) MATCH (b:%s {id: $dstID}) MERGE (a)-[r:%s]->(b) SET r += $attrs`,
		srcLabel, dstLabel, rel,
	)
	params := map[string]any{
		"srcID": src.ID,
		"dstID": dst.ID,
		"attrs": normalize(attrs),
	}
	if attrs == nil {
		params["attrs"] = map[string]any{}
	}
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("index: link %s/%s -%s-> %s/%s: %w", src.Table, src.ID, relation, dst.Table, dst.ID, err)
	}
	return nil
}

func (s *neo4jStore) Unlink(ctx context.Context, src Ref, relation string, dst Ref) error {
	srcLabel, err := label(src.Table)
	if err != nil {
		return err
	}
	dstLabel, err := label(dst.Table)
	if err != nil {
		return err
	}
	rel, err := relName(relation)
	if err != nil {
		return err
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	q := fmt.Sprintf(
		`MATCH (a:%s {id: $srcID})-[r:%s]->(b:%s {id: $dstID}) DELETE r`,
		srcLabel, rel, dstLabel,
	)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, map[string]any{"srcID": src.ID, "dstID": dst.ID})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("index: unlink %s/%s -%s-> %s/%s: %w", src.Table, src.ID, relation, dst.Table, dst.ID, err)
	}
	return nil
}

func (s *neo4jStore) VectorSearch(ctx context.Context, table, field string, query []float32, k int, filter Record) ([]SearchHit, error) {
	if _, err := label(table); err != nil {
		return nil, err
	}
	if vectorFields[table] != field {
		return nil, fmt.Errorf("index: no vector index on %s.%s: %w", table, field, errkind.ErrInvalidInput)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("index: query vector required: %w", errkind.ErrInvalidInput)
	}
	if k <= 0 {
		k = 10
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	q := fmt.Sprintf(
		`CALL db.index.vector.queryNodes('%s_%s_vec', $k, $query) YIELD node, score
		 WHERE all(fk IN keys($filter) WHERE node[fk] = $filter[fk])
		 RETURN node, score ORDER BY score DESC`,
		table, field,
	)
	params := map[string]any{
		"k":      k,
		"query":  toFloat64(query),
		"filter": normalize(filter),
	}
	if filter == nil {
		params["filter"] = map[string]any{}
	}

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		var hits []SearchHit
		for res.Next(ctx) {
			rec := res.Record()
			nodeVal, ok := rec.Get("node")
			if !ok {
				continue
			}
			node := nodeVal.(neo4j.Node)
			score, _ := rec.Get("score")
			hit := SearchHit{Fields: Record(node.Props)}
			if id, ok := node.Props["id"].(string); ok {
				hit.ID = id
			}
			if f, ok := score.(float64); ok {
				hit.Score = f
			}
			hits = append(hits, hit)
		}
		return hits, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("index: vector search %s.%s: %w", table, field, err)
	}
	return out.([]SearchHit), nil
}

func (s *neo4jStore) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	err := s.driver.Close(ctx)
	s.driver = nil
	return err
}
