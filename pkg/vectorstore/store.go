package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SQLiteIndex stores documents and their vectors in one SQLite table and
// ranks candidates in process. Metadata filters are pushed down to SQL via
// json_extract so only matching rows are scored.
type SQLiteIndex struct {
	db       *sql.DB
	embedder Embedder
}

// OpenSQLiteIndex creates or opens the index database at path.
func OpenSQLiteIndex(path string, embedder Embedder) (*SQLiteIndex, error) {
	if embedder == nil {
		embedder = NewLocalEmbedder("")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	// One connection: readers and the occasional ingest share it, and an
	// in-memory database only exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	idx := &SQLiteIndex{db: db, embedder: embedder}
	if err := idx.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			model TEXT NOT NULL,
			vector_json TEXT NOT NULL,
			norm REAL NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS documents_ns_model_idx ON documents(namespace, model);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init index schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ModelID reports the embedding model this index writes and searches with.
func (s *SQLiteIndex) ModelID() string { return s.embedder.ModelID() }

// Upsert embeds and stores docs. A document without an ID gets one derived
// from its namespace and text, so re-ingesting the same file is idempotent.
func (s *SQLiteIndex) Upsert(ctx context.Context, docs []Document) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	type row struct {
		doc    Document
		meta   string
		vector []float32
	}
	rows := make([]row, 0, len(docs))
	for i, doc := range docs {
		doc.Namespace = strings.TrimSpace(doc.Namespace)
		doc.Text = strings.TrimSpace(doc.Text)
		if doc.Namespace == "" || doc.Text == "" {
			return 0, fmt.Errorf("document %d: namespace and text are required", i)
		}
		if doc.ID == "" {
			doc.ID = DocumentID(doc.Namespace, doc.Text)
		}
		meta := "{}"
		if len(doc.Metadata) > 0 {
			b, err := json.Marshal(doc.Metadata)
			if err != nil {
				return 0, fmt.Errorf("document %s: encode metadata: %w", doc.ID, err)
			}
			meta = string(b)
		}
		vec, err := s.embedder.Embed(ctx, doc.Text)
		if err != nil {
			return 0, fmt.Errorf("document %s: embed: %w", doc.ID, err)
		}
		rows = append(rows, row{doc: doc, meta: meta, vector: vec})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	model := s.embedder.ModelID()
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `
INSERT INTO documents(id, namespace, text, metadata_json, model, vector_json, norm, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	namespace = excluded.namespace,
	text = excluded.text,
	metadata_json = excluded.metadata_json,
	model = excluded.model,
	vector_json = excluded.vector_json,
	norm = excluded.norm,
	updated_at_ms = excluded.updated_at_ms`,
			r.doc.ID, r.doc.Namespace, r.doc.Text, r.meta, model, encodeVector(r.vector), vectorNorm(r.vector), now)
		if err != nil {
			return 0, fmt.Errorf("upsert document %s: %w", r.doc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(rows), nil
}

// DocumentID is the stable id for a document that did not bring its own.
func DocumentID(namespace, text string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"\x00"+text)).String()
}

// Search returns the top q.K documents in q.Namespace that satisfy q.Filter,
// best first. K <= 0 yields no results.
func (s *SQLiteIndex) Search(ctx context.Context, q Query) ([]Match, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if q.K <= 0 {
		return nil, nil
	}
	where, args, err := buildWhere(q, s.embedder.ModelID())
	if err != nil {
		return nil, err
	}

	queryVec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, text, metadata_json, vector_json FROM documents WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var meta, raw string
		if err := rows.Scan(&m.ID, &m.Text, &meta, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		m.Metadata = decodeMetadata(meta)
		m.Score = cosine(queryVec, decodeVector(raw))
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > q.K {
		out = out[:q.K]
	}
	logger.DebugCF("vectorstore", "Search completed", map[string]interface{}{
		"namespace":  q.Namespace,
		"conditions": len(q.Filter),
		"k":          q.K,
		"hits":       len(out),
	})
	return out, nil
}

func buildWhere(q Query, model string) (string, []interface{}, error) {
	clauses := []string{"namespace = ?", "model = ?"}
	args := []interface{}{q.Namespace, model}
	for _, c := range q.Filter {
		if !fieldPattern.MatchString(c.Field) {
			return "", nil, fmt.Errorf("%w: field %q", ErrInvalidFilter, c.Field)
		}
		if len(c.Values) == 0 {
			return "", nil, fmt.Errorf("%w: field %q has no values", ErrInvalidFilter, c.Field)
		}
		expr := fmt.Sprintf("CAST(json_extract(metadata_json, '$.%s') AS TEXT)", c.Field)
		if len(c.Values) == 1 {
			clauses = append(clauses, expr+" = ?")
			args = append(args, c.Values[0])
			continue
		}
		clauses = append(clauses, expr+" IN ("+strings.TrimRight(strings.Repeat("?,", len(c.Values)), ",")+")")
		for _, v := range c.Values {
			args = append(args, v)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// Stats counts indexed documents per namespace for the current model.
func (s *SQLiteIndex) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT namespace, COUNT(*) FROM documents WHERE model = ? GROUP BY namespace`, s.embedder.ModelID())
	if err != nil {
		return nil, fmt.Errorf("index stats: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var ns string
		var n int
		if err := rows.Scan(&ns, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out[ns] = n
	}
	return out, rows.Err()
}

// DeleteNamespace drops every document in namespace, regardless of model.
func (s *SQLiteIndex) DeleteNamespace(ctx context.Context, namespace string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func encodeVector(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeVector(raw string) []float32 {
	out := []float32{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func decodeMetadata(raw string) map[string]interface{} {
	out := map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
