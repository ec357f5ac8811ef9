package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/kubilitics/kubilitics-insight/internal/models"
)

// migrations are applied in order; applied versions are tracked in schema_versions.
// Timestamps are stored as unix milliseconds.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS knowledge_documents (
    path        TEXT PRIMARY KEY,
    title       TEXT NOT NULL DEFAULT '',
    category    TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_documents(category);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS query_interactions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    query_id       TEXT NOT NULL UNIQUE,
    session_id     TEXT NOT NULL DEFAULT '',
    query          TEXT NOT NULL,
    language       TEXT NOT NULL DEFAULT '',
    intent         TEXT NOT NULL DEFAULT '',
    mode           TEXT NOT NULL DEFAULT '',
    engine_used    TEXT NOT NULL DEFAULT '',
    confidence     REAL NOT NULL DEFAULT 0.0,
    success        INTEGER NOT NULL DEFAULT 0,
    processing_ms  INTEGER NOT NULL DEFAULT 0,
    answer         TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_session    ON query_interactions(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_interactions_created_at ON query_interactions(created_at DESC);
`,
	},
}

// SQLiteStore is the SQLite-backed implementation of Store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway and an in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Name identifies the store as an index document source.
func (s *SQLiteStore) Name() string { return "sqlite" }

// ─── Knowledge documents ──────────────────────────────────────────────────────

func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc models.SourceDocument) error {
	path := strings.TrimSpace(doc.Path)
	if path == "" {
		return errors.New("document path is required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO knowledge_documents(path, title, category, content, updated_at)
        VALUES(?,?,?,?,?)
        ON CONFLICT(path) DO UPDATE SET
            title      = excluded.title,
            category   = excluded.category,
            content    = excluded.content,
            updated_at = excluded.updated_at
    `,
		path, doc.Title, doc.Category, doc.Content, s.now().UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_documents WHERE path = ?`, path)
	return err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]models.SourceDocument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, title, category, content FROM knowledge_documents ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.SourceDocument
	for rows.Next() {
		var d models.SourceDocument
		if err := rows.Scan(&d.Path, &d.Title, &d.Category, &d.Content); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_documents`).Scan(&n)
	return n, err
}

// ─── Query interactions ───────────────────────────────────────────────────────

func (s *SQLiteStore) RecordInteraction(ctx context.Context, rec *InteractionRecord) error {
	if rec == nil || rec.QueryID == "" {
		return errors.New("interaction query id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO query_interactions(query_id, session_id, query, language, intent, mode,
            engine_used, confidence, success, processing_ms, answer, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
    `,
		rec.QueryID, rec.SessionID, rec.Query, rec.Language, rec.Intent, rec.Mode,
		rec.EngineUsed, rec.Confidence, boolToInt(rec.Success), rec.ProcessingMs, rec.Answer,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) RecentInteractions(ctx context.Context, sessionID string, limit int) ([]*InteractionRecord, error) {
	query := `SELECT id, query_id, session_id, query, language, intent, mode, engine_used,
        confidence, success, processing_ms, answer, created_at FROM query_interactions WHERE 1=1`
	args := []any{}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*InteractionRecord
	for rows.Next() {
		rec := &InteractionRecord{}
		var success int
		var created int64
		if err := rows.Scan(&rec.ID, &rec.QueryID, &rec.SessionID, &rec.Query, &rec.Language,
			&rec.Intent, &rec.Mode, &rec.EngineUsed, &rec.Confidence, &success,
			&rec.ProcessingMs, &rec.Answer, &created); err != nil {
			return nil, err
		}
		rec.Success = success != 0
		rec.CreatedAt = time.UnixMilli(created).UTC()
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) SummarizeInteractions(ctx context.Context, from, to time.Time) (*InteractionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT mode, COUNT(*), SUM(success), SUM(confidence)
        FROM query_interactions
        WHERE created_at >= ? AND created_at <= ?
        GROUP BY mode
    `, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sum := &InteractionSummary{ByMode: map[string]int{}}
	var confidence float64
	for rows.Next() {
		var mode string
		var total, successful int
		var conf float64
		if err := rows.Scan(&mode, &total, &successful, &conf); err != nil {
			return nil, err
		}
		sum.ByMode[mode] = total
		sum.Total += total
		sum.Successful += successful
		confidence += conf
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if sum.Total > 0 {
		sum.AvgConfidence = confidence / float64(sum.Total)
	}
	return sum, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
