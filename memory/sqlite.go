package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const memorySchema = `
CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	scope      TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope, created_at);
`

// SQLiteStore persists memories in a SQLite database
type SQLiteStore struct {
	db *sql.DB
	// scanLimit bounds how many recent records per scope are ranked
	scanLimit int
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating memory directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	if _, err := db.Exec(memorySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating memory schema: %w", err)
	}
	return &SQLiteStore{db: db, scanLimit: 500}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Add(ctx context.Context, text, scope string) (Record, error) {
	record := NewRecord(text, scope)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, scope, text, created_at) VALUES (?, ?, ?, ?)`,
		record.ID, record.Scope, record.Text, record.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, fmt.Errorf("inserting memory: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) Search(ctx context.Context, query, scope string, limit int) ([]Record, error) {
	if scope == "" {
		scope = DefaultScope
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, text, created_at FROM memories WHERE scope = ? ORDER BY created_at DESC LIMIT ?`,
		scope, s.scanLimit)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.ID, &r.Scope, &r.Text, &created); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}
	return Rank(query, records, limit), nil
}
