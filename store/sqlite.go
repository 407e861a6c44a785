// Package store holds the persistence backends of the redraft service:
// a SQLite document store and premium quota gates.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/oraraka-deko/redraft/llm"
	"github.com/oraraka-deko/redraft/redraft"
)

// SQLite stores document context notes and conversation turns.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	// modernc.org/sqlite takes pragmas as _pragma= query parameters.
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	// One connection keeps writes serialized and an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			context TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS turns_document_seq ON turns(document_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}

// FetchDocumentContext returns the stored note, or "" for an unknown document.
func (s *SQLite) FetchDocumentContext(ctx context.Context, documentID string) (string, error) {
	var note string
	err := s.db.QueryRowContext(ctx, `SELECT context FROM documents WHERE id = ?`, documentID).Scan(&note)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch context for document %s", documentID)
	}
	return note, nil
}

// SaveContext replaces the note of a document.
func (s *SQLite) SaveContext(ctx context.Context, documentID, note string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, context, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at`,
		documentID, note, s.now().UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "failed to save context for document %s", documentID)
	}
	return nil
}

// AppendTurns appends turns after the last stored one.
func (s *SQLite) AppendTurns(ctx context.Context, documentID string, turns []redraft.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM turns WHERE document_id = ?`, documentID).Scan(&last); err != nil {
		return errors.Wrapf(err, "failed to read last turn of document %s", documentID)
	}

	now := s.now().UnixMilli()
	for i, t := range turns {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO turns (id, document_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			shortuuid.New(), documentID, last+int64(i)+1, string(t.Role), t.Content, now)
		if err != nil {
			return errors.Wrapf(err, "failed to append turn to document %s", documentID)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit turns")
}

// History returns the most recent turns of a document in order. A limit
// of zero or less returns all of them.
func (s *SQLite) History(ctx context.Context, documentID string, limit int) ([]redraft.Turn, error) {
	query := `SELECT role, content FROM (
		SELECT role, content, seq FROM turns WHERE document_id = ? ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, documentID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list turns of document %s", documentID)
	}
	defer rows.Close()

	var out []redraft.Turn
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, errors.Wrap(err, "failed to scan turn")
		}
		out = append(out, redraft.Turn{Role: llm.Role(role), Content: content})
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate turns")
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
