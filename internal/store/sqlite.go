package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"

	_ "modernc.org/sqlite"
)

// DefaultSQLiteDSN is used when no DSN is configured.
const DefaultSQLiteDSN = "file:hertscortex.db?_pragma=busy_timeout(5000)"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS study_sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	owner_ref  TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

// SQLite stores sessions in a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dsn and ensures the schema exists.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = DefaultSQLiteDSN
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Create(ctx context.Context, title, content, ownerRef string) (*study.Session, error) {
	session := &study.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		OwnerRef:  ownerRef,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO study_sessions (id, title, content, owner_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Title, session.Content, session.OwnerRef, session.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	return session, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*study.Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	session := &study.Session{ID: id}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT title, content, owner_ref, created_at FROM study_sessions WHERE id = ?`, id,
	).Scan(&session.Title, &session.Content, &session.OwnerRef, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}

	session.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse created_at %q: %w", createdAt, err)
	}
	return session, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
