package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
)

// Postgres stores sessions in a PostgreSQL database through a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres requires STORE_DSN")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	s := &Postgres{db: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) Create(ctx context.Context, title, content, ownerRef string) (*study.Session, error) {
	session := &study.Session{
		ID:       uuid.NewString(),
		Title:    title,
		Content:  content,
		OwnerRef: ownerRef,
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO study_sessions (id, title, content, owner_ref)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		session.ID, session.Title, session.Content, session.OwnerRef,
	).Scan(&session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}

	session.CreatedAt = session.CreatedAt.UTC()
	return session, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*study.Session, error) {
	// The id column is UUID typed; a malformed id would otherwise surface as a syntax error.
	if !validID(id) {
		return nil, ErrNotFound
	}

	session := &study.Session{ID: id}
	err := s.db.QueryRow(ctx,
		`SELECT title, content, owner_ref, created_at
		 FROM study_sessions WHERE id = $1`,
		id,
	).Scan(&session.Title, &session.Content, &session.OwnerRef, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}

	session.CreatedAt = session.CreatedAt.UTC()
	return session, nil
}

func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}
