package store

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS study_migrations (
	id         SERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	checksum   TEXT NOT NULL
);`

type migrationFile struct {
	Name     string
	Up       string
	Down     string
	Checksum string
}

// loadMigrations reads the embedded *.up.sql / *.down.sql pairs sorted by name.
func loadMigrations() ([]migrationFile, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	ups := make(map[string]string)
	downs := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = string(data)
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = string(data)
		}
	}

	migrations := make([]migrationFile, 0, len(ups))
	for key, up := range ups {
		migrations = append(migrations, migrationFile{
			Name:     key,
			Up:       up,
			Down:     downs[key],
			Checksum: fmt.Sprintf("%x", sha256.Sum256([]byte(up))),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Name < migrations[j].Name })
	return migrations, nil
}

func (s *Postgres) appliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT name, checksum FROM study_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var name, checksum string
		if err := rows.Scan(&name, &checksum); err != nil {
			return nil, err
		}
		applied[name] = checksum
	}
	return applied, rows.Err()
}

// Migrate applies pending migrations, one transaction each. An applied migration whose
// checksum changed aborts the run.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("store: ensure migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("store: applied migrations: %w", err)
	}

	for _, m := range migrations {
		if checksum, ok := applied[m.Name]; ok {
			if checksum != m.Checksum {
				return fmt.Errorf("store: migration %s checksum mismatch (recorded %s, embedded %s)", m.Name, checksum, m.Checksum)
			}
			continue
		}

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("store: begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("store: run migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO study_migrations (name, checksum) VALUES ($1, $2)`, m.Name, m.Checksum); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("store: record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func (s *Postgres) Rollback(ctx context.Context) error {
	var last string
	if err := s.db.QueryRow(ctx, `SELECT name FROM study_migrations ORDER BY id DESC LIMIT 1`).Scan(&last); err != nil {
		return fmt.Errorf("store: last migration: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}

	var down string
	for _, m := range migrations {
		if m.Name == last {
			down = m.Down
			break
		}
	}
	if down == "" {
		return fmt.Errorf("store: no down migration for %s", last)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin rollback %s: %w", last, err)
	}
	if _, err := tx.Exec(ctx, down); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("store: rollback %s: %w", last, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM study_migrations WHERE name = $1`, last); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("store: unrecord %s: %w", last, err)
	}
	return tx.Commit(ctx)
}
