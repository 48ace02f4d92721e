// Package store persists study sessions.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
)

// ErrNotFound is returned by Get when no session carries the requested id.
var ErrNotFound = errors.New("study session not found")

// Store is the persistence boundary for study sessions. Sessions are written once and never
// mutated afterwards.
type Store interface {
	Create(ctx context.Context, title, content, ownerRef string) (*study.Session, error)
	Get(ctx context.Context, id string) (*study.Session, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects the backend selected by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	case DriverPostgres, "pg":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// validID reports whether id could have been issued by Create. Anything else cannot exist.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
