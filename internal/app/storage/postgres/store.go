// Package postgres implements every storage interface in internal/app/storage
// against a single PostgreSQL schema (see internal/platform/migrations).
package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/lattice-run/core/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var (
	_ storage.UserStore    = (*Store)(nil)
	_ storage.AccountStore = (*Store)(nil)
	_ storage.AgentStore   = (*Store)(nil)
	_ storage.JobStore     = (*Store)(nil)
	_ storage.RiskStore    = (*Store)(nil)
	_ storage.AuditStore   = (*Store)(nil)
)

// New wraps an open database handle. Callers own the handle's lifecycle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}
