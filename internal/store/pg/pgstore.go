// Package pg persists the provenance ledger, role authority, and batch
// registry in PostgreSQL. All three service interfaces are implemented
// by a single Store so one transaction can span role and product state.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"agrotrace.org/internal/batch"
	"agrotrace.org/internal/provenance"
	"agrotrace.org/internal/roles"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var (
	_ provenance.Service = (*Store)(nil)
	_ roles.Service      = (*Store)(nil)
	_ batch.Service      = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// EnsureAdmins grants the bootstrap admin role to the given principals.
// Safe to run on every start.
func (s *Store) EnsureAdmins(ctx context.Context, admins ...string) error {
	for _, admin := range admins {
		if admin == "" {
			continue
		}
		if err := s.recordMembership(ctx, s.db, roles.Admin, admin); err != nil {
			return err
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// recordMembership inserts the role grant and marks the principal as seen.
func (s *Store) recordMembership(ctx context.Context, ex execer, role roles.Role, principal string) error {
	if _, err := ex.ExecContext(ctx, `
		insert into principals(principal) values ($1)
		on conflict do nothing
	`, principal); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx, `
		insert into role_members(role, principal) values ($1, $2)
		on conflict do nothing
	`, role.String(), principal)
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
