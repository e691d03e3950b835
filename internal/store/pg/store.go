// Package pg persists the authorization read model, token revocations and
// audit events in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pulseops.app/internal/pii"
)

// Files holds the embedded migrations/ and seeds/ directories.
//
//go:embed migrations/*.sql seeds/*.sql
var Files embed.FS

const pgErrUniqueViolation = "23505"

var errNoDB = errors.New("database connection unavailable")

// Store wraps a pgx-backed *sql.DB.
type Store struct {
	db  *sql.DB
	pii *pii.Guard
	now func() time.Time
}

// Open connects with the pgx stdlib driver. The guard encrypts phone
// numbers at rest.
func Open(dsn string, guard *pii.Guard) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, guard), nil
}

// New wraps an existing handle.
func New(db *sql.DB, guard *pii.Guard) *Store {
	return &Store{db: db, pii: guard, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
