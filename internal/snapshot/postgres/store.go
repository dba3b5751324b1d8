// Package postgres stores snapshots in PostgreSQL. Payloads are kept as JSONB
// so runs can be queried ad hoc with SQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avictorious/fpsim/internal/snapshot"
)

// Schema is the DDL applied by [Store.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS fpsim_snapshots (
    run_id     TEXT        NOT NULL,
    step       INTEGER     NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    size       BIGINT      NOT NULL,
    payload    JSONB       NOT NULL,
    PRIMARY KEY (run_id, step)
);
CREATE INDEX IF NOT EXISTS idx_fpsim_snapshots_created_at ON fpsim_snapshots (created_at DESC);
`

// DB is the subset of *pgxpool.Pool used by [Store]. *pgx.Conn satisfies it
// as well.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a PostgreSQL-backed [snapshot.Store].
type Store struct {
	db    DB
	close func()
}

var _ snapshot.Store = (*Store)(nil)

// New wraps an existing connection or pool. The caller owns db and should
// call [Store.Migrate] before use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect creates a pool for dsn, pings it and migrates the schema. Close
// releases the pool.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// Save implements [snapshot.Store].
func (s *Store) Save(ctx context.Context, e *snapshot.Envelope) (snapshot.Meta, error) {
	if e != nil && e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data, err := snapshot.Encode(e)
	if err != nil {
		return snapshot.Meta{}, err
	}

	const q = `
		INSERT INTO fpsim_snapshots (run_id, step, created_at, size, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, step) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			size       = EXCLUDED.size,
			payload    = EXCLUDED.payload`
	if _, err := s.db.Exec(ctx, q, e.RunID, e.Step, e.CreatedAt, int64(len(data)), data); err != nil {
		return snapshot.Meta{}, fmt.Errorf("postgres store: save: %w", err)
	}
	return snapshot.Meta{RunID: e.RunID, Step: e.Step, Size: int64(len(data)), CreatedAt: e.CreatedAt}, nil
}

// Load implements [snapshot.Store].
func (s *Store) Load(ctx context.Context, runID string, step int) (*snapshot.Envelope, error) {
	const q = `SELECT payload FROM fpsim_snapshots WHERE run_id = $1 AND step = $2`
	return s.one(ctx, fmt.Sprintf("run %q step %d", runID, step), q, runID, step)
}

// Latest implements [snapshot.Store].
func (s *Store) Latest(ctx context.Context, runID string) (*snapshot.Envelope, error) {
	if runID == "" {
		const q = `SELECT payload FROM fpsim_snapshots ORDER BY created_at DESC, step DESC LIMIT 1`
		return s.one(ctx, "any run", q)
	}
	const q = `SELECT payload FROM fpsim_snapshots WHERE run_id = $1 ORDER BY step DESC LIMIT 1`
	return s.one(ctx, fmt.Sprintf("run %q", runID), q, runID)
}

func (s *Store) one(ctx context.Context, what, q string, args ...any) (*snapshot.Envelope, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, q, args...).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: query %s: %w", what, err)
	}
	return snapshot.Decode(payload)
}

// List implements [snapshot.Store].
func (s *Store) List(ctx context.Context, runID string) ([]snapshot.Meta, error) {
	q := `SELECT run_id, step, created_at, size FROM fpsim_snapshots ORDER BY run_id, step`
	var args []any
	if runID != "" {
		q = `SELECT run_id, step, created_at, size FROM fpsim_snapshots WHERE run_id = $1 ORDER BY step`
		args = append(args, runID)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	defer rows.Close()

	var metas []snapshot.Meta
	for rows.Next() {
		var m snapshot.Meta
		if err := rows.Scan(&m.RunID, &m.Step, &m.CreatedAt, &m.Size); err != nil {
			return nil, fmt.Errorf("postgres store: scan: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list rows: %w", err)
	}
	return metas, nil
}

// Ping runs a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases the pool created by [Connect]. It is a no-op for stores
// built with [New].
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
