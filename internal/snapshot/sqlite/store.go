// Package sqlite stores snapshots in a single SQLite database file using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/avictorious/fpsim/internal/snapshot"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	run_id     TEXT    NOT NULL,
	step       INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	payload    BLOB    NOT NULL,
	PRIMARY KEY (run_id, step)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at);
`

// row mirrors the snapshots table. created_at holds Unix nanoseconds.
type row struct {
	RunID     string `db:"run_id"`
	Step      int    `db:"step"`
	CreatedAt int64  `db:"created_at"`
	Size      int64  `db:"size"`
}

func (r row) meta() snapshot.Meta {
	return snapshot.Meta{RunID: r.RunID, Step: r.Step, Size: r.Size, CreatedAt: time.Unix(0, r.CreatedAt).UTC()}
}

// Store is a SQLite-backed [snapshot.Store].
type Store struct {
	db *sqlx.DB
}

var _ snapshot.Store = (*Store)(nil)

// Open opens or creates the database at path in WAL mode and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite store: create dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the snapshots table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
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
		INSERT INTO snapshots (run_id, step, created_at, size, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, step) DO UPDATE SET
			created_at = excluded.created_at,
			size       = excluded.size,
			payload    = excluded.payload`
	if _, err := s.db.ExecContext(ctx, q, e.RunID, e.Step, e.CreatedAt.UnixNano(), len(data), data); err != nil {
		return snapshot.Meta{}, fmt.Errorf("sqlite store: save: %w", err)
	}
	return snapshot.Meta{RunID: e.RunID, Step: e.Step, Size: int64(len(data)), CreatedAt: e.CreatedAt}, nil
}

// Load implements [snapshot.Store].
func (s *Store) Load(ctx context.Context, runID string, step int) (*snapshot.Envelope, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM snapshots WHERE run_id = ? AND step = ?`, runID, step)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %q step %d", snapshot.ErrNotFound, runID, step)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load: %w", err)
	}
	return snapshot.Decode(payload)
}

// Latest implements [snapshot.Store].
func (s *Store) Latest(ctx context.Context, runID string) (*snapshot.Envelope, error) {
	q := `SELECT payload FROM snapshots ORDER BY created_at DESC, step DESC LIMIT 1`
	args := []any{}
	if runID != "" {
		q = `SELECT payload FROM snapshots WHERE run_id = ? ORDER BY step DESC LIMIT 1`
		args = append(args, runID)
	}

	var payload []byte
	err := s.db.GetContext(ctx, &payload, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %q", snapshot.ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: latest: %w", err)
	}
	return snapshot.Decode(payload)
}

// List implements [snapshot.Store].
func (s *Store) List(ctx context.Context, runID string) ([]snapshot.Meta, error) {
	q := `SELECT run_id, step, created_at, size FROM snapshots ORDER BY run_id, step`
	args := []any{}
	if runID != "" {
		q = `SELECT run_id, step, created_at, size FROM snapshots WHERE run_id = ? ORDER BY step`
		args = append(args, runID)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	metas := make([]snapshot.Meta, len(rows))
	for i, r := range rows {
		metas[i] = r.meta()
	}
	return metas, nil
}

// Ping implements [snapshot.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
