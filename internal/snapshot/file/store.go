// Package file stores snapshots as JSON files under a directory, one
// sub-directory per run:
//
//	<dir>/<run id>/<step, zero padded>.json
//
// Each file's modification time is set to the envelope's CreatedAt so
// listings do not need to decode files.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/avictorious/fpsim/internal/snapshot"
)

// Store is a directory-backed [snapshot.Store].
type Store struct {
	dir string
}

var _ snapshot.Store = (*Store)(nil)

// New creates dir if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("file store: create %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(runID string, step int) string {
	return filepath.Join(s.dir, filepath.FromSlash(snapshot.ObjectKey(runID, step)))
}

// Save writes the envelope to a temporary file and renames it into place.
func (s *Store) Save(ctx context.Context, e *snapshot.Envelope) (snapshot.Meta, error) {
	if e != nil && e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data, err := snapshot.Encode(e)
	if err != nil {
		return snapshot.Meta{}, err
	}
	if err := ctx.Err(); err != nil {
		return snapshot.Meta{}, err
	}

	dst := s.path(e.RunID, e.Step)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return snapshot.Meta{}, fmt.Errorf("file store: create run dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".snapshot-*")
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("file store: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return snapshot.Meta{}, fmt.Errorf("file store: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return snapshot.Meta{}, fmt.Errorf("file store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return snapshot.Meta{}, fmt.Errorf("file store: close: %w", err)
	}
	if err := os.Chtimes(tmp.Name(), e.CreatedAt, e.CreatedAt); err != nil {
		return snapshot.Meta{}, fmt.Errorf("file store: set mtime: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return snapshot.Meta{}, fmt.Errorf("file store: rename: %w", err)
	}

	return snapshot.Meta{RunID: e.RunID, Step: e.Step, Size: int64(len(data)), CreatedAt: e.CreatedAt}, nil
}

// Load implements [snapshot.Store].
func (s *Store) Load(_ context.Context, runID string, step int) (*snapshot.Envelope, error) {
	if err := snapshot.ValidateRunID(runID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(runID, step))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: run %q step %d", snapshot.ErrNotFound, runID, step)
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read: %w", err)
	}
	return snapshot.Decode(data)
}

// Latest implements [snapshot.Store].
func (s *Store) Latest(ctx context.Context, runID string) (*snapshot.Envelope, error) {
	metas, err := s.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	m, ok := snapshot.Newest(metas, runID)
	if !ok {
		return nil, fmt.Errorf("%w: run %q", snapshot.ErrNotFound, runID)
	}
	return s.Load(ctx, m.RunID, m.Step)
}

// List implements [snapshot.Store]. Files whose names do not follow the
// snapshot layout are ignored.
func (s *Store) List(_ context.Context, runID string) ([]snapshot.Meta, error) {
	var runs []string
	if runID != "" {
		if err := snapshot.ValidateRunID(runID); err != nil {
			return nil, err
		}
		runs = []string{runID}
	} else {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return nil, fmt.Errorf("file store: list runs: %w", err)
		}
		for _, ent := range entries {
			if ent.IsDir() {
				runs = append(runs, ent.Name())
			}
		}
	}

	var metas []snapshot.Meta
	for _, run := range runs {
		entries, err := os.ReadDir(filepath.Join(s.dir, run))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("file store: list %q: %w", run, err)
		}
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			gotRun, step, ok := snapshot.ParseObjectKey(run + "/" + ent.Name())
			if !ok {
				continue
			}
			info, err := ent.Info()
			if err != nil {
				continue
			}
			metas = append(metas, snapshot.Meta{
				RunID:     gotRun,
				Step:      step,
				Size:      info.Size(),
				CreatedAt: info.ModTime().UTC(),
			})
		}
	}
	snapshot.SortMetas(metas)
	return metas, nil
}

// Ping checks that the directory is still accessible.
func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file store: %q is not a directory", s.dir)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
