// Package memory provides an in-process snapshot store. Snapshots do not
// survive the process; it backs tests and runs that only need resume within
// one invocation.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avictorious/fpsim/internal/snapshot"
)

type key struct {
	runID string
	step  int
}

type entry struct {
	data []byte
	meta snapshot.Meta
}

// Store keeps encoded envelopes in a map. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[key]entry
	now     func() time.Time
}

var _ snapshot.Store = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithClock replaces time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{entries: make(map[key]entry), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save implements [snapshot.Store].
func (s *Store) Save(_ context.Context, e *snapshot.Envelope) (snapshot.Meta, error) {
	if e != nil && e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	data, err := snapshot.Encode(e)
	if err != nil {
		return snapshot.Meta{}, err
	}
	meta := snapshot.Meta{RunID: e.RunID, Step: e.Step, Size: int64(len(data)), CreatedAt: e.CreatedAt}

	s.mu.Lock()
	s.entries[key{e.RunID, e.Step}] = entry{data: data, meta: meta}
	s.mu.Unlock()
	return meta, nil
}

// Load implements [snapshot.Store].
func (s *Store) Load(_ context.Context, runID string, step int) (*snapshot.Envelope, error) {
	s.mu.RLock()
	ent, ok := s.entries[key{runID, step}]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: run %q step %d", snapshot.ErrNotFound, runID, step)
	}
	return snapshot.Decode(ent.data)
}

// Latest implements [snapshot.Store].
func (s *Store) Latest(ctx context.Context, runID string) (*snapshot.Envelope, error) {
	metas, _ := s.List(ctx, runID)
	m, ok := snapshot.Newest(metas, runID)
	if !ok {
		return nil, fmt.Errorf("%w: run %q", snapshot.ErrNotFound, runID)
	}
	return s.Load(ctx, m.RunID, m.Step)
}

// List implements [snapshot.Store].
func (s *Store) List(_ context.Context, runID string) ([]snapshot.Meta, error) {
	s.mu.RLock()
	metas := make([]snapshot.Meta, 0, len(s.entries))
	for k, ent := range s.entries {
		if runID == "" || k.runID == runID {
			metas = append(metas, ent.meta)
		}
	}
	s.mu.RUnlock()
	snapshot.SortMetas(metas)
	return metas, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
