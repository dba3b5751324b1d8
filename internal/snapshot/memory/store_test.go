package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/avictorious/fpsim/internal/snapshot"
	"github.com/avictorious/fpsim/internal/snapshot/memory"
	"github.com/avictorious/fpsim/internal/snapshot/snapshottest"
)

func TestStore_Contract(t *testing.T) {
	t.Parallel()
	snapshottest.Run(t, func(t *testing.T) snapshot.Store { return memory.New() })
}

func TestStore_StampsCreatedAt(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	s := memory.New(memory.WithClock(func() time.Time { return at }))

	e := snapshottest.Envelope(t, "run-x", 0, time.Time{})
	e.CreatedAt = time.Time{}
	meta, err := s.Save(context.Background(), e)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !meta.CreatedAt.Equal(at) {
		t.Fatalf("CreatedAt = %v, want %v", meta.CreatedAt, at)
	}
}

func TestStore_LoadReturnsIndependentCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := memory.New()
	if _, err := s.Save(ctx, snapshottest.Envelope(t, "run-x", 1, time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, _ := s.Load(ctx, "run-x", 1)
	first.People.Floats["age"][0] = -1

	second, err := s.Load(ctx, "run-x", 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if second.People.Floats["age"][0] == -1 {
		t.Fatal("mutating a loaded envelope changed the stored one")
	}
}
