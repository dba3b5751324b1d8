// Package snapshottest provides fixtures and a behavioural test suite shared
// by all snapshot store backends.
package snapshottest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avictorious/fpsim/internal/snapshot"
	"github.com/avictorious/fpsim/pkg/people"
)

// Envelope builds a small, valid envelope for runID at step. The population
// has three agents and a filtered selection so restores can be checked.
func Envelope(t testing.TB, runID string, step int, createdAt time.Time) *snapshot.Envelope {
	t.Helper()

	schema := people.MustSchema(
		people.Float(people.AgeKey),
		people.Int(people.SexKey),
		people.Bool(people.AliveKey),
		people.List("dobs"),
	)
	p, err := people.FromColumns(schema, map[string]any{
		people.AgeKey:   []float64{15.5, 30, 44.25},
		people.SexKey:   []int64{0, 1, 0},
		people.AliveKey: []bool{true, true, false},
		"dobs":          [][]float64{nil, {2001.5}, {1990, 1995.25}},
	})
	if err != nil {
		t.Fatalf("people.FromColumns: %v", err)
	}
	p.SetField("step_events", float64(step))
	view, err := p.FilterInds([]int{0, 2})
	if err != nil {
		t.Fatalf("FilterInds: %v", err)
	}

	return &snapshot.Envelope{
		RunID:        runID,
		Step:         step,
		Seed:         42,
		SamplerState: []byte{1, 2, 3, byte(step)},
		Pars:         map[string]any{"start_year": 2000.0, "end_year": 2010.0, "timestep": 1.0},
		People:       view.Snapshot(),
		CreatedAt:    createdAt.UTC(),
	}
}

// Factory creates an empty store for one subtest.
type Factory func(t *testing.T) snapshot.Store

// Run exercises the [snapshot.Store] contract against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("save and load round trip", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		in := Envelope(t, "run-a", 12, base)
		meta, err := s.Save(ctx, in)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if meta.RunID != "run-a" || meta.Step != 12 || meta.Size <= 0 {
			t.Fatalf("Save meta = %+v", meta)
		}

		out, err := s.Load(ctx, "run-a", 12)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		AssertEqual(t, in, out)
	})

	t.Run("load missing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Load(context.Background(), "run-a", 1); !errors.Is(err, snapshot.ErrNotFound) {
			t.Fatalf("Load = %v, want ErrNotFound", err)
		}
		if _, err := s.Latest(context.Background(), ""); !errors.Is(err, snapshot.ErrNotFound) {
			t.Fatalf("Latest = %v, want ErrNotFound", err)
		}
	})

	t.Run("save replaces same step", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		first := Envelope(t, "run-a", 3, base)
		second := Envelope(t, "run-a", 3, base.Add(time.Minute))
		second.Seed = 7
		mustSave(t, s, first)
		mustSave(t, s, second)

		metas, err := s.List(ctx, "run-a")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(metas) != 1 {
			t.Fatalf("List len = %d, want 1", len(metas))
		}
		got, err := s.Load(ctx, "run-a", 3)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Seed != 7 {
			t.Fatalf("Seed = %d, want 7", got.Seed)
		}
	})

	t.Run("latest and list ordering", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		mustSave(t, s, Envelope(t, "run-a", 24, base))
		mustSave(t, s, Envelope(t, "run-a", 6, base.Add(time.Minute)))
		mustSave(t, s, Envelope(t, "run-b", 1, base.Add(2*time.Minute)))
		mustSave(t, s, Envelope(t, "run-a", 12, base.Add(3*time.Minute)))

		latest, err := s.Latest(ctx, "run-a")
		if err != nil {
			t.Fatalf("Latest(run-a): %v", err)
		}
		if latest.Step != 24 {
			t.Fatalf("Latest(run-a).Step = %d, want 24", latest.Step)
		}

		newest, err := s.Latest(ctx, "")
		if err != nil {
			t.Fatalf("Latest(any): %v", err)
		}
		if newest.RunID != "run-a" || newest.Step != 12 {
			t.Fatalf("Latest(any) = %s/%d, want run-a/12", newest.RunID, newest.Step)
		}

		metas, err := s.List(ctx, "")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := []struct {
			run  string
			step int
		}{{"run-a", 6}, {"run-a", 12}, {"run-a", 24}, {"run-b", 1}}
		if len(metas) != len(want) {
			t.Fatalf("List len = %d, want %d", len(metas), len(want))
		}
		for i, w := range want {
			if metas[i].RunID != w.run || metas[i].Step != w.step {
				t.Errorf("List[%d] = %s/%d, want %s/%d", i, metas[i].RunID, metas[i].Step, w.run, w.step)
			}
		}

		only, _ := s.List(ctx, "run-b")
		if len(only) != 1 || only[0].RunID != "run-b" {
			t.Fatalf("List(run-b) = %+v", only)
		}
	})

	t.Run("invalid envelope", func(t *testing.T) {
		s := newStore(t)
		bad := Envelope(t, "../escape", 1, base)
		if _, err := s.Save(context.Background(), bad); !errors.Is(err, snapshot.ErrInvalidEnvelope) {
			t.Fatalf("Save = %v, want ErrInvalidEnvelope", err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

func mustSave(t *testing.T, s snapshot.Store, e *snapshot.Envelope) {
	t.Helper()
	if _, err := s.Save(context.Background(), e); err != nil {
		t.Fatalf("Save %s/%d: %v", e.RunID, e.Step, err)
	}
}

// AssertEqual fails t unless got restores to the same run state as want.
func AssertEqual(t testing.TB, want, got *snapshot.Envelope) {
	t.Helper()

	if got.RunID != want.RunID || got.Step != want.Step || got.Seed != want.Seed {
		t.Fatalf("header = %s/%d/%d, want %s/%d/%d", got.RunID, got.Step, got.Seed, want.RunID, want.Step, want.Seed)
	}
	if string(got.SamplerState) != string(want.SamplerState) {
		t.Fatalf("sampler state = %v, want %v", got.SamplerState, want.SamplerState)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if got.Pars["timestep"] != want.Pars["timestep"] {
		t.Fatalf("pars = %v, want %v", got.Pars, want.Pars)
	}

	wantP, err := people.Restore(want.People)
	if err != nil {
		t.Fatalf("Restore(want): %v", err)
	}
	gotP, err := people.Restore(got.People)
	if err != nil {
		t.Fatalf("Restore(got): %v", err)
	}
	if !gotP.Schema().Equal(wantP.Schema()) {
		t.Fatal("schema differs")
	}
	if gotP.Len() != wantP.Len() || gotP.ActiveLen() != wantP.ActiveLen() {
		t.Fatalf("len = %d/%d, want %d/%d", gotP.Len(), gotP.ActiveLen(), wantP.Len(), wantP.ActiveLen())
	}
	gi, wi := gotP.Inds(), wantP.Inds()
	for i := range wi {
		if gi[i] != wi[i] {
			t.Fatalf("inds = %v, want %v", gi, wi)
		}
	}
	for i := range wantP.ActiveLen() {
		gr, err := gotP.Row(i)
		if err != nil {
			t.Fatalf("Row(%d): %v", i, err)
		}
		wr, _ := wantP.Row(i)
		for name, wv := range wr {
			if !sameValue(gr[name], wv) {
				t.Fatalf("row %d %s = %v, want %v", i, name, gr[name], wv)
			}
		}
	}
	if v, err := gotP.Field("step_events"); err != nil || v != float64(want.Step) {
		t.Fatalf("field step_events = %v, %v", v, err)
	}
}

func sameValue(a, b any) bool {
	al, aok := a.([]float64)
	bl, bok := b.([]float64)
	if aok || bok {
		if len(al) != len(bl) {
			return false
		}
		for i := range al {
			if al[i] != bl[i] {
				return false
			}
		}
		return true
	}
	return a == b
}
