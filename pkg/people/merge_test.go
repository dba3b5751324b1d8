package people_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/avictorious/fpsim/pkg/people"
	"github.com/avictorious/fpsim/pkg/sampling"
)

func TestMerge_UIDScenario(t *testing.T) {
	t.Parallel()

	a, _ := people.New(testSchema, 3)
	b, _ := people.New(testSchema, 2)

	m, err := a.Merge(b)
	if err != nil {
		t.Fatalf("Merge: unexpected error: %v", err)
	}
	if m.Len() != 5 || m.IsFiltered() {
		t.Fatalf("Len=%d filtered=%v", m.Len(), m.IsFiltered())
	}
	if got := mustInts(t, m, people.UIDKey); !slices.Equal(got, []int64{0, 1, 2, 3, 4}) {
		t.Fatalf("uids = %v, want [0 1 2 3 4]", got)
	}
	if a.Len() != 5 {
		t.Fatalf("receiver Len = %d, want 5", a.Len())
	}
	if b.Len() != 2 {
		t.Fatalf("other Len = %d, want 2", b.Len())
	}
}

func TestMerge_SparseUIDs(t *testing.T) {
	t.Parallel()

	a := newFive(t)
	if err := a.SetInts(people.UIDKey, []int64{7, 3, 100, 2, 9}); err != nil {
		t.Fatalf("SetInts: %v", err)
	}
	b := newFive(t)
	m, err := a.Merge(b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	uids := mustInts(t, m, people.UIDKey)
	if !slices.Equal(uids[5:], []int64{101, 102, 103, 104, 105}) {
		t.Fatalf("appended uids = %v", uids[5:])
	}
	seen := map[int64]bool{}
	for _, u := range uids {
		if seen[u] {
			t.Fatalf("duplicate uid %d in %v", u, uids)
		}
		seen[u] = true
	}
}

func TestMerge_Columns(t *testing.T) {
	t.Parallel()

	a := newFive(t)
	b := newFive(t)
	if err := b.SetLists("dobs", [][]float64{{1990}, nil, nil, nil, {2000, 2003}}); err != nil {
		t.Fatalf("SetLists: %v", err)
	}

	view, _ := a.FilterInds([]int{4})
	m, err := view.Merge(b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := mustFloats(t, m, people.AgeKey); !slices.Equal(got, []float64{10, 20, 30, 40, 50, 10, 20, 30, 40, 50}) {
		t.Fatalf("ages = %v", got)
	}
	dobs, _ := m.Lists("dobs")
	if len(dobs) != 10 || !slices.Equal(dobs[5], []float64{1990}) || !slices.Equal(dobs[9], []float64{2000, 2003}) {
		t.Fatalf("dobs = %v", dobs)
	}
	if got := mustFloats(t, view, people.AgeKey); !slices.Equal(got, []float64{50}) {
		t.Fatalf("existing view after merge = %v", got)
	}

	// Appended lists are copies of other's.
	bd, _ := b.Lists("dobs")
	bd[0][0] = 0
	dobs, _ = m.Lists("dobs")
	if dobs[5][0] != 1990 {
		t.Fatal("merged list aliases the source population")
	}
}

func TestMerge_EmptyReceiver(t *testing.T) {
	t.Parallel()

	a, _ := people.New(testSchema, 0)
	b := newFive(t)
	_ = b.SetInts(people.UIDKey, []int64{10, 11, 12, 13, 14})
	m, err := a.Merge(b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := mustInts(t, m, people.UIDKey); !slices.Equal(got, []int64{0, 1, 2, 3, 4}) {
		t.Fatalf("uids = %v, want [0 1 2 3 4]", got)
	}
}

func TestMerge_IncompatibleSchema(t *testing.T) {
	t.Parallel()

	a := newFive(t)
	other, _ := people.New(people.MustSchema(people.Float(people.AgeKey)), 2)
	if _, err := a.Merge(other); !errors.Is(err, people.ErrIncompatibleSchema) {
		t.Fatalf("expected ErrIncompatibleSchema, got %v", err)
	}
	if a.Len() != 5 {
		t.Fatalf("failed merge changed Len to %d", a.Len())
	}

	reordered, _ := people.New(people.MustSchema(
		people.List("dobs"),
		people.Bool(people.AliveKey),
		people.Int(people.SexKey),
		people.Float(people.AgeKey),
	), 1)
	if _, err := a.Merge(reordered); err != nil {
		t.Fatalf("Merge with reordered schema: %v", err)
	}
}

func TestSum(t *testing.T) {
	t.Parallel()

	a, _ := people.New(testSchema, 2)
	b, _ := people.New(testSchema, 2)
	c, _ := people.New(testSchema, 1)
	s, err := people.Sum(nil, a, b, c)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if got := mustInts(t, s, people.UIDKey); !slices.Equal(got, []int64{0, 1, 2, 3, 4}) {
		t.Fatalf("uids = %v", got)
	}
	if s, _ := people.Sum(); s != nil {
		t.Fatal("Sum(): expected nil")
	}
}

func TestBinomial_Extremes(t *testing.T) {
	t.Parallel()

	p := newFive(t, people.WithSampler(sampling.New(1)))

	out, err := p.Binomial(0.0, people.AsMask)
	if err != nil {
		t.Fatalf("Binomial(0): %v", err)
	}
	if slices.Contains(out.Mask, true) || len(out.Mask) != 5 {
		t.Fatalf("p=0 mask = %v", out.Mask)
	}
	out, _ = p.Binomial(1, people.AsMask)
	if slices.Contains(out.Mask, false) {
		t.Fatalf("p=1 mask = %v", out.Mask)
	}
}

func TestBinomial_Modes(t *testing.T) {
	t.Parallel()

	p := newFive(t, people.WithSampler(sampling.New(3)))
	f, _ := p.FilterInds([]int{1, 2, 4})

	idx, err := f.Binomial([]float64{1, 0, 1}, people.AsIndices)
	if err != nil {
		t.Fatalf("AsIndices: %v", err)
	}
	if !slices.Equal(idx.Indices, []int{0, 2}) {
		t.Fatalf("Indices = %v, want [0 2]", idx.Indices)
	}

	view, err := f.Binomial([]float64{0, 1, 1}, people.AsFilter)
	if err != nil {
		t.Fatalf("AsFilter: %v", err)
	}
	if !slices.Equal(view.View.Inds(), []int{2, 4}) {
		t.Fatalf("view Inds = %v, want [2 4]", view.View.Inds())
	}
	if !view.View.Shares(p) {
		t.Fatal("binomial view does not share arena")
	}
}

func TestBinomial_Determinism(t *testing.T) {
	t.Parallel()

	run := func() []bool {
		p := newFive(t, people.WithSampler(sampling.New(77)))
		var all []bool
		for range 10 {
			out, err := p.Binomial(0.5, people.AsMask)
			if err != nil {
				t.Fatalf("Binomial: %v", err)
			}
			all = append(all, out.Mask...)
		}
		return all
	}
	if !slices.Equal(run(), run()) {
		t.Fatal("same seed produced different outcomes")
	}
}

func TestBinomial_Errors(t *testing.T) {
	t.Parallel()

	p := newFive(t, people.WithSampler(sampling.New(5)))
	tests := []struct {
		name    string
		prob    any
		wantErr error
	}{
		{"wrong length", []float64{0.5, 0.5}, people.ErrInvalidArgumentType},
		{"string", "half", people.ErrInvalidArgumentType},
		{"out of range scalar", 1.5, people.ErrInvalidProbability},
		{"out of range array", []float64{0, 0, 0, 0, -1}, people.ErrInvalidProbability},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.Binomial(tc.prob, people.AsMask); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	bare := newFive(t)
	if _, err := bare.Binomial(0.5, people.AsMask); !errors.Is(err, people.ErrNoSampler) {
		t.Fatalf("expected ErrNoSampler, got %v", err)
	}
}
