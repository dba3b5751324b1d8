package people

import (
	"fmt"
	"slices"
)

// Merge appends other's full population to this population's arena and
// returns the unfiltered view of the result.
//
// Both populations must declare the same columns with the same kinds.
// Appended agents receive fresh uids starting at one past the largest
// existing uid (or 0 for an empty population), so uids are never reused even
// when the existing ones are sparse or unsorted. Existing views of the
// receiver stay valid and keep their selections. On error nothing is
// modified.
func (p *People) Merge(other *People) (*People, error) {
	if other == nil {
		return p.Unfilter(), nil
	}
	if !p.a.schema.Equal(other.a.schema) {
		return nil, fmt.Errorf("%w: %s", ErrIncompatibleSchema, p.a.schema.diff(other.a.schema))
	}

	a, b := p.a, other.a
	total := a.n + b.n

	floats := make(map[string][]float64, len(a.floats))
	ints := make(map[string][]int64, len(a.ints))
	bools := make(map[string][]bool, len(a.bools))
	lists := make(map[string][][]float64, len(a.lists))
	for name, col := range a.floats {
		floats[name] = slices.Concat(col, b.floats[name])
	}
	for name, col := range a.ints {
		ints[name] = slices.Concat(col, b.ints[name])
	}
	for name, col := range a.bools {
		bools[name] = slices.Concat(col, b.bools[name])
	}
	for name, col := range a.lists {
		merged := make([][]float64, 0, total)
		merged = append(merged, col...)
		for _, l := range b.lists[name] {
			merged = append(merged, slices.Clone(l))
		}
		lists[name] = merged
	}

	uids := ints[UIDKey]
	next := int64(0)
	if a.n > 0 {
		next = slices.Max(a.ints[UIDKey]) + 1
	}
	for i := a.n; i < total; i++ {
		uids[i] = next
		next++
	}

	if err := checkLengths(total, floats, ints, bools, lists); err != nil {
		return nil, err
	}

	a.floats, a.ints, a.bools, a.lists = floats, ints, bools, lists
	a.n = total
	return &People{a: a}, nil
}

// Sum merges populations in order into the first non-nil one. It returns nil
// when every argument is nil.
func Sum(pops ...*People) (*People, error) {
	var acc *People
	for _, p := range pops {
		if p == nil {
			continue
		}
		if acc == nil {
			acc = p.Unfilter()
			continue
		}
		var err error
		if acc, err = acc.Merge(p); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func checkLengths(n int, floats map[string][]float64, ints map[string][]int64, bools map[string][]bool, lists map[string][][]float64) error {
	bad := func(name string, l int) error {
		return fmt.Errorf("people: merged column %q has length %d, want %d", name, l, n)
	}
	for name, c := range floats {
		if len(c) != n {
			return bad(name, len(c))
		}
	}
	for name, c := range ints {
		if len(c) != n {
			return bad(name, len(c))
		}
	}
	for name, c := range bools {
		if len(c) != n {
			return bad(name, len(c))
		}
	}
	for name, c := range lists {
		if len(c) != n {
			return bad(name, len(c))
		}
	}
	return nil
}
