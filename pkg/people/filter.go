package people

import (
	"fmt"
	"slices"
)

// Filter returns a view restricted to the agents where criteria is true.
//
// criteria may be expressed in the current view's frame (length ActiveLen)
// or in the full population's frame (length Len). When both lengths are
// equal the current frame is used; the result is the same either way.
// Full-frame criteria are restricted to the current selection, so filtering
// never widens a view. The returned view shares this view's arena and its
// selection always indexes the arena directly.
func (p *People) Filter(criteria []bool) (*People, error) {
	active := p.ActiveLen()
	switch len(criteria) {
	case active:
		inds := make([]int, 0, countTrue(criteria))
		for pos, ok := range criteria {
			if ok {
				inds = append(inds, p.abs(pos))
			}
		}
		return p.with(inds), nil
	case p.a.n:
		inds := make([]int, 0, active)
		for _, j := range p.inds {
			if criteria[j] {
				inds = append(inds, j)
			}
		}
		return p.with(inds), nil
	default:
		return nil, fmt.Errorf("%w: got %d, selection is %d and population is %d",
			ErrAmbiguousFilterLength, len(criteria), active, p.a.n)
	}
}

// FilterInds returns a view over explicit absolute indices. A nil slice
// returns the unfiltered view. Indices outside [0, Len) or repeated indices
// fail with ErrInvalidIndices.
func (p *People) FilterInds(inds []int) (*People, error) {
	if inds == nil {
		return p.Unfilter(), nil
	}
	seen := make([]bool, p.a.n)
	for _, j := range inds {
		if j < 0 || j >= p.a.n {
			return nil, fmt.Errorf("%w: index %d outside [0, %d)", ErrInvalidIndices, j, p.a.n)
		}
		if seen[j] {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrInvalidIndices, j)
		}
		seen[j] = true
	}
	return p.with(slices.Clone(inds)), nil
}

// Unfilter returns the full-population view of the same arena.
func (p *People) Unfilter() *People {
	return &People{a: p.a}
}

// Select is Filter over a predicate evaluated on one float column, a
// convenience for the common "age > x" style of filter.
func (p *People) Select(name string, pred func(float64) bool) (*People, error) {
	vals, err := p.Floats(name)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(vals))
	for i, v := range vals {
		mask[i] = pred(v)
	}
	return p.Filter(mask)
}

func (p *People) with(inds []int) *People {
	if inds == nil {
		inds = []int{}
	}
	return &People{a: p.a, inds: inds}
}

func countTrue(mask []bool) int {
	n := 0
	for _, v := range mask {
		if v {
			n++
		}
	}
	return n
}
