package people

import (
	"fmt"
	"maps"
	"slices"
)

// Snapshot is a detached, serialisable copy of a view: the whole arena plus
// the view's selection. Restoring it yields an equivalent view with the same
// columns, selection, uids and internal fields.
type Snapshot struct {
	Schema     []Field                `json:"schema"`
	N          int                    `json:"n"`
	Filtered   bool                   `json:"filtered"`
	Inds       []int                  `json:"inds,omitempty"`
	Floats     map[string][]float64   `json:"floats,omitempty"`
	Ints       map[string][]int64     `json:"ints,omitempty"`
	Bools      map[string][]bool      `json:"bools,omitempty"`
	Lists      map[string][][]float64 `json:"lists,omitempty"`
	Fields     map[string]any         `json:"fields,omitempty"`
	MaxAgePreg int                    `json:"max_age_preg"`
}

// Snapshot copies the arena and this view's selection.
func (p *People) Snapshot() *Snapshot {
	a := p.a
	s := &Snapshot{
		Schema:     a.schema.Fields(),
		N:          a.n,
		Filtered:   p.inds != nil,
		Inds:       slices.Clone(p.inds),
		Floats:     make(map[string][]float64, len(a.floats)),
		Ints:       make(map[string][]int64, len(a.ints)),
		Bools:      make(map[string][]bool, len(a.bools)),
		Lists:      make(map[string][][]float64, len(a.lists)),
		Fields:     maps.Clone(a.fields),
		MaxAgePreg: a.maxAgePreg,
	}
	for name, c := range a.floats {
		s.Floats[name] = slices.Clone(c)
	}
	for name, c := range a.ints {
		s.Ints[name] = slices.Clone(c)
	}
	for name, c := range a.bools {
		s.Bools[name] = slices.Clone(c)
	}
	for name, c := range a.lists {
		cp := make([][]float64, len(c))
		for i, l := range c {
			cp[i] = slices.Clone(l)
		}
		s.Lists[name] = cp
	}
	return s
}

// Restore rebuilds a view from a snapshot. The snapshot's max_age_preg is
// applied before opts, so an explicit WithMaxAgePreg wins.
func Restore(s *Snapshot, opts ...Option) (*People, error) {
	if s == nil {
		return nil, fmt.Errorf("people: restore: nil snapshot")
	}
	schema, err := NewSchema(s.Schema...)
	if err != nil {
		return nil, fmt.Errorf("people: restore: %w", err)
	}

	cols := make(map[string]any, schema.Len())
	for _, f := range schema.fields {
		var (
			v  any
			ok bool
		)
		switch f.Kind {
		case KindFloat:
			v, ok = cloneCol(s.Floats, f.Name)
		case KindInt:
			v, ok = cloneCol(s.Ints, f.Name)
		case KindBool:
			v, ok = cloneCol(s.Bools, f.Name)
		case KindList:
			c, found := s.Lists[f.Name]
			if found {
				cp := make([][]float64, len(c))
				for i, l := range c {
					cp[i] = slices.Clone(l)
				}
				v = cp
			}
			ok = found
		}
		if !ok {
			if s.N == 0 {
				v = emptyCol(f.Kind)
			} else {
				return nil, fmt.Errorf("people: restore: %w: missing column %q", ErrShapeMismatch, f.Name)
			}
		}
		cols[f.Name] = v
	}

	all := append([]Option{WithMaxAgePreg(s.MaxAgePreg)}, opts...)
	p, err := FromColumns(schema, cols, all...)
	if err != nil {
		return nil, fmt.Errorf("people: restore: %w", err)
	}
	if p.Len() != s.N {
		return nil, fmt.Errorf("people: restore: %w: columns have length %d, snapshot says %d", ErrShapeMismatch, p.Len(), s.N)
	}
	for k, v := range s.Fields {
		p.SetField(k, v)
	}
	if !s.Filtered {
		return p, nil
	}
	inds := s.Inds
	if inds == nil {
		inds = []int{}
	}
	view, err := p.FilterInds(inds)
	if err != nil {
		return nil, fmt.Errorf("people: restore: %w", err)
	}
	return view, nil
}

func cloneCol[T any](m map[string][]T, name string) (any, bool) {
	c, ok := m[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(c), true
}

func emptyCol(k Kind) any {
	switch k {
	case KindFloat:
		return []float64{}
	case KindInt:
		return []int64{}
	case KindBool:
		return []bool{}
	default:
		return [][]float64{}
	}
}
