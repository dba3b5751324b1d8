// Package people stores a population of agents as parallel columns and
// exposes filtered views over it.
//
// Every [People] value is a view: a pointer to a shared arena holding the
// full-length backing columns plus its own selection of absolute indices.
// Filtering never copies columns. Reads through a filtered view gather a copy
// of the selected positions; writes scatter back into the arena, so a change
// made through any view is visible through every other view of the same
// population.
//
// A population and all of its views have a single writer. Mutating two views
// of the same arena from different goroutines is not supported.
package people

import (
	"fmt"
	"slices"

	"github.com/avictorious/fpsim/pkg/sampling"
)

// DefaultMaxAgePreg is the age clip used by [People.IntAgeClip] unless
// [WithMaxAgePreg] overrides it.
const DefaultMaxAgePreg = 50

// arena holds the canonical columns shared by every view.
type arena struct {
	schema Schema
	n      int

	floats map[string][]float64
	ints   map[string][]int64
	bools  map[string][]bool
	lists  map[string][][]float64

	// fields holds non-schema bookkeeping values.
	fields map[string]any

	sampler    *sampling.Engine
	maxAgePreg int
}

// People is a view over a population arena. The zero value is not usable;
// construct with [New], [FromColumns] or [Restore].
type People struct {
	a *arena
	// inds is nil for an unfiltered view, otherwise the selected absolute
	// indices into the arena columns.
	inds []int
}

// Option configures a population at construction.
type Option func(*arena)

// WithSampler attaches the engine used by [People.Binomial].
func WithSampler(e *sampling.Engine) Option {
	return func(a *arena) { a.sampler = e }
}

// WithMaxAgePreg sets the clip applied by [People.IntAgeClip].
func WithMaxAgePreg(age int) Option {
	return func(a *arena) {
		if age > 0 {
			a.maxAgePreg = age
		}
	}
}

func newArena(schema Schema, n int, opts []Option) *arena {
	a := &arena{
		schema:     schema,
		n:          n,
		floats:     make(map[string][]float64),
		ints:       make(map[string][]int64),
		bools:      make(map[string][]bool),
		lists:      make(map[string][][]float64),
		fields:     make(map[string]any),
		maxAgePreg: DefaultMaxAgePreg,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// New allocates n agents with zero-valued columns and uids 0..n-1.
func New(schema Schema, n int, opts ...Option) (*People, error) {
	if schema.Len() == 0 {
		return nil, fmt.Errorf("%w: schema has no columns", ErrInvalidSchema)
	}
	if n < 0 {
		return nil, fmt.Errorf("people: negative population size %d", n)
	}
	a := newArena(schema, n, opts)
	for _, f := range schema.fields {
		switch f.Kind {
		case KindFloat:
			a.floats[f.Name] = make([]float64, n)
		case KindInt:
			a.ints[f.Name] = make([]int64, n)
		case KindBool:
			a.bools[f.Name] = make([]bool, n)
		case KindList:
			a.lists[f.Name] = make([][]float64, n)
		}
	}
	uids := a.ints[UIDKey]
	for i := range uids {
		uids[i] = int64(i)
	}
	return &People{a: a}, nil
}

// FromColumns builds a population from externally initialised columns. Every
// schema column must be supplied with a slice of the matching Go type
// ([]float64, []int64, []bool or [][]float64) and all slices must share one
// length. The uid column may be omitted, in which case uids 0..n-1 are
// assigned. Slices are stored without copying.
func FromColumns(schema Schema, cols map[string]any, opts ...Option) (*People, error) {
	if schema.Len() == 0 {
		return nil, fmt.Errorf("%w: schema has no columns", ErrInvalidSchema)
	}
	for name := range cols {
		if !schema.Has(name) {
			return nil, fmt.Errorf("%w: column %q not in schema", ErrUnknownAttribute, name)
		}
	}

	n := -1
	checkLen := func(name string, l int) error {
		if n == -1 {
			n = l
			return nil
		}
		if l != n {
			return fmt.Errorf("%w: column %q has length %d, want %d", ErrShapeMismatch, name, l, n)
		}
		return nil
	}

	a := newArena(schema, 0, opts)
	for _, f := range schema.fields {
		v, ok := cols[f.Name]
		if !ok {
			if f.Name == UIDKey {
				continue
			}
			return nil, fmt.Errorf("%w: missing column %q", ErrShapeMismatch, f.Name)
		}
		var l int
		switch col := v.(type) {
		case []float64:
			if f.Kind != KindFloat {
				return nil, kindError(f, v)
			}
			a.floats[f.Name], l = col, len(col)
		case []int64:
			if f.Kind != KindInt {
				return nil, kindError(f, v)
			}
			a.ints[f.Name], l = col, len(col)
		case []bool:
			if f.Kind != KindBool {
				return nil, kindError(f, v)
			}
			a.bools[f.Name], l = col, len(col)
		case [][]float64:
			if f.Kind != KindList {
				return nil, kindError(f, v)
			}
			a.lists[f.Name], l = col, len(col)
		default:
			return nil, kindError(f, v)
		}
		if err := checkLen(f.Name, l); err != nil {
			return nil, err
		}
	}
	if n == -1 {
		n = 0
	}
	a.n = n
	if _, ok := cols[UIDKey]; !ok {
		uids := make([]int64, n)
		for i := range uids {
			uids[i] = int64(i)
		}
		a.ints[UIDKey] = uids
	}
	return &People{a: a}, nil
}

func kindError(f Field, v any) error {
	return fmt.Errorf("%w: column %q is %s, got %T", ErrInvalidArgumentType, f.Name, f.Kind, v)
}

// Schema returns the population's column declarations.
func (p *People) Schema() Schema { return p.a.schema }

// Sampler returns the engine attached with [WithSampler], or nil.
func (p *People) Sampler() *sampling.Engine { return p.a.sampler }

// Len returns the full population size, independent of filtering.
func (p *People) Len() int { return p.a.n }

// LenPeople is an alias of [People.Len].
func (p *People) LenPeople() int { return p.a.n }

// ActiveLen returns the number of agents visible through this view.
func (p *People) ActiveLen() int {
	if p.inds == nil {
		return p.a.n
	}
	return len(p.inds)
}

// IsFiltered reports whether the view carries a selection.
func (p *People) IsFiltered() bool { return p.inds != nil }

// Inds returns a copy of the selected absolute indices, or nil when the view
// is unfiltered.
func (p *People) Inds() []int { return slices.Clone(p.inds) }

// Shares reports whether both views are backed by the same arena.
func (p *People) Shares(o *People) bool { return o != nil && p.a == o.a }

// abs maps a position in the current selection to an arena index.
func (p *People) abs(pos int) int {
	if p.inds == nil {
		return pos
	}
	return p.inds[pos]
}

// Get returns a column through this view, or an internal field when name is
// not a schema column.
func (p *People) Get(name string) (any, error) {
	k, ok := p.a.schema.Kind(name)
	if !ok {
		return p.Field(name)
	}
	switch k {
	case KindFloat:
		return p.Floats(name)
	case KindInt:
		return p.Ints(name)
	case KindBool:
		return p.Bools(name)
	default:
		return p.Lists(name)
	}
}

// Set writes a column through this view, or stores an internal field when
// name is not a schema column. Column values must be a slice of the column's
// Go type.
func (p *People) Set(name string, value any) error {
	k, ok := p.a.schema.Kind(name)
	if !ok {
		p.SetField(name, value)
		return nil
	}
	switch v := value.(type) {
	case []float64:
		if k == KindFloat {
			return p.SetFloats(name, v)
		}
	case []int64:
		if k == KindInt {
			return p.SetInts(name, v)
		}
	case []bool:
		if k == KindBool {
			return p.SetBools(name, v)
		}
	case [][]float64:
		if k == KindList {
			return p.SetLists(name, v)
		}
	}
	return fmt.Errorf("%w: column %q is %s, got %T", ErrInvalidArgumentType, name, k, value)
}

// Field returns an internal bookkeeping value.
func (p *People) Field(name string) (any, error) {
	v, ok := p.a.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	return v, nil
}

// SetField stores an internal bookkeeping value. Fields are shared by every
// view of the population and are never filtered.
func (p *People) SetField(name string, value any) {
	p.a.fields[name] = value
}

func (p *People) lookup(name string, want Kind) error {
	k, ok := p.a.schema.Kind(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	if k != want {
		return fmt.Errorf("%w: %q is a %s column, not %s", ErrUnknownAttribute, name, k, want)
	}
	return nil
}

// Floats reads a float column. The unfiltered view returns the backing slice
// itself; a filtered view returns a gathered copy.
func (p *People) Floats(name string) ([]float64, error) {
	if err := p.lookup(name, KindFloat); err != nil {
		return nil, err
	}
	return read(p.a.floats[name], p.inds), nil
}

// Ints reads an integer column.
func (p *People) Ints(name string) ([]int64, error) {
	if err := p.lookup(name, KindInt); err != nil {
		return nil, err
	}
	return read(p.a.ints[name], p.inds), nil
}

// Bools reads a boolean column.
func (p *People) Bools(name string) ([]bool, error) {
	if err := p.lookup(name, KindBool); err != nil {
		return nil, err
	}
	return read(p.a.bools[name], p.inds), nil
}

// Lists reads a list column. A filtered view copies the inner lists too.
func (p *People) Lists(name string) ([][]float64, error) {
	if err := p.lookup(name, KindList); err != nil {
		return nil, err
	}
	col := p.a.lists[name]
	if p.inds == nil {
		return col, nil
	}
	out := make([][]float64, len(p.inds))
	for i, j := range p.inds {
		out[i] = slices.Clone(col[j])
	}
	return out, nil
}

// SetFloats writes a float column. Unfiltered, v replaces the backing column
// and must have length Len. Filtered, v is scattered to the selected
// positions and must have length ActiveLen.
func (p *People) SetFloats(name string, v []float64) error {
	if err := p.lookup(name, KindFloat); err != nil {
		return err
	}
	return write(p, p.a.floats, name, v)
}

// SetInts writes an integer column.
func (p *People) SetInts(name string, v []int64) error {
	if err := p.lookup(name, KindInt); err != nil {
		return err
	}
	return write(p, p.a.ints, name, v)
}

// SetBools writes a boolean column.
func (p *People) SetBools(name string, v []bool) error {
	if err := p.lookup(name, KindBool); err != nil {
		return err
	}
	return write(p, p.a.bools, name, v)
}

// SetLists writes a list column.
func (p *People) SetLists(name string, v [][]float64) error {
	if err := p.lookup(name, KindList); err != nil {
		return err
	}
	return write(p, p.a.lists, name, v)
}

// FillFloat sets every selected agent's value of a float column to v.
func (p *People) FillFloat(name string, v float64) error {
	if err := p.lookup(name, KindFloat); err != nil {
		return err
	}
	fill(p, p.a.floats[name], v)
	return nil
}

// FillInt sets every selected agent's value of an integer column to v.
func (p *People) FillInt(name string, v int64) error {
	if err := p.lookup(name, KindInt); err != nil {
		return err
	}
	fill(p, p.a.ints[name], v)
	return nil
}

// FillBool sets every selected agent's value of a boolean column to v.
func (p *People) FillBool(name string, v bool) error {
	if err := p.lookup(name, KindBool); err != nil {
		return err
	}
	fill(p, p.a.bools[name], v)
	return nil
}

// AppendList appends v to the list of every selected agent.
func (p *People) AppendList(name string, v float64) error {
	if err := p.lookup(name, KindList); err != nil {
		return err
	}
	col := p.a.lists[name]
	for pos := range p.ActiveLen() {
		j := p.abs(pos)
		col[j] = append(col[j], v)
	}
	return nil
}

func read[T any](col []T, inds []int) []T {
	if inds == nil {
		return col
	}
	out := make([]T, len(inds))
	for i, j := range inds {
		out[i] = col[j]
	}
	return out
}

func write[T any](p *People, cols map[string][]T, name string, v []T) error {
	if p.inds == nil {
		if len(v) != p.a.n {
			return fmt.Errorf("%w: %q has length %d, population is %d", ErrShapeMismatch, name, len(v), p.a.n)
		}
		cols[name] = v
		return nil
	}
	if len(v) != len(p.inds) {
		return fmt.Errorf("%w: %q has length %d, selection is %d", ErrShapeMismatch, name, len(v), len(p.inds))
	}
	col := cols[name]
	for i, j := range p.inds {
		col[j] = v[i]
	}
	return nil
}

func fill[T any](p *People, col []T, v T) {
	if p.inds == nil {
		for i := range col {
			col[i] = v
		}
		return
	}
	for _, j := range p.inds {
		col[j] = v
	}
}
