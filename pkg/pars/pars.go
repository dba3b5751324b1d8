// Package pars provides the mutable parameter overlay shared by a simulation
// run and its collaborators.
//
// A [Pars] is a flat mapping from parameter name to an arbitrary value. It is
// created once per run from a base mapping plus optional overrides, read with
// [Pars.Get] and written with [Pars.Set] or [Pars.Update].
//
// Pars is not safe for concurrent use. A run has a single owner; callers that
// share a Pars across goroutines must serialise access themselves.
package pars

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrKeyNotFound is returned by [Pars.Get] when the requested key is absent.
var ErrKeyNotFound = errors.New("pars: key not found")

// ErrInvalidConfig is returned when a Pars is built or updated with neither an
// existing base nor a mapping to apply.
var ErrInvalidConfig = errors.New("pars: must supply a mapping or have existing pars")

// ErrWrongType is returned by the typed getters when the stored value cannot be
// converted to the requested type.
var ErrWrongType = errors.New("pars: value has wrong type")

// Pars is a key/value parameter overlay.
type Pars struct {
	m map[string]any
}

// New builds a Pars from base with each overrides mapping applied in order
// (later mappings win). The inputs are copied. Returns [ErrInvalidConfig] if
// base is nil and no non-nil override is supplied.
func New(base map[string]any, overrides ...map[string]any) (*Pars, error) {
	p := &Pars{}
	if base != nil {
		p.m = maps.Clone(base)
	}
	for _, o := range overrides {
		if o == nil {
			continue
		}
		if p.m == nil {
			p.m = make(map[string]any, len(o))
		}
		maps.Copy(p.m, o)
	}
	if p.m == nil {
		return nil, ErrInvalidConfig
	}
	return p, nil
}

// Get returns the value stored under key or [ErrKeyNotFound].
func (p *Pars) Get(key string) (any, error) {
	v, ok := p.m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return v, nil
}

// Has reports whether key is present.
func (p *Pars) Has(key string) bool {
	_, ok := p.m[key]
	return ok
}

// Set inserts or overwrites key. Other keys are untouched.
func (p *Pars) Set(key string, value any) {
	if p.m == nil {
		p.m = make(map[string]any)
	}
	p.m[key] = value
}

// Update merges m onto the existing parameters, last write wins per key.
// A nil m on a Pars that has never held parameters fails with
// [ErrInvalidConfig]; a nil m on a populated Pars is a no-op.
func (p *Pars) Update(m map[string]any) error {
	if p.m == nil {
		if m == nil {
			return ErrInvalidConfig
		}
		p.m = maps.Clone(m)
		return nil
	}
	maps.Copy(p.m, m)
	return nil
}

// Keys returns the parameter names in sorted order.
func (p *Pars) Keys() []string {
	return slices.Sorted(maps.Keys(p.m))
}

// Len returns the number of parameters.
func (p *Pars) Len() int { return len(p.m) }

// Map returns a shallow copy of the underlying mapping.
func (p *Pars) Map() map[string]any {
	return maps.Clone(p.m)
}

// Clone returns an independent shallow copy.
func (p *Pars) Clone() *Pars {
	return &Pars{m: maps.Clone(p.m)}
}

// Float returns key as a float64. Integer values are widened.
func (p *Pars) Float(key string) (float64, error) {
	v, err := p.Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: %q is %T, want number", ErrWrongType, key, v)
}

// Int returns key as an int. Float values are accepted only when integral.
func (p *Pars) Int(key string) (int, error) {
	v, err := p.Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("%w: %q is %T(%v), want integer", ErrWrongType, key, v, v)
}
