package people

import (
	"fmt"
	"math"
)

// Sex codes stored in the sex column.
const (
	SexFemale int64 = 0
	SexMale   int64 = 1
)

// IsFemale returns a mask over the current selection that is true where the
// sex column equals SexFemale.
func (p *People) IsFemale() ([]bool, error) { return p.sexIs(SexFemale) }

// IsMale returns a mask over the current selection that is true where the sex
// column equals SexMale.
func (p *People) IsMale() ([]bool, error) { return p.sexIs(SexMale) }

func (p *People) sexIs(code int64) ([]bool, error) {
	sex, err := p.Ints(SexKey)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(sex))
	for i, s := range sex {
		out[i] = s == code
	}
	return out, nil
}

// IntAge returns ages truncated toward zero.
func (p *People) IntAge() ([]int64, error) {
	age, err := p.Floats(AgeKey)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(age))
	for i, a := range age {
		out[i] = int64(a)
	}
	return out, nil
}

// CeilAge returns ages rounded up.
func (p *People) CeilAge() ([]float64, error) {
	age, err := p.Floats(AgeKey)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(age))
	for i, a := range age {
		out[i] = math.Ceil(a)
	}
	return out, nil
}

// IntAgeClip returns truncated ages capped at the population's maximum
// pregnancy age, so they can index per-age rate tables.
func (p *People) IntAgeClip() ([]int64, error) {
	ages, err := p.IntAge()
	if err != nil {
		return nil, err
	}
	limit := int64(p.a.maxAgePreg)
	for i, a := range ages {
		ages[i] = min(a, limit)
	}
	return ages, nil
}

// MaxAgePreg returns the clip used by IntAgeClip.
func (p *People) MaxAgePreg() int { return p.a.maxAgePreg }

// NumAlive counts the selected agents whose alive flag is set.
func (p *People) NumAlive() (int, error) {
	alive, err := p.Bools(AliveKey)
	if err != nil {
		return 0, err
	}
	return countTrue(alive), nil
}

// Row returns every column value of the agent at position pos of the current
// selection.
func (p *People) Row(pos int) (map[string]any, error) {
	if pos < 0 || pos >= p.ActiveLen() {
		return nil, fmt.Errorf("%w: position %d outside selection of %d", ErrInvalidIndices, pos, p.ActiveLen())
	}
	j := p.abs(pos)
	row := make(map[string]any, p.a.schema.Len())
	for _, f := range p.a.schema.fields {
		switch f.Kind {
		case KindFloat:
			row[f.Name] = p.a.floats[f.Name][j]
		case KindInt:
			row[f.Name] = p.a.ints[f.Name][j]
		case KindBool:
			row[f.Name] = p.a.bools[f.Name][j]
		case KindList:
			row[f.Name] = append([]float64(nil), p.a.lists[f.Name][j]...)
		}
	}
	return row, nil
}

// Summary describes one column over the current selection. For list columns
// the statistics are over list lengths; for bool columns Mean is the share of
// true values.
type Summary struct {
	Name  string
	Kind  Kind
	Count int
	Mean  float64
	Min   float64
	Max   float64
}

// Describe summarises every column over the current selection, in schema
// order. Min, Max and Mean are zero for an empty selection.
func (p *People) Describe() []Summary {
	out := make([]Summary, 0, p.a.schema.Len())
	for _, f := range p.a.schema.fields {
		var vals []float64
		switch f.Kind {
		case KindFloat:
			vals = read(p.a.floats[f.Name], p.inds)
		case KindInt:
			vals = toFloat(read(p.a.ints[f.Name], p.inds), func(v int64) float64 { return float64(v) })
		case KindBool:
			vals = toFloat(read(p.a.bools[f.Name], p.inds), func(v bool) float64 {
				if v {
					return 1
				}
				return 0
			})
		case KindList:
			vals = toFloat(read(p.a.lists[f.Name], p.inds), func(v []float64) float64 { return float64(len(v)) })
		}
		out = append(out, summarise(f, vals))
	}
	return out
}

func toFloat[T any](in []T, conv func(T) float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = conv(v)
	}
	return out
}

func summarise(f Field, vals []float64) Summary {
	s := Summary{Name: f.Name, Kind: f.Kind, Count: len(vals)}
	if len(vals) == 0 {
		return s
	}
	s.Min, s.Max = vals[0], vals[0]
	sum := 0.0
	for _, v := range vals {
		sum += v
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}
	s.Mean = sum / float64(len(vals))
	return s
}
