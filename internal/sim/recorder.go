package sim

import (
	"context"
	"fmt"
	"slices"

	"github.com/avictorious/fpsim/pkg/people"
)

// trackedColumns are copied for every traced agent on every step, when
// present in the schema.
var trackedColumns = []string{
	people.SexKey,
	people.AgeKey,
	people.AliveKey,
	SexuallyActiveKey,
	PregnantKey,
	MethodKey,
	ParityKey,
	LactatingKey,
	PostpartumKey,
	PersonalFecundityKey,
}

// eventColumns hold per-agent event dates.
var eventColumns = []string{DobsKey, StillDatesKey, MiscarriageDatesKey, AbortionDatesKey}

// Record is the state of one agent after one step.
type Record struct {
	Step   int            `json:"step"`
	Year   float64        `json:"year"`
	Values map[string]any `json:"values"`
}

// Recorder keeps the per-step state of the first K agents of the root
// population. It is a [Hook] and should be registered last so it sees the
// state after all other hooks.
type Recorder struct {
	k       int
	columns []string
	events  []string

	// frames[i][agent] holds the values of agent after the i-th recorded step.
	steps  []int
	years  []float64
	frames [][]map[string]any
	last   []map[string][]float64
}

var _ Hook = (*Recorder)(nil)

// NewRecorder traces the first k agents.
func NewRecorder(k int) *Recorder {
	return &Recorder{k: max(k, 0)}
}

// Name implements [Hook].
func (r *Recorder) Name() string { return "recorder" }

// Apply copies the traced agents' columns.
func (r *Recorder) Apply(_ context.Context, s *Sim) error {
	root := s.People()
	if r.columns == nil {
		schema := root.Schema()
		for _, c := range trackedColumns {
			if schema.Has(c) {
				r.columns = append(r.columns, c)
			}
		}
		for _, c := range eventColumns {
			if k, ok := schema.Kind(c); ok && k == people.KindList {
				r.events = append(r.events, c)
			}
		}
	}

	k := min(r.k, root.Len())
	inds := make([]int, k)
	for i := range inds {
		inds[i] = i
	}
	traced, err := root.FilterInds(inds)
	if err != nil {
		return fmt.Errorf("sim: recorder: %w", err)
	}

	frame := make([]map[string]any, k)
	for i := range frame {
		frame[i] = make(map[string]any, len(r.columns))
	}
	for _, c := range r.columns {
		col, err := traced.Get(c)
		if err != nil {
			return fmt.Errorf("sim: recorder: %w", err)
		}
		for i := range k {
			frame[i][c] = valueAt(col, i)
		}
	}

	last := make([]map[string][]float64, k)
	for i := range last {
		last[i] = make(map[string][]float64, len(r.events))
	}
	for _, c := range r.events {
		lists, err := traced.Lists(c)
		if err != nil {
			return fmt.Errorf("sim: recorder: %w", err)
		}
		for i := range k {
			last[i][c] = slices.Clone(lists[i])
		}
	}

	r.steps = append(r.steps, s.Step())
	r.years = append(r.years, s.Year())
	r.frames = append(r.frames, frame)
	r.last = last
	return nil
}

func valueAt(col any, i int) any {
	switch c := col.(type) {
	case []float64:
		return c[i]
	case []int64:
		return c[i]
	case []bool:
		return c[i]
	case [][]float64:
		return slices.Clone(c[i])
	}
	return nil
}

// Agents returns the number of traced agents.
func (r *Recorder) Agents() int {
	if len(r.frames) == 0 {
		return r.k
	}
	return len(r.frames[0])
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int { return len(r.frames) }

// History returns the life course of agent, one record per step.
func (r *Recorder) History(agent int) ([]Record, error) {
	if agent < 0 || agent >= r.Agents() {
		return nil, fmt.Errorf("sim: recorder: agent %d not traced (0..%d)", agent, r.Agents()-1)
	}
	out := make([]Record, len(r.frames))
	for i, frame := range r.frames {
		out[i] = Record{Step: r.steps[i], Year: r.years[i], Values: frame[agent]}
	}
	return out, nil
}

// Events returns agent's event dates as of the last recorded step.
func (r *Recorder) Events(agent int) (map[string][]float64, error) {
	if agent < 0 || agent >= r.Agents() {
		return nil, fmt.Errorf("sim: recorder: agent %d not traced (0..%d)", agent, r.Agents()-1)
	}
	if r.last == nil {
		return map[string][]float64{}, nil
	}
	return r.last[agent], nil
}

// Histories returns every traced agent's life course keyed by agent
// position.
func (r *Recorder) Histories() map[int][]Record {
	out := make(map[int][]Record, r.Agents())
	for a := range r.Agents() {
		out[a], _ = r.History(a)
	}
	return out
}
