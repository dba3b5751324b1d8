package people

import "fmt"

// Mode selects the shape of a [People.Binomial] result.
type Mode int

const (
	// AsMask returns one outcome per selected agent.
	AsMask Mode = iota
	// AsIndices returns the positions, within the current selection, of the
	// agents whose outcome was true.
	AsIndices
	// AsFilter returns a view containing only the agents whose outcome was
	// true.
	AsFilter
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case AsMask:
		return "mask"
	case AsIndices:
		return "indices"
	case AsFilter:
		return "filter"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Outcome is the result of a Binomial draw. Exactly one field is set,
// according to the requested [Mode].
type Outcome struct {
	Mask    []bool
	Indices []int
	View    *People
}

// Binomial draws one independent outcome per selected agent.
//
// prob is either a scalar (float64, float32 or int) broadcast to every
// selected agent, or a []float64 of length ActiveLen giving per-agent
// probabilities. Anything else fails with ErrInvalidArgumentType.
// Probabilities outside [0, 1] fail with ErrInvalidProbability before any
// random numbers are consumed.
func (p *People) Binomial(prob any, mode Mode) (Outcome, error) {
	if p.a.sampler == nil {
		return Outcome{}, ErrNoSampler
	}
	if mode < AsMask || mode > AsFilter {
		return Outcome{}, fmt.Errorf("%w: mode %s", ErrInvalidArgumentType, mode)
	}

	active := p.ActiveLen()
	var (
		mask []bool
		err  error
	)
	switch v := prob.(type) {
	case float64:
		mask, err = p.a.sampler.DrawScalar(v, active)
	case float32:
		mask, err = p.a.sampler.DrawScalar(float64(v), active)
	case int:
		mask, err = p.a.sampler.DrawScalar(float64(v), active)
	case []float64:
		if len(v) != active {
			return Outcome{}, fmt.Errorf("%w: %d probabilities for a selection of %d",
				ErrInvalidArgumentType, len(v), active)
		}
		mask, err = p.a.sampler.Draw(v)
	default:
		return Outcome{}, fmt.Errorf("%w: probability of type %T", ErrInvalidArgumentType, prob)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("people: binomial: %w", err)
	}

	switch mode {
	case AsIndices:
		idx := make([]int, 0, countTrue(mask))
		for pos, ok := range mask {
			if ok {
				idx = append(idx, pos)
			}
		}
		return Outcome{Indices: idx}, nil
	case AsFilter:
		view, err := p.Filter(mask)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{View: view}, nil
	default:
		return Outcome{Mask: mask}, nil
	}
}
