// Package clock maps calendar years to discrete simulation steps.
//
// A [Clock] holds no timing state of its own. Every call reads start_year,
// end_year and timestep (in months) from the run's parameters, so updates to
// the parameters are picked up immediately. StepCount and TimeVector return
// zero values while the parameters are incomplete; conversions return
// [ErrIncomplete].
package clock

import (
	"errors"
	"fmt"
	"math"

	"github.com/avictorious/fpsim/pkg/pars"
)

// Parameter keys read by the clock.
const (
	StartYearKey = "start_year"
	EndYearKey   = "end_year"
	TimestepKey  = "timestep"
)

// MonthsPerYear is the number of months in a calendar year.
const MonthsPerYear = 12

// ErrIncomplete is returned by conversions when the time parameters are
// missing or invalid.
var ErrIncomplete = errors.New("clock: time parameters incomplete")

// Clock converts between years and steps using a run's parameters.
type Clock struct {
	pars *pars.Pars
}

// New returns a Clock backed by p. A nil p yields a clock that is always
// incomplete.
func New(p *pars.Pars) *Clock {
	return &Clock{pars: p}
}

type span struct {
	start, end, timestep float64
}

// dt is the step length in years.
func (s span) dt() float64 { return s.timestep / MonthsPerYear }

func (c *Clock) span() (span, error) {
	if c == nil || c.pars == nil {
		return span{}, ErrIncomplete
	}
	start, err := c.pars.Float(StartYearKey)
	if err != nil {
		return span{}, fmt.Errorf("%w: %w", ErrIncomplete, err)
	}
	end, err := c.pars.Float(EndYearKey)
	if err != nil {
		return span{}, fmt.Errorf("%w: %w", ErrIncomplete, err)
	}
	ts, err := c.pars.Float(TimestepKey)
	if err != nil {
		return span{}, fmt.Errorf("%w: %w", ErrIncomplete, err)
	}
	if ts <= 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return span{}, fmt.Errorf("%w: timestep %v", ErrIncomplete, ts)
	}
	if end < start {
		return span{}, fmt.Errorf("%w: end_year %v before start_year %v", ErrIncomplete, end, start)
	}
	return span{start: start, end: end, timestep: ts}, nil
}

// Complete reports whether the time parameters are usable.
func (c *Clock) Complete() bool {
	_, err := c.span()
	return err == nil
}

// YearToStep returns floor((year - start_year) * 12 / timestep). The result
// is not bounds-checked and may be negative or past the last step.
func (c *Clock) YearToStep(year float64) (int, error) {
	s, err := c.span()
	if err != nil {
		return 0, err
	}
	return int(math.Floor((year - s.start) * MonthsPerYear / s.timestep)), nil
}

// StepToYear returns the calendar year at the start of step. It is the
// inverse of YearToStep up to the flooring YearToStep applies.
func (c *Clock) StepToYear(step int) (float64, error) {
	s, err := c.span()
	if err != nil {
		return 0, err
	}
	return s.start + float64(step)*s.dt(), nil
}

// StepToElapsed returns the years elapsed since start_year at step.
func (c *Clock) StepToElapsed(step int) (float64, error) {
	s, err := c.span()
	if err != nil {
		return 0, err
	}
	return float64(step) * s.dt(), nil
}

// StepCount returns the number of steps spanning [start_year, end_year], or 0
// while the parameters are incomplete.
func (c *Clock) StepCount() int {
	s, err := c.span()
	if err != nil {
		return 0
	}
	return int(math.Floor(MonthsPerYear*(s.end-s.start)/s.timestep)) + 1
}

// TimeVector returns the calendar year of every step, or nil while the
// parameters are incomplete.
func (c *Clock) TimeVector() []float64 {
	s, err := c.span()
	if err != nil {
		return nil
	}
	n := int(math.Floor(MonthsPerYear*(s.end-s.start)/s.timestep)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = s.start + float64(i)*s.dt()
	}
	return out
}

// Dt returns the step length in years, or 0 while the parameters are
// incomplete.
func (c *Clock) Dt() float64 {
	s, err := c.span()
	if err != nil {
		return 0
	}
	return s.dt()
}
