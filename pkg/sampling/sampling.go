// Package sampling draws independent Bernoulli outcomes for batches of agents.
//
// One [Engine] is created per simulation run from a single seed. Given the
// same seed and the same sequence of calls, an Engine reproduces its output
// exactly. Engines are not safe for concurrent use.
package sampling

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrInvalidProbability is returned when a probability is NaN or outside [0, 1].
var ErrInvalidProbability = errors.New("sampling: probability must be within [0, 1]")

// seedStream is the second PCG word. It is fixed so a run is fully described
// by its single seed.
const seedStream = 0x9e3779b97f4a7c15

// Engine is a seeded source of Bernoulli draws.
type Engine struct {
	seed uint64
	src  *rand.PCG
	rng  *rand.Rand
}

// New returns an Engine seeded with seed.
func New(seed uint64) *Engine {
	src := rand.NewPCG(seed, seedStream)
	return &Engine{
		seed: seed,
		src:  src,
		rng:  rand.New(src),
	}
}

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("sampling: read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Seed returns the seed the engine was created with.
func (e *Engine) Seed() uint64 { return e.seed }

// Draw returns one outcome per entry of probs, each true with the stated
// probability. All probabilities are validated before any draw is made.
func (e *Engine) Draw(probs []float64) ([]bool, error) {
	for i, p := range probs {
		if !valid(p) {
			return nil, fmt.Errorf("%w: probs[%d] = %v", ErrInvalidProbability, i, p)
		}
	}
	out := make([]bool, len(probs))
	for i, p := range probs {
		out[i] = e.rng.Float64() < p
	}
	return out, nil
}

// DrawScalar returns count independent outcomes, each true with probability p.
func (e *Engine) DrawScalar(p float64, count int) ([]bool, error) {
	if !valid(p) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProbability, p)
	}
	if count < 0 {
		return nil, fmt.Errorf("sampling: negative draw count %d", count)
	}
	out := make([]bool, count)
	for i := range out {
		out[i] = e.rng.Float64() < p
	}
	return out, nil
}

// Float64 returns a uniform value in [0, 1). It shares the engine's stream, so
// interleaving it with Draw calls is reproducible.
func (e *Engine) Float64() float64 { return e.rng.Float64() }

// MarshalBinary captures the generator position so a resumed run continues
// the same stream.
func (e *Engine) MarshalBinary() ([]byte, error) {
	state, err := e.src.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sampling: marshal state: %w", err)
	}
	out := make([]byte, 8, 8+len(state))
	binary.LittleEndian.PutUint64(out, e.seed)
	return append(out, state...), nil
}

// UnmarshalBinary restores a state produced by [Engine.MarshalBinary].
func (e *Engine) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("sampling: state too short (%d bytes)", len(data))
	}
	src := &rand.PCG{}
	if err := src.UnmarshalBinary(data[8:]); err != nil {
		return fmt.Errorf("sampling: unmarshal state: %w", err)
	}
	e.seed = binary.LittleEndian.Uint64(data[:8])
	e.src = src
	e.rng = rand.New(src)
	return nil
}

func valid(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}
