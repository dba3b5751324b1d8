package sim

import (
	"context"

	"github.com/avictorious/fpsim/pkg/people"
)

// Hook runs once per step, in registration order. Hooks mutate the
// population through [Sim.People] and run on the simulation goroutine only.
type Hook interface {
	Name() string
	Apply(ctx context.Context, s *Sim) error
}

// HookFunc adapts a function to [Hook].
type HookFunc func(ctx context.Context, s *Sim) error

// Named wraps fn as a [Hook] called name.
func Named(name string, fn HookFunc) Hook {
	return namedHook{name: name, fn: fn}
}

type namedHook struct {
	name string
	fn   HookFunc
}

func (h namedHook) Name() string { return h.name }

func (h namedHook) Apply(ctx context.Context, s *Sim) error { return h.fn(ctx, s) }

// Aging advances the age of every living agent by one timestep.
func Aging() Hook {
	return Named("aging", func(_ context.Context, s *Sim) error {
		root := s.People()
		alive, err := root.Bools(people.AliveKey)
		if err != nil {
			return err
		}
		living, err := root.Filter(alive)
		if err != nil {
			return err
		}
		ages, err := living.Floats(people.AgeKey)
		if err != nil {
			return err
		}
		dt := s.Clock().Dt()
		for i := range ages {
			ages[i] += dt
		}
		return living.SetFloats(people.AgeKey, ages)
	})
}
