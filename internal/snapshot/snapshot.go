// Package snapshot persists the state of a simulation run so it can be
// inspected or resumed.
//
// An [Envelope] bundles the population snapshot with the run metadata needed
// to continue: run id, step, seed, sampler state and parameters. Envelopes are
// encoded as JSON with json-iterator and stored by a [Store] backend. Backends
// live in sub-packages (memory, file, sqlite, postgres, s3).
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/avictorious/fpsim/pkg/people"
)

var (
	// ErrNotFound is returned when no snapshot matches the request.
	ErrNotFound = errors.New("snapshot: not found")

	// ErrInvalidEnvelope is returned for envelopes that fail validation or
	// bytes that are not valid JSON.
	ErrInvalidEnvelope = errors.New("snapshot: invalid envelope")
)

// json matches encoding/json semantics, so TextMarshaler implementations
// such as people.Kind are honoured.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Envelope is one persisted simulation state.
type Envelope struct {
	RunID string `json:"run_id"`

	// Step is the number of completed steps.
	Step int `json:"step"`

	Seed uint64 `json:"seed"`

	// SamplerState is the sampler's binary state after Step steps.
	SamplerState []byte `json:"sampler_state,omitempty"`

	Pars      map[string]any   `json:"pars"`
	People    *people.Snapshot `json:"people"`
	CreatedAt time.Time        `json:"created_at"`
}

// Validate reports whether the envelope can be stored.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	if err := ValidateRunID(e.RunID); err != nil {
		return err
	}
	if e.Step < 0 {
		return fmt.Errorf("%w: negative step %d", ErrInvalidEnvelope, e.Step)
	}
	if e.People == nil {
		return fmt.Errorf("%w: missing people", ErrInvalidEnvelope)
	}
	return nil
}

// ValidateRunID checks that id is usable as a path segment and object key.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("%w: run id %q", ErrInvalidEnvelope, id)
	}
	return nil
}

// Meta describes a stored snapshot without decoding it.
type Meta struct {
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists envelopes. Implementations must be safe for concurrent use.
type Store interface {
	// Save stores e, replacing any snapshot with the same run id and step.
	Save(ctx context.Context, e *Envelope) (Meta, error)

	// Load returns the snapshot for runID at step, or [ErrNotFound].
	Load(ctx context.Context, runID string, step int) (*Envelope, error)

	// Latest returns the snapshot with the highest step for runID. An empty
	// runID selects the most recently created snapshot of any run.
	Latest(ctx context.Context, runID string) (*Envelope, error)

	// List returns metadata ordered by run id, then step. An empty runID
	// lists every run.
	List(ctx context.Context, runID string) ([]Meta, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Encode validates and serialises e.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return data, nil
}

// Decode parses data produced by [Encode].
func Decode(data []byte) (*Envelope, error) {
	if !jsoniter.ConfigFastest.Valid(data) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidEnvelope)
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// SortMetas orders metas by run id, then step.
func SortMetas(metas []Meta) {
	slices.SortFunc(metas, func(a, b Meta) int {
		if a.RunID != b.RunID {
			if a.RunID < b.RunID {
				return -1
			}
			return 1
		}
		return a.Step - b.Step
	})
}

// Newest picks the snapshot [Store.Latest] should return from metas. With a
// runID it is the highest step of that run; without one it is the most
// recently created snapshot, ties broken by step.
func Newest(metas []Meta, runID string) (Meta, bool) {
	var (
		best  Meta
		found bool
	)
	for _, m := range metas {
		if runID != "" && m.RunID != runID {
			continue
		}
		switch {
		case !found:
		case runID != "" && m.Step <= best.Step:
			continue
		case runID == "" && m.CreatedAt.Before(best.CreatedAt):
			continue
		case runID == "" && m.CreatedAt.Equal(best.CreatedAt) && m.Step <= best.Step:
			continue
		}
		best, found = m, true
	}
	return best, found
}

// ObjectKey is the path used by key/value backends for a snapshot.
func ObjectKey(runID string, step int) string {
	return fmt.Sprintf("%s/%010d.json", runID, step)
}

// ParseObjectKey reverses [ObjectKey].
func ParseObjectKey(key string) (runID string, step int, ok bool) {
	runID, name, found := strings.Cut(key, "/")
	if !found || ValidateRunID(runID) != nil {
		return "", 0, false
	}
	digits, found := strings.CutSuffix(name, ".json")
	if !found {
		return "", 0, false
	}
	step, err := strconv.Atoi(digits)
	if err != nil || ObjectKey(runID, step) != key {
		return "", 0, false
	}
	return runID, step, true
}
