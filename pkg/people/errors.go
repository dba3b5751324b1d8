package people

import (
	"errors"

	"github.com/avictorious/fpsim/pkg/sampling"
)

var (
	// ErrShapeMismatch is returned when a written column does not match the
	// length of the view it is written through.
	ErrShapeMismatch = errors.New("people: shape mismatch")

	// ErrAmbiguousFilterLength is returned when filter criteria match neither
	// the current selection length nor the full population length.
	ErrAmbiguousFilterLength = errors.New("people: filter criteria length matches neither the current selection nor the population")

	// ErrUnknownAttribute is returned when reading a name that is neither a
	// schema column nor a stored internal field, or when a column is accessed
	// with the wrong kind.
	ErrUnknownAttribute = errors.New("people: unknown attribute")

	// ErrIncompatibleSchema is returned by Merge when the two populations
	// declare different columns.
	ErrIncompatibleSchema = errors.New("people: incompatible schema")

	// ErrInvalidArgumentType is returned when Binomial or Set receives a value
	// of an unsupported type or size.
	ErrInvalidArgumentType = errors.New("people: invalid argument type")

	// ErrInvalidIndices is returned when explicit indices fall outside the
	// population or repeat.
	ErrInvalidIndices = errors.New("people: invalid indices")

	// ErrInvalidSchema is returned by NewSchema for malformed declarations.
	ErrInvalidSchema = errors.New("people: invalid schema")

	// ErrNoSampler is returned by Binomial on a population built without a
	// sampling engine.
	ErrNoSampler = errors.New("people: no sampling engine configured")

	// ErrInvalidProbability aliases the sampling error so callers need not
	// import both packages.
	ErrInvalidProbability = sampling.ErrInvalidProbability
)
