package people

import (
	"fmt"
	"slices"
	"strings"
)

// Well-known column names used by the derived views and by Merge.
const (
	UIDKey   = "uid"
	AgeKey   = "age"
	SexKey   = "sex"
	AliveKey = "alive"
)

// Kind is the storage type of a column.
type Kind uint8

const (
	// KindFloat columns hold one float64 per agent.
	KindFloat Kind = iota + 1
	// KindInt columns hold one int64 per agent.
	KindInt
	// KindBool columns hold one bool per agent.
	KindBool
	// KindList columns hold a variable-length []float64 per agent, e.g. the
	// dates of past events.
	KindList
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// IsValid reports whether k is a recognised kind.
func (k Kind) IsValid() bool {
	return k >= KindFloat && k <= KindList
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidSchema, k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "float":
		*k = KindFloat
	case "int":
		*k = KindInt
	case "bool":
		*k = KindBool
	case "list":
		*k = KindList
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidSchema, b)
	}
	return nil
}

// Field declares one column.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`
}

// Float declares a float column.
func Float(name string) Field { return Field{Name: name, Kind: KindFloat} }

// Int declares an integer column.
func Int(name string) Field { return Field{Name: name, Kind: KindInt} }

// Bool declares a boolean column.
func Bool(name string) Field { return Field{Name: name, Kind: KindBool} }

// List declares a per-agent list column.
func List(name string) Field { return Field{Name: name, Kind: KindList} }

// Schema is the immutable, ordered set of columns a population carries. The
// uid column is always present.
type Schema struct {
	fields []Field
	index  map[string]Kind
}

// NewSchema validates fields and returns a Schema. A uid column is prepended
// when not declared; if declared it must be an Int column.
func NewSchema(fields ...Field) (Schema, error) {
	s := Schema{index: make(map[string]Kind, len(fields)+1)}
	hasUID := slices.ContainsFunc(fields, func(f Field) bool { return f.Name == UIDKey })
	if !hasUID {
		s.fields = append(s.fields, Int(UIDKey))
		s.index[UIDKey] = KindInt
	}
	for _, f := range fields {
		if f.Name == "" {
			return Schema{}, fmt.Errorf("%w: empty column name", ErrInvalidSchema)
		}
		if !f.Kind.IsValid() {
			return Schema{}, fmt.Errorf("%w: column %q has invalid kind %d", ErrInvalidSchema, f.Name, f.Kind)
		}
		if _, dup := s.index[f.Name]; dup {
			return Schema{}, fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, f.Name)
		}
		if f.Name == UIDKey && f.Kind != KindInt {
			return Schema{}, fmt.Errorf("%w: %q must be an int column", ErrInvalidSchema, UIDKey)
		}
		s.fields = append(s.fields, f)
		s.index[f.Name] = f.Kind
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for package-level
// schema declarations.
func MustSchema(fields ...Field) Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns the declared columns in order.
func (s Schema) Fields() []Field { return slices.Clone(s.fields) }

// Keys returns the declared column names in order.
func (s Schema) Keys() []string {
	keys := make([]string, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.Name
	}
	return keys
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.fields) }

// Kind returns the kind of column name.
func (s Schema) Kind(name string) (Kind, bool) {
	k, ok := s.index[name]
	return k, ok
}

// Has reports whether name is a declared column.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Equal reports whether both schemas declare the same columns with the same
// kinds, regardless of order.
func (s Schema) Equal(o Schema) bool {
	if len(s.index) != len(o.index) {
		return false
	}
	for name, k := range s.index {
		if ok, found := o.index[name]; !found || ok != k {
			return false
		}
	}
	return true
}

// diff describes how o differs from s, for error messages.
func (s Schema) diff(o Schema) string {
	var missing, extra, kinds []string
	for _, f := range s.fields {
		k, ok := o.index[f.Name]
		switch {
		case !ok:
			missing = append(missing, f.Name)
		case k != f.Kind:
			kinds = append(kinds, fmt.Sprintf("%s(%s!=%s)", f.Name, f.Kind, k))
		}
	}
	for _, f := range o.fields {
		if !s.Has(f.Name) {
			extra = append(extra, f.Name)
		}
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ","))
	}
	if len(extra) > 0 {
		parts = append(parts, "extra "+strings.Join(extra, ","))
	}
	if len(kinds) > 0 {
		parts = append(parts, "kind "+strings.Join(kinds, ","))
	}
	return strings.Join(parts, "; ")
}
