package model

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Validation errors.
var (
	ErrKindMismatch     = errors.New("value kind does not match entry type")
	ErrOutOfRange       = errors.New("value out of range")
	ErrUnknownVariant   = errors.New("unknown enum variant")
	ErrMissingAttribute = errors.New("missing struct attribute")
	ErrInvalidType      = errors.New("invalid type descriptor")
)

// Access flags for object entries.
type Access uint8

const (
	// AccessRead allows reading the entry.
	AccessRead Access = 1 << iota

	// AccessWrite allows setting the entry.
	AccessWrite

	// AccessSubscribe allows opening a listener on the entry.
	AccessSubscribe

	// AccessReadOnly is read and subscribe.
	AccessReadOnly = AccessRead | AccessSubscribe

	// AccessReadWrite is read, write, and subscribe.
	AccessReadWrite = AccessRead | AccessWrite | AccessSubscribe
)

// CanRead returns true if reading is allowed.
func (a Access) CanRead() bool { return a&AccessRead != 0 }

// CanWrite returns true if writing is allowed.
func (a Access) CanWrite() bool { return a&AccessWrite != 0 }

// CanSubscribe returns true if subscribing is allowed.
func (a Access) CanSubscribe() bool { return a&AccessSubscribe != 0 }

// String returns the access flags as a string, e.g. "RWS".
func (a Access) String() string {
	var s string
	if a.CanRead() {
		s += "R"
	}
	if a.CanWrite() {
		s += "W"
	}
	if a.CanSubscribe() {
		s += "S"
	}
	if s == "" {
		return "-"
	}
	return s
}

// ParseAccess parses flags like "r", "rw" or "rws". Read implies subscribe.
func ParseAccess(s string) (Access, error) {
	var a Access
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			a |= AccessRead | AccessSubscribe
		case 'w':
			a |= AccessWrite
		case 's':
			a |= AccessSubscribe
		default:
			return 0, fmt.Errorf("invalid access flag %q in %q", c, s)
		}
	}
	return a, nil
}

// UnmarshalYAML decodes access flags from a string.
func (a *Access) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseAccess(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// TypeDescriptor describes the values an entry can hold.
type TypeDescriptor struct {
	Kind ValueKind `cbor:"1,keyasint" yaml:"kind"`

	// BitSize is the encoded width of unsigned and signed entries.
	BitSize uint8 `cbor:"2,keyasint,omitempty" yaml:"bits,omitempty"`

	// Min and Max bound real entries.
	Min *float64 `cbor:"3,keyasint,omitempty" yaml:"min,omitempty"`
	Max *float64 `cbor:"4,keyasint,omitempty" yaml:"max,omitempty"`

	// Variants lists the names of an enum entry.
	Variants []string `cbor:"5,keyasint,omitempty" yaml:"variants,omitempty"`

	// Attributes lists the members of a struct entry in order.
	Attributes []AttributeType `cbor:"6,keyasint,omitempty" yaml:"attributes,omitempty"`
}

// AttributeType is a named member of a struct type.
type AttributeType struct {
	Name string         `cbor:"1,keyasint" yaml:"name"`
	Type TypeDescriptor `cbor:"2,keyasint" yaml:"type"`
}

// Check verifies the descriptor itself is well formed.
func (t TypeDescriptor) Check() error {
	switch t.Kind {
	case KindUnsigned, KindSigned:
		if t.BitSize == 0 || t.BitSize > 64 {
			return fmt.Errorf("%w: %s with %d bits", ErrInvalidType, t.Kind, t.BitSize)
		}
	case KindReal:
		if t.Min != nil && t.Max != nil && *t.Min > *t.Max {
			return fmt.Errorf("%w: min %g > max %g", ErrInvalidType, *t.Min, *t.Max)
		}
	case KindEnum:
		if len(t.Variants) == 0 {
			return fmt.Errorf("%w: enum without variants", ErrInvalidType)
		}
	case KindStruct:
		if len(t.Attributes) == 0 {
			return fmt.Errorf("%w: struct without attributes", ErrInvalidType)
		}
		seen := make(map[string]bool, len(t.Attributes))
		for _, a := range t.Attributes {
			if a.Name == "" || seen[a.Name] {
				return fmt.Errorf("%w: bad or duplicate attribute name %q", ErrInvalidType, a.Name)
			}
			seen[a.Name] = true
			if err := a.Type.Check(); err != nil {
				return fmt.Errorf("attribute %s: %w", a.Name, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind", ErrInvalidType)
	}
	return nil
}

// Range returns the numeric display range of the entry.
// Unsigned entries span [0, 2^bits-1], signed entries
// [-2^(bits-1), 2^(bits-1)-1], and real entries their configured bounds.
// ok is false for non-numeric kinds and unbounded reals.
func (t TypeDescriptor) Range() (lo, hi float64, ok bool) {
	switch t.Kind {
	case KindUnsigned:
		return 0, math.Exp2(float64(t.BitSize)) - 1, t.BitSize > 0
	case KindSigned:
		half := math.Exp2(float64(t.BitSize) - 1)
		return -half, half - 1, t.BitSize > 0
	case KindReal:
		if t.Min == nil || t.Max == nil {
			return 0, 0, false
		}
		return *t.Min, *t.Max, true
	default:
		return 0, 0, false
	}
}

// Validate checks that v is a legal value for this type.
func (t TypeDescriptor) Validate(v Value) error {
	if v.Kind != t.Kind {
		return fmt.Errorf("%w: got %s, want %s", ErrKindMismatch, v.Kind, t.Kind)
	}
	switch t.Kind {
	case KindUnsigned:
		if t.BitSize > 0 && t.BitSize < 64 && v.Unsigned>>t.BitSize != 0 {
			return fmt.Errorf("%w: %d does not fit in %d bits", ErrOutOfRange, v.Unsigned, t.BitSize)
		}
	case KindSigned:
		if t.BitSize > 0 && t.BitSize < 64 {
			limit := int64(1) << (t.BitSize - 1)
			if v.Signed < -limit || v.Signed >= limit {
				return fmt.Errorf("%w: %d does not fit in %d bits", ErrOutOfRange, v.Signed, t.BitSize)
			}
		}
	case KindReal:
		if math.IsNaN(v.Real) {
			return fmt.Errorf("%w: NaN", ErrOutOfRange)
		}
		if t.Min != nil && v.Real < *t.Min {
			return fmt.Errorf("%w: %g < %g", ErrOutOfRange, v.Real, *t.Min)
		}
		if t.Max != nil && v.Real > *t.Max {
			return fmt.Errorf("%w: %g > %g", ErrOutOfRange, v.Real, *t.Max)
		}
	case KindEnum:
		if !slices.Contains(t.Variants, v.Enum) {
			return fmt.Errorf("%w: %q", ErrUnknownVariant, v.Enum)
		}
	case KindStruct:
		for _, a := range t.Attributes {
			fv, ok := v.Field(a.Name)
			if !ok {
				return fmt.Errorf("%w: %s", ErrMissingAttribute, a.Name)
			}
			if err := a.Type.Validate(fv); err != nil {
				return fmt.Errorf("attribute %s: %w", a.Name, err)
			}
		}
	}
	return nil
}

// ParseValue parses user input into a value of this type.
// Struct values are written as "name=value,name=value".
func (t TypeDescriptor) ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	var v Value
	switch t.Kind {
	case KindUnsigned:
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse unsigned: %w", err)
		}
		v = UnsignedValue(n)
	case KindSigned:
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse signed: %w", err)
		}
		v = SignedValue(n)
	case KindReal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse real: %w", err)
		}
		v = RealValue(f)
	case KindEnum:
		v = EnumValue(s)
	case KindStruct:
		parts := make(map[string]string)
		for _, kv := range strings.Split(s, ",") {
			name, raw, found := strings.Cut(kv, "=")
			if !found {
				return Value{}, fmt.Errorf("struct attribute %q: expected name=value", kv)
			}
			parts[strings.TrimSpace(name)] = raw
		}
		fields := make([]Field, 0, len(t.Attributes))
		for _, a := range t.Attributes {
			raw, ok := parts[a.Name]
			if !ok {
				return Value{}, fmt.Errorf("%w: %s", ErrMissingAttribute, a.Name)
			}
			fv, err := a.Type.ParseValue(raw)
			if err != nil {
				return Value{}, fmt.Errorf("attribute %s: %w", a.Name, err)
			}
			fields = append(fields, NewField(a.Name, fv))
		}
		v = StructValue(fields...)
	default:
		return Value{}, fmt.Errorf("%w: unknown kind", ErrInvalidType)
	}
	if err := t.Validate(v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// String returns a compact type description, e.g. "uint16" or "real[0,100]".
func (t TypeDescriptor) String() string {
	switch t.Kind {
	case KindUnsigned, KindSigned:
		return fmt.Sprintf("%s%d", t.Kind, t.BitSize)
	case KindReal:
		if lo, hi, ok := t.Range(); ok {
			return fmt.Sprintf("real[%g,%g]", lo, hi)
		}
		return "real"
	case KindEnum:
		return "enum(" + strings.Join(t.Variants, "|") + ")"
	case KindStruct:
		names := make([]string, len(t.Attributes))
		for i, a := range t.Attributes {
			names[i] = a.Name + ":" + a.Type.String()
		}
		return "struct{" + strings.Join(names, ", ") + "}"
	default:
		return "unknown"
	}
}

// EntryInfo is the metadata of one object entry.
type EntryInfo struct {
	Node        string         `cbor:"1,keyasint"`
	Name        string         `cbor:"2,keyasint"`
	Type        TypeDescriptor `cbor:"3,keyasint"`
	Unit        string         `cbor:"4,keyasint,omitempty"`
	Description string         `cbor:"5,keyasint,omitempty"`
	Access      Access         `cbor:"6,keyasint"`
}

// NodeInfo is the metadata of one node.
type NodeInfo struct {
	Name        string   `cbor:"1,keyasint"`
	ID          uint16   `cbor:"2,keyasint"`
	Description string   `cbor:"3,keyasint,omitempty"`
	Entries     []string `cbor:"4,keyasint"`
}

// NetworkInfo lists the nodes of a network.
type NetworkInfo struct {
	Name  string   `cbor:"1,keyasint"`
	Nodes []string `cbor:"2,keyasint"`
}
