package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValueKind identifies which member of the Value union is set.
type ValueKind uint8

const (
	KindUnknown ValueKind = iota
	KindUnsigned
	KindSigned
	KindReal
	KindEnum
	KindStruct
)

// String returns the kind name as used in network configuration files.
func (k ValueKind) String() string {
	switch k {
	case KindUnsigned:
		return "uint"
	case KindSigned:
		return "int"
	case KindReal:
		return "real"
	case KindEnum:
		return "enum"
	case KindStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// ParseValueKind parses a kind name. Common aliases are accepted.
func ParseValueKind(s string) (ValueKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uint", "unsigned", "u":
		return KindUnsigned, nil
	case "int", "signed", "i":
		return KindSigned, nil
	case "real", "float", "f":
		return KindReal, nil
	case "enum":
		return KindEnum, nil
	case "struct":
		return KindStruct, nil
	default:
		return KindUnknown, fmt.Errorf("unknown value kind %q", s)
	}
}

// UnmarshalYAML decodes a kind from its name.
func (k *ValueKind) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseValueKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MarshalYAML encodes a kind as its name.
func (k ValueKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// Value is a decoded object entry value.
// Exactly one of the data fields is meaningful, selected by Kind.
type Value struct {
	Kind     ValueKind `cbor:"1,keyasint"`
	Unsigned uint64    `cbor:"2,keyasint,omitempty"`
	Signed   int64     `cbor:"3,keyasint,omitempty"`
	Real     float64   `cbor:"4,keyasint,omitempty"`
	Enum     string    `cbor:"5,keyasint,omitempty"`
	Fields   []Field   `cbor:"6,keyasint,omitempty"`
}

// Field is a named attribute of a struct value.
type Field struct {
	Name  string `cbor:"1,keyasint"`
	Value Value  `cbor:"2,keyasint"`
}

// UnsignedValue returns an unsigned value.
func UnsignedValue(v uint64) Value {
	return Value{Kind: KindUnsigned, Unsigned: v}
}

// SignedValue returns a signed value.
func SignedValue(v int64) Value {
	return Value{Kind: KindSigned, Signed: v}
}

// RealValue returns a real value.
func RealValue(v float64) Value {
	return Value{Kind: KindReal, Real: v}
}

// EnumValue returns an enum value holding the variant name.
func EnumValue(variant string) Value {
	return Value{Kind: KindEnum, Enum: variant}
}

// StructValue returns a struct value with the given attributes in order.
func StructValue(fields ...Field) Value {
	return Value{Kind: KindStruct, Fields: fields}
}

// NewField is a convenience constructor for struct attributes.
func NewField(name string, v Value) Field {
	return Field{Name: name, Value: v}
}

// IsZero reports whether the value is unset.
func (v Value) IsZero() bool {
	return v.Kind == KindUnknown
}

// Field returns the named attribute of a struct value.
// It returns false for non-struct values and missing attributes.
func (v Value) Field(name string) (Value, bool) {
	if v.Kind != KindStruct {
		return Value{}, false
	}
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Float64 converts numeric values to float64.
func (v Value) Float64() (float64, bool) {
	switch v.Kind {
	case KindUnsigned:
		return float64(v.Unsigned), true
	case KindSigned:
		return float64(v.Signed), true
	case KindReal:
		return v.Real, true
	default:
		return 0, false
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindUnsigned:
		return v.Unsigned == o.Unsigned
	case KindSigned:
		return v.Signed == o.Signed
	case KindReal:
		return v.Real == o.Real || (math.IsNaN(v.Real) && math.IsNaN(o.Real))
	case KindEnum:
		return v.Enum == o.Enum
	case KindStruct:
		if len(v.Fields) != len(o.Fields) {
			return false
		}
		for i := range v.Fields {
			if v.Fields[i].Name != o.Fields[i].Name || !v.Fields[i].Value.Equal(o.Fields[i].Value) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String formats the value for display.
func (v Value) String() string {
	switch v.Kind {
	case KindUnsigned:
		return strconv.FormatUint(v.Unsigned, 10)
	case KindSigned:
		return strconv.FormatInt(v.Signed, 10)
	case KindReal:
		return strconv.FormatFloat(v.Real, 'g', 6, 64)
	case KindEnum:
		return v.Enum
	case KindStruct:
		var b strings.Builder
		b.WriteByte('{')
		for i, f := range v.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			b.WriteString(f.Value.String())
		}
		b.WriteByte('}')
		return b.String()
	default:
		return "<none>"
	}
}

// Sample is a value together with the time it was observed.
type Sample struct {
	Value     Value     `cbor:"1,keyasint"`
	Timestamp time.Time `cbor:"2,keyasint"`
}

// NewSample returns a sample stamped with the current time.
func NewSample(v Value) Sample {
	return Sample{Value: v, Timestamp: time.Now()}
}

// String formats the sample for display.
func (s Sample) String() string {
	return fmt.Sprintf("%s @ %s", s.Value, s.Timestamp.Format(time.RFC3339Nano))
}
