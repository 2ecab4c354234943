package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the canonical textual form of a date value.
const DateLayout = "2006-01-02"

// CoerceValue converts a decoded JSON/YAML value to a typed Value under the
// declared attribute type. Numbers arrive as json.Number (from decoders
// with UseNumber) or float64/int; dates arrive as "2006-01-02" strings.
//
// Null is accepted for every type; type enforcement against the schema's
// key rules happens in CheckRecord, not here.
func CoerceValue(t AttrType, v any) (Value, error) {
	if v == nil {
		return Null{}, nil
	}
	if _, isNull := v.(Null); isNull {
		return Null{}, nil
	}

	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return String(s), nil
		}
		if s, ok := v.(String); ok {
			return s, nil
		}
	case TypeInt:
		switch n := v.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("coerce int: %w", err)
			}
			return Int(i), nil
		case int:
			return Int(n), nil
		case int64:
			return Int(n), nil
		case float64:
			if n != float64(int64(n)) {
				return nil, fmt.Errorf("coerce int: %v has a fractional part", n)
			}
			return Int(int64(n)), nil
		case Int:
			return n, nil
		}
	case TypeFloat:
		switch n := v.(type) {
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("coerce float: %w", err)
			}
			return Float(f), nil
		case float64:
			return Float(n), nil
		case int:
			return Float(n), nil
		case int64:
			return Float(n), nil
		case Int:
			return Float(n), nil
		case Float:
			return n, nil
		}
	case TypeDate:
		switch d := v.(type) {
		case string:
			parsed, err := time.Parse(DateLayout, d)
			if err != nil {
				return nil, fmt.Errorf("coerce date: %w", err)
			}
			return Date(parsed), nil
		case time.Time:
			return NewDate(d.Year(), d.Month(), d.Day()), nil
		case Date:
			return d, nil
		}
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return Bool(b), nil
		case Bool:
			return b, nil
		}
	default:
		return nil, fmt.Errorf("unknown attribute type %q", t)
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", v, t)
}

// UnmarshalRecord parses a canonical JSON object back into a typed Record
// under the schema. The inverse of MarshalCanonical for records: attributes
// absent from the JSON come back as Null, undeclared attributes are an
// error.
func UnmarshalRecord(s *Schema, data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}

	r := make(Record, len(s.Attributes))
	for name, rv := range raw {
		t, ok := s.AttributeType(name)
		if !ok {
			return nil, &SchemaMismatchError{Table: s.Table, Attribute: name, Expected: "", Got: "undeclared"}
		}
		v, err := CoerceValue(t, rv)
		if err != nil {
			return nil, fmt.Errorf("unmarshal record: attribute %q: %w", name, err)
		}
		r[name] = v
	}
	for _, a := range s.Attributes {
		if _, ok := r[a.Name]; !ok {
			r[a.Name] = Null{}
		}
	}
	return r, nil
}
