package record

import (
	"fmt"
	"math"
	"time"
)

// Value is a sealed interface representing the constrained attribute value
// types. Only String, Int, Float, Date, Bool, and Null implement it.
type Value interface {
	attrValue() // Sealed - only these types implement it
}

// String represents a string attribute value.
type String string

func (String) attrValue() {}

// Int represents an integer attribute value. Always int64.
type Int int64

func (Int) attrValue() {}

// Float represents a floating-point attribute value.
// Equality between Floats uses a caller-supplied tolerance, never ==.
type Float float64

func (Float) attrValue() {}

// Date represents a calendar date. The time-of-day portion is always
// midnight UTC; NewDate enforces this.
type Date time.Time

func (Date) attrValue() {}

// Time returns the underlying time.Time (midnight UTC).
func (d Date) Time() time.Time { return time.Time(d) }

// NewDate builds a Date from year/month/day at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Bool represents a boolean attribute value.
type Bool bool

func (Bool) attrValue() {}

// Null represents an absent value. Nulls participate in validation
// (null-ratio rules) and compare equal only to other Nulls.
type Null struct{}

func (Null) attrValue() {}

// Record is one row of source data: attribute name to typed value.
type Record map[string]Value

// Clone returns a shallow copy of the record. Values are immutable, so a
// shallow copy is sufficient for isolation.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// TypeName returns the schema type name for a value, for error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case String:
		return string(TypeString)
	case Int:
		return string(TypeInt)
	case Float:
		return string(TypeFloat)
	case Date:
		return string(TypeDate)
	case Bool:
		return string(TypeBool)
	case Null:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// CheckRecord verifies that every attribute of r is declared in the schema
// and carries a value of the declared type. Null is permitted for any
// non-key attribute. Missing attributes are treated as Null, not an error -
// null-ratio rules decide whether that is acceptable.
func CheckRecord(s *Schema, r Record) error {
	for name, v := range r {
		declared, ok := s.AttributeType(name)
		if !ok {
			return &SchemaMismatchError{Table: s.Table, Attribute: name, Expected: "", Got: "undeclared"}
		}
		if _, isNull := v.(Null); isNull {
			continue
		}
		if got := AttrType(TypeName(v)); got != declared {
			return &SchemaMismatchError{Table: s.Table, Attribute: name, Expected: declared, Got: string(got)}
		}
	}
	return nil
}

// Equal compares two values for exact equality, with floatTol bounding the
// absolute difference tolerated between two Floats. Values of different
// types are never equal.
func Equal(a, b Value, floatTol float64) bool {
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		if !ok {
			return false
		}
		return math.Abs(float64(av)-float64(bv)) <= floatTol
	case Date:
		bv, ok := b.(Date)
		return ok && time.Time(av).Equal(time.Time(bv))
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Null:
		_, ok := b.(Null)
		return ok
	default:
		return false
	}
}

// valueAt returns the record's value for name, treating absence as Null.
func valueAt(r Record, name string) Value {
	if v, ok := r[name]; ok {
		return v
	}
	return Null{}
}

// RecordsEqual reports whether two records agree on every tracked (non-key)
// attribute of the schema, using Equal with floatTol per attribute.
func RecordsEqual(s *Schema, a, b Record, floatTol float64) bool {
	for _, name := range s.TrackedAttributes() {
		if !Equal(valueAt(a, name), valueAt(b, name), floatTol) {
			return false
		}
	}
	return true
}
