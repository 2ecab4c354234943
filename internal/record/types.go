package record

import (
	"fmt"
	"strings"
)

// AttrType enumerates the value types an attribute may carry.
// The type of an attribute is fixed per schema for the table's lifetime.
type AttrType string

const (
	TypeString AttrType = "string"
	TypeInt    AttrType = "int"
	TypeFloat  AttrType = "float"
	TypeDate   AttrType = "date"
	TypeBool   AttrType = "bool"
)

// ValidAttrTypes defines the allowed attribute types.
var ValidAttrTypes = map[AttrType]bool{
	TypeString: true,
	TypeInt:    true,
	TypeFloat:  true,
	TypeDate:   true,
	TypeBool:   true,
}

// Attribute is a named, typed column of a table.
type Attribute struct {
	Name string   `json:"name"`
	Type AttrType `json:"type"`
}

// Schema describes a table: its attributes in declaration order and the
// ordered natural key identifying a business entity across snapshots.
//
// The attribute slice order NEVER changes after construction - canonical
// output and surrogate keys depend on names only, but user-facing output
// (CLI, CSV headers) follows declaration order.
type Schema struct {
	Table      string      `json:"table"`
	Attributes []Attribute `json:"attributes"`
	NaturalKey []string    `json:"natural_key"`

	byName map[string]AttrType
}

// NewSchema builds a Schema and verifies its internal consistency:
// no duplicate attributes, known types, and a non-empty natural key whose
// members all reference declared attributes.
func NewSchema(table string, attrs []Attribute, naturalKey []string) (*Schema, error) {
	if table == "" {
		return nil, fmt.Errorf("schema: table name is required")
	}
	if len(attrs) == 0 {
		return nil, fmt.Errorf("schema %q: at least one attribute is required", table)
	}
	if len(naturalKey) == 0 {
		return nil, fmt.Errorf("schema %q: natural key is required", table)
	}

	byName := make(map[string]AttrType, len(attrs))
	for _, a := range attrs {
		if a.Name == "" {
			return nil, fmt.Errorf("schema %q: attribute with empty name", table)
		}
		if !ValidAttrTypes[a.Type] {
			return nil, fmt.Errorf("schema %q: attribute %q has unknown type %q", table, a.Name, a.Type)
		}
		if _, dup := byName[a.Name]; dup {
			return nil, fmt.Errorf("schema %q: duplicate attribute %q", table, a.Name)
		}
		byName[a.Name] = a.Type
	}

	seen := make(map[string]bool, len(naturalKey))
	for _, k := range naturalKey {
		if _, ok := byName[k]; !ok {
			return nil, fmt.Errorf("schema %q: natural key references unknown attribute %q", table, k)
		}
		if seen[k] {
			return nil, fmt.Errorf("schema %q: natural key repeats attribute %q", table, k)
		}
		seen[k] = true
	}

	// Copy to prevent external mutation of declaration order.
	attrsCopy := make([]Attribute, len(attrs))
	copy(attrsCopy, attrs)
	keyCopy := make([]string, len(naturalKey))
	copy(keyCopy, naturalKey)

	return &Schema{
		Table:      table,
		Attributes: attrsCopy,
		NaturalKey: keyCopy,
		byName:     byName,
	}, nil
}

// AttributeType returns the declared type of an attribute.
func (s *Schema) AttributeType(name string) (AttrType, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// IsKeyAttribute reports whether name is part of the natural key.
func (s *Schema) IsKeyAttribute(name string) bool {
	for _, k := range s.NaturalKey {
		if k == name {
			return true
		}
	}
	return false
}

// TrackedAttributes returns the non-key attribute names in declaration
// order. These are the attributes the differ compares and SCD2 versions.
func (s *Schema) TrackedAttributes() []string {
	tracked := make([]string, 0, len(s.Attributes))
	for _, a := range s.Attributes {
		if !s.IsKeyAttribute(a.Name) {
			tracked = append(tracked, a.Name)
		}
	}
	return tracked
}

// SchemaMismatchError reports a record whose value types disagree with the
// table's established schema. Fatal for the whole run: a type change means
// the source contract was broken, not that one row is dirty.
type SchemaMismatchError struct {
	Table     string
	Attribute string
	Expected  AttrType
	Got       string // type name of the offending value, or "missing"/"undeclared"
}

// Error implements the error interface.
func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in table %q: attribute %q expected %s, got %s",
		e.Table, e.Attribute, e.Expected, e.Got)
}

// Key is the canonical string form of a record's natural key values.
// Two records with equal natural key values produce identical Keys, so Key
// is safe to use for map indexing and partitioning.
type Key string

// String returns the key's canonical form.
func (k Key) String() string { return string(k) }

// KeyOf computes the canonical Key of a record under the schema's natural
// key definition. Key attributes must be present and non-null.
func KeyOf(s *Schema, r Record) (Key, error) {
	parts := make([]string, 0, len(s.NaturalKey))
	for _, name := range s.NaturalKey {
		v, ok := r[name]
		if !ok {
			return "", &SchemaMismatchError{Table: s.Table, Attribute: name, Expected: s.byName[name], Got: "missing"}
		}
		if _, isNull := v.(Null); isNull {
			return "", fmt.Errorf("natural key attribute %q is null", name)
		}
		canonical, err := MarshalCanonical(v)
		if err != nil {
			return "", fmt.Errorf("key attribute %q: %w", name, err)
		}
		parts = append(parts, string(canonical))
	}
	return Key(strings.Join(parts, "|")), nil
}
