package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema("sales",
		[]Attribute{
			{Name: "region", Type: TypeString},
			{Name: "product", Type: TypeString},
			{Name: "sales", Type: TypeFloat},
			{Name: "quantity", Type: TypeInt},
			{Name: "active", Type: TypeBool},
		},
		[]string{"region", "product"},
	)
	require.NoError(t, err)
	return s
}

func TestNewSchemaValidation(t *testing.T) {
	attrs := []Attribute{{Name: "id", Type: TypeString}, {Name: "amount", Type: TypeFloat}}

	tests := []struct {
		name    string
		table   string
		attrs   []Attribute
		key     []string
		wantErr string
	}{
		{"valid", "t", attrs, []string{"id"}, ""},
		{"empty table", "", attrs, []string{"id"}, "table name is required"},
		{"no attributes", "t", nil, []string{"id"}, "at least one attribute"},
		{"no key", "t", attrs, nil, "natural key is required"},
		{"unknown key attr", "t", attrs, []string{"nope"}, "unknown attribute"},
		{"repeated key attr", "t", attrs, []string{"id", "id"}, "repeats attribute"},
		{"duplicate attr", "t", append(attrs, Attribute{Name: "id", Type: TypeInt}), []string{"id"}, "duplicate attribute"},
		{"bad type", "t", []Attribute{{Name: "id", Type: "decimal"}}, []string{"id"}, "unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema(tt.table, tt.attrs, tt.key)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTrackedAttributesExcludesKey(t *testing.T) {
	s := salesSchema(t)
	assert.Equal(t, []string{"sales", "quantity", "active"}, s.TrackedAttributes())
	assert.True(t, s.IsKeyAttribute("region"))
	assert.False(t, s.IsKeyAttribute("sales"))
}

func TestKeyOfDeterministic(t *testing.T) {
	s := salesSchema(t)
	r := Record{"region": String("West"), "product": String("Widget"), "sales": Float(10)}

	k1, err := KeyOf(s, r)
	require.NoError(t, err)
	k2, err := KeyOf(s, r.Clone())
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	// Keys order by natural key declaration, not attribute map order.
	other := Record{"product": String("Widget"), "region": String("West")}
	k3, err := KeyOf(s, other)
	require.NoError(t, err)
	assert.Equal(t, k1, k3)
}

func TestKeyOfDistinguishesValues(t *testing.T) {
	s := salesSchema(t)
	a, err := KeyOf(s, Record{"region": String("West"), "product": String("Widget")})
	require.NoError(t, err)
	b, err := KeyOf(s, Record{"region": String("West"), "product": String("Gadget")})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestKeyOfRejectsMissingAndNullKey(t *testing.T) {
	s := salesSchema(t)

	_, err := KeyOf(s, Record{"region": String("West")})
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "product", mismatch.Attribute)

	_, err = KeyOf(s, Record{"region": String("West"), "product": Null{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null")
}

func TestCheckRecord(t *testing.T) {
	s := salesSchema(t)

	ok := Record{"region": String("West"), "product": String("W"), "sales": Float(1.5), "quantity": Int(3), "active": Bool(true)}
	require.NoError(t, CheckRecord(s, ok))

	// Null is fine for tracked attributes.
	withNull := Record{"region": String("West"), "product": String("W"), "sales": Null{}}
	require.NoError(t, CheckRecord(s, withNull))

	// Wrong type is a SchemaMismatchError.
	bad := Record{"region": String("West"), "product": String("W"), "quantity": Float(3)}
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, CheckRecord(s, bad), &mismatch)
	assert.Equal(t, "quantity", mismatch.Attribute)
	assert.Equal(t, TypeInt, mismatch.Expected)

	// Undeclared attribute is a SchemaMismatchError.
	undeclared := Record{"region": String("West"), "product": String("W"), "color": String("red")}
	require.ErrorAs(t, CheckRecord(s, undeclared), &mismatch)
	assert.Equal(t, "undeclared", mismatch.Got)
}
