package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurrogateKeyStable(t *testing.T) {
	k1, err := SurrogateKey("sales", Key(`"West"|"Widget"`), 1)
	require.NoError(t, err)
	k2, err := SurrogateKey("sales", Key(`"West"|"Widget"`), 1)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64) // hex-encoded SHA-256
}

func TestSurrogateKeyVariesByInput(t *testing.T) {
	base, err := SurrogateKey("sales", Key("k"), 1)
	require.NoError(t, err)

	byVersion, err := SurrogateKey("sales", Key("k"), 2)
	require.NoError(t, err)
	assert.NotEqual(t, base, byVersion)

	byTable, err := SurrogateKey("inventory", Key("k"), 1)
	require.NoError(t, err)
	assert.NotEqual(t, base, byTable)

	byKey, err := SurrogateKey("sales", Key("k2"), 1)
	require.NoError(t, err)
	assert.NotEqual(t, base, byKey)
}

func TestRowHashIgnoresKeyAttributes(t *testing.T) {
	s := salesSchema(t)

	a := Record{"region": String("West"), "product": String("W"), "sales": Float(10), "quantity": Int(2)}
	b := Record{"region": String("East"), "product": String("E"), "sales": Float(10), "quantity": Int(2)}

	ha, err := RowHash(s, a)
	require.NoError(t, err)
	hb, err := RowHash(s, b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestRowHashSensitiveToTrackedValues(t *testing.T) {
	s := salesSchema(t)

	a := Record{"region": String("W"), "product": String("P"), "sales": Float(10)}
	b := Record{"region": String("W"), "product": String("P"), "sales": Float(11)}

	ha, err := RowHash(s, a)
	require.NoError(t, err)
	hb, err := RowHash(s, b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestRowHashMissingEqualsNull(t *testing.T) {
	s := salesSchema(t)

	a := Record{"region": String("W"), "product": String("P"), "sales": Null{}}
	b := Record{"region": String("W"), "product": String("P")}

	ha, err := RowHash(s, a)
	require.NoError(t, err)
	hb, err := RowHash(s, b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}
