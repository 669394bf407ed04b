package engine

import (
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/node"
)

func TestUUIDv7Generator_ValidKey(t *testing.T) {
	key := UUIDv7Generator{}.Generate()

	parsed, err := uuid.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NoError(t, node.ValidateKey(key))
}

func TestUUIDv7Generator_SortsByCreation(t *testing.T) {
	gen := UUIDv7Generator{}
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = gen.Generate()
	}

	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, node.CompareNames)
	assert.Equal(t, keys, sorted, "later pushes sort after earlier ones")
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("k1", "k2")
	assert.Equal(t, "k1", gen.Generate())
	assert.Equal(t, "k2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
