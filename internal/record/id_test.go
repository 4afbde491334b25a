package record

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7GeneratorProducesSortableIDs(t *testing.T) {
	gen := UUIDv7Generator{}

	prev := gen.Generate()
	for i := 0; i < 100; i++ {
		next := gen.Generate()
		parsed, err := uuid.Parse(next)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
