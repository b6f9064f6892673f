package store

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/types"
)

func TestFieldCursorIsOpaqueAndDeterministic(t *testing.T) {
	var op types.OperationID
	op[0] = 3

	c1 := fieldCursor(op, "title", 0)
	c2 := fieldCursor(op, "title", 0)
	assert.Equal(t, c1, c2)

	// A hashed cursor is short and fixed-shape, unlike a raw
	// concatenation of a 32-byte hash plus the field name plus two
	// index bytes, which would grow with len(name).
	decoded, err := base58.Decode(c1)
	require.NoError(t, err)
	assert.Len(t, decoded, 8)

	assert.NotEqual(t, c1, fieldCursor(op, "body", 0))
	assert.NotEqual(t, c1, fieldCursor(op, "title", 1))
}
