package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/types"
)

func TestCursorRoundTrip(t *testing.T) {
	var h types.Hash
	h[0] = 1
	view := types.NewViewID([]types.OperationID{h})
	c := Cursor{OrderingKey: "some-ordering-key", ViewID: view}

	token := c.String()
	back, err := ParseCursor(token)
	require.NoError(t, err)
	assert.Equal(t, c.OrderingKey, back.OrderingKey)
	assert.Equal(t, c.ViewID.String(), back.ViewID.String())
}

func TestParseCursorIsCached(t *testing.T) {
	var h types.Hash
	h[0] = 2
	view := types.NewViewID([]types.OperationID{h})
	c := Cursor{OrderingKey: "cached-key", ViewID: view}
	token := c.String()

	first, err := ParseCursor(token)
	require.NoError(t, err)
	second, err := ParseCursor(token)
	require.NoError(t, err)

	// same pointer means the second call was served from cursorCache.
	assert.Same(t, first, second)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	_, err := ParseCursor("not-a-valid-cursor-!!!")
	assert.Error(t, err)
}

func TestFilterIsLeaf(t *testing.T) {
	leaf := &Filter{Field: "title", Op: OpEq, Value: "hello"}
	assert.True(t, leaf.IsLeaf())

	branch := AndFilters(leaf, &Filter{Field: "count", Op: OpGt, Value: 1})
	assert.False(t, branch.IsLeaf())
	assert.Len(t, branch.Children, 2)
}

func TestAndFiltersDropsNil(t *testing.T) {
	leaf := &Filter{Field: "title", Op: OpEq, Value: "hello"}
	combined := AndFilters(nil, leaf, nil)
	assert.Same(t, leaf, combined)
}

func TestAndFiltersAllNilReturnsNil(t *testing.T) {
	assert.Nil(t, AndFilters(nil, nil))
}
