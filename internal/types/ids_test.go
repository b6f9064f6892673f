package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashRoundTrip(t *testing.T) {
	var h Hash
	h[0] = 1
	h[31] = 2

	s := h.String()
	back, err := HashFromString(s)
	require.NoError(t, err)
	assert.Equal(t, h, back)
}

func TestHashFromStringInvalidLength(t *testing.T) {
	_, err := HashFromString("z")
	assert.Error(t, err)
}

func TestNewViewIDOrderIndependent(t *testing.T) {
	var a, b Hash
	a[0] = 1
	b[0] = 2

	v1 := NewViewID([]OperationID{a, b})
	v2 := NewViewID([]OperationID{b, a})
	assert.Equal(t, v1.String(), v2.String())
}

func TestViewIDStringRoundTrip(t *testing.T) {
	var a, b Hash
	a[0] = 3
	b[0] = 4
	v := NewViewID([]OperationID{a, b})

	back, err := ParseViewID(v.String())
	require.NoError(t, err)
	assert.Equal(t, v.String(), back.String())
}

func TestViewIDIsCreate(t *testing.T) {
	var a Hash
	a[0] = 5
	v := NewViewID([]OperationID{a})
	assert.True(t, v.IsCreate())

	var b Hash
	b[0] = 6
	v2 := NewViewID([]OperationID{a, b})
	assert.False(t, v2.IsCreate())
}

func TestParseSchemaIDSystem(t *testing.T) {
	id, err := ParseSchemaID("blob_v1")
	require.NoError(t, err)
	assert.True(t, id.System)
	assert.Equal(t, "blob_v1", id.String())
}

func TestSchemaIDRoundTrip(t *testing.T) {
	var a Hash
	a[0] = 7
	view := NewViewID([]OperationID{a})
	id := SchemaID{Name: "event", ViewID: view}

	back, err := ParseSchemaID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id.String(), back.String())
}

func TestParseSchemaIDInvalid(t *testing.T) {
	_, err := ParseSchemaID("noviewidhere")
	assert.Error(t, err)
}

func TestSchemaIDRoundTripMultiTipView(t *testing.T) {
	var a, b Hash
	a[0], b[0] = 7, 9
	view := NewViewID([]OperationID{a, b})
	require.False(t, view.IsCreate())

	id := SchemaID{Name: "event", ViewID: view}
	back, err := ParseSchemaID(id.String())
	require.NoError(t, err)
	assert.Equal(t, "event", back.Name)
	assert.Equal(t, view.String(), back.ViewID.String())
}
