package encoding

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/types"
)

func mustEncodeBadSchema(t *testing.T) []byte {
	t.Helper()
	raw, err := cbor.Marshal(wireOperation{Action: "create", SchemaID: "no-separator-here"})
	require.NoError(t, err)
	return raw
}

func sampleSchemaID(t *testing.T) types.SchemaID {
	t.Helper()
	var h types.Hash
	h[0] = 5
	view := types.NewViewID([]types.OperationID{h})
	return types.SchemaID{Name: "event", ViewID: view}
}

func TestEncodeDecodeOperationCreate(t *testing.T) {
	op := &types.Operation{
		Action:   types.ActionCreate,
		SchemaID: sampleSchemaID(t),
		Fields: map[string]types.FieldValue{
			"title": {Type: types.FieldString, String: "hello"},
			"count": {Type: types.FieldInt, Int: "42"},
		},
	}

	raw, err := EncodeOperation(op)
	require.NoError(t, err)

	decoded, err := DecodeOperation(raw)
	require.NoError(t, err)

	assert.Equal(t, op.Action, decoded.Action)
	assert.Equal(t, op.SchemaID.String(), decoded.SchemaID.String())
	assert.Equal(t, op.Fields["title"], decoded.Fields["title"])
	assert.Equal(t, op.Fields["count"], decoded.Fields["count"])
}

func TestEncodeDecodeOperationWithRelationList(t *testing.T) {
	var target types.Hash
	target[0] = 3
	op := &types.Operation{
		Action:   types.ActionUpdate,
		SchemaID: sampleSchemaID(t),
		Previous: []types.OperationID{target},
		Fields: map[string]types.FieldValue{
			"tags": {
				Type: types.FieldRelationList,
				List: []types.FieldValue{
					{Type: types.FieldRelation, Relation: target},
				},
			},
		},
	}

	raw, err := EncodeOperation(op)
	require.NoError(t, err)

	decoded, err := DecodeOperation(raw)
	require.NoError(t, err)

	require.Len(t, decoded.Fields["tags"].List, 1)
	assert.Equal(t, target, decoded.Fields["tags"].List[0].Relation)
	require.Len(t, decoded.Previous, 1)
	assert.Equal(t, target, decoded.Previous[0])
}

func TestEncodeDecodeOperationBytesField(t *testing.T) {
	op := &types.Operation{
		Action:   types.ActionCreate,
		SchemaID: sampleSchemaID(t),
		Fields: map[string]types.FieldValue{
			"blob": {Type: types.FieldBytes, Bytes: []byte{1, 2, 3, 4}},
		},
	}

	raw, err := EncodeOperation(op)
	require.NoError(t, err)
	decoded, err := DecodeOperation(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, decoded.Fields["blob"].Bytes)
}

func TestDecodeOperationRejectsGarbage(t *testing.T) {
	_, err := DecodeOperation([]byte{0xFF, 0xFF, 0xFF})
	assert.Error(t, err)
}

func TestDecodeOperationRejectsBadSchemaID(t *testing.T) {
	// A well-formed CBOR map with an unparseable schema id string.
	raw, err := EncodeOperation(&types.Operation{
		Action:   types.ActionCreate,
		SchemaID: sampleSchemaID(t),
	})
	require.NoError(t, err)

	// Rather than patch bytes inside raw, mustEncodeBadSchema builds a
	// separate well-formed CBOR operation whose schema id string,
	// "no-separator-here", has no "__" separator, so ParseSchemaID's
	// error path fires through DecodeOperation.
	_ = raw
	_, err = DecodeOperation(mustEncodeBadSchema(t))
	assert.Error(t, err)
}
