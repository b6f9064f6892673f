package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/types"
)

func newTestSchemaID(t *testing.T, name string, seed byte) types.SchemaID {
	t.Helper()
	var h types.Hash
	h[0] = seed
	view := types.NewViewID([]types.OperationID{h})
	return types.SchemaID{Name: name, ViewID: view}
}

func TestAllowPolicyWildcard(t *testing.T) {
	p := NewAllowPolicy([]string{"*"})
	assert.True(t, p.admits("anything"))
}

func TestAllowPolicyExplicitList(t *testing.T) {
	p := NewAllowPolicy([]string{"event"})
	assert.True(t, p.admits("event"))
	assert.False(t, p.admits("other"))
}

func TestProviderUpdateRejectsDisallowedSchema(t *testing.T) {
	provider := New(NewAllowPolicy([]string{"event"}))
	id := newTestSchemaID(t, "profile", 1)
	provider.Update(&Schema{ID: id, Name: "profile"})
	assert.False(t, provider.Has(id))
}

func TestProviderUpdateAdmitsAndFindsByID(t *testing.T) {
	provider := New(NewAllowPolicy([]string{"*"}))
	id := newTestSchemaID(t, "event", 1)
	s := &Schema{ID: id, Name: "event", Fields: []FieldDefinition{{Name: "title", Type: types.FieldString}}}
	provider.Update(s)

	got, ok := provider.Get(id)
	require.True(t, ok)
	assert.Equal(t, s, got)
	assert.Len(t, provider.All(), 1)
}

func TestProviderUpdateSameViewIsNoop(t *testing.T) {
	provider := New(NewAllowPolicy([]string{"*"}))
	id := newTestSchemaID(t, "event", 1)
	ch, unsub := provider.Subscribe(4)
	defer unsub()

	provider.Update(&Schema{ID: id, Name: "event"})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected Added broadcast")
	}

	provider.Update(&Schema{ID: id, Name: "event"})
	select {
	case <-ch:
		t.Fatal("update with the same view id should not re-broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProviderUpdateBroadcastsAddedThenUpdated(t *testing.T) {
	provider := New(NewAllowPolicy([]string{"*"}))
	ch, unsub := provider.Subscribe(4)
	defer unsub()

	idV1 := newTestSchemaID(t, "event", 1)
	provider.Update(&Schema{ID: idV1, Name: "event"})
	change1 := <-ch
	assert.Equal(t, SchemaAdded, change1.Kind)

	idV2 := newTestSchemaID(t, "event", 2)
	provider.Update(&Schema{ID: idV2, Name: "event"})
	change2 := <-ch
	assert.Equal(t, SchemaUpdated, change2.Kind)
}

func TestSchemaFieldType(t *testing.T) {
	s := &Schema{Fields: []FieldDefinition{{Name: "title", Type: types.FieldString}}}
	ty, ok := s.FieldType("title")
	require.True(t, ok)
	assert.Equal(t, types.FieldString, ty)

	_, ok = s.FieldType("missing")
	assert.False(t, ok)
}

func TestProviderValidateUnknownField(t *testing.T) {
	provider := New(NewAllowPolicy([]string{"*"}))
	id := newTestSchemaID(t, "event", 1)
	provider.Update(&Schema{ID: id, Name: "event", Fields: []FieldDefinition{{Name: "title", Type: types.FieldString}}})

	err := provider.Validate(id, map[string]types.FieldValue{
		"nope": {Type: types.FieldString, String: "x"},
	})
	var unknown *UnknownFieldError
	assert.ErrorAs(t, err, &unknown)
}

func TestProviderValidateTypeMismatch(t *testing.T) {
	provider := New(NewAllowPolicy([]string{"*"}))
	id := newTestSchemaID(t, "event", 1)
	provider.Update(&Schema{ID: id, Name: "event", Fields: []FieldDefinition{{Name: "title", Type: types.FieldString}}})

	err := provider.Validate(id, map[string]types.FieldValue{
		"title": {Type: types.FieldInt, Int: "1"},
	})
	var mismatch *FieldTypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestProviderValidateUnknownSchemaIsNoop(t *testing.T) {
	provider := New(NewAllowPolicy([]string{"*"}))
	id := newTestSchemaID(t, "event", 9)
	err := provider.Validate(id, map[string]types.FieldValue{"x": {Type: types.FieldString}})
	assert.NoError(t, err)
}
