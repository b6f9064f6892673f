package materializer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
	"github.com/p2panda/aquadoggo/internal/utils"
)

// TestGarbageCollectionSkipsDocumentPinnedByAnotherView reproduces a
// deleted document whose current view is still named from a
// pinned_relation field on another, live document (e.g. a schema's
// "fields" list pinning a field-definition view) — GC must not cascade
// its rows away out from under that pin.
func TestGarbageCollectionSkipsDocumentPinnedByAnotherView(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite3"), utils.Noop{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var pinnedDoc types.DocumentID
	pinnedDoc[0] = 21
	pinnedView := types.NewViewID([]types.OperationID{pinnedDoc})
	pinnedSchema := types.SchemaID{Name: "schema_field_definition_v1", System: true}

	var pinningDoc types.DocumentID
	pinningDoc[0] = 22
	pinningOp := &types.Operation{
		ID:         pinningDoc,
		Action:     types.ActionCreate,
		SchemaID:   types.SchemaID{Name: "schema_definition_v1", System: true},
		DocumentID: pinningDoc,
		Fields: map[string]types.FieldValue{
			"fields": {Type: types.FieldPinnedRelation, Pinned: pinnedView},
		},
	}
	pinningView := types.NewViewID([]types.OperationID{pinningDoc})

	err = st.WithTx(ctx, func(tx store.Tx) error {
		if err := store.InsertOperation(ctx, tx, pinningOp); err != nil {
			return err
		}
		if err := store.InsertDocumentView(ctx, tx, pinningView, pinningOp.SchemaID, map[string]types.OperationID{"fields": pinningDoc}); err != nil {
			return err
		}
		if err := store.UpsertDocument(ctx, tx, pinningDoc, pinningView, pinningOp.SchemaID, false); err != nil {
			return err
		}
		if err := store.InsertDocumentView(ctx, tx, pinnedView, pinnedSchema, nil); err != nil {
			return err
		}
		// pinnedDoc is marked deleted, as if its own delete operation had
		// already been reduced.
		return store.UpsertDocument(ctx, tx, pinnedDoc, pinnedView, pinnedSchema, true)
	})
	require.NoError(t, err)

	m := New(st, nil, nil, t.TempDir(), utils.Noop{})
	require.NoError(t, m.GarbageCollection(ctx, &pinnedDoc, nil))

	doc, err := store.GetDocument(ctx, st.Reader(), pinnedDoc)
	require.NoError(t, err)
	assert.NotNil(t, doc, "pinned document row must survive gc while pinned")
}
