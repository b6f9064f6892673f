package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/types"
)

func TestPruneDocumentViewSkipsWhenPinned(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	pinningOp := types.OperationID{9}
	pinnedView := types.NewViewID([]types.OperationID{{10}})
	pinningOpFields := map[string]types.FieldValue{
		"fields": {Type: types.FieldPinnedRelation, Pinned: pinnedView},
	}
	pinningOperation := &types.Operation{
		ID:         pinningOp,
		Action:     types.ActionCreate,
		SchemaID:   types.SchemaID{Name: "schema_definition_v1", System: true},
		DocumentID: pinningOp,
		Fields:     pinningOpFields,
	}

	err := st.WithTx(ctx, func(tx Tx) error {
		if err := InsertOperation(ctx, tx, pinningOperation); err != nil {
			return err
		}
		// The pinning operation's own view currently exists, so
		// document_view_fields carries a row naming it as the source
		// of the "fields" field.
		pinningView := types.NewViewID([]types.OperationID{pinningOp})
		if err := InsertDocumentView(ctx, tx, pinningView, pinningOperation.SchemaID, map[string]types.OperationID{
			"fields": pinningOp,
		}); err != nil {
			return err
		}
		return UpsertDocument(ctx, tx, pinningOp, pinningView, pinningOperation.SchemaID, false)
	})
	require.NoError(t, err)

	pinned, err := ViewIsPinned(ctx, st.Reader(), pinnedView)
	require.NoError(t, err)
	assert.True(t, pinned)

	// PruneDocumentView must refuse to delete it even though no
	// document's *current* view is pinnedView itself.
	err = st.WithTx(ctx, func(tx Tx) error {
		if err := InsertDocumentView(ctx, tx, pinnedView, types.SchemaID{Name: "schema_field_definition_v1", System: true}, nil); err != nil {
			return err
		}
		return PruneDocumentView(ctx, tx, pinnedView)
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM document_views WHERE document_view_id = ?`, pinnedView.String()).Scan(&count))
	assert.Equal(t, 1, count, "pinned view must survive PruneDocumentView")
}

func TestPruneDocumentViewDeletesWhenUnpinned(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	view := types.NewViewID([]types.OperationID{{11}})
	err := st.WithTx(ctx, func(tx Tx) error {
		return InsertDocumentView(ctx, tx, view, types.SchemaID{Name: "event", ViewID: view}, nil)
	})
	require.NoError(t, err)

	pinned, err := ViewIsPinned(ctx, st.Reader(), view)
	require.NoError(t, err)
	assert.False(t, pinned)

	err = st.WithTx(ctx, func(tx Tx) error {
		return PruneDocumentView(ctx, tx, view)
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM document_views WHERE document_view_id = ?`, view.String()).Scan(&count))
	assert.Equal(t, 0, count)
}
