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

// TestReduceCurrentViewKeepsConcurrentSiblings reproduces the publish
// pipeline's normal reduce enqueue (both document_id and view_id set to
// the just-published tip) against create(C) + concurrent update(U1),
// update(U2) — spec §8 seed scenario 2. The reduced current view must
// end up with tips {U1, U2}, not just {U2}.
func TestReduceCurrentViewKeepsConcurrentSiblings(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite3"), utils.Noop{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := New(st, nil, nil, t.TempDir(), utils.Noop{})

	create := &types.Operation{ID: opID(t, 1), Action: types.ActionCreate, SchemaID: testSchema(t), DocumentID: opID(t, 1)}
	u1 := &types.Operation{ID: opID(t, 2), Action: types.ActionUpdate, SchemaID: testSchema(t), DocumentID: opID(t, 1), Previous: []types.OperationID{create.ID}}
	u2 := &types.Operation{ID: opID(t, 3), Action: types.ActionUpdate, SchemaID: testSchema(t), DocumentID: opID(t, 1), Previous: []types.OperationID{create.ID}}

	for _, op := range []*types.Operation{create, u1, u2} {
		require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
			return store.InsertOperation(ctx, tx, op)
		}))
	}

	// Publish pipeline behavior: every publish enqueues reduce with
	// both document_id and the just-published operation's id as a
	// single-tip view_id.
	view := types.NewViewID([]types.OperationID{create.ID})
	require.NoError(t, m.Reduce(ctx, &create.DocumentID, &view))
	view = types.NewViewID([]types.OperationID{u1.ID})
	require.NoError(t, m.Reduce(ctx, &u1.DocumentID, &view))
	view = types.NewViewID([]types.OperationID{u2.ID})
	require.NoError(t, m.Reduce(ctx, &u2.DocumentID, &view))

	doc, err := store.GetDocument(ctx, st.Reader(), create.DocumentID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.OperationID{u1.ID, u2.ID}, doc.DocumentViewID.Tips())
}
