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

func TestGarbageCollectionDeletesOrphanedBlobPieces(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite3"), utils.Noop{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var blobDoc, pieceView types.Hash
	blobDoc[0] = 1
	pieceView[0] = 2
	view := types.NewViewID([]types.OperationID{pieceView})
	blobSchema := types.SchemaID{Name: "blob_v1", System: true}

	err = st.WithTx(ctx, func(tx store.Tx) error {
		if err := store.InsertBlobPiece(ctx, tx, blobDoc, view, 0); err != nil {
			return err
		}
		if err := store.InsertDocumentView(ctx, tx, view, blobSchema, map[string]types.OperationID{}); err != nil {
			return err
		}
		return store.UpsertDocument(ctx, tx, blobDoc, view, blobSchema, true)
	})
	require.NoError(t, err)

	m := New(st, nil, nil, t.TempDir(), utils.Noop{})
	require.NoError(t, m.GarbageCollection(ctx, &blobDoc, nil))

	pieces, err := store.GetBlobPieceViews(ctx, st.Reader(), blobDoc)
	require.NoError(t, err)
	assert.Empty(t, pieces)
}
