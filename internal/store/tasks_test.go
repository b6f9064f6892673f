package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/types"
)

func TestInsertTaskDedupesAgainstTasksDedupeIndex(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	row := TaskRow{Name: "reduce"}
	err := st.WithTx(ctx, func(tx Tx) error {
		return InsertTask(ctx, tx, row)
	})
	require.NoError(t, err)

	// Same (name, nil, nil) task again — must be a no-op, not a
	// constraint-target mismatch error.
	err = st.WithTx(ctx, func(tx Tx) error {
		return InsertTask(ctx, tx, row)
	})
	require.NoError(t, err)

	tasks, err := GetTasks(ctx, st.Reader())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestInsertTaskAllowsDistinctDocuments(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var docA, docB types.DocumentID
	docA[0], docB[0] = 1, 2

	err := st.WithTx(ctx, func(tx Tx) error {
		if err := InsertTask(ctx, tx, TaskRow{Name: "reduce", DocumentID: &docA}); err != nil {
			return err
		}
		return InsertTask(ctx, tx, TaskRow{Name: "reduce", DocumentID: &docB})
	})
	require.NoError(t, err)

	tasks, err := GetTasks(ctx, st.Reader())
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}
