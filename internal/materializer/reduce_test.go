package materializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/types"
)

func opID(t *testing.T, seed byte) types.OperationID {
	t.Helper()
	var h types.Hash
	h[0] = seed
	return h
}

func testSchema(t *testing.T) types.SchemaID {
	t.Helper()
	view := types.NewViewID([]types.OperationID{opID(t, 200)})
	return types.SchemaID{Name: "event", ViewID: view}
}

// buildChain builds create(1) -> update(2) -> update(3), a linear DAG.
func buildChain(t *testing.T) map[string]*types.Operation {
	t.Helper()
	create := &types.Operation{
		ID:         opID(t, 1),
		Action:     types.ActionCreate,
		SchemaID:   testSchema(t),
		DocumentID: opID(t, 1),
		Fields:     map[string]types.FieldValue{"title": {Type: types.FieldString, String: "a"}},
	}
	update1 := &types.Operation{
		ID:         opID(t, 2),
		Action:     types.ActionUpdate,
		SchemaID:   testSchema(t),
		DocumentID: opID(t, 1),
		Previous:   []types.OperationID{create.ID},
		Fields:     map[string]types.FieldValue{"title": {Type: types.FieldString, String: "b"}},
	}
	update2 := &types.Operation{
		ID:         opID(t, 3),
		Action:     types.ActionUpdate,
		SchemaID:   testSchema(t),
		DocumentID: opID(t, 1),
		Previous:   []types.OperationID{update1.ID},
		Fields:     map[string]types.FieldValue{"title": {Type: types.FieldString, String: "c"}},
	}
	return map[string]*types.Operation{
		create.ID.String():  create,
		update1.ID.String(): update1,
		update2.ID.String(): update2,
	}
}

func TestTopoSortLinearChain(t *testing.T) {
	ops := buildChain(t)
	sorted, err := topoSort(ops)
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	assert.Equal(t, opID(t, 1), sorted[0].ID)
	assert.Equal(t, opID(t, 2), sorted[1].ID)
	assert.Equal(t, opID(t, 3), sorted[2].ID)
}

func TestTopoSortBreaksConcurrentTiesByID(t *testing.T) {
	create := &types.Operation{ID: opID(t, 1), Action: types.ActionCreate, SchemaID: testSchema(t)}
	// Two concurrent updates both branching from create, neither
	// referencing the other.
	concA := &types.Operation{ID: opID(t, 5), Action: types.ActionUpdate, SchemaID: testSchema(t), Previous: []types.OperationID{create.ID}}
	concB := &types.Operation{ID: opID(t, 2), Action: types.ActionUpdate, SchemaID: testSchema(t), Previous: []types.OperationID{create.ID}}

	ops := map[string]*types.Operation{
		create.ID.String(): create,
		concA.ID.String():  concA,
		concB.ID.String():  concB,
	}
	sorted, err := topoSort(ops)
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	assert.Equal(t, create.ID, sorted[0].ID)
	// concB's id sorts lexicographically before concA's, so it's ready first.
	assert.Equal(t, concB.ID, sorted[1].ID)
	assert.Equal(t, concA.ID, sorted[2].ID)
}

func TestTopoSortTreatsAncestorOutsideClosureAsAlreadyApplied(t *testing.T) {
	dangling := &types.Operation{
		ID:       opID(t, 9),
		Action:   types.ActionUpdate,
		SchemaID: testSchema(t),
		Previous: []types.OperationID{opID(t, 1)}, // never included below
	}
	ops := map[string]*types.Operation{dangling.ID.String(): dangling}
	sorted, err := topoSort(ops)
	require.NoError(t, err)
	assert.Len(t, sorted, 1)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	a := &types.Operation{ID: opID(t, 1), Action: types.ActionUpdate, SchemaID: testSchema(t), Previous: []types.OperationID{opID(t, 2)}}
	b := &types.Operation{ID: opID(t, 2), Action: types.ActionUpdate, SchemaID: testSchema(t), Previous: []types.OperationID{opID(t, 1)}}
	ops := map[string]*types.Operation{a.ID.String(): a, b.ID.String(): b}
	_, err := topoSort(ops)
	assert.Error(t, err)
}

func TestTipsOfLinearChain(t *testing.T) {
	ops := buildChain(t)
	tips := tipsOf(ops)
	require.Len(t, tips, 1)
	assert.Equal(t, opID(t, 3), tips[0].ID)
}

func TestTipsOfBranchingChain(t *testing.T) {
	create := &types.Operation{ID: opID(t, 1), Action: types.ActionCreate, SchemaID: testSchema(t)}
	branchA := &types.Operation{ID: opID(t, 2), Action: types.ActionUpdate, SchemaID: testSchema(t), Previous: []types.OperationID{create.ID}}
	branchB := &types.Operation{ID: opID(t, 3), Action: types.ActionUpdate, SchemaID: testSchema(t), Previous: []types.OperationID{create.ID}}

	ops := map[string]*types.Operation{
		create.ID.String():  create,
		branchA.ID.String(): branchA,
		branchB.ID.String(): branchB,
	}
	tips := tipsOf(ops)
	require.Len(t, tips, 2)
	assert.ElementsMatch(t, []types.OperationID{branchA.ID, branchB.ID}, []types.OperationID{tips[0].ID, tips[1].ID})
}

func TestClosureRestrictsToAncestors(t *testing.T) {
	ops := buildChain(t)
	restricted := closure(ops, []types.OperationID{opID(t, 2)})
	assert.Len(t, restricted, 2)
	_, hasCreate := restricted[opID(t, 1).String()]
	_, hasUpdate1 := restricted[opID(t, 2).String()]
	_, hasUpdate2 := restricted[opID(t, 3).String()]
	assert.True(t, hasCreate)
	assert.True(t, hasUpdate1)
	assert.False(t, hasUpdate2)
}

func TestReduceOperationsLastWriteWins(t *testing.T) {
	ops := buildChain(t)
	sorted, err := topoSort(ops)
	require.NoError(t, err)

	result := reduceOperations(sorted)
	assert.False(t, result.IsDeleted)
	assert.Equal(t, opID(t, 3), result.FieldSources["title"])
	assert.True(t, result.ViewID.IsCreate())
}

func TestReduceOperationsConcurrentWritesHigherIDWins(t *testing.T) {
	create := &types.Operation{ID: opID(t, 1), Action: types.ActionCreate, SchemaID: testSchema(t), Fields: map[string]types.FieldValue{"title": {Type: types.FieldString, String: "a"}}}
	concLow := &types.Operation{ID: opID(t, 2), Action: types.ActionUpdate, SchemaID: testSchema(t), Previous: []types.OperationID{create.ID}, Fields: map[string]types.FieldValue{"title": {Type: types.FieldString, String: "low"}}}
	concHigh := &types.Operation{ID: opID(t, 5), Action: types.ActionUpdate, SchemaID: testSchema(t), Previous: []types.OperationID{create.ID}, Fields: map[string]types.FieldValue{"title": {Type: types.FieldString, String: "high"}}}

	ops := map[string]*types.Operation{
		create.ID.String():   create,
		concLow.ID.String():  concLow,
		concHigh.ID.String(): concHigh,
	}
	sorted, err := topoSort(ops)
	require.NoError(t, err)
	result := reduceOperations(sorted)
	// the higher operation_id is processed last among the concurrent
	// pair, so its write to "title" wins.
	assert.Equal(t, concHigh.ID, result.FieldSources["title"])
}

func TestReduceOperationsDeleteWins(t *testing.T) {
	create := &types.Operation{ID: opID(t, 1), Action: types.ActionCreate, SchemaID: testSchema(t), Fields: map[string]types.FieldValue{"title": {Type: types.FieldString, String: "a"}}}
	del := &types.Operation{ID: opID(t, 2), Action: types.ActionDelete, SchemaID: testSchema(t), Previous: []types.OperationID{create.ID}}

	ops := map[string]*types.Operation{
		create.ID.String(): create,
		del.ID.String():    del,
	}
	sorted, err := topoSort(ops)
	require.NoError(t, err)
	result := reduceOperations(sorted)
	assert.True(t, result.IsDeleted)
	assert.Empty(t, result.FieldSources)
}
