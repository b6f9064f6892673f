// Package materializer implements the spec §4.5 task handlers: reduce,
// dependency, schema, blob, garbage_collection. Each is registered
// with an internal/tasks.Queue as a Handler and shares one *Materializer
// for its store/schema-provider/blob-directory collaborators.
//
// The CRDT field tie-break in reduce.go is grounded on
// drpcorg-chotki/lww.go's last-writer-wins register merge (keyed by id
// ordering), generalized from a single scalar register to a map of
// (operation_id, field_name) -> value reduced left-to-right in
// topological order over a Kahn's-algorithm sort of the `previous` DAG.
package materializer

import (
	"context"
	"fmt"
	"sort"

	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
)

// loadDocumentOperations returns every committed operation belonging
// to documentID, keyed by operation id string.
func loadDocumentOperations(ctx context.Context, q store.Queryer, documentID types.DocumentID) (map[string]*types.Operation, error) {
	rows, err := q.QueryContext(ctx, `SELECT operation_id FROM operations_v1 WHERE document_id = ?`, documentID.String())
	if err != nil {
		return nil, fmt.Errorf("list document operations: %w", err)
	}
	var ids []types.OperationID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan operation id: %w", err)
		}
		id, err := types.HashFromString(idStr)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ops := make(map[string]*types.Operation, len(ids))
	for _, id := range ids {
		op, err := store.GetOperation(ctx, q, id)
		if err != nil {
			return nil, fmt.Errorf("load operation %s: %w", id, err)
		}
		ops[id.String()] = op
	}
	return ops, nil
}

// closure restricts ops to the ancestors of tips (inclusive), for
// reducing a historical view rather than the document's current state.
func closure(ops map[string]*types.Operation, tips []types.OperationID) map[string]*types.Operation {
	out := make(map[string]*types.Operation, len(ops))
	var visit func(id string)
	visit = func(id string) {
		if _, ok := out[id]; ok {
			return
		}
		op, ok := ops[id]
		if !ok {
			return
		}
		out[id] = op
		for _, p := range op.Previous {
			visit(p.String())
		}
	}
	for _, t := range tips {
		visit(t.String())
	}
	return out
}

// topoSort orders ops so every operation appears after everything in
// its Previous set, breaking ties among simultaneously-ready
// operations by ascending operation_id — Kahn's algorithm, per Design
// Notes "Causal DAG traversal".
func topoSort(ops map[string]*types.Operation) ([]*types.Operation, error) {
	inDegree := make(map[string]int, len(ops))
	dependents := make(map[string][]string, len(ops))

	for id, op := range ops {
		count := 0
		for _, p := range op.Previous {
			pid := p.String()
			if _, ok := ops[pid]; !ok {
				continue // ancestor outside this closure, already applied
			}
			count++
			dependents[pid] = append(dependents[pid], id)
		}
		inDegree[id] = count
	}

	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	var sorted []*types.Operation
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		sorted = append(sorted, ops[next])

		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(sorted) != len(ops) {
		return nil, fmt.Errorf("topological sort: cycle or missing ancestor detected (%d of %d ops ordered)", len(sorted), len(ops))
	}
	return sorted, nil
}

// tips returns the operations in ops that no other operation in ops
// references via Previous — the current frontier of the (sub-)DAG.
func tipsOf(ops map[string]*types.Operation) []*types.Operation {
	referenced := make(map[string]bool, len(ops))
	for _, op := range ops {
		for _, p := range op.Previous {
			referenced[p.String()] = true
		}
	}
	var out []*types.Operation
	for id, op := range ops {
		if !referenced[id] {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// reduced is the outcome of applying a topologically sorted operation
// sequence left-to-right.
type reduced struct {
	ViewID       types.ViewID
	SchemaID     types.SchemaID
	FieldSources map[string]types.OperationID
	IsDeleted    bool
}

// reduceOperations applies sorted operations left-to-right, each
// overwriting a field's source operation on conflict — since ties
// among concurrent (non-causally-ordered) writers are broken by
// processing ascending operation_id first, the later (higher id)
// write always wins, matching spec §8 seed scenario 2 ("the one with
// lexicographically higher id wins per field").
func reduceOperations(sorted []*types.Operation) reduced {
	sources := make(map[string]types.OperationID)
	var schemaID types.SchemaID
	tips := tipsOf(opsByID(sorted))
	isDeleted := false
	for _, t := range tips {
		if t.Action == types.ActionDelete {
			isDeleted = true
		}
	}

	if !isDeleted {
		for _, op := range sorted {
			schemaID = op.SchemaID
			for name := range op.Fields {
				sources[name] = op.ID
			}
		}
	} else if len(sorted) > 0 {
		schemaID = sorted[len(sorted)-1].SchemaID
	}

	tipIDs := make([]types.OperationID, len(tips))
	for i, t := range tips {
		tipIDs[i] = t.ID
	}

	return reduced{
		ViewID:       types.NewViewID(tipIDs),
		SchemaID:     schemaID,
		FieldSources: sources,
		IsDeleted:    isDeleted,
	}
}

func opsByID(sorted []*types.Operation) map[string]*types.Operation {
	m := make(map[string]*types.Operation, len(sorted))
	for _, op := range sorted {
		m[op.ID.String()] = op
	}
	return m
}

// Reduce computes and persists the view for either a whole document
// (documentID set, computes the *current* view over all its
// operations) or a specific historical frontier (viewID set, computes
// the view over exactly the ancestors of those tips), per spec §4.5.
func (m *Materializer) Reduce(ctx context.Context, documentID *types.DocumentID, viewID *types.ViewID) error {
	docID, err := m.resolveDocumentID(ctx, documentID, viewID)
	if err != nil {
		return err
	}

	ops, err := loadDocumentOperations(ctx, m.store.Reader(), docID)
	if err != nil {
		return &transientErr{err}
	}
	if len(ops) == 0 {
		return fmt.Errorf("reduce: no operations found for document %s", docID)
	}

	// documentID set (the ordinary publish-pipeline path, which always
	// sets both document_id and view_id) means "compute the current
	// view": target must be every operation the document has, not just
	// the ancestors of whichever tip happened to trigger this task, or
	// concurrent sibling tips published earlier would drop out of the
	// reduction. Only a task carrying view_id alone (historical-view
	// mode, e.g. resolving a pinned relation) restricts to that view's
	// ancestors.
	target := ops
	if documentID == nil && viewID != nil {
		target = closure(ops, viewID.Tips())
	}

	sorted, err := topoSort(target)
	if err != nil {
		return fmt.Errorf("reduce %s: %w", docID, err)
	}
	result := reduceOperations(sorted)

	var newlyMaterialized bool
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		if err := store.InsertDocumentView(ctx, tx, result.ViewID, result.SchemaID, result.FieldSources); err != nil {
			return err
		}
		if documentID != nil {
			if err := store.UpsertDocument(ctx, tx, docID, result.ViewID, result.SchemaID, result.IsDeleted); err != nil {
				return err
			}
		}
		newlyMaterialized = true
		return nil
	})
	if err != nil {
		return &transientErr{err}
	}

	if newlyMaterialized {
		view := result.ViewID
		if err := m.enqueue(ctx, "dependency", nil, &view); err != nil {
			m.log.ErrorCtx(ctx, "enqueue dependency task failed", "err", err)
		}
		if result.SchemaID.System && (result.SchemaID.Name == "schema_definition_v1" || result.SchemaID.Name == "schema_field_definition_v1") {
			if err := m.enqueue(ctx, "schema", nil, &view); err != nil {
				m.log.ErrorCtx(ctx, "enqueue schema task failed", "err", err)
			}
		}
		if result.IsDeleted {
			d := docID
			if err := m.enqueue(ctx, "garbage_collection", &d, nil); err != nil {
				m.log.ErrorCtx(ctx, "enqueue garbage_collection task failed", "err", err)
			}
		}
		if !result.IsDeleted && result.SchemaID.System && result.SchemaID.Name == "blob_v1" {
			d := docID
			if err := m.enqueue(ctx, "blob", &d, &view); err != nil {
				m.log.ErrorCtx(ctx, "enqueue blob task failed", "err", err)
			}
		}
	}
	return nil
}

func (m *Materializer) resolveDocumentID(ctx context.Context, documentID *types.DocumentID, viewID *types.ViewID) (types.DocumentID, error) {
	if documentID != nil {
		return *documentID, nil
	}
	if viewID == nil {
		return types.DocumentID{}, fmt.Errorf("reduce: task carries neither document_id nor document_view_id")
	}
	tips := viewID.Tips()
	if len(tips) == 0 {
		return types.DocumentID{}, fmt.Errorf("reduce: empty view id")
	}
	op, err := store.GetOperation(ctx, m.store.Reader(), tips[0])
	if err != nil {
		return types.DocumentID{}, fmt.Errorf("resolve document id from view: %w", err)
	}
	return op.DocumentID, nil
}
