package materializer

import (
	"context"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
)

// Dependency examines a materialized view's relation fields and
// enqueues reduce for any referenced document/view not yet present,
// per spec §4.5. It is idempotent: re-running it after all relations
// resolve is a no-op, which is how it naturally stops being re-queued
// once the causal graph it depends on is fully materialized.
func (m *Materializer) Dependency(ctx context.Context, viewID types.ViewID) error {
	fields, err := store.GetDocumentViewFields(ctx, m.store.Reader(), viewID)
	if err != nil {
		return &transientErr{fmt.Errorf("load view fields: %w", err)}
	}

	for _, v := range fields {
		if err := m.resolveRelationValue(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Materializer) resolveRelationValue(ctx context.Context, v types.FieldValue) error {
	if v.Type.IsList() {
		for _, item := range v.List {
			if err := m.resolveRelationValue(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}

	switch v.Type {
	case types.FieldRelation:
		if v.Relation.IsZero() {
			return nil
		}
		if _, err := store.GetDocument(ctx, m.store.Reader(), v.Relation); err == store.ErrDocumentNotFound {
			d := v.Relation
			return m.enqueue(ctx, "reduce", &d, nil)
		} else if err != nil {
			return &transientErr{err}
		}
	case types.FieldPinnedRelation:
		if len(v.Pinned.Tips()) == 0 {
			return nil
		}
		if !m.viewExists(ctx, v.Pinned) {
			view := v.Pinned
			return m.enqueue(ctx, "reduce", nil, &view)
		}
	}
	return nil
}

func (m *Materializer) viewExists(ctx context.Context, viewID types.ViewID) bool {
	var count int
	err := m.store.Reader().QueryRowContext(ctx, `SELECT COUNT(*) FROM document_views WHERE document_view_id = ?`, viewID.String()).Scan(&count)
	return err == nil && count > 0
}
