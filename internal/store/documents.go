package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/types"
)

// InsertDocumentView materializes one reduced view of a document: the
// view id (the sorted hash of its causal tips) plus, per field name,
// the operation that last wrote it — the pointer the materializer's
// LWW reduction (internal/materializer) resolves to. Per spec §4.4
// "materialize a view".
func InsertDocumentView(ctx context.Context, tx Tx, viewID types.ViewID, schemaID types.SchemaID, fieldSources map[string]types.OperationID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_views (document_view_id, schema_id) VALUES (?, ?)
		`+tx.Backend().OnConflictDoNothing("document_view_id"),
		viewID.String(), schemaID.String())
	if err != nil {
		return fmt.Errorf("insert document view: %w", err)
	}

	for name, opID := range fieldSources {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_view_fields (document_view_id, operation_id, name)
			VALUES (?, ?, ?)
			`+tx.Backend().OnConflictDoNothing("document_view_id", "name"),
			viewID.String(), opID.String(), name)
		if err != nil {
			return fmt.Errorf("insert document view field %q: %w", name, err)
		}
	}
	return nil
}

// UpsertDocument records or updates a document's current materialized
// view and deletion state, per spec §4.4's document-level bookkeeping.
func UpsertDocument(ctx context.Context, tx Tx, documentID types.DocumentID, viewID types.ViewID, schemaID types.SchemaID, isDeleted bool) error {
	deletedInt := 0
	if isDeleted {
		deletedInt = 1
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET document_view_id = ?, schema_id = ?, is_deleted = ?
		WHERE document_id = ?`,
		viewID.String(), schemaID.String(), deletedInt, documentID.String())
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (document_id, document_view_id, schema_id, is_deleted)
		VALUES (?, ?, ?, ?)`,
		documentID.String(), viewID.String(), schemaID.String(), deletedInt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// DocumentRow is a document's current materialization pointer, per
// spec §4.4.
type DocumentRow struct {
	DocumentID     types.DocumentID
	DocumentViewID types.ViewID
	SchemaID       types.SchemaID
	IsDeleted      bool
}

// GetDocument looks up a document's current view pointer.
func GetDocument(ctx context.Context, q Queryer, documentID types.DocumentID) (*DocumentRow, error) {
	var viewIDStr, schemaIDStr string
	var deletedInt int
	err := q.QueryRowContext(ctx, `
		SELECT document_view_id, schema_id, is_deleted
		FROM documents WHERE document_id = ?`, documentID.String(),
	).Scan(&viewIDStr, &schemaIDStr, &deletedInt)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	viewID, err := types.ParseViewID(viewIDStr)
	if err != nil {
		return nil, err
	}
	schemaID, err := types.ParseSchemaID(schemaIDStr)
	if err != nil {
		return nil, err
	}
	return &DocumentRow{
		DocumentID:     documentID,
		DocumentViewID: viewID,
		SchemaID:       schemaID,
		IsDeleted:      deletedInt != 0,
	}, nil
}

// GetDocumentViewFields resolves a materialized view's field name ->
// value map by joining through the operations that set each field,
// for the query planner (internal/query) to project.
func GetDocumentViewFields(ctx context.Context, q Queryer, viewID types.ViewID) (map[string]types.FieldValue, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT dvf.name, dvf.operation_id
		FROM document_view_fields dvf
		WHERE dvf.document_view_id = ?`, viewID.String())
	if err != nil {
		return nil, fmt.Errorf("get document view fields: %w", err)
	}
	type source struct {
		name string
		opID types.OperationID
	}
	var sources []source
	for rows.Next() {
		var name, opIDStr string
		if err := rows.Scan(&name, &opIDStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan document view field: %w", err)
		}
		opID, err := types.HashFromString(opIDStr)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sources = append(sources, source{name: name, opID: opID})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]types.FieldValue, len(sources))
	for _, s := range sources {
		fields, err := getOperationFields(ctx, q, s.opID)
		if err != nil {
			return nil, err
		}
		v, ok := fields[s.name]
		if !ok {
			return nil, fmt.Errorf("field %q not found on operation %s", s.name, s.opID)
		}
		out[s.name] = v
	}
	return out, nil
}

// ListDocumentsBySchema returns every document currently materialized
// under schemaID, ascending by document id; deleted documents are
// included, with IsDeleted set.
func ListDocumentsBySchema(ctx context.Context, q Queryer, schemaID types.SchemaID) ([]*DocumentRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT document_id, document_view_id, is_deleted
		FROM documents
		WHERE schema_id = ?
		ORDER BY document_id ASC`, schemaID.String())
	if err != nil {
		return nil, fmt.Errorf("list documents by schema: %w", err)
	}
	defer rows.Close()

	var out []*DocumentRow
	for rows.Next() {
		var docIDStr, viewIDStr string
		var deletedInt int
		if err := rows.Scan(&docIDStr, &viewIDStr, &deletedInt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docID, err := types.HashFromString(docIDStr)
		if err != nil {
			return nil, err
		}
		viewID, err := types.ParseViewID(viewIDStr)
		if err != nil {
			return nil, err
		}
		out = append(out, &DocumentRow{
			DocumentID:     docID,
			DocumentViewID: viewID,
			SchemaID:       schemaID,
			IsDeleted:      deletedInt != 0,
		})
	}
	return out, rows.Err()
}

// ViewIsPinned reports whether any currently materialized view's field
// was written by a pinned_relation/pinned_relation_list operation whose
// value (or, for a list, one of its items) names viewID — i.e. whether
// some other document view transitively pins it, per spec §4.5's GC
// precondition. A view held this way (a schema_definition_v1's `fields`
// pinning a schema_field_definition_v1 view, or a blob_v1's `pieces`
// pinning a blob_piece_v1 view) is not reachable through
// documents.document_view_id at all, so that check alone is not enough.
func ViewIsPinned(ctx context.Context, q Queryer, viewID types.ViewID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM document_view_fields dvf
		JOIN operation_fields_v1 f ON f.operation_id = dvf.operation_id AND f.name = dvf.name
		WHERE f.field_type IN ('pinned_relation', 'pinned_relation_list') AND f.value = ?`,
		viewID.String(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pinned view refcount: %w", err)
	}
	return count > 0, nil
}

// PruneDocumentView deletes a materialized view no longer referenced
// as any document's current view and no longer pinned by any other
// view's relation field, per spec §4.4/§4.5's garbage collection task.
func PruneDocumentView(ctx context.Context, tx Tx, viewID types.ViewID) error {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE document_view_id = ?`, viewID.String(),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check view refcount: %w", err)
	}
	if count > 0 {
		return nil
	}
	pinned, err := ViewIsPinned(ctx, tx, viewID)
	if err != nil {
		return err
	}
	if pinned {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_view_fields WHERE document_view_id = ?`, viewID.String()); err != nil {
		return fmt.Errorf("prune document view fields: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_views WHERE document_view_id = ?`, viewID.String()); err != nil {
		return fmt.Errorf("prune document view: %w", err)
	}
	return nil
}
