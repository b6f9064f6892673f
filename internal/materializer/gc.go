package materializer

import (
	"context"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
)

// GarbageCollection reclaims a deleted document's materialized state,
// or an orphaned view's rows, per spec §4.5. For a document_id: only
// acts if the document is currently marked deleted and no other view
// pins its current view via a pinned relation; cascade-deletes its rows
// via the store and, if its schema was blob_v1, removes the blob file
// too. For a document_view_id: only acts if no document still points at
// it as its current view and no other view pins it either
// (PruneDocumentView checks both).
func (m *Materializer) GarbageCollection(ctx context.Context, documentID *types.DocumentID, viewID *types.ViewID) error {
	if viewID != nil {
		if err := m.store.WithTx(ctx, func(tx store.Tx) error {
			return store.PruneDocumentView(ctx, tx, *viewID)
		}); err != nil {
			return &transientErr{err}
		}
		return nil
	}
	if documentID == nil {
		return fmt.Errorf("garbage_collection: task carries neither document_id nor document_view_id")
	}

	doc, err := store.GetDocument(ctx, m.store.Reader(), *documentID)
	if err != nil {
		return &transientErr{fmt.Errorf("load document for gc: %w", err)}
	}
	if !doc.IsDeleted {
		return nil
	}

	wasBlob := doc.SchemaID.System && doc.SchemaID.Name == "blob_v1"
	var deleted bool

	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		pinned, err := store.ViewIsPinned(ctx, tx, doc.DocumentViewID)
		if err != nil {
			return err
		}
		if pinned {
			// Some other view still pins this document's view via a
			// pinned_relation(_list) field (e.g. a schema's `fields` or a
			// blob's `pieces`); leave it materialized until that pin is
			// gone.
			return nil
		}
		deleted = true
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_view_fields WHERE document_view_id IN (
			SELECT document_view_id FROM document_views WHERE document_view_id = ?)`, doc.DocumentViewID.String()); err != nil {
			return fmt.Errorf("delete document view fields: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_views WHERE document_view_id = ?`, doc.DocumentViewID.String()); err != nil {
			return fmt.Errorf("delete document view: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM operation_fields_v1 WHERE operation_id IN (
			SELECT operation_id FROM operations_v1 WHERE document_id = ?)`, documentID.String()); err != nil {
			return fmt.Errorf("delete operation fields: %w", err)
		}
		// Entries are 1:1 with operations (an entry's hash equals the
		// operation_id it carried); this removes every entry belonging
		// to the document's operations, not only its create entry, per
		// spec §4.1's cascade-delete rule.
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE entry_hash IN (
			SELECT operation_id FROM operations_v1 WHERE document_id = ?)`, documentID.String()); err != nil {
			return fmt.Errorf("delete entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM operations_v1 WHERE document_id = ?`, documentID.String()); err != nil {
			return fmt.Errorf("delete operations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM logs WHERE document_id = ?`, documentID.String()); err != nil {
			return fmt.Errorf("delete log: %w", err)
		}
		// A deleted blob_v1 document owns rows in blob_pieces keyed by
		// its own id as blob_document_id; without this they orphan once
		// the documents row above is gone.
		if _, err := tx.ExecContext(ctx, `DELETE FROM blob_pieces WHERE blob_document_id = ?`, documentID.String()); err != nil {
			return fmt.Errorf("delete blob pieces: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, documentID.String()); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		return nil
	})
	if err != nil {
		return &transientErr{err}
	}
	if !deleted {
		return nil
	}

	if wasBlob {
		if err := RemoveBlobFile(m.blobsBasePath, *documentID); err != nil {
			m.log.ErrorCtx(ctx, "remove blob file failed during gc", "document_id", documentID.String(), "err", err)
		}
	}
	return nil
}
