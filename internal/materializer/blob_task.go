package materializer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
)

const blobReadBufferSize = 64 * 1024

// Blob reads a blob_v1 document's pieces in pinned order and streams
// them into <blobs_dir>/<document_id>, per spec §4.5/§6. Writes go to
// a ".tmp" sibling first, then an atomic rename, and streaming uses a
// bounded buffer rather than loading pieces whole (Design Notes "Blob
// streaming").
func (m *Materializer) Blob(ctx context.Context, documentID types.DocumentID, viewID types.ViewID) error {
	fields, err := store.GetDocumentViewFields(ctx, m.store.Reader(), viewID)
	if err != nil {
		return &transientErr{fmt.Errorf("load blob view fields: %w", err)}
	}

	piecesVal, ok := fields["pieces"]
	if !ok || !piecesVal.Type.IsList() {
		return fmt.Errorf("blob view %s missing \"pieces\" relation list", viewID)
	}

	pieceViews := make([]types.ViewID, 0, len(piecesVal.List))
	for _, item := range piecesVal.List {
		if item.Type != types.FieldPinnedRelation {
			return fmt.Errorf("blob view %s: \"pieces\" item is not a pinned relation", viewID)
		}
		pieceViews = append(pieceViews, item.Pinned)
	}

	pieceData := make(map[string][]byte, len(pieceViews))
	for _, pv := range pieceViews {
		data, complete, err := m.readBlobPiece(ctx, pv)
		if err != nil {
			return &transientErr{err}
		}
		if !complete {
			// Piece not materialized yet: return without writing
			// anything. Dependency enqueues "reduce" for missing piece
			// views but never "blob", so this task runs again only when
			// the blob_v1 document itself is reduced again.
			return nil
		}
		pieceData[pv.String()] = data
	}

	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		for i, pv := range pieceViews {
			if err := store.InsertBlobPiece(ctx, tx, documentID, pv, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &transientErr{err}
	}

	// Assemble from blob_pieces, not the in-memory pieceViews slice, so
	// the write path is driven by the same durable ordering a restart
	// would see (store.GetBlobPieceViews, ordered by piece_index).
	persisted, err := store.GetBlobPieceViews(ctx, m.store.Reader(), documentID)
	if err != nil {
		return &transientErr{fmt.Errorf("load persisted blob piece order: %w", err)}
	}
	ordered := make([][]byte, len(persisted))
	for i, pv := range persisted {
		data, ok := pieceData[pv.String()]
		if !ok {
			return &transientErr{fmt.Errorf("blob %s: persisted piece view %s missing from read set", documentID, pv)}
		}
		ordered[i] = data
	}

	return writeBlobFile(m.blobsBasePath, documentID, ordered)
}

func (m *Materializer) readBlobPiece(ctx context.Context, viewID types.ViewID) ([]byte, bool, error) {
	fields, err := store.GetDocumentViewFields(ctx, m.store.Reader(), viewID)
	if err != nil {
		return nil, false, fmt.Errorf("load blob piece view %s: %w", viewID, err)
	}
	data, ok := fields["data"]
	if !ok || data.Type != types.FieldBytes {
		return nil, false, nil
	}
	return data.Bytes, true, nil
}

func writeBlobFile(basePath string, documentID types.DocumentID, pieces [][]byte) error {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return fmt.Errorf("create blobs directory: %w", err)
	}
	finalPath := filepath.Join(basePath, documentID.String())
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create blob temp file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, blobReadBufferSize)
	for _, piece := range pieces {
		r := bytes.NewReader(piece)
		if _, err := io.CopyBuffer(f, r, buf); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("write blob piece: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sync blob temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close blob temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename blob into place: %w", err)
	}
	return nil
}

// RemoveBlobFile deletes a materialized blob when its document is
// garbage collected, per spec §4.5's garbage_collection task.
func RemoveBlobFile(basePath string, documentID types.DocumentID) error {
	err := os.Remove(filepath.Join(basePath, documentID.String()))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob file: %w", err)
	}
	return nil
}
