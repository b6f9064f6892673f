package store

import (
	"context"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/types"
)

// InsertBlobPiece records that pieceView is the piece at position
// index within blobDocumentID's ordered byte sequence, per spec's
// blob_v1/blob_piece_v1 system schemas (§4.4 "blob" task).
func InsertBlobPiece(ctx context.Context, tx Tx, blobDocumentID types.DocumentID, pieceView types.ViewID, index int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blob_pieces (blob_document_id, document_view_id, piece_index)
		VALUES (?, ?, ?)
		`+tx.Backend().OnConflictDoNothing("blob_document_id", "piece_index"),
		blobDocumentID.String(), pieceView.String(), index)
	if err != nil {
		return fmt.Errorf("insert blob piece: %w", err)
	}
	return nil
}

// GetBlobPieceViews returns the document views of a blob's pieces, in
// assembly order, for the "blob" materializer task to concatenate.
func GetBlobPieceViews(ctx context.Context, q Queryer, blobDocumentID types.DocumentID) ([]types.ViewID, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT document_view_id FROM blob_pieces
		WHERE blob_document_id = ?
		ORDER BY piece_index ASC`, blobDocumentID.String())
	if err != nil {
		return nil, fmt.Errorf("get blob piece views: %w", err)
	}
	defer rows.Close()

	var out []types.ViewID
	for rows.Next() {
		var viewIDStr string
		if err := rows.Scan(&viewIDStr); err != nil {
			return nil, fmt.Errorf("scan blob piece: %w", err)
		}
		v, err := types.ParseViewID(viewIDStr)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
