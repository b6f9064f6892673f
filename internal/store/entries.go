package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/p2panda/aquadoggo/internal/types"
)

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }

func logIDText(id types.LogID) string { return strconv.FormatUint(uint64(id), 10) }

func seqNumText(n uint64) string { return strconv.FormatUint(n, 10) }

func hashPtrText(h *types.Hash) sql.NullString {
	if h == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: h.String(), Valid: true}
}

// InsertEntry persists a validated entry inside an existing
// transaction. Callers (the publish pipeline) are responsible for the
// surrounding WithTx.
func InsertEntry(ctx context.Context, tx Tx, e *types.Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries
			(author, log_id, seq_num, entry_hash, entry_bytes, payload_bytes,
			 payload_hash, payload_size, backlink, skiplink)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Author.String(), logIDText(e.LogID), seqNumText(e.SeqNum),
		e.EntryHash.String(), e.Encoded, e.Payload,
		e.PayloadHash.String(), e.PayloadSize,
		hashPtrText(e.Backlink), hashPtrText(e.Skiplink),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Queryer is satisfied by both *sql.DB and *sql.Tx, letting read
// helpers run either standalone or inside a publish transaction.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entryColumns = `author, log_id, seq_num, entry_bytes, payload_bytes, payload_hash,
	payload_size, backlink, skiplink, entry_hash`

type entryRow struct {
	authorStr, logIDStr, seqStr, payloadHashStr, hashStr string
	backlink, skiplink                                   sql.NullString
	encoded, payload                                     []byte
	payloadSize                                          uint64
}

func scanEntryRow(scan func(dest ...any) error) (*entryRow, error) {
	r := &entryRow{}
	err := scan(&r.authorStr, &r.logIDStr, &r.seqStr, &r.encoded, &r.payload,
		&r.payloadHashStr, &r.payloadSize, &r.backlink, &r.skiplink, &r.hashStr)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *entryRow) toEntry() (*types.Entry, error) {
	author, err := parsePublicKey(r.authorStr)
	if err != nil {
		return nil, err
	}
	logID, err := strconv.ParseUint(r.logIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse log_id: %w", err)
	}
	seq, err := strconv.ParseUint(r.seqStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse seq_num: %w", err)
	}
	payloadHash, err := types.HashFromString(r.payloadHashStr)
	if err != nil {
		return nil, err
	}
	entryHash, err := types.HashFromString(r.hashStr)
	if err != nil {
		return nil, err
	}

	e := &types.Entry{
		Author:      author,
		LogID:       types.LogID(logID),
		SeqNum:      seq,
		PayloadHash: payloadHash,
		PayloadSize: r.payloadSize,
		Encoded:     r.encoded,
		Payload:     r.payload,
		EntryHash:   entryHash,
	}
	if r.backlink.Valid {
		h, err := types.HashFromString(r.backlink.String)
		if err != nil {
			return nil, err
		}
		e.Backlink = &h
	}
	if r.skiplink.Valid {
		h, err := types.HashFromString(r.skiplink.String)
		if err != nil {
			return nil, err
		}
		e.Skiplink = &h
	}
	return e, nil
}

// GetEntry looks an entry up by its hash.
func GetEntry(ctx context.Context, q Queryer, hash types.Hash) (*types.Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+`
		FROM entries WHERE entry_hash = ?`, hash.String())
	r, err := scanEntryRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return r.toEntry()
}

// GetLatestEntry returns the highest-seq_num committed entry for
// (public_key, log_id), or ErrNoEntries if the log is empty.
func GetLatestEntry(ctx context.Context, q Queryer, author types.PublicKey, logID types.LogID) (*types.Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+`
		FROM entries
		WHERE author = ? AND log_id = ?
		ORDER BY CAST(seq_num AS NUMERIC) DESC
		LIMIT 1`, author.String(), logIDText(logID))
	r, err := scanEntryRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNoEntries
	}
	if err != nil {
		return nil, fmt.Errorf("get latest entry: %w", err)
	}
	return r.toEntry()
}

// GetEntriesNewerThan returns up to max entries in (public_key, log_id)
// with seq_num strictly greater than seqNum, ascending, for the
// log-height replication strategy.
func GetEntriesNewerThan(ctx context.Context, q Queryer, author types.PublicKey, logID types.LogID, seqNum uint64, max int) ([]*types.Entry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+entryColumns+`
		FROM entries
		WHERE author = ? AND log_id = ? AND CAST(seq_num AS NUMERIC) > ?
		ORDER BY CAST(seq_num AS NUMERIC) ASC
		LIMIT ?`, author.String(), logIDText(logID), seqNum, max)
	if err != nil {
		return nil, fmt.Errorf("get entries newer than: %w", err)
	}
	defer rows.Close()

	var out []*types.Entry
	for rows.Next() {
		r, err := scanEntryRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e, err := r.toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parsePublicKey(s string) (types.PublicKey, error) {
	var pk types.PublicKey
	b, err := hexDecode(s)
	if err != nil {
		return pk, fmt.Errorf("parse public key: %w", err)
	}
	if len(b) != len(pk) {
		return pk, fmt.Errorf("parse public key: want %d bytes got %d", len(pk), len(b))
	}
	copy(pk[:], b)
	return pk, nil
}
