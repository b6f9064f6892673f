// Package validator implements the stateless publish preconditions of
// spec §4.2: decoding, signature verification, per-author/per-document
// log-ordering rules, and (when the schema is known) structural field
// conformance. It is a pure function of the store's current state plus
// the entry/operation bytes handed to it — no mutation happens here,
// that is internal/publish's job once validation passes.
package validator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/crypto"
	"github.com/p2panda/aquadoggo/internal/encoding"
	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
)

// ErrorKind is the failure taxonomy from spec §4.2. Only Duplicate is
// idempotent-success; every other kind rejects the publish with no
// side effect.
type ErrorKind string

const (
	InvalidEncoding   ErrorKind = "InvalidEncoding"
	InvalidSignature  ErrorKind = "InvalidSignature"
	LogIdMismatch     ErrorKind = "LogIdMismatch"
	SeqNumGap         ErrorKind = "SeqNumGap"
	BacklinkMissing   ErrorKind = "BacklinkMissing"
	SkiplinkMismatch  ErrorKind = "SkiplinkMismatch"
	SchemaNotSupported ErrorKind = "SchemaNotSupported"
	PayloadMismatch   ErrorKind = "PayloadMismatch"
	PreviousNotFound  ErrorKind = "PreviousNotFound"
	Duplicate         ErrorKind = "Duplicate"
)

// Error wraps an ErrorKind with the underlying detail, per spec §5's
// "Validation" error class — rejected without side effects, surfaced
// to the publisher as-is.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

// SchemaChecker is the subset of the schema provider (internal/schema)
// the validator needs. When a schema isn't yet known, Validate is not
// consulted and only structural (not conformance) checks apply, per
// spec §4.2 "when the node has it".
type SchemaChecker interface {
	Has(id types.SchemaID) bool
	Validate(id types.SchemaID, fields map[string]types.FieldValue) error
}

// Validator holds the read-only collaborators the publish pipeline
// checks preconditions against.
type Validator struct {
	suite  crypto.Suite
	schema SchemaChecker
}

// New builds a Validator. schema may be nil, disabling schema
// conformance checks (structural checks still apply).
func New(suite crypto.Suite, schema SchemaChecker) *Validator {
	return &Validator{suite: suite, schema: schema}
}

// NextArgs is the arguments a client needs to author the next entry on
// (publicKey, documentViewID)'s log: the log id, the seq_num to use,
// and the backlink/skiplink hashes to reference. A nil documentViewID
// requests the arguments for a brand new document (log_id is picked by
// the caller's next EnsureLog call, seq_num is 1, no back/skip links).
type NextArgs struct {
	LogID     types.LogID
	SeqNum    uint64
	Backlink  *types.Hash
	Skiplink  *types.Hash
}

// ComputeNextArgs resolves NextArgs for an existing log identified by
// (publicKey, logID). Brand-new-document callers skip this entirely
// and use the zero-value convention (seq_num=1, no links).
func ComputeNextArgs(ctx context.Context, q store.Queryer, author types.PublicKey, logID types.LogID) (*NextArgs, error) {
	latest, err := store.GetLatestEntry(ctx, q, author, logID)
	if errors.Is(err, store.ErrNoEntries) {
		return &NextArgs{LogID: logID, SeqNum: 1}, nil
	}
	if err != nil {
		return nil, err
	}

	seqNum := latest.SeqNum + 1
	backlink := latest.EntryHash

	args := &NextArgs{LogID: logID, SeqNum: seqNum, Backlink: &backlink}

	skipSeq := encoding.Lipmaa(seqNum)
	if skipSeq != 0 && skipSeq != latest.SeqNum {
		skipEntries, err := store.GetEntriesNewerThan(ctx, q, author, logID, skipSeq-1, 1)
		if err != nil {
			return nil, err
		}
		if len(skipEntries) == 1 && skipEntries[0].SeqNum == skipSeq {
			h := skipEntries[0].EntryHash
			args.Skiplink = &h
		}
	} else if skipSeq == latest.SeqNum {
		h := latest.EntryHash
		args.Skiplink = &h
	}
	return args, nil
}

// Decoded is a validated, but not yet persisted, entry+operation pair.
type Decoded struct {
	Entry     *types.Entry
	Operation *types.Operation
}

// Validate runs every spec §4.2 precondition against entryBytes and
// operationBytes, in an existing transaction so log-ordering checks
// see the writer's own in-flight state. It never mutates the store.
func (v *Validator) Validate(ctx context.Context, tx store.Tx, entryBytes, operationBytes []byte) (*Decoded, error) {
	entry, err := encoding.DecodeEntry(entryBytes)
	if err != nil {
		return nil, fail(InvalidEncoding, err)
	}
	entry.EntryHash = v.suite.Hash(entryBytes[:len(entryBytes)-len(entry.Signature)])
	entry.Payload = operationBytes
	entry.PayloadSize = uint64(len(operationBytes))

	if _, err := store.GetEntry(ctx, tx, entry.EntryHash); err == nil {
		return nil, fail(Duplicate, nil)
	} else if !errors.Is(err, store.ErrEntryNotFound) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	header := entryBytes[:len(entryBytes)-len(entry.Signature)]
	if !v.suite.Verify(entry.Author, header, entry.Signature) {
		return nil, fail(InvalidSignature, nil)
	}

	payloadHash := v.suite.Hash(operationBytes)
	if payloadHash != entry.PayloadHash {
		return nil, fail(PayloadMismatch, fmt.Errorf("entry payload_hash does not match hash(operation_bytes)"))
	}

	op, err := encoding.DecodeOperation(operationBytes)
	if err != nil {
		return nil, fail(InvalidEncoding, err)
	}
	op.Author = entry.Author
	op.ID = entry.EntryHash

	if v.schema != nil && v.schema.Has(op.SchemaID) {
		if err := v.schema.Validate(op.SchemaID, op.Fields); err != nil {
			return nil, fail(SchemaNotSupported, err)
		}
	}

	switch op.Action {
	case types.ActionCreate:
		if err := v.validateCreate(ctx, tx, entry, op); err != nil {
			return nil, err
		}
	case types.ActionUpdate, types.ActionDelete:
		if err := v.validateUpdateOrDelete(ctx, tx, entry, op); err != nil {
			return nil, err
		}
	default:
		return nil, fail(InvalidEncoding, fmt.Errorf("unknown operation action %q", op.Action))
	}

	if err := v.validatePrevious(ctx, tx, op); err != nil {
		return nil, err
	}

	entry.Encoded = entryBytes
	return &Decoded{Entry: entry, Operation: op}, nil
}

func (v *Validator) validateCreate(ctx context.Context, tx store.Tx, entry *types.Entry, op *types.Operation) error {
	if entry.Backlink != nil || entry.Skiplink != nil {
		return fail(BacklinkMissing, fmt.Errorf("create entry must not carry a backlink or skiplink"))
	}
	if entry.SeqNum != 1 {
		return fail(SeqNumGap, fmt.Errorf("create entry must have seq_num 1, got %d", entry.SeqNum))
	}
	op.DocumentID = op.ID

	var existingLog string
	err := tx.QueryRowContext(ctx, `
		SELECT log_id FROM logs WHERE public_key = ? AND document_id = ?`,
		entry.Author.String(), op.DocumentID.String()).Scan(&existingLog)
	if err == nil {
		return fail(LogIdMismatch, fmt.Errorf("public key already has a log for document %s", op.DocumentID))
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check existing log: %w", err)
	}
	return nil
}

func (v *Validator) validateUpdateOrDelete(ctx context.Context, tx store.Tx, entry *types.Entry, op *types.Operation) error {
	if op.DocumentID.IsZero() {
		return fail(InvalidEncoding, fmt.Errorf("%s operation must carry a document_id", op.Action))
	}

	latest, err := store.GetLatestEntry(ctx, tx, entry.Author, entry.LogID)
	if errors.Is(err, store.ErrNoEntries) {
		return fail(BacklinkMissing, fmt.Errorf("no prior entry on log %d for author %s", entry.LogID, entry.Author))
	}
	if err != nil {
		return fmt.Errorf("load latest entry: %w", err)
	}

	if entry.SeqNum != latest.SeqNum+1 {
		return fail(SeqNumGap, fmt.Errorf("expected seq_num %d, got %d", latest.SeqNum+1, entry.SeqNum))
	}
	if entry.Backlink == nil || *entry.Backlink != latest.EntryHash {
		return fail(BacklinkMissing, fmt.Errorf("backlink does not match latest committed entry"))
	}

	skipSeq := encoding.Lipmaa(entry.SeqNum)
	if skipSeq != 0 && skipSeq != latest.SeqNum {
		skipEntries, err := store.GetEntriesNewerThan(ctx, tx, entry.Author, entry.LogID, skipSeq-1, 1)
		if err != nil {
			return fmt.Errorf("load skiplink target: %w", err)
		}
		if len(skipEntries) != 1 || skipEntries[0].SeqNum != skipSeq {
			return fail(SkiplinkMismatch, fmt.Errorf("skiplink target entry not found"))
		}
		if entry.Skiplink == nil || *entry.Skiplink != skipEntries[0].EntryHash {
			return fail(SkiplinkMismatch, fmt.Errorf("skiplink does not reference lipmaa target"))
		}
	}
	return nil
}

func (v *Validator) validatePrevious(ctx context.Context, tx store.Tx, op *types.Operation) error {
	for _, prevID := range op.Previous {
		prev, err := store.GetOperation(ctx, tx, prevID)
		if err != nil {
			return fail(PreviousNotFound, fmt.Errorf("previous operation %s: %w", prevID, err))
		}
		if prev.DocumentID != op.DocumentID {
			return fail(PreviousNotFound, fmt.Errorf("previous operation %s belongs to a different document", prevID))
		}
	}
	return nil
}
