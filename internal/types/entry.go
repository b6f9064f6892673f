package types

// Entry is an append-only log record, per spec §3. EncodedBytes is
// what gets hashed (into EntryHash) and what the signature in
// Signature was computed over — see internal/encoding for the exact
// byte layout.
type Entry struct {
	Author      PublicKey
	LogID       LogID
	SeqNum      uint64
	PayloadHash Hash
	PayloadSize uint64
	Backlink    *Hash
	Skiplink    *Hash
	Signature   []byte
	Encoded     []byte
	EntryHash   Hash

	// Payload is the raw operation bytes this entry's PayloadHash
	// covers. Not part of the signed entry header itself, but the
	// store persists it alongside for replication and materialization.
	Payload []byte
}

// OperationAction is the CRDT mutation kind an operation performs.
type OperationAction string

const (
	ActionCreate OperationAction = "create"
	ActionUpdate OperationAction = "update"
	ActionDelete OperationAction = "delete"
)

// Operation is the CBOR-encoded payload referenced by an Entry, per
// spec §3.
type Operation struct {
	ID       OperationID
	Author   PublicKey
	Action   OperationAction
	SchemaID SchemaID
	Previous []OperationID
	Fields   map[string]FieldValue

	// DocumentID is the operation's owning document: for a create
	// operation this equals ID; for update/delete it is carried
	// alongside since it cannot be derived from Previous alone once
	// the DAG has multiple roots merged away.
	DocumentID DocumentID
}
