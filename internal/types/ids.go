// Package types defines the identifier and value types shared across
// the whole module: public keys, content hashes, operation/document/
// view ids, log ids, and schema ids. Grounded on the "identifier is a
// distinct type with its own encode/decode/compare methods, never a
// bare byte slice" convention in drpcorg-chotki/id.go, though the
// actual encoding here is content-hash based rather than bit-packed,
// since aquadoggo identifiers are hashes, not counters.
package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
)

// PublicKey is a 32-byte Ed25519 public key identifying a writer.
type PublicKey [32]byte

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }

// MarshalBinary/UnmarshalBinary make fxamacker/cbor encode PublicKey
// as a plain CBOR byte string instead of an array of 32 uints.
func (k PublicKey) MarshalBinary() ([]byte, error) { return k[:], nil }

func (k *PublicKey) UnmarshalBinary(data []byte) error {
	if len(data) != len(k) {
		return fmt.Errorf("invalid public key length: want %d got %d", len(k), len(data))
	}
	copy(k[:], data)
	return nil
}

// Hash is a 32-byte content hash, produced by the crypto boundary
// (see internal/crypto). String() renders it base58, the convention
// p2panda/Bamboo hashes and cursors use.
type Hash [32]byte

func (h Hash) String() string { return base58.Encode(h[:]) }

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) IsZero() bool { return h == Hash{} }

// HashFromString decodes a base58-encoded hash.
func HashFromString(s string) (Hash, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return Hash{}, fmt.Errorf("invalid hash length %q: want 32 bytes, got %d", s, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// MarshalBinary/UnmarshalBinary make fxamacker/cbor encode Hash as a
// plain CBOR byte string instead of an array of 32 uints.
func (h Hash) MarshalBinary() ([]byte, error) { return h[:], nil }

func (h *Hash) UnmarshalBinary(data []byte) error {
	if len(data) != len(h) {
		return fmt.Errorf("invalid hash length: want %d got %d", len(h), len(data))
	}
	copy(h[:], data)
	return nil
}

// OperationID identifies a single operation; it is the hash of the
// entry that carried it.
type OperationID = Hash

// DocumentID identifies a document; per spec it equals the id of the
// document's create operation.
type DocumentID = Hash

// LogID is a per-author, monotonically assigned log identifier.
type LogID uint64

// ViewID is the hash-ordered concatenation of a document's tip
// operation ids, per the glossary. Two views with the same tip set
// always produce the same ViewID regardless of construction order.
type ViewID struct {
	tips []OperationID
}

// NewViewID builds a canonical ViewID from an (unordered) set of tip
// operation ids.
func NewViewID(tips []OperationID) ViewID {
	sorted := make([]OperationID, len(tips))
	copy(sorted, tips)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	return ViewID{tips: sorted}
}

// Tips returns the sorted tip operation ids making up this view.
func (v ViewID) Tips() []OperationID {
	out := make([]OperationID, len(v.tips))
	copy(out, v.tips)
	return out
}

// String renders the view id the way it is stored as a
// document_view_id primary key: tip hashes, base58, underscore-joined.
func (v ViewID) String() string {
	parts := make([]string, len(v.tips))
	for i, t := range v.tips {
		parts[i] = t.String()
	}
	return strings.Join(parts, "_")
}

// IsCreate reports whether this view is a single create-operation tip,
// i.e. the document's own id equals its sole view tip.
func (v ViewID) IsCreate() bool {
	return len(v.tips) == 1
}

// SystemSchemas are the fixed, unversioned schema ids the materializer
// recognizes by name alone (they carry no trailing view id, unlike
// user-defined schemas).
var SystemSchemas = map[string]bool{
	"schema_definition_v1":       true,
	"schema_field_definition_v1": true,
	"blob_v1":                    true,
	"blob_piece_v1":              true,
}

// schemaIDSep separates a schema's name from its view id. A view id is
// itself one or more base58 tip hashes joined by a single "_" (see
// ViewID.String), and base58's alphabet never produces "_", so the
// view segment can never contain two consecutive underscores. That
// makes the rightmost "__" in a schema id unambiguous even when the
// view has multiple tips (a name ending in "_" just shifts which half
// of the doubled underscore it owns, without moving the boundary).
const schemaIDSep = "__"

// SchemaID is "<name>__<view_id>" identifying an active, user-defined
// schema, or one of the fixed SystemSchemas names on its own.
type SchemaID struct {
	Name   string
	ViewID ViewID
	System bool
}

func (s SchemaID) String() string {
	if s.System {
		return s.Name
	}
	return s.Name + schemaIDSep + s.ViewID.String()
}

// ParseSchemaID splits "<name>__<view_id>" back into its parts, or
// recognizes one of the fixed SystemSchemas names directly. Splitting
// on a single "_" is ambiguous whenever the view has more than one
// tip, since ViewID.String joins tips with "_" too; the doubled
// separator sidesteps that instead of guessing at hash-token widths.
func ParseSchemaID(raw string) (SchemaID, error) {
	if SystemSchemas[raw] {
		return SchemaID{Name: raw, System: true}, nil
	}
	idx := strings.LastIndex(raw, schemaIDSep)
	if idx < 0 {
		return SchemaID{}, fmt.Errorf("invalid schema id %q", raw)
	}
	name := raw[:idx]
	viewPart := raw[idx+len(schemaIDSep):]
	view, err := parseViewIDString(viewPart)
	if err != nil {
		return SchemaID{}, fmt.Errorf("invalid schema id %q: %w", raw, err)
	}
	return SchemaID{Name: name, ViewID: view}, nil
}

// ParseViewID decodes the underscore-joined base58 tip list produced by
// ViewID.String back into a ViewID.
func ParseViewID(s string) (ViewID, error) { return parseViewIDString(s) }

func parseViewIDString(s string) (ViewID, error) {
	parts := strings.Split(s, "_")
	tips := make([]OperationID, 0, len(parts))
	for _, p := range parts {
		h, err := HashFromString(p)
		if err != nil {
			return ViewID{}, err
		}
		tips = append(tips, h)
	}
	return NewViewID(tips), nil
}
