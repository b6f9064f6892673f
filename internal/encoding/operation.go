package encoding

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/p2panda/aquadoggo/internal/types"
)

// wireOperation is the CBOR-on-the-wire shape of an operation payload,
// grounded on the fxamacker/cbor struct-tag convention shown in the
// bureau-foundation-bureau and unkn0wn-root-kioshun example files.
type wireOperation struct {
	Action     string                `cbor:"a"`
	SchemaID   string                `cbor:"s"`
	Previous   []types.OperationID   `cbor:"p,omitempty"`
	DocumentID *types.DocumentID     `cbor:"d,omitempty"`
	Fields     map[string]wireValue  `cbor:"f,omitempty"`
}

type wireValue struct {
	Type   string      `cbor:"t"`
	Bool   *bool       `cbor:"b,omitempty"`
	Int    *string     `cbor:"i,omitempty"`
	Float  *float64    `cbor:"n,omitempty"`
	String *string     `cbor:"s,omitempty"`
	Bytes  []byte      `cbor:"y,omitempty"`
	Rel    *types.Hash `cbor:"r,omitempty"`
	Pinned []types.Hash `cbor:"v,omitempty"`
	List   []wireValue `cbor:"l,omitempty"`
}

// EncodeOperation serializes an operation's action/schema/previous/
// fields into CBOR bytes — the payload an entry's payload_hash covers.
func EncodeOperation(op *types.Operation) ([]byte, error) {
	w := wireOperation{
		Action:   string(op.Action),
		SchemaID: op.SchemaID.String(),
		Previous: op.Previous,
	}
	if op.Action == types.ActionCreate {
		w.DocumentID = nil
	}
	if len(op.Fields) > 0 {
		w.Fields = make(map[string]wireValue, len(op.Fields))
		for name, v := range op.Fields {
			wv, err := encodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("encode field %q: %w", name, err)
			}
			w.Fields[name] = wv
		}
	}
	return cbor.Marshal(w)
}

func encodeValue(v types.FieldValue) (wireValue, error) {
	wv := wireValue{Type: string(v.Type)}
	switch v.Type {
	case types.FieldBool:
		wv.Bool = &v.Bool
	case types.FieldInt:
		wv.Int = &v.Int
	case types.FieldFloat:
		wv.Float = &v.Float
	case types.FieldString:
		wv.String = &v.String
	case types.FieldBytes:
		wv.Bytes = v.Bytes
	case types.FieldRelation:
		h := v.Relation
		wv.Rel = &h
	case types.FieldPinnedRelation:
		wv.Pinned = v.Pinned.Tips()
	default:
		if !v.Type.IsList() {
			return wireValue{}, fmt.Errorf("unknown field type %q", v.Type)
		}
		wv.List = make([]wireValue, len(v.List))
		for i, item := range v.List {
			iv, err := encodeValue(item)
			if err != nil {
				return wireValue{}, err
			}
			wv.List[i] = iv
		}
	}
	return wv, nil
}

// DecodeOperation parses CBOR bytes back into an Operation. ID and
// Author are not carried in the payload (they come from the entry
// that referenced it) and must be filled in by the caller.
func DecodeOperation(raw []byte) (*types.Operation, error) {
	var w wireOperation
	if err := cbor.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	schemaID, err := types.ParseSchemaID(w.SchemaID)
	if err != nil {
		return nil, fmt.Errorf("decode operation schema id: %w", err)
	}
	op := &types.Operation{
		Action:   types.OperationAction(w.Action),
		SchemaID: schemaID,
		Previous: w.Previous,
	}
	if w.DocumentID != nil {
		op.DocumentID = *w.DocumentID
	}
	if len(w.Fields) > 0 {
		op.Fields = make(map[string]types.FieldValue, len(w.Fields))
		for name, wv := range w.Fields {
			v, err := decodeValue(wv)
			if err != nil {
				return nil, fmt.Errorf("decode field %q: %w", name, err)
			}
			op.Fields[name] = v
		}
	}
	return op, nil
}

func decodeValue(wv wireValue) (types.FieldValue, error) {
	v := types.FieldValue{Type: types.FieldType(wv.Type)}
	switch v.Type {
	case types.FieldBool:
		if wv.Bool != nil {
			v.Bool = *wv.Bool
		}
	case types.FieldInt:
		if wv.Int != nil {
			v.Int = *wv.Int
		}
	case types.FieldFloat:
		if wv.Float != nil {
			v.Float = *wv.Float
		}
	case types.FieldString:
		if wv.String != nil {
			v.String = *wv.String
		}
	case types.FieldBytes:
		v.Bytes = wv.Bytes
	case types.FieldRelation:
		if wv.Rel != nil {
			v.Relation = *wv.Rel
		}
	case types.FieldPinnedRelation:
		v.Pinned = types.NewViewID(wv.Pinned)
	default:
		if !v.Type.IsList() {
			return types.FieldValue{}, fmt.Errorf("unknown field type %q", wv.Type)
		}
		v.List = make([]types.FieldValue, len(wv.List))
		for i, item := range wv.List {
			iv, err := decodeValue(item)
			if err != nil {
				return types.FieldValue{}, err
			}
			v.List[i] = iv
		}
	}
	return v, nil
}
