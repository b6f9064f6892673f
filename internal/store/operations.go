package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/mr-tron/base58"

	"github.com/p2panda/aquadoggo/internal/types"
)

// fieldCursor builds the stable, unique-per-row identifier the query
// planner's pagination uses to resume a scan: base58 of a hash over
// operation_id || name || list_index, opaque by construction (a raw,
// un-hashed concatenation would leak the field name and list index to
// anyone comparing cursors). Uses the same xxhash already wired for
// replication/strategy.go's fingerprint tree rather than pulling in a
// second hash for the same "opaque digest of a byte string" job.
func fieldCursor(operationID types.OperationID, name string, listIndex int) string {
	raw := append(append([]byte{}, operationID[:]...), []byte(name)...)
	raw = append(raw, byte(listIndex>>8), byte(listIndex))
	sum := xxhash.Sum64(raw)
	var digest [8]byte
	for i := range digest {
		digest[i] = byte(sum >> (8 * (7 - i)))
	}
	return base58.Encode(digest[:])
}

// InsertOperation persists a validated operation and its field values
// inside an existing transaction, per spec §4.3's publish pipeline.
func InsertOperation(ctx context.Context, tx Tx, op *types.Operation) error {
	previous := encodePrevious(op.Previous)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO operations_v1 (operation_id, public_key, document_id, action, schema_id, previous)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID.String(), op.Author.String(), op.DocumentID.String(),
		string(op.Action), op.SchemaID.String(), previous,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}

	for name, value := range op.Fields {
		if err := insertFieldValue(ctx, tx, op.ID, name, value, 0); err != nil {
			return fmt.Errorf("insert field %q: %w", name, err)
		}
	}
	return nil
}

func insertFieldValue(ctx context.Context, tx Tx, opID types.OperationID, name string, v types.FieldValue, listIndex int) error {
	if v.Type.IsList() {
		for i, item := range v.List {
			if err := insertScalarField(ctx, tx, opID, name, item, i); err != nil {
				return err
			}
		}
		return nil
	}
	return insertScalarField(ctx, tx, opID, name, v, listIndex)
}

func insertScalarField(ctx context.Context, tx Tx, opID types.OperationID, name string, v types.FieldValue, listIndex int) error {
	text, err := encodeFieldText(v)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO operation_fields_v1 (operation_id, name, field_type, value, list_index, cursor)
		VALUES (?, ?, ?, ?, ?, ?)`,
		opID.String(), name, string(v.Type), text, listIndex,
		fieldCursor(opID, name, listIndex),
	)
	return err
}

func encodeFieldText(v types.FieldValue) (string, error) {
	switch v.Type {
	case types.FieldBool, types.FieldBoolList:
		if v.Bool {
			return "true", nil
		}
		return "false", nil
	case types.FieldInt, types.FieldIntList:
		return v.Int, nil
	case types.FieldFloat, types.FieldFloatList:
		return strconv.FormatFloat(v.Float, 'g', -1, 64), nil
	case types.FieldString, types.FieldStringList:
		return v.String, nil
	case types.FieldBytes, types.FieldBytesList:
		return base58.Encode(v.Bytes), nil
	case types.FieldRelation, types.FieldRelationList:
		return v.Relation.String(), nil
	case types.FieldPinnedRelation, types.FieldPinnedRelationList:
		return v.Pinned.String(), nil
	default:
		return "", fmt.Errorf("encode field: unknown type %q", v.Type)
	}
}

func encodePrevious(ids []types.OperationID) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id.String()
	}
	return out
}

func decodePrevious(raw string) ([]types.OperationID, error) {
	if raw == "" {
		return nil, nil
	}
	var out []types.OperationID
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			h, err := types.HashFromString(raw[start:i])
			if err != nil {
				return nil, err
			}
			out = append(out, h)
			start = i + 1
		}
	}
	return out, nil
}

// GetOperation loads an operation and its field values by id.
func GetOperation(ctx context.Context, q Queryer, id types.OperationID) (*types.Operation, error) {
	var authorStr, docIDStr, action, schemaIDStr, previous string
	err := q.QueryRowContext(ctx, `
		SELECT public_key, document_id, action, schema_id, previous
		FROM operations_v1 WHERE operation_id = ?`, id.String(),
	).Scan(&authorStr, &docIDStr, &action, &schemaIDStr, &previous)
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}

	author, err := parsePublicKey(authorStr)
	if err != nil {
		return nil, err
	}
	docID, err := types.HashFromString(docIDStr)
	if err != nil {
		return nil, err
	}
	schemaID, err := types.ParseSchemaID(schemaIDStr)
	if err != nil {
		return nil, err
	}
	prev, err := decodePrevious(previous)
	if err != nil {
		return nil, err
	}

	fields, err := getOperationFields(ctx, q, id)
	if err != nil {
		return nil, err
	}

	return &types.Operation{
		ID:         id,
		Author:     author,
		Action:     types.OperationAction(action),
		SchemaID:   schemaID,
		Previous:   prev,
		DocumentID: docID,
		Fields:     fields,
	}, nil
}

func getOperationFields(ctx context.Context, q Queryer, id types.OperationID) (map[string]types.FieldValue, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, field_type, value, list_index
		FROM operation_fields_v1 WHERE operation_id = ?
		ORDER BY name, list_index ASC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("get operation fields: %w", err)
	}
	defer rows.Close()

	scalars := map[string]types.FieldValue{}
	lists := map[string][]types.FieldValue{}
	listType := map[string]types.FieldType{}

	for rows.Next() {
		var name, fieldType, value string
		var listIndex int
		if err := rows.Scan(&name, &fieldType, &value, &listIndex); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		v, err := decodeFieldText(types.FieldType(fieldType), value)
		if err != nil {
			return nil, err
		}
		if v.Type.IsList() {
			lists[name] = append(lists[name], v)
			listType[name] = v.Type
			continue
		}
		scalars[name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for name, items := range lists {
		scalars[name] = types.FieldValue{Type: listType[name], List: items}
	}
	return scalars, nil
}

func decodeFieldText(t types.FieldType, text string) (types.FieldValue, error) {
	v := types.FieldValue{Type: t}
	switch t {
	case types.FieldBool, types.FieldBoolList:
		v.Bool = text == "true"
	case types.FieldInt, types.FieldIntList:
		v.Int = text
	case types.FieldFloat, types.FieldFloatList:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return v, fmt.Errorf("decode float field: %w", err)
		}
		v.Float = f
	case types.FieldString, types.FieldStringList:
		v.String = text
	case types.FieldBytes, types.FieldBytesList:
		b, err := base58.Decode(text)
		if err != nil {
			return v, fmt.Errorf("decode bytes field: %w", err)
		}
		v.Bytes = b
	case types.FieldRelation, types.FieldRelationList:
		h, err := types.HashFromString(text)
		if err != nil {
			return v, err
		}
		v.Relation = h
	case types.FieldPinnedRelation, types.FieldPinnedRelationList:
		view, err := types.ParseViewID(text)
		if err != nil {
			return v, err
		}
		v.Pinned = view
	default:
		return v, fmt.Errorf("decode field: unknown type %q", t)
	}
	return v, nil
}
