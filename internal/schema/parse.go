package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
)

// ErrNotReady marks a Build failure caused by a relation target that
// hasn't been materialized yet, as opposed to malformed schema data.
// The schema task (internal/materializer) treats it as a no-op rather
// than an error to retry.
var ErrNotReady = errors.New("schema: relation not yet materialized")

// fieldTypeNames maps the string a schema_field_definition_v1 "type"
// field carries to the FieldType it declares. Grounded on the p2panda
// schema type-name convention referenced by the glossary's "Schema
// (schema_definition_v1)" entry.
var fieldTypeNames = map[string]types.FieldType{
	"bool":                 types.FieldBool,
	"int":                  types.FieldInt,
	"float":                types.FieldFloat,
	"str":                  types.FieldString,
	"bytes":                types.FieldBytes,
	"relation":             types.FieldRelation,
	"pinned_relation":      types.FieldPinnedRelation,
	"relation_list":        types.FieldRelationList,
	"pinned_relation_list": types.FieldPinnedRelationList,
}

// Build constructs a Schema from a schema_definition_v1 view: its own
// "name"/"description" fields plus the schema_field_definition_v1
// views its "fields" pinned_relation_list points at, per spec §4.5's
// "schema" task ("Attempts to construct a schema from a
// schema_definition_v1 view plus its schema_field_definition_v1
// pinned relations").
func Build(ctx context.Context, q store.Queryer, definitionViewID types.ViewID) (*Schema, error) {
	defFields, err := store.GetDocumentViewFields(ctx, q, definitionViewID)
	if err != nil {
		return nil, fmt.Errorf("load schema definition view: %w", err)
	}

	nameVal, ok := defFields["name"]
	if !ok || nameVal.Type != types.FieldString {
		return nil, fmt.Errorf("%w: schema definition view %s missing string \"name\" field", ErrNotReady, definitionViewID)
	}
	var description string
	if d, ok := defFields["description"]; ok && d.Type == types.FieldString {
		description = d.String
	}

	fieldsVal, ok := defFields["fields"]
	if !ok || !fieldsVal.Type.IsList() {
		return nil, fmt.Errorf("%w: schema definition view %s missing \"fields\" relation list", ErrNotReady, definitionViewID)
	}

	defs := make([]FieldDefinition, 0, len(fieldsVal.List))
	for _, item := range fieldsVal.List {
		var fieldViewID types.ViewID
		switch item.Type {
		case types.FieldPinnedRelation:
			fieldViewID = item.Pinned
		case types.FieldRelation:
			// An unpinned relation to the field definition's current
			// view; resolve it via the document's current pointer.
			doc, err := store.GetDocument(ctx, q, item.Relation)
			if errors.Is(err, store.ErrDocumentNotFound) {
				return nil, fmt.Errorf("%w: field definition document %s", ErrNotReady, item.Relation)
			}
			if err != nil {
				return nil, fmt.Errorf("resolve field definition document %s: %w", item.Relation, err)
			}
			fieldViewID = doc.DocumentViewID
		default:
			return nil, fmt.Errorf("schema definition view %s: unexpected \"fields\" item type %q", definitionViewID, item.Type)
		}

		def, err := buildFieldDefinition(ctx, q, fieldViewID)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return &Schema{
		ID:          types.SchemaID{Name: nameVal.String, ViewID: definitionViewID},
		Name:        nameVal.String,
		Description: description,
		Fields:      defs,
	}, nil
}

func buildFieldDefinition(ctx context.Context, q store.Queryer, viewID types.ViewID) (FieldDefinition, error) {
	fields, err := store.GetDocumentViewFields(ctx, q, viewID)
	if err != nil {
		return FieldDefinition{}, fmt.Errorf("load field definition view %s: %w", viewID, err)
	}
	nameVal, ok := fields["name"]
	if !ok || nameVal.Type != types.FieldString {
		return FieldDefinition{}, fmt.Errorf("%w: field definition view %s missing string \"name\"", ErrNotReady, viewID)
	}
	typeVal, ok := fields["type"]
	if !ok || typeVal.Type != types.FieldString {
		return FieldDefinition{}, fmt.Errorf("%w: field definition view %s missing string \"type\"", ErrNotReady, viewID)
	}
	ft, ok := fieldTypeNames[typeVal.String]
	if !ok {
		return FieldDefinition{}, fmt.Errorf("field definition view %s: unknown field type %q", viewID, typeVal.String)
	}
	return FieldDefinition{Name: nameVal.String, Type: ft}, nil
}
