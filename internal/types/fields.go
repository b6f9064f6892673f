package types

import "fmt"

// FieldType enumerates the scalar and relation kinds an operation
// field value can hold, per spec §3.
type FieldType string

const (
	FieldBool            FieldType = "bool"
	FieldInt             FieldType = "int"
	FieldFloat           FieldType = "float"
	FieldString          FieldType = "string"
	FieldBytes           FieldType = "bytes"
	FieldRelation        FieldType = "relation"
	FieldPinnedRelation  FieldType = "pinned_relation"
	FieldRelationList    FieldType = "relation_list"
	FieldPinnedRelationList FieldType = "pinned_relation_list"
	FieldBoolList        FieldType = "bool_list"
	FieldIntList         FieldType = "int_list"
	FieldFloatList       FieldType = "float_list"
	FieldStringList      FieldType = "string_list"
	FieldBytesList       FieldType = "bytes_list"
)

// IsList reports whether a field type stores an ordered list of
// values rather than a single scalar.
func (t FieldType) IsList() bool {
	switch t {
	case FieldRelationList, FieldPinnedRelationList, FieldBoolList,
		FieldIntList, FieldFloatList, FieldStringList, FieldBytesList:
		return true
	}
	return false
}

// FieldValue is a single value (or list of values) an operation
// assigns to one named field. Exactly one of the typed accessors is
// meaningful, selected by Type.
type FieldValue struct {
	Type FieldType

	Bool     bool
	Int      string // u64 stored as a decimal string, per spec §3
	Float    float64
	String   string
	Bytes    []byte
	Relation DocumentID
	Pinned   ViewID

	List []FieldValue
}

// Validate checks a field value is internally consistent with its
// declared type (e.g. a "bool" field doesn't carry list contents).
func (v FieldValue) Validate() error {
	if v.Type.IsList() {
		return nil
	}
	if len(v.List) != 0 {
		return fmt.Errorf("scalar field of type %s carries list contents", v.Type)
	}
	return nil
}
