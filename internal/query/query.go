// Package query implements the abstract query planner of spec §4.8:
// an abstract Query{schema_id, select, filter, order, pagination} is
// compiled into a deterministic, parameterized SQL statement over
// internal/store's tables, executed, and re-assembled by document.
//
// Grounded on the filter-tree-to-SQL-builder shape in
// roach88-nysm/brutalist's query construction (strings.Builder plus a
// positional args slice, dialect-neutral "?" placeholders left for the
// store's Tx to rebind), generalized from that project's fixed column
// set to fields resolved dynamically against a schema.Schema.
package query

import "github.com/p2panda/aquadoggo/internal/types"

// Meta field names a filter or order may reference in place of a
// schema-declared field, per spec §4.8.
const (
	MetaOwner      = "owner"
	MetaDocumentID = "documentId"
	MetaViewID     = "viewId"
	MetaEdited     = "edited"
	MetaDeleted    = "deleted"
)

func isMeta(field string) bool {
	switch field {
	case MetaOwner, MetaDocumentID, MetaViewID, MetaEdited, MetaDeleted:
		return true
	}
	return false
}

// Op is a filter predicate operator, per spec §4.8's fixed operator
// set.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
	OpIn       Op = "in"
	OpIsSet    Op = "isSet"
)

// Combinator joins a Filter's Children.
type Combinator string

const (
	And Combinator = "and"
	Or  Combinator = "or"
)

// Filter is one node of the predicate tree: either a leaf (Field/Op/
// Value set, Combinator empty) or a branch (Combinator set, Children
// non-empty).
type Filter struct {
	Field string
	Op    Op
	Value any

	Combinator Combinator
	Children   []*Filter
}

// IsLeaf reports whether f is a predicate rather than a combinator
// node.
func (f *Filter) IsLeaf() bool { return f.Combinator == "" }

// AndFilters builds a conjunction of filters, dropping nil children so
// callers can build filters conditionally without a helper.
func AndFilters(filters ...*Filter) *Filter {
	return combine(And, filters)
}

// OrFilters builds a disjunction of filters, dropping nil children.
func OrFilters(filters ...*Filter) *Filter {
	return combine(Or, filters)
}

func combine(c Combinator, filters []*Filter) *Filter {
	var kept []*Filter
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return &Filter{Combinator: c, Children: kept}
}

// Order specifies the sort field and direction; ties are always
// broken by document_view_id ascending, per spec §4.8.
type Order struct {
	Field string
	Desc  bool
}

// Pagination is a forward-only cursor page request, per spec §4.8.
type Pagination struct {
	First int
	After *Cursor
}

// Query is the abstract query the GraphQL collaborator hands the
// planner, per spec §4.8.
type Query struct {
	SchemaID   types.SchemaID
	Select     []string
	Filter     *Filter
	Order      *Order
	Pagination Pagination
}
