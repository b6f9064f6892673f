package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/p2panda/aquadoggo/internal/schema"
	"github.com/p2panda/aquadoggo/internal/types"
)

// Planner compiles abstract Queries into parameterized SQL against
// internal/store's schema, consulting the schema provider to type
// fields for numeric comparisons and to reject filters/orders on
// fields a schema doesn't declare.
type Planner struct {
	schemas *schema.Provider
}

func New(schemas *schema.Provider) *Planner {
	return &Planner{schemas: schemas}
}

// builder accumulates the LEFT JOINs and bound args for one compiled
// statement; joins records which field aliases already have a join, so
// repeated references to the same field don't duplicate joins.
type builder struct {
	planner   *Planner
	schemaObj *schema.Schema
	joins     map[string]bool
	joinSQL   strings.Builder
	args      []any
	needsLog  bool
}

func (p *Planner) newBuilder(schemaID types.SchemaID) (*builder, error) {
	s, ok := p.schemas.Get(schemaID)
	if !ok {
		return nil, fmt.Errorf("query: schema %s is not registered", schemaID)
	}
	return &builder{planner: p, schemaObj: s, joins: map[string]bool{}}, nil
}

// fieldAlias returns a stable, SQL-identifier-safe alias for a
// schema-declared field name.
func fieldAlias(name string) string { return "f_" + name }

// ensureFieldJoin adds the document_view_fields/operation_fields_v1
// join pair for name, once, returning the column expression to
// reference its (scalar, list_index=0) value.
func (b *builder) ensureFieldJoin(name string) (string, types.FieldType, error) {
	ft, ok := b.schemaObj.FieldType(name)
	if !ok {
		return "", "", fmt.Errorf("query: schema %s has no field %q", b.schemaObj.ID, name)
	}
	alias := fieldAlias(name)
	if !b.joins[alias] {
		b.joins[alias] = true
		fmt.Fprintf(&b.joinSQL,
			" LEFT JOIN document_view_fields dvf_%s ON dvf_%s.document_view_id = d.document_view_id AND dvf_%s.name = %s"+
				" LEFT JOIN operation_fields_v1 opf_%s ON opf_%s.operation_id = dvf_%s.operation_id AND opf_%s.name = %s AND opf_%s.list_index = 0",
			alias, alias, alias, b.bind(name),
			alias, alias, alias, alias, b.bind(name), alias,
		)
	}
	return "opf_" + alias + ".value", ft, nil
}

func (b *builder) ensureLogJoin() {
	if b.needsLog {
		return
	}
	b.needsLog = true
	b.joinSQL.WriteString(" LEFT JOIN logs l ON l.document_id = d.document_id")
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return "?"
}

// metaColumn returns the SQL expression for a meta field.
func (b *builder) metaColumn(field string) (string, error) {
	switch field {
	case MetaDocumentID:
		return "d.document_id", nil
	case MetaViewID:
		return "d.document_view_id", nil
	case MetaDeleted:
		return "d.is_deleted", nil
	case MetaEdited:
		// A document is still at its create view iff its current view
		// id is exactly its (single-tip) document id.
		return "(d.document_view_id != d.document_id)", nil
	case MetaOwner:
		b.ensureLogJoin()
		return "l.public_key", nil
	default:
		return "", fmt.Errorf("query: unknown meta field %q", field)
	}
}

// column resolves field (meta or schema-declared) to a SQL expression
// and, for schema fields, its declared FieldType (empty for meta
// fields, which are never cast).
func (b *builder) column(field string) (string, types.FieldType, error) {
	if isMeta(field) {
		col, err := b.metaColumn(field)
		return col, "", err
	}
	return b.ensureFieldJoin(field)
}

// numeric reports whether ft should be compared with a NUMERIC cast
// rather than lexicographically, matching the CAST(... AS NUMERIC)
// convention internal/store already uses for seq_num/log_id ordering.
func numeric(ft types.FieldType) bool {
	return ft == types.FieldInt || ft == types.FieldIntList ||
		ft == types.FieldFloat || ft == types.FieldFloatList
}

func castIfNumeric(col string, ft types.FieldType) string {
	if numeric(ft) {
		return "CAST(" + col + " AS NUMERIC)"
	}
	return col
}

// compileFilter renders f (leaf or combinator tree) into a SQL
// boolean expression, binding every value.
func (b *builder) compileFilter(f *Filter) (string, error) {
	if f == nil {
		return "", nil
	}
	if !f.IsLeaf() {
		parts := make([]string, 0, len(f.Children))
		for _, child := range f.Children {
			s, err := b.compileFilter(child)
			if err != nil {
				return "", err
			}
			if s != "" {
				parts = append(parts, "("+s+")")
			}
		}
		if len(parts) == 0 {
			return "", nil
		}
		sep := " AND "
		if f.Combinator == Or {
			sep = " OR "
		}
		return strings.Join(parts, sep), nil
	}

	col, ft, err := b.column(f.Field)
	if err != nil {
		return "", err
	}

	if f.Op == OpIsSet {
		want, _ := f.Value.(bool)
		if want {
			return col + " IS NOT NULL", nil
		}
		return col + " IS NULL", nil
	}

	casted := castIfNumeric(col, ft)
	switch f.Op {
	case OpEq:
		return casted + " = " + b.bindTyped(f.Value, ft), nil
	case OpNe:
		return casted + " != " + b.bindTyped(f.Value, ft), nil
	case OpGt:
		return casted + " > " + b.bindTyped(f.Value, ft), nil
	case OpGte:
		return casted + " >= " + b.bindTyped(f.Value, ft), nil
	case OpLt:
		return casted + " < " + b.bindTyped(f.Value, ft), nil
	case OpLte:
		return casted + " <= " + b.bindTyped(f.Value, ft), nil
	case OpContains:
		s, _ := f.Value.(string)
		return col + " LIKE " + b.bind("%" + escapeLike(s) + "%") + " ESCAPE '\\'", nil
	case OpIn:
		values, ok := f.Value.([]string)
		if !ok || len(values) == 0 {
			return "1 = 0", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = b.bind(v)
		}
		return col + " IN (" + strings.Join(placeholders, ", ") + ")", nil
	default:
		return "", fmt.Errorf("query: unsupported operator %q", f.Op)
	}
}

func (b *builder) bindTyped(v any, ft types.FieldType) string {
	switch val := v.(type) {
	case int:
		return b.bind(strconv.Itoa(val))
	case int64:
		return b.bind(strconv.FormatInt(val, 10))
	case float64:
		return b.bind(strconv.FormatFloat(val, 'g', -1, 64))
	case bool:
		if val {
			return b.bind(1)
		}
		return b.bind(0)
	default:
		return b.bind(v)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

// Compiled is a ready-to-run statement plus its bound arguments.
type Compiled struct {
	SQL  string
	Args []any
}

// BuildSelect compiles q into a statement selecting exactly
// (document_id, document_view_id, ordering_key), filtered, ordered,
// and paginated per spec §4.8. Full field hydration happens
// afterward, per document, via internal/store.GetDocumentViewFields —
// this statement only decides which documents match and in what
// order.
func (p *Planner) BuildSelect(q Query) (*Compiled, error) {
	b, err := p.newBuilder(q.SchemaID)
	if err != nil {
		return nil, err
	}

	orderField := MetaViewID
	orderDesc := false
	if q.Order != nil {
		orderField = q.Order.Field
		orderDesc = q.Order.Desc
	}
	orderCol, orderFT, err := b.column(orderField)
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	orderExpr := castIfNumeric(orderCol, orderFT)

	where, err := b.whereClause(q)
	if err != nil {
		return nil, err
	}

	var sqlB strings.Builder
	sqlB.WriteString("SELECT d.document_id, d.document_view_id, ")
	sqlB.WriteString(orderExpr)
	sqlB.WriteString(" AS ordering_key FROM documents d")
	sqlB.WriteString(b.joinSQL.String())
	sqlB.WriteString(" WHERE ")
	sqlB.WriteString(where)

	if q.Pagination.After != nil {
		// Cursor comparison must respect the chosen sort direction: the
		// next page starts strictly after the last row's (ordering_key,
		// document_view_id) pair in that order.
		cmp := ">"
		if orderDesc {
			cmp = "<"
		}
		fmt.Fprintf(&sqlB, " AND (%s %s %s OR (%s = %s AND d.document_view_id > %s))",
			orderExpr, cmp, b.bind(q.Pagination.After.OrderingKey),
			orderExpr, b.bind(q.Pagination.After.OrderingKey), b.bind(q.Pagination.After.ViewID.String()))
	}

	direction := "ASC"
	if orderDesc {
		direction = "DESC"
	}
	fmt.Fprintf(&sqlB, " ORDER BY %s %s, d.document_view_id ASC", orderExpr, direction)

	if q.Pagination.First > 0 {
		fmt.Fprintf(&sqlB, " LIMIT %d", q.Pagination.First)
	}

	return &Compiled{SQL: sqlB.String(), Args: b.args}, nil
}

// BuildCount compiles the totalCount statement sharing q's filter
// clause (not its pagination), per spec §4.8.
func (p *Planner) BuildCount(q Query) (*Compiled, error) {
	b, err := p.newBuilder(q.SchemaID)
	if err != nil {
		return nil, err
	}
	where, err := b.whereClause(q)
	if err != nil {
		return nil, err
	}
	var sqlB strings.Builder
	sqlB.WriteString("SELECT COUNT(*) FROM documents d")
	sqlB.WriteString(b.joinSQL.String())
	sqlB.WriteString(" WHERE ")
	sqlB.WriteString(where)
	return &Compiled{SQL: sqlB.String(), Args: b.args}, nil
}

// whereClause combines the deleted-document exclusion (spec §4.8:
// "excluded unless meta.deleted is explicitly queried") with the
// schema_id constraint and the caller's filter tree.
func (b *builder) whereClause(q Query) (string, error) {
	parts := []string{"d.schema_id = " + b.bind(q.SchemaID.String())}

	if !filterMentionsDeleted(q.Filter) {
		parts = append(parts, "d.is_deleted = 0")
	}

	if q.Filter != nil {
		clause, err := b.compileFilter(q.Filter)
		if err != nil {
			return "", err
		}
		if clause != "" {
			parts = append(parts, "("+clause+")")
		}
	}
	return strings.Join(parts, " AND "), nil
}

func filterMentionsDeleted(f *Filter) bool {
	if f == nil {
		return false
	}
	if f.IsLeaf() {
		return f.Field == MetaDeleted
	}
	for _, child := range f.Children {
		if filterMentionsDeleted(child) {
			return true
		}
	}
	return false
}
