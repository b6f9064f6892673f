package query

import (
	"context"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
)

// Document is one fully hydrated result row: identity plus its
// materialized field values, re-assembled from the view the planner's
// statement matched (spec §4.8 "producing rows which are re-assembled
// by document").
type Document struct {
	DocumentID     types.DocumentID
	DocumentViewID types.ViewID
	Fields         map[string]types.FieldValue
	Cursor         Cursor
}

// Page is one page of query results plus the total count, per spec
// §4.8's "totalCount is a separate count query sharing the filter
// clause".
type Page struct {
	Documents  []*Document
	TotalCount int
	HasNext    bool
}

// Execute compiles and runs q against reader, hydrating each matched
// document's fields via store.GetDocumentViewFields.
func Execute(ctx context.Context, planner *Planner, reader store.Queryer, q Query) (*Page, error) {
	sel, err := planner.BuildSelect(q)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	countStmt, err := planner.BuildCount(q)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	var total int
	if err := reader.QueryRowContext(ctx, countStmt.SQL, countStmt.Args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("query total count: %w", err)
	}

	// Fetch one extra row past the requested page size to determine
	// HasNext without a second round trip.
	fetchQ := q
	if q.Pagination.First > 0 {
		fetchQ.Pagination.First = q.Pagination.First + 1
		sel, err = planner.BuildSelect(fetchQ)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
	}

	rows, err := reader.QueryContext(ctx, sel.SQL, sel.Args...)
	if err != nil {
		return nil, fmt.Errorf("query select: %w", err)
	}
	defer rows.Close()

	type matched struct {
		docID, viewID, orderingKey string
	}
	var matches []matched
	for rows.Next() {
		var m matched
		if err := rows.Scan(&m.docID, &m.viewID, &m.orderingKey); err != nil {
			return nil, fmt.Errorf("scan query row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasNext := false
	if q.Pagination.First > 0 && len(matches) > q.Pagination.First {
		hasNext = true
		matches = matches[:q.Pagination.First]
	}

	docs := make([]*Document, 0, len(matches))
	for _, m := range matches {
		docID, err := types.HashFromString(m.docID)
		if err != nil {
			return nil, err
		}
		viewID, err := types.ParseViewID(m.viewID)
		if err != nil {
			return nil, err
		}
		fields, err := store.GetDocumentViewFields(ctx, reader, viewID)
		if err != nil {
			return nil, fmt.Errorf("hydrate document %s: %w", docID, err)
		}
		if len(q.Select) > 0 {
			fields = projectSelected(fields, q.Select)
		}
		docs = append(docs, &Document{
			DocumentID:     docID,
			DocumentViewID: viewID,
			Fields:         fields,
			Cursor:         Cursor{OrderingKey: m.orderingKey, ViewID: viewID},
		})
	}

	return &Page{Documents: docs, TotalCount: total, HasNext: hasNext}, nil
}

func projectSelected(fields map[string]types.FieldValue, selected []string) map[string]types.FieldValue {
	out := make(map[string]types.FieldValue, len(selected))
	for _, name := range selected {
		if v, ok := fields[name]; ok {
			out[name] = v
		}
	}
	return out
}
