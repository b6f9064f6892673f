package materializer

import (
	"context"
	"errors"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/schema"
	"github.com/p2panda/aquadoggo/internal/types"
)

// Schema attempts to build a Schema from a materialized
// schema_definition_v1 view and admit it into the provider, per spec
// §4.5. If the view's relations aren't all materialized yet, this
// no-ops; Dependency does not enqueue "schema", so it runs again only
// when a later reduce of a schema view enqueues it.
func (m *Materializer) Schema(ctx context.Context, viewID types.ViewID) error {
	built, err := schema.Build(ctx, m.store.Reader(), viewID)
	if errors.Is(err, schema.ErrNotReady) {
		return nil
	}
	if err != nil {
		return &transientErr{fmt.Errorf("build schema from view %s: %w", viewID, err)}
	}
	m.schemas.Update(built)
	return nil
}
