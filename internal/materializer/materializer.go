package materializer

import (
	"context"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/schema"
	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/tasks"
	"github.com/p2panda/aquadoggo/internal/types"
	"github.com/p2panda/aquadoggo/internal/utils"
)

// Materializer owns the collaborators every task handler needs: the
// store, the schema provider they populate, the task queue they
// enqueue follow-on work on, and the blob directory.
type Materializer struct {
	store         *store.Store
	schemas       *schema.Provider
	tasks         *tasks.Queue
	blobsBasePath string
	log           utils.Logger
}

func New(st *store.Store, schemas *schema.Provider, q *tasks.Queue, blobsBasePath string, log utils.Logger) *Materializer {
	return &Materializer{store: st, schemas: schemas, tasks: q, blobsBasePath: blobsBasePath, log: log}
}

// transientErr marks a handler failure caused by store contention or
// similar recoverable conditions, per spec §5's Transient class —
// unwrapped into a *tasks.Transient at the Register boundary so this
// package doesn't need to import tasks' error type into every task
// file.
type transientErr struct{ error }

func (t *transientErr) Unwrap() error { return t.error }

func (m *Materializer) enqueue(ctx context.Context, name string, documentID *types.DocumentID, documentViewID *types.ViewID) error {
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		return m.tasks.Enqueue(ctx, tx, name, documentID, documentViewID)
	})
	if err != nil {
		return err
	}
	if m.tasks != nil {
		m.tasks.Wake()
	}
	return nil
}

// Register wires every task handler with q under its spec §4.5 name.
func (m *Materializer) Register(q *tasks.Queue) {
	q.Register("reduce", m.wrap(func(ctx context.Context, t tasks.Task) error {
		return m.Reduce(ctx, t.DocumentID, t.DocumentViewID)
	}))
	q.Register("dependency", m.wrap(func(ctx context.Context, t tasks.Task) error {
		if t.DocumentViewID == nil {
			return fmt.Errorf("dependency: task missing document_view_id")
		}
		return m.Dependency(ctx, *t.DocumentViewID)
	}))
	q.Register("schema", m.wrap(func(ctx context.Context, t tasks.Task) error {
		if t.DocumentViewID == nil {
			return fmt.Errorf("schema: task missing document_view_id")
		}
		return m.Schema(ctx, *t.DocumentViewID)
	}))
	q.Register("blob", m.wrap(func(ctx context.Context, t tasks.Task) error {
		if t.DocumentID == nil || t.DocumentViewID == nil {
			return fmt.Errorf("blob: task missing document_id or document_view_id")
		}
		return m.Blob(ctx, *t.DocumentID, *t.DocumentViewID)
	}))
	q.Register("garbage_collection", m.wrap(func(ctx context.Context, t tasks.Task) error {
		return m.GarbageCollection(ctx, t.DocumentID, t.DocumentViewID)
	}))
}

// wrap converts our internal *transientErr marker into the
// *tasks.Transient the queue's retry logic recognizes.
func (m *Materializer) wrap(h func(context.Context, tasks.Task) error) tasks.Handler {
	return func(ctx context.Context, t tasks.Task) error {
		err := h(ctx, t)
		if err == nil {
			return nil
		}
		if te, ok := err.(*transientErr); ok {
			return &tasks.Transient{Err: te.error}
		}
		return err
	}
}
