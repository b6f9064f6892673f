// Package publish implements the single transactional path new
// entries enter the system through, per spec §4.3: validate,
// insert_entry, insert_operation, ensure_log, enqueue reduce, commit,
// broadcast. Both the client-facing API and replication ingress share
// this one pipeline so they enforce identical rules (spec §5).
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/bus"
	"github.com/p2panda/aquadoggo/internal/encoding"
	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
	"github.com/p2panda/aquadoggo/internal/utils"
	"github.com/p2panda/aquadoggo/internal/validator"
)

// NewOperation is broadcast on commit, consumed by the materializer
// (to enqueue reduce, though publish already enqueues it directly —
// this signal exists for collaborators like replication that want to
// know about newly committed operations without polling the queue)
// and by the replication engine (to offer the entry to peers).
type NewOperation struct {
	Entry     *types.Entry
	Operation *types.Operation
}

// TaskEnqueuer is the subset of internal/tasks the pipeline needs: a
// way to hand off the reduce task it enqueues transactionally so the
// in-memory queue picks it up as soon as the commit lands, without the
// pipeline depending on the whole tasks package.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, tx store.Tx, name string, documentID *types.DocumentID, documentViewID *types.ViewID) error
}

// Waker lets the pipeline nudge the task queue to poll immediately
// after a commit lands, instead of waiting for its periodic tick.
type Waker interface {
	Wake()
}

// Pipeline is the publish entrypoint shared by the client API and
// replication ingress.
type Pipeline struct {
	store     *store.Store
	validator *validator.Validator
	tasks     TaskEnqueuer
	waker     Waker
	bus       *bus.Bus[NewOperation]
	log       utils.Logger
}

func New(st *store.Store, v *validator.Validator, tasks TaskEnqueuer, waker Waker, b *bus.Bus[NewOperation], log utils.Logger) *Pipeline {
	return &Pipeline{store: st, validator: v, tasks: tasks, waker: waker, bus: b, log: log}
}

// Publish runs the full validate-then-commit path for one entry. A
// Duplicate validation error is idempotent success: it returns the
// NextArgs the caller would already have, with no error.
func (p *Pipeline) Publish(ctx context.Context, entryBytes, operationBytes []byte) (*validator.NextArgs, error) {
	var decoded *validator.Decoded
	var nextArgs *validator.NextArgs

	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		d, verr := p.validator.Validate(ctx, tx, entryBytes, operationBytes)
		if verr != nil {
			var vErr *validator.Error
			if errors.As(verr, &vErr) && vErr.Kind == validator.Duplicate {
				args, err := recomputeNextArgs(ctx, tx, entryBytes)
				if err != nil {
					return err
				}
				nextArgs = args
				return errDuplicate
			}
			return verr
		}
		decoded = d

		if err := store.InsertEntry(ctx, tx, d.Entry); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		if err := store.InsertOperation(ctx, tx, d.Operation); err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}
		logID, err := store.EnsureLog(ctx, tx, d.Entry.Author, d.Operation.DocumentID, d.Operation.SchemaID)
		if err != nil {
			return fmt.Errorf("ensure log: %w", err)
		}
		if logID != d.Entry.LogID {
			return &validator.Error{Kind: validator.LogIdMismatch, Err: fmt.Errorf("entry log_id %d does not match assigned log_id %d", d.Entry.LogID, logID)}
		}

		if p.tasks != nil {
			view := types.NewViewID([]types.OperationID{d.Operation.ID})
			if err := p.tasks.Enqueue(ctx, tx, "reduce", &d.Operation.DocumentID, &view); err != nil {
				return fmt.Errorf("enqueue reduce task: %w", err)
			}
		}

		nextArgs = &validator.NextArgs{
			LogID:    d.Entry.LogID,
			SeqNum:   d.Entry.SeqNum,
			Backlink: d.Entry.Backlink,
			Skiplink: d.Entry.Skiplink,
		}
		return nil
	})

	if errors.Is(err, errDuplicate) {
		return nextArgs, nil
	}
	if err != nil {
		return nil, err
	}

	if decoded != nil {
		if p.waker != nil {
			p.waker.Wake()
		}
		if p.bus != nil {
			p.bus.Publish(NewOperation{Entry: decoded.Entry, Operation: decoded.Operation})
		}
	}
	return nextArgs, nil
}

var errDuplicate = errors.New("publish: duplicate entry, idempotent success")

// recomputeNextArgs answers next_args as if the duplicate entry had
// never been offered, by looking up the log it (already) belongs to.
func recomputeNextArgs(ctx context.Context, tx store.Tx, entryBytes []byte) (*validator.NextArgs, error) {
	// A duplicate entry decodes cleanly (validator already confirmed
	// this before classifying it as a duplicate), so re-decoding here
	// to recover author/log_id is safe and avoids threading the
	// decoded entry through the duplicate-error path.
	e, err := encoding.DecodeEntry(entryBytes)
	if err != nil {
		return nil, err
	}
	return validator.ComputeNextArgs(ctx, tx, e.Author, e.LogID)
}
