// Package tasks is the in-memory, deduplicated, persistently-backed
// task queue and worker pool of spec §4.4. It is deliberately distinct
// from internal/store's tasks.go, which only knows how to read/write
// the durable mirror table; this package owns dispatch, retry, and the
// per-task-name starvation guard.
//
// Grounded on drpcorg-chotki/index_manager.go's task-state machine
// (Pending/InProgress/Done/Remove, a sync.Map keyed by task identity,
// per-label Prometheus counters) generalized from that file's
// single reindex-job shape to the spec's named Task{name, input}.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/types"
	"github.com/p2panda/aquadoggo/internal/utils"
)

// dispatchedSet tracks which persisted task ids currently have an
// in-memory Task inflight, so pollOnce never hands the same row to a
// worker twice while it's still being processed.
type dispatchedSet struct {
	sm sync.Map
}

// tryClaim reports whether id was not already claimed, claiming it as
// a side effect.
func (d *dispatchedSet) tryClaim(id int64) bool {
	_, alreadyClaimed := d.sm.LoadOrStore(id, struct{}{})
	return !alreadyClaimed
}

func (d *dispatchedSet) release(id int64) {
	d.sm.Delete(id)
}

// Task is one unit of materializer work, identified by name plus
// DocumentID and/or DocumentViewID (which ones depends on the task).
type Task struct {
	Name           string
	DocumentID     *types.DocumentID
	DocumentViewID *types.ViewID

	persistID int64
}

// Handler processes a task to completion. A returned Transient error
// is retried with backoff; any other error is treated as Fatal and
// surfaced to the supervisor; nil is success.
type Handler func(ctx context.Context, t Task) error

// Transient marks a handler error as retryable, per spec §5's error
// taxonomy ("Transient — store contention, peer disconnect — retried
// with bounded attempts").
type Transient struct{ Err error }

func (t *Transient) Error() string { return fmt.Sprintf("transient: %v", t.Err) }
func (t *Transient) Unwrap() error { return t.Err }

// FatalReporter is the supervisor collaborator a queue reports
// unrecoverable handler errors to (spec §5 "Fatal ... surfaced,
// process shutdown").
type FatalReporter interface {
	ReportFatal(err error)
}

type worker struct {
	name string
	ch   chan Task
	sem  chan struct{} // starvation guard: capacity poolSize-1
}

// Queue is the shared dispatch surface for every task name registered
// with it via Register.
type Queue struct {
	st        *store.Store
	log       utils.Logger
	fatal     FatalReporter
	poolSize  int
	retryMax  int
	backoffStart, backoffMax time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	workers  map[string]*worker
	retries  map[int64]int

	dispatched dispatchedSet
	wake       chan struct{}
	metrics    *Metrics
}

// Options configures retry policy; zero values fall back to the
// defaults recorded in DESIGN.md's Open Question (b) decision.
type Options struct {
	PoolSize     int
	RetryMax     int
	BackoffStart time.Duration
	BackoffMax   time.Duration
	Fatal        FatalReporter
	Registry     prometheus.Registerer
}

// New builds a Queue. Register handlers, then call Start.
func New(st *store.Store, log utils.Logger, opts Options) *Queue {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 3
	}
	if opts.BackoffStart <= 0 {
		opts.BackoffStart = 200 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 5 * time.Second
	}
	return &Queue{
		st:           st,
		log:          log,
		fatal:        opts.Fatal,
		poolSize:     opts.PoolSize,
		retryMax:     opts.RetryMax,
		backoffStart: opts.BackoffStart,
		backoffMax:   opts.BackoffMax,
		handlers:     make(map[string]Handler),
		workers:      make(map[string]*worker),
		retries:      make(map[int64]int),
		wake:         make(chan struct{}, 1),
		metrics:      newMetrics(opts.Registry),
	}
}

// Register associates name with the handler that processes it. Must
// be called before Start.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
	sem := make(chan struct{}, q.poolSize-1)
	if q.poolSize <= 1 {
		sem = make(chan struct{}, 1)
	}
	q.workers[name] = &worker{
		name: name,
		ch:   make(chan Task, 256),
		sem:  sem,
	}
}

// Enqueue implements internal/publish.TaskEnqueuer: it persists the
// task row transactionally. The in-memory side picks it up on the next
// poll, triggered by Wake after the caller's transaction commits.
func (q *Queue) Enqueue(ctx context.Context, tx store.Tx, name string, documentID *types.DocumentID, documentViewID *types.ViewID) error {
	return store.InsertTask(ctx, tx, store.TaskRow{
		Name:           name,
		DocumentID:     documentID,
		DocumentViewID: documentViewID,
	})
}

// Wake schedules an immediate poll of the persisted task table,
// picking up rows inserted by transactions that have just committed.
// Coalesces multiple wakeups arriving before the poll runs.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start loads any tasks left over from a previous run, spawns
// poolSize workers per registered task name, and begins polling for
// newly enqueued tasks. It returns once the initial load completes;
// workers and the poll loop keep running until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	workers := make([]*worker, 0, len(q.workers))
	for _, w := range q.workers {
		workers = append(workers, w)
	}
	q.mu.Unlock()

	for _, w := range workers {
		h := q.handlers[w.name]
		for i := 0; i < q.poolSize; i++ {
			go q.runWorker(ctx, w, h)
		}
	}

	go q.pollLoop(ctx)

	if err := q.pollOnce(ctx); err != nil {
		return fmt.Errorf("initial task load: %w", err)
	}
	return nil
}

func (q *Queue) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
		if err := q.pollOnce(ctx); err != nil {
			q.log.ErrorCtx(ctx, "task queue poll failed", "err", err)
		}
	}
}

func (q *Queue) pollOnce(ctx context.Context) error {
	rows, err := store.GetTasks(ctx, q.st.Reader())
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !q.dispatched.tryClaim(row.ID) {
			continue
		}
		q.mu.Lock()
		w, ok := q.workers[row.Name]
		q.mu.Unlock()
		if !ok {
			q.log.WarnCtx(ctx, "no handler registered for task", "name", row.Name)
			q.dispatched.release(row.ID)
			continue
		}
		w.ch <- Task{Name: row.Name, DocumentID: row.DocumentID, DocumentViewID: row.DocumentViewID, persistID: row.ID}
	}
	return nil
}

func (q *Queue) runWorker(ctx context.Context, w *worker, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.ch:
			q.process(ctx, w, h, t)
		}
	}
}

// process enforces the starvation guard (at most poolSize-1 in-flight
// handler calls for one task name, so the shared store connection
// pool always has headroom for other names, per spec §4.4 "Scheduling
// fairness") then runs the handler and applies its retry/drop/fatal
// disposition.
func (q *Queue) process(ctx context.Context, w *worker, h Handler, t Task) {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-w.sem }()

	q.metrics.inFlight.WithLabelValues(t.Name).Inc()
	err := h(ctx, t)
	q.metrics.inFlight.WithLabelValues(t.Name).Dec()

	if err == nil {
		q.metrics.completed.WithLabelValues(t.Name).Inc()
		q.finish(ctx, t)
		return
	}

	var transient *Transient
	if errors.As(err, &transient) {
		q.metrics.retried.WithLabelValues(t.Name).Inc()
		q.retryOrDrop(ctx, w, t, transient)
		return
	}

	q.metrics.fatal.WithLabelValues(t.Name).Inc()
	q.log.ErrorCtx(ctx, "task handler returned fatal error", "name", t.Name, "err", err)
	if q.fatal != nil {
		q.fatal.ReportFatal(fmt.Errorf("task %s: %w", t.Name, err))
	}
	q.finish(ctx, t)
}

func (q *Queue) finish(ctx context.Context, t Task) {
	err := q.st.WithTx(ctx, func(tx store.Tx) error {
		return store.RemoveTask(ctx, tx, t.persistID)
	})
	if err != nil {
		q.log.ErrorCtx(ctx, "remove completed task failed", "name", t.Name, "err", err)
	}
	q.dispatched.release(t.persistID)

	q.mu.Lock()
	delete(q.retries, t.persistID)
	q.mu.Unlock()
}

func (q *Queue) retryOrDrop(ctx context.Context, w *worker, t Task, cause *Transient) {
	q.mu.Lock()
	q.retries[t.persistID]++
	attempt := q.retries[t.persistID]
	q.mu.Unlock()

	if attempt > q.retryMax {
		q.log.ErrorCtx(ctx, "task exceeded retry limit, dropping", "name", t.Name, "attempts", attempt, "err", cause.Err)
		q.finish(ctx, t)
		return
	}

	delay := q.backoffStart << uint(attempt-1)
	if delay > q.backoffMax || delay <= 0 {
		delay = q.backoffMax
	}
	q.log.WarnCtx(ctx, "task failed transiently, retrying", "name", t.Name, "attempt", attempt, "delay", delay, "err", cause.Err)
	go func() {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		select {
		case w.ch <- t:
		case <-ctx.Done():
		}
	}()
}
