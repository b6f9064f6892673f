// Package supervisor is the root shutdown coordinator of spec §5/§7:
// components report Fatal errors here, and the first one triggers a
// broadcast cancellation every other component observes at its next
// suspension point. Grounded on the "single fatal-error channel feeds
// a root shutdown" convention already implicit in the teacher's
// context-cancellation-on-close shape (drpcorg-chotki/chotki.go's
// Close/context lifecycle), made explicit here as its own component
// since the spec calls it out as a distinct responsibility.
package supervisor

import (
	"context"
	"sync"

	"github.com/p2panda/aquadoggo/internal/utils"
)

// Supervisor collects fatal errors from any component and cancels its
// root context exactly once, in response to the first one.
type Supervisor struct {
	log utils.Logger

	cancel context.CancelFunc
	ctx    context.Context

	mu      sync.Mutex
	err     error
	stopped bool

	ready  chan struct{}
	readyOnce sync.Once
}

// New wraps parent with a cancellable root context; Context returns
// the context every component should derive its own from.
func New(parent context.Context, log utils.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
}

// Context is the root context components observe for cancellation at
// every suspension point (spec §5 "Cancellation").
func (s *Supervisor) Context() context.Context { return s.ctx }

// ReportFatal records err (if this is the first report) and triggers
// shutdown. Implements internal/tasks.FatalReporter and is safe to
// call from replication/store/any component.
func (s *Supervisor) ReportFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.err = err
	s.log.Error("fatal error, shutting down", "err", err)
	s.cancel()
}

// Shutdown triggers a normal (non-fatal) shutdown, e.g. on SIGTERM.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.cancel()
}

// Err returns the fatal error that triggered shutdown, or nil for a
// normal shutdown — the process exit code (spec §6) is non-zero only
// in the former case.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// MarkReady signals that every component has finished start-up, so
// clients may be let in (spec §5 "A ready-signal gates clients from
// connecting before all components report ready"). Safe to call more
// than once.
func (s *Supervisor) MarkReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready is closed once MarkReady has been called.
func (s *Supervisor) Ready() <-chan struct{} { return s.ready }
