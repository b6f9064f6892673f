package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/p2panda/aquadoggo/internal/publish"
	"github.com/p2panda/aquadoggo/internal/schema"
	"github.com/p2panda/aquadoggo/internal/store"
	"github.com/p2panda/aquadoggo/internal/utils"
	"github.com/p2panda/aquadoggo/internal/validator"
)

// Engine drives one node's side of every peer connection: announcing
// supported schemas, accepting or opening sessions, running the
// negotiated strategy, and funneling received entries through the
// shared publish pipeline (spec §4.7 "Ingress"). Grounded on
// drpcorg-chotki/network/peer.go's Keep() full-duplex orchestration
// (independent read/write goroutines, write failure closes the
// connection which then cancels the read side), generalized from one
// connection's TLV record stream to many concurrent peer connections
// each carrying possibly-multiple sessions.
type Engine struct {
	store     *store.Store
	pipeline  *publish.Pipeline
	schemas   *schema.Provider
	peers     *PeerSet
	log       utils.Logger
	sessionID atomic.Uint64
}

func New(st *store.Store, pipeline *publish.Pipeline, schemas *schema.Provider, peers *PeerSet, log utils.Logger) *Engine {
	return &Engine{store: st, pipeline: pipeline, schemas: schemas, peers: peers, log: log}
}

func (e *Engine) nextSessionID() uint64 { return e.sessionID.Add(1) }

// ourSupportedSchemas is the current Announce payload: every schema id
// this node has admitted, per spec §4.7.
func (e *Engine) ourSupportedSchemas() []string {
	all := e.schemas.All()
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.ID.String()
	}
	return out
}

// connState is one live connection's bookkeeping: its outbound queue
// and the sessions currently open on it.
type connState struct {
	peerID string
	conn   Conn
	outbox chan outboxMsg

	mu       sync.Mutex
	sessions map[uint64]*Session
	// pending holds this connection's Entry messages that failed with
	// BacklinkMissing, retried whenever another entry from this
	// connection commits successfully — per spec §4.7 "the strategy
	// re-orders them before forwarding". This is a best-effort
	// single-pass reorder, not a full topological buffer: a chain more
	// than one entry deep converges once its predecessor arrives and
	// triggers a retry pass.
	pending []Entry
}

// ServeConn runs one peer connection to completion (until the
// connection closes or ctx is cancelled), handling every session
// multiplexed over it. peerID identifies the peer for allow/block/
// cool-down bookkeeping — for a direct TCP/QUIC transport this is
// typically the peer's public key or configured node id.
func (e *Engine) ServeConn(ctx context.Context, peerID string, conn Conn) error {
	if !e.peers.Admits(peerID) {
		conn.Close()
		return ErrPeerNotAdmitted
	}

	cs := &connState{
		peerID:   peerID,
		conn:     conn,
		outbox:   make(chan outboxMsg, outboxSize),
		sessions: make(map[uint64]*Session),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	writeErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		writeErr <- e.writeLoop(ctx, cs)
	}()

	cs.outbox <- outboxMsg{kind: KindAnnounce, payload: Announce{
		Timestamp:        time.Now().Unix(),
		SupportedSchemas: e.ourSupportedSchemas(),
	}}

	readErr := e.readLoop(ctx, cs)
	cancel()
	conn.Close()
	wg.Wait()

	for _, sess := range cs.snapshotSessions() {
		if !sess.Terminal() {
			sess.Fail(fmt.Errorf("replication: connection closed"))
		}
		e.peers.ReleaseSession(sess)
	}

	if readErr != nil {
		return readErr
	}
	select {
	case werr := <-writeErr:
		return werr
	default:
		return nil
	}
}

func (cs *connState) snapshotSessions() []*Session {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*Session, 0, len(cs.sessions))
	for _, s := range cs.sessions {
		out = append(out, s)
	}
	return out
}

func (e *Engine) writeLoop(ctx context.Context, cs *connState) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-cs.outbox:
			if err := WriteMessage(cs.conn, msg.kind, msg.payload); err != nil {
				return fmt.Errorf("replication: write to %s: %w", cs.peerID, err)
			}
		}
	}
}

// send enqueues msg on cs's outbox, suspending (propagating
// backpressure to whatever produced msg) if the outbox is full, or
// returning early if ctx is cancelled first.
func (cs *connState) send(ctx context.Context, kind Kind, payload any) error {
	select {
	case cs.outbox <- outboxMsg{kind: kind, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) readLoop(ctx context.Context, cs *connState) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		kind, body, err := ReadMessage(cs.conn)
		if err != nil {
			return fmt.Errorf("replication: read from %s: %w", cs.peerID, err)
		}
		if err := e.dispatch(ctx, cs, kind, body); err != nil {
			e.log.WarnCtx(ctx, "replication: message handling failed", "peer", cs.peerID, "kind", kind.String(), "err", err)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, cs *connState, kind Kind, body []byte) error {
	switch kind {
	case KindAnnounce:
		var a Announce
		if err := Decode(body, &a); err != nil {
			return err
		}
		e.peers.RecordAnnounce(cs.peerID, a, e.ourSupportedSchemas())
		return nil

	case KindSyncRequest:
		var req SyncRequest
		if err := Decode(body, &req); err != nil {
			return err
		}
		return e.acceptSession(ctx, cs, req)

	case KindHave:
		var h Have
		if err := Decode(body, &h); err != nil {
			return err
		}
		return e.handleHave(ctx, cs, h)

	case KindFingerprint:
		var fp Fingerprint
		if err := Decode(body, &fp); err != nil {
			return err
		}
		return e.handleFingerprint(ctx, cs, fp)

	case KindEntry:
		var msg Entry
		if err := Decode(body, &msg); err != nil {
			return err
		}
		return e.handleEntry(ctx, cs, msg)

	case KindSyncDone:
		var msg SyncDone
		if err := Decode(body, &msg); err != nil {
			return err
		}
		return e.handleSyncDone(cs, msg)

	default:
		return fmt.Errorf("unknown message kind %d", kind)
	}
}

// OpenSession initiates a session with the peer already connected as
// cs's owner, per spec §4.7 "SyncRequest ... opens a session".
func (e *Engine) OpenSession(ctx context.Context, cs *connState, mode Mode, strategy StrategyKind, targetSet []string) (*Session, error) {
	if !e.peers.Admits(cs.peerID) {
		return nil, ErrPeerNotAdmitted
	}
	sess := NewSession(e.nextSessionID(), cs.peerID, mode, strategy, targetSet)
	existing, isNew := e.peers.AdmitSession(sess)
	if !isNew {
		return existing, nil
	}
	cs.mu.Lock()
	cs.sessions[sess.ID] = sess
	cs.mu.Unlock()

	if err := sess.Establish(); err != nil {
		return nil, err
	}
	if err := cs.send(ctx, KindSyncRequest, SyncRequest{
		SessionID: sess.ID, Mode: mode, Strategy: strategy, TargetSet: targetSet,
	}); err != nil {
		sess.Fail(err)
		return nil, err
	}
	if err := e.offerStrategyOpen(ctx, cs, sess); err != nil {
		sess.Fail(err)
		return nil, err
	}
	return sess, nil
}

func (e *Engine) acceptSession(ctx context.Context, cs *connState, req SyncRequest) error {
	if !e.peers.Admits(cs.peerID) {
		return cs.send(ctx, KindSyncDone, SyncDone{SessionID: req.SessionID, Err: ErrPeerNotAdmitted.Error()})
	}
	sess := NewSession(req.SessionID, cs.peerID, req.Mode, req.Strategy, req.TargetSet)
	existing, isNew := e.peers.AdmitSession(sess)
	if !isNew {
		sess = existing
	}
	if err := sess.Establish(); err != nil {
		return cs.send(ctx, KindSyncDone, SyncDone{SessionID: req.SessionID, Err: err.Error()})
	}
	cs.mu.Lock()
	cs.sessions[sess.ID] = sess
	cs.mu.Unlock()

	return e.offerStrategyOpen(ctx, cs, sess)
}

// offerStrategyOpen sends this side's opening move for sess's
// strategy: a Have advertisement for log-height, a Fingerprint for
// set-reconciliation.
func (e *Engine) offerStrategyOpen(ctx context.Context, cs *connState, sess *Session) error {
	switch sess.Strategy {
	case LogHeightStrategy:
		heights, err := OurHeights(ctx, e.store.Reader(), sess.TargetSet)
		if err != nil {
			return err
		}
		return cs.send(ctx, KindHave, Have{SessionID: sess.ID, LogHeights: heights})
	case SetReconciliation:
		fp, err := RangeFingerprint(ctx, e.store.Reader(), sess.TargetSet)
		if err != nil {
			return err
		}
		fp.SessionID = sess.ID
		return cs.send(ctx, KindFingerprint, fp)
	default:
		return fmt.Errorf("unknown strategy %d", sess.Strategy)
	}
}

func (e *Engine) sessionByID(cs *connState, id uint64) (*Session, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	s, ok := cs.sessions[id]
	return s, ok
}

// handleHave answers a peer's height advertisement with every entry
// it is missing, then, for a one-shot session, closes it — per spec
// §4.7's log-height strategy and "one-shot terminates after
// convergence".
func (e *Engine) handleHave(ctx context.Context, cs *connState, h Have) error {
	sess, ok := e.sessionByID(cs, h.SessionID)
	if !ok {
		return fmt.Errorf("have message for unknown session %d", h.SessionID)
	}
	ourHeights, err := OurHeights(ctx, e.store.Reader(), sess.TargetSet)
	if err != nil {
		sess.Fail(err)
		return err
	}
	missing, err := EntriesNewerThanPeer(ctx, e.store.Reader(), ourHeights, []Have{h})
	if err != nil {
		sess.Fail(err)
		return err
	}
	for _, entry := range missing {
		if err := cs.send(ctx, KindEntry, Entry{
			SessionID:      sess.ID,
			EntryBytes:     entry.Encoded,
			OperationBytes: entry.Payload,
		}); err != nil {
			sess.Fail(err)
			return err
		}
	}

	if sess.Mode == OneShot {
		sess.Finish()
		e.peers.ReleaseSession(sess)
		return cs.send(ctx, KindSyncDone, SyncDone{SessionID: sess.ID})
	}
	return nil
}

// handleFingerprint answers a peer's range fingerprint: if it matches
// ours the range has already converged, otherwise it falls back to
// the log-height strategy for the whole (diverged) range, per spec
// §4.7 "falls back to log-height per diverged range" — this
// implementation does not yet bisect the range to find the specific
// diverged subrange, so the fallback re-sends heights for the full
// target_set rather than a narrower slice.
func (e *Engine) handleFingerprint(ctx context.Context, cs *connState, peerFP Fingerprint) error {
	sess, ok := e.sessionByID(cs, peerFP.SessionID)
	if !ok {
		return fmt.Errorf("fingerprint message for unknown session %d", peerFP.SessionID)
	}
	ourFP, err := RangeFingerprint(ctx, e.store.Reader(), sess.TargetSet)
	if err != nil {
		sess.Fail(err)
		return err
	}

	if Diverged(ourFP, peerFP) {
		heights, err := OurHeights(ctx, e.store.Reader(), sess.TargetSet)
		if err != nil {
			sess.Fail(err)
			return err
		}
		return cs.send(ctx, KindHave, Have{SessionID: sess.ID, LogHeights: heights})
	}

	if sess.Mode == OneShot {
		sess.Finish()
		e.peers.ReleaseSession(sess)
		return cs.send(ctx, KindSyncDone, SyncDone{SessionID: sess.ID})
	}
	return nil
}

// handleEntry runs a received entry through the shared publish
// pipeline, per spec §4.7 "Ingress": every received Entry is funneled
// through the same publish pipeline, enforcing the exact same
// validation.
func (e *Engine) handleEntry(ctx context.Context, cs *connState, msg Entry) error {
	sess, ok := e.sessionByID(cs, msg.SessionID)
	if !ok {
		return fmt.Errorf("entry message for unknown session %d", msg.SessionID)
	}

	_, err := e.pipeline.Publish(ctx, msg.EntryBytes, msg.OperationBytes)
	if err == nil {
		e.retryPending(ctx, cs)
		return nil
	}

	var vErr *validator.Error
	if errors.As(err, &vErr) && vErr.Kind == validator.BacklinkMissing {
		cs.mu.Lock()
		cs.pending = append(cs.pending, msg)
		cs.mu.Unlock()
		return nil
	}

	sess.Fail(err)
	e.peers.ReleaseSession(sess)
	_ = cs.send(ctx, KindSyncDone, SyncDone{SessionID: sess.ID, Err: err.Error()})
	return err
}

// retryPending re-offers every buffered out-of-order entry once
// something has just committed successfully, since that commit may
// have been the missing backlink one of them needed.
func (e *Engine) retryPending(ctx context.Context, cs *connState) {
	cs.mu.Lock()
	batch := cs.pending
	cs.pending = nil
	cs.mu.Unlock()

	var stillPending []Entry
	for _, msg := range batch {
		if _, err := e.pipeline.Publish(ctx, msg.EntryBytes, msg.OperationBytes); err != nil {
			var vErr *validator.Error
			if errors.As(err, &vErr) && vErr.Kind == validator.BacklinkMissing {
				stillPending = append(stillPending, msg)
				continue
			}
			e.log.WarnCtx(ctx, "replication: buffered entry failed on retry", "err", err)
			continue
		}
	}
	if len(stillPending) > 0 {
		cs.mu.Lock()
		cs.pending = append(cs.pending, stillPending...)
		cs.mu.Unlock()
	}
}

func (e *Engine) handleSyncDone(cs *connState, msg SyncDone) error {
	sess, ok := e.sessionByID(cs, msg.SessionID)
	if !ok {
		return nil
	}
	if msg.Err != "" {
		sess.Fail(errors.New(msg.Err))
		e.peers.ReleaseSession(sess)
		return nil
	}
	if msg.LiveMode {
		return nil
	}
	sess.Finish()
	e.peers.ReleaseSession(sess)
	return nil
}
