package replication

import (
	"fmt"
	"sync"
	"time"

	"github.com/p2panda/aquadoggo/internal/utils"
)

// PeerPolicy is the peer-level admission control of spec §6: allow and
// block lists are mutually exclusive configuration, checked before
// session setup, per spec §4.7 "Failure model".
type PeerPolicy struct {
	Allow map[string]bool // nil/empty means "no allow-list restriction"
	Block map[string]bool
}

// NewPeerPolicy builds a policy from the raw configuration lists.
// Per spec §6, allow and block are exclusive; if both are non-empty
// the allow-list takes precedence and the block-list is ignored,
// matching the "exclusive" wording as a preference order rather than a
// hard configuration error the node must refuse to start over.
func NewPeerPolicy(allow, block []string) PeerPolicy {
	p := PeerPolicy{}
	if len(allow) > 0 {
		p.Allow = make(map[string]bool, len(allow))
		for _, id := range allow {
			p.Allow[id] = true
		}
		return p
	}
	if len(block) > 0 {
		p.Block = make(map[string]bool, len(block))
		for _, id := range block {
			p.Block[id] = true
		}
	}
	return p
}

// Admits reports whether peerID may open a session at all.
func (p PeerPolicy) Admits(peerID string) bool {
	if len(p.Allow) > 0 {
		return p.Allow[peerID]
	}
	if len(p.Block) > 0 {
		return !p.Block[peerID]
	}
	return true
}

// peerState is one peer's bookkeeping: its latest Announce, an active
// cool-down deadline after a session failure, and the sessions
// currently open with it (for the dedupe-collapse rule).
type peerState struct {
	announce   Announce
	hasAnnounce bool
	cooldownUntil time.Time
	backoff    utils.Backoff
	sessions   map[string]*Session // DedupeKey -> session
}

// PeerSet is the connection-independent bookkeeping shared by every
// transport connection to a given peer id, grounded on
// drpcorg-chotki/network/peer.go's per-connection state generalized
// into a keyed registry (that file tracks one connection; a node here
// talks to many peers concurrently, each with its own cool-down and
// session set).
type PeerSet struct {
	policy PeerPolicy
	log    utils.Logger

	mu    sync.Mutex
	peers map[string]*peerState
}

func NewPeerSet(policy PeerPolicy, log utils.Logger) *PeerSet {
	return &PeerSet{policy: policy, log: log, peers: make(map[string]*peerState)}
}

func (ps *PeerSet) get(peerID string) *peerState {
	st, ok := ps.peers[peerID]
	if !ok {
		st = &peerState{
			sessions: make(map[string]*Session),
			backoff:  utils.Backoff{Start: time.Second, Max: 2 * time.Minute},
		}
		ps.peers[peerID] = st
	}
	return st
}

// Admits reports whether peerID may open a session right now: it must
// pass the static allow/block policy and not be in an active
// cool-down.
func (ps *PeerSet) Admits(peerID string) bool {
	if !ps.policy.Admits(peerID) {
		return false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	st, ok := ps.peers[peerID]
	if !ok {
		return true
	}
	return time.Now().After(st.cooldownUntil)
}

// RecordAnnounce applies peerID's Announce if it is newer than any
// previously recorded one, per spec §4.7 "the newer timestamp wins".
// Returns the schema-id intersection with ours.
func (ps *PeerSet) RecordAnnounce(peerID string, a Announce, ourSchemas []string) []string {
	ps.mu.Lock()
	st := ps.get(peerID)
	if !st.hasAnnounce || a.After(st.announce) {
		st.announce = a
		st.hasAnnounce = true
	}
	current := st.announce
	ps.mu.Unlock()

	return intersect(current.SupportedSchemas, ourSchemas)
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	var out []string
	for _, s := range b {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

// AdmitSession applies the "duplicate (peer_id, target_set, strategy)
// sessions collapse to one" rule: if an equivalent session is already
// active, returns it with isNew=false; otherwise registers sess as the
// active session for its key and returns (sess, true).
func (ps *PeerSet) AdmitSession(sess *Session) (existing *Session, isNew bool) {
	key := DedupeKey(sess.PeerID, sess.TargetSet, sess.Strategy)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	st := ps.get(sess.PeerID)
	if prior, ok := st.sessions[key]; ok && !prior.Terminal() {
		return prior, false
	}
	st.sessions[key] = sess
	return sess, true
}

// ReleaseSession removes a terminal session from the peer's active
// set and, if it failed, starts that peer's cool-down, per spec §4.7
// "a peer-level cool-down suppresses immediate retry".
func (ps *PeerSet) ReleaseSession(sess *Session) {
	key := DedupeKey(sess.PeerID, sess.TargetSet, sess.Strategy)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	st := ps.get(sess.PeerID)
	if current, ok := st.sessions[key]; ok && current == sess {
		delete(st.sessions, key)
	}
	if sess.State() == Failed {
		delay := st.backoff.Next()
		st.cooldownUntil = time.Now().Add(delay)
		ps.log.Warn("replication: peer cooling down after session failure",
			"peer", sess.PeerID, "session", sess.ID, "delay", delay, "err", sess.Err())
	} else {
		st.backoff.Reset()
	}
}

// ErrPeerNotAdmitted is returned when a peer fails the allow/block
// policy or is in cool-down.
var ErrPeerNotAdmitted = fmt.Errorf("replication: peer not admitted")
