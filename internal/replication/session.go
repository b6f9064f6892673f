package replication

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// State is a session's position in the spec §4.7 state machine:
// Pending -> Established -> (Done | Failed).
type State int

const (
	Pending State = iota
	Established
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Established:
		return "Established"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// DedupeKey identifies a session for the "duplicate (peer_id,
// target_set, strategy) sessions are collapsed to one" rule in spec
// §4.7. target_set order does not matter, so it is sorted before
// joining.
func DedupeKey(peerID string, targetSet []string, strategy StrategyKind) string {
	sorted := append([]string{}, targetSet...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s|%d|%s", peerID, strategy, strings.Join(sorted, ","))
}

// Session tracks one sync session's lifecycle and negotiated
// parameters, grounded on drpcorg-chotki/sync.go's Syncer (feedState/
// drainState under one lock, transitions driven by inbound/outbound
// traffic) collapsed here into a single State since spec §4.7 does not
// distinguish feed/drain progress.
type Session struct {
	ID        uint64
	PeerID    string
	Mode      Mode
	Strategy  StrategyKind
	TargetSet []string

	mu    sync.Mutex
	state State
	err   error

	// LogHeights is this session's own last-sent advertisement, kept so
	// a re-announce or reconnect can resume without resending.
	LogHeights map[string]LogHeight
}

// NewSession starts a session Pending its Establish call.
func NewSession(id uint64, peerID string, mode Mode, strategy StrategyKind, targetSet []string) *Session {
	return &Session{
		ID:         id,
		PeerID:     peerID,
		Mode:       mode,
		Strategy:   strategy,
		TargetSet:  targetSet,
		state:      Pending,
		LogHeights: make(map[string]LogHeight),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Establish transitions Pending -> Established. A no-op if already
// established (idempotent against duplicate SyncRequest replies).
func (s *Session) Establish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Established {
		return nil
	}
	if s.state != Pending {
		return fmt.Errorf("replication: cannot establish session %d from state %s", s.ID, s.state)
	}
	s.state = Established
	return nil
}

// Fail transitions to Failed, recording the causing error, per spec
// §4.7 "On any protocol error the session transitions to Failed".
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Done || s.state == Failed {
		return
	}
	s.state = Failed
	s.err = err
}

// Finish transitions to Done, the successful terminal state after
// convergence (one-shot) or an explicit close (live).
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Done || s.state == Failed {
		return
	}
	s.state = Done
}

// Terminal reports whether the session has left the active lifecycle.
func (s *Session) Terminal() bool {
	st := s.State()
	return st == Done || st == Failed
}

// AdvertisedKey names one (public_key, log_id) pair for LogHeights
// map keys.
func AdvertisedKey(h LogHeight) string {
	return fmt.Sprintf("%s/%d", h.PublicKey.String(), h.LogID)
}
