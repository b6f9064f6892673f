package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/p2panda/aquadoggo/internal/utils"
)

func TestPeerPolicyAllowListTakesPrecedence(t *testing.T) {
	p := NewPeerPolicy([]string{"peer-a"}, []string{"peer-a"})
	assert.True(t, p.Admits("peer-a"))
	assert.False(t, p.Admits("peer-b"))
}

func TestPeerPolicyBlockList(t *testing.T) {
	p := NewPeerPolicy(nil, []string{"peer-a"})
	assert.False(t, p.Admits("peer-a"))
	assert.True(t, p.Admits("peer-b"))
}

func TestPeerPolicyOpenByDefault(t *testing.T) {
	p := NewPeerPolicy(nil, nil)
	assert.True(t, p.Admits("anyone"))
}

func TestPeerSetAdmitsRespectsPolicy(t *testing.T) {
	policy := NewPeerPolicy(nil, []string{"peer-a"})
	ps := NewPeerSet(policy, utils.Noop{})
	assert.False(t, ps.Admits("peer-a"))
	assert.True(t, ps.Admits("peer-b"))
}

func TestPeerSetAdmitSessionCollapsesDuplicates(t *testing.T) {
	ps := NewPeerSet(NewPeerPolicy(nil, nil), utils.Noop{})
	s1 := NewSession(1, "peer-a", OneShot, LogHeightStrategy, []string{"event_v1"})
	s2 := NewSession(2, "peer-a", OneShot, LogHeightStrategy, []string{"event_v1"})

	got1, isNew1 := ps.AdmitSession(s1)
	assert.True(t, isNew1)
	assert.Same(t, s1, got1)

	got2, isNew2 := ps.AdmitSession(s2)
	assert.False(t, isNew2)
	assert.Same(t, s1, got2)
}

func TestPeerSetAdmitSessionAfterReleaseAllowsNew(t *testing.T) {
	ps := NewPeerSet(NewPeerPolicy(nil, nil), utils.Noop{})
	s1 := NewSession(1, "peer-a", OneShot, LogHeightStrategy, []string{"event_v1"})
	ps.AdmitSession(s1)
	s1.Finish()
	ps.ReleaseSession(s1)

	s2 := NewSession(2, "peer-a", OneShot, LogHeightStrategy, []string{"event_v1"})
	_, isNew := ps.AdmitSession(s2)
	assert.True(t, isNew)
}

func TestPeerSetReleaseAfterFailureCoolsDown(t *testing.T) {
	ps := NewPeerSet(NewPeerPolicy(nil, nil), utils.Noop{})
	s1 := NewSession(1, "peer-a", OneShot, LogHeightStrategy, []string{"event_v1"})
	ps.AdmitSession(s1)
	s1.Fail(assert.AnError)
	ps.ReleaseSession(s1)

	assert.False(t, ps.Admits("peer-a"))
}

func TestRecordAnnounceKeepsNewer(t *testing.T) {
	ps := NewPeerSet(NewPeerPolicy(nil, nil), utils.Noop{})
	overlap1 := ps.RecordAnnounce("peer-a", Announce{Timestamp: 1, SupportedSchemas: []string{"a", "b"}}, []string{"a", "c"})
	assert.ElementsMatch(t, []string{"a"}, overlap1)

	overlap2 := ps.RecordAnnounce("peer-a", Announce{Timestamp: 0, SupportedSchemas: []string{"x"}}, []string{"a", "c"})
	// older announce (timestamp 0) should not overwrite the newer one.
	assert.ElementsMatch(t, []string{"a"}, overlap2)
}
