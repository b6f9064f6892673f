package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession(1, "peer-a", OneShot, LogHeightStrategy, []string{"event_v1"})
	assert.Equal(t, Pending, s.State())
	assert.False(t, s.Terminal())

	require.NoError(t, s.Establish())
	assert.Equal(t, Established, s.State())

	// idempotent re-establish.
	require.NoError(t, s.Establish())

	s.Finish()
	assert.Equal(t, Done, s.State())
	assert.True(t, s.Terminal())

	// Finish/Fail after terminal are no-ops.
	s.Fail(assert.AnError)
	assert.Equal(t, Done, s.State())
	assert.NoError(t, s.Err())
}

func TestSessionFail(t *testing.T) {
	s := NewSession(2, "peer-b", Live, SetReconciliation, nil)
	require.NoError(t, s.Establish())
	s.Fail(assert.AnError)
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, assert.AnError, s.Err())
	assert.True(t, s.Terminal())
}

func TestEstablishFromTerminalFails(t *testing.T) {
	s := NewSession(3, "peer-c", OneShot, LogHeightStrategy, nil)
	s.Fail(assert.AnError)
	assert.Error(t, s.Establish())
}

func TestDedupeKeyIgnoresTargetSetOrder(t *testing.T) {
	k1 := DedupeKey("peer-a", []string{"b", "a"}, LogHeightStrategy)
	k2 := DedupeKey("peer-a", []string{"a", "b"}, LogHeightStrategy)
	assert.Equal(t, k1, k2)
}

func TestDedupeKeyDistinguishesStrategy(t *testing.T) {
	k1 := DedupeKey("peer-a", []string{"a"}, LogHeightStrategy)
	k2 := DedupeKey("peer-a", []string{"a"}, SetReconciliation)
	assert.NotEqual(t, k1, k2)
}
