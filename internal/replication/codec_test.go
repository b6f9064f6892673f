package replication

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/types"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Announce{Timestamp: 42, SupportedSchemas: []string{"event_v1"}}

	require.NoError(t, WriteMessage(&buf, KindAnnounce, want))

	kind, body, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindAnnounce, kind)

	var got Announce
	require.NoError(t, Decode(body, &got))
	assert.Equal(t, want, got)
}

func TestWriteReadMultipleMessages(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, KindHave, Have{SessionID: 1}))
	require.NoError(t, WriteMessage(&buf, KindSyncDone, SyncDone{SessionID: 1}))

	kind1, body1, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindHave, kind1)
	var have Have
	require.NoError(t, Decode(body1, &have))
	assert.Equal(t, uint64(1), have.SessionID)

	kind2, body2, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindSyncDone, kind2)
	var done SyncDone
	require.NoError(t, Decode(body2, &done))
	assert.Equal(t, uint64(1), done.SessionID)
}

func TestReadMessageTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, KindAnnounce, Announce{Timestamp: 1}))
	truncated := bytes.NewReader(buf.Bytes()[:2])
	_, _, err := ReadMessage(truncated)
	assert.Error(t, err)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var lenPrefix [4]byte
	lenPrefix[0] = 0xFF // huge length, far beyond maxFrameSize
	r := bytes.NewReader(lenPrefix[:])
	_, _, err := ReadMessage(r)
	assert.Error(t, err)
}

func TestFingerprintRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Fingerprint{SessionID: 7, RangeLo: "a", RangeHi: "z", Hash: 12345, Count: 3}
	require.NoError(t, WriteMessage(&buf, KindFingerprint, want))

	kind, body, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindFingerprint, kind)

	var got Fingerprint
	require.NoError(t, Decode(body, &got))
	assert.Equal(t, want, got)
}

func TestEntryWithPublicKeyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var pk types.PublicKey
	pk[0] = 9

	have := Have{SessionID: 3, LogHeights: []LogHeight{{PublicKey: pk, LogID: 1, SeqNum: 5}}}
	require.NoError(t, WriteMessage(&buf, KindHave, have))

	kind, body, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindHave, kind)

	var got Have
	require.NoError(t, Decode(body, &got))
	assert.Equal(t, have, got)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Announce", KindAnnounce.String())
	assert.Equal(t, "Fingerprint", KindFingerprint.String())
	assert.Equal(t, "Unknown", Kind(0).String())
}

func TestAnnounceAfter(t *testing.T) {
	older := Announce{Timestamp: 1}
	newer := Announce{Timestamp: 2}
	assert.True(t, newer.After(older))
	assert.False(t, older.After(newer))
}
