package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/types"
)

func sampleEntry() *types.Entry {
	var author types.PublicKey
	author[0] = 1
	var payloadHash types.Hash
	payloadHash[0] = 2
	return &types.Entry{
		Author:      author,
		LogID:       7,
		SeqNum:      3,
		PayloadHash: payloadHash,
		PayloadSize: 128,
	}
}

func TestEncodeDecodeEntryRoundTrip(t *testing.T) {
	e := sampleEntry()
	header := EncodeEntry(e)
	sig := make([]byte, 64)
	sig[0] = 0xAB

	signed := EncodeSignedEntry(header, sig)
	decoded, err := DecodeEntry(signed)
	require.NoError(t, err)

	assert.Equal(t, e.Author, decoded.Author)
	assert.Equal(t, e.LogID, decoded.LogID)
	assert.Equal(t, e.SeqNum, decoded.SeqNum)
	assert.Equal(t, e.PayloadHash, decoded.PayloadHash)
	assert.Equal(t, e.PayloadSize, decoded.PayloadSize)
	assert.Nil(t, decoded.Backlink)
	assert.Nil(t, decoded.Skiplink)
	assert.Equal(t, sig, decoded.Signature)
	assert.Equal(t, signed, decoded.Encoded)
}

func TestEncodeDecodeEntryWithLinks(t *testing.T) {
	e := sampleEntry()
	var backlink, skiplink types.Hash
	backlink[0] = 9
	skiplink[0] = 10
	e.Backlink = &backlink
	e.Skiplink = &skiplink

	header := EncodeEntry(e)
	sig := make([]byte, 64)
	signed := EncodeSignedEntry(header, sig)

	decoded, err := DecodeEntry(signed)
	require.NoError(t, err)
	require.NotNil(t, decoded.Backlink)
	require.NotNil(t, decoded.Skiplink)
	assert.Equal(t, backlink, *decoded.Backlink)
	assert.Equal(t, skiplink, *decoded.Skiplink)
}

func TestDecodeEntryRejectsBadSignatureLength(t *testing.T) {
	e := sampleEntry()
	header := EncodeEntry(e)
	shortSig := make([]byte, 10)
	signed := EncodeSignedEntry(header, shortSig)

	_, err := DecodeEntry(signed)
	assert.Error(t, err)
}

func TestDecodeEntryRejectsTruncatedInput(t *testing.T) {
	_, err := DecodeEntry([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestLipmaaBaseCases(t *testing.T) {
	assert.Equal(t, uint64(0), Lipmaa(1))
	assert.Equal(t, uint64(0), Lipmaa(0))
}

func TestLipmaaIsStrictlyLessThanN(t *testing.T) {
	for n := uint64(2); n < 200; n++ {
		got := Lipmaa(n)
		assert.Lessf(t, got, n, "Lipmaa(%d) should reference an earlier sequence number", n)
	}
}
