// Package encoding implements the entry/operation byte codecs. Per
// spec §1 the real Bamboo entry framing and CBOR operation encoding
// are external, out-of-scope collaborators; this package provides a
// concrete stand-in precise enough to exercise every field the store
// and validator depend on (seq_num, backlink, skiplink, payload_hash,
// signature) without claiming wire-compatibility with the real
// p2panda/Bamboo format. The fixed-layout write here is grounded on
// the Design Notes' guidance that the entry encoding is exactly the
// bytes the signature is computed over, which is the textbook case for
// encoding/binary rather than a self-describing format.
package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/p2panda/aquadoggo/internal/types"
)

// EncodeEntry serializes an entry's header fields (everything but the
// signature) into the exact bytes that get hashed into EntryHash and
// signed. Layout: author(32) | log_id(8) | seq_num(8) | payload_hash(32)
// | payload_size(8) | has_backlink(1) [backlink(32)] |
// has_skiplink(1) [skiplink(32)].
func EncodeEntry(e *types.Entry) []byte {
	buf := make([]byte, 0, 32+8+8+32+8+1+32+1+32)
	buf = append(buf, e.Author[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.LogID))
	buf = binary.BigEndian.AppendUint64(buf, e.SeqNum)
	buf = append(buf, e.PayloadHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, e.PayloadSize)
	if e.Backlink != nil {
		buf = append(buf, 1)
		buf = append(buf, e.Backlink[:]...)
	} else {
		buf = append(buf, 0)
	}
	if e.Skiplink != nil {
		buf = append(buf, 1)
		buf = append(buf, e.Skiplink[:]...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeEntry parses bytes produced by EncodeEntry followed by a
// trailing Ed25519 signature (64 bytes), reconstructing an
// types.Entry with Encoded/Signature populated but EntryHash left
// zero (the caller hashes Encoded with the crypto.Suite).
func DecodeEntry(raw []byte) (*types.Entry, error) {
	r := bytes.NewReader(raw)
	e := &types.Entry{}

	if _, err := readFull(r, e.Author[:]); err != nil {
		return nil, fmt.Errorf("decode entry author: %w", err)
	}
	logID, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("decode entry log_id: %w", err)
	}
	e.LogID = types.LogID(logID)

	e.SeqNum, err = readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("decode entry seq_num: %w", err)
	}

	if _, err := readFull(r, e.PayloadHash[:]); err != nil {
		return nil, fmt.Errorf("decode entry payload_hash: %w", err)
	}

	e.PayloadSize, err = readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("decode entry payload_size: %w", err)
	}

	hasBacklink, err := readByte(r)
	if err != nil {
		return nil, fmt.Errorf("decode entry backlink flag: %w", err)
	}
	if hasBacklink == 1 {
		var h types.Hash
		if _, err := readFull(r, h[:]); err != nil {
			return nil, fmt.Errorf("decode entry backlink: %w", err)
		}
		e.Backlink = &h
	}

	hasSkiplink, err := readByte(r)
	if err != nil {
		return nil, fmt.Errorf("decode entry skiplink flag: %w", err)
	}
	if hasSkiplink == 1 {
		var h types.Hash
		if _, err := readFull(r, h[:]); err != nil {
			return nil, fmt.Errorf("decode entry skiplink: %w", err)
		}
		e.Skiplink = &h
	}

	sig := make([]byte, r.Len())
	if _, err := readFull(r, sig); err != nil {
		return nil, fmt.Errorf("decode entry signature: %w", err)
	}
	if len(sig) != 64 {
		return nil, fmt.Errorf("decode entry signature: want 64 bytes, got %d", len(sig))
	}
	e.Signature = sig
	e.Encoded = raw
	return e, nil
}

func readFull(r *bytes.Reader, dst []byte) (int, error) {
	n, err := r.Read(dst)
	if err != nil {
		return n, err
	}
	if n != len(dst) {
		return n, fmt.Errorf("short read: want %d got %d", len(dst), n)
	}
	return n, nil
}

func readByte(r *bytes.Reader) (byte, error) {
	return r.ReadByte()
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// EncodeSignedEntry appends sig to the header bytes produced by
// EncodeEntry, the layout DecodeEntry expects.
func EncodeSignedEntry(header, sig []byte) []byte {
	return append(append([]byte{}, header...), sig...)
}

// Lipmaa returns the sequence number a skiplink at position n must
// reference, per the lipmaa-link function used for logarithmic log
// verification (spec §3, Glossary "Lipmaa link"). n and the result are
// both 1-based sequence numbers.
func Lipmaa(n uint64) uint64 {
	if n <= 1 {
		return 0
	}
	// Standard Bamboo lipmaa-link computation over the (3^k-1)/2 block
	// sizes: e.g. Lipmaa(4)=1, Lipmaa(8)=4, Lipmaa(13)=4.
	m, po3, x := uint64(1), uint64(3), n
	for m < n {
		po3 *= 3
		m = (po3 - 1) / 2
	}
	po3 /= 3
	if m != n {
		for x != 0 {
			m = (po3 - 1) / 2
			po3 /= 3
			x %= m
		}
		if m != po3 {
			po3 = m
		}
	}
	return n - po3
}
