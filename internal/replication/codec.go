package replication

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// maxFrameSize bounds a single message's wire size, guarding against a
// malicious or corrupt length prefix requesting an unbounded read.
const maxFrameSize = 64 << 20 // 64MB, generous for an Entry carrying a large blob piece operation.

// envelope is the CBOR shape every frame carries: a Kind tag plus the
// CBOR-encoded specific message, so ReadMessage can dispatch to the
// right concrete type before unmarshaling its body.
type envelope struct {
	Kind Kind   `cbor:"k"`
	Body []byte `cbor:"b"`
}

// WriteMessage frames payload as <u32 length><cbor envelope>, per spec
// §6 "length-prefixed CBOR messages, framed as <u32 length><bytes>".
func WriteMessage(w io.Writer, kind Kind, payload any) error {
	body, err := cbor.Marshal(payload)
	if err != nil {
		return fmt.Errorf("replication: marshal %s payload: %w", kind, err)
	}
	frame, err := cbor.Marshal(envelope{Kind: kind, Body: body})
	if err != nil {
		return fmt.Errorf("replication: marshal envelope: %w", err)
	}
	if len(frame) > maxFrameSize {
		return fmt.Errorf("replication: frame too large: %d bytes", len(frame))
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(frame)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("replication: write frame length: %w", err)
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("replication: write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame and returns its Kind and
// CBOR-encoded body, for the caller to unmarshal into the concrete
// type Kind identifies.
func ReadMessage(r io.Reader) (Kind, []byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize {
		return 0, nil, fmt.Errorf("replication: frame length %d exceeds maximum", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return 0, nil, fmt.Errorf("replication: read frame: %w", err)
	}
	var env envelope
	if err := cbor.Unmarshal(frame, &env); err != nil {
		return 0, nil, fmt.Errorf("replication: unmarshal envelope: %w", err)
	}
	return env.Kind, env.Body, nil
}

// Decode unmarshals a message body into dst, the concrete type
// matching the Kind ReadMessage returned.
func Decode(body []byte, dst any) error {
	if err := cbor.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("replication: unmarshal body: %w", err)
	}
	return nil
}
