package replication

import "io"

// Conn is one full-duplex byte stream to a peer — satisfied directly
// by net.Conn, kept as this narrower interface so tests can supply an
// in-memory pipe without a real socket.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Transport opens outbound connections to peers by address, per spec
// §6's `direct_node_addresses`/`relay_addresses` configuration.
// Inbound connections are handed to Engine.ServeConn directly by the
// listener owning the socket (cmd/aquadoggo-node), mirroring
// drpcorg-chotki/toytlv/tcp.go's split between TCPDepot.Connect
// (outbound) and TCPDepot.KeepListening (inbound accept loop) — this
// interface only needs the outbound half since accept loops are a
// transport-specific (TCP vs QUIC) concern.
type Transport interface {
	Dial(addr string) (Conn, error)
}

// outboxSize bounds each peer's pending-write queue, per spec §5
// "Shared resources" / §4.7 "a bounded channel per peer; when full the
// reader suspends, propagating flow control to the transport" —
// grounded on drpcorg-chotki/toyqueue.RecordQueue's Limit field,
// generalized from a byte-record queue to a queue of already-decoded
// outbound messages.
const outboxSize = 256

// outboxMsg pairs a message with the Kind WriteMessage needs to frame
// it, since the outbox channel carries heterogeneous message types.
type outboxMsg struct {
	kind    Kind
	payload any
}
