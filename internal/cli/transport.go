package cli

import (
	"net"

	"github.com/p2panda/aquadoggo/internal/replication"
)

// tcpTransport is the one concrete replication.Transport this binary
// wires up. Spec §1 places "the transport layer (QUIC/TCP, NAT
// traversal, relay/rendezvous, peer discovery)" out of scope for the
// library itself — internal/replication only defines the Dial/Conn
// boundary — but a runnable node needs at least one concrete
// implementation to talk to a peer over, so this uses stdlib `net`
// for direct TCP dialing, per spec §6's `direct_node_addresses`.
// QUIC, mDNS discovery, and relay/rendezvous addresses are accepted
// as configuration but not implemented; see logUnsupportedTransports
// in run.go.
type tcpTransport struct{}

func (tcpTransport) Dial(addr string) (replication.Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
