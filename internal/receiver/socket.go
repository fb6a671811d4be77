// Package receiver implements the shared per-address-family raw receiver
// that every probe in the process registers with. It owns exactly one
// socket per family, decodes every inbound message with internal/wire, and
// routes each one to at most one waiting probe, never broadcasting. Raw
// echo sockets may see every inbound echo/error message on some kernels;
// one process-wide receiver eliminates duplicate processing, and
// correlation by embedded identifier/port recovers the routing that
// stream/datagram sockets normally get for free.
package receiver

import (
	"net"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// Socket is the receiver's view of its shared raw socket: set the hop
// limit, write a packet to a destination, and read one inbound datagram.
// It is an interface so tests can feed synthetic bytes through a fake
// implementation instead of opening a real raw socket.
type Socket interface {
	SetHopLimit(ttl int) error
	WriteTo(b []byte, dst net.IP) (int, error)
	// ReadFrom blocks until one datagram is available. For v4 the
	// returned buffer may be prefixed with the IP header (split later by
	// internal/wire.SplitReceivedIPv4), in which case the returned peer
	// address may be nil; rawSocket's reads go through net.IPConn, which
	// strips that header and populates peer. For v6 the buffer is the bare
	// ICMPv6 message and peer is always populated (v6 datagram-mode raw
	// sockets strip the IP header).
	ReadFrom(b []byte) (n int, peer net.IP, err error)
	Close() error
}

// Factory opens a new Socket for the given family. The real implementation
// opens a raw ICMP socket; tests substitute a fake.
type Factory func(family core.Family) (Socket, error)

// rawSocket is the real Socket, backed by golang.org/x/net/icmp.
type rawSocket struct {
	family core.Family
	conn   *icmp.PacketConn
	v4     *ipv4.PacketConn
	v6     *ipv6.PacketConn
}

// OpenRawSocket opens the shared raw ICMP/ICMPv6 socket for a family. This
// is the default Factory used by the process-wide Manager.
func OpenRawSocket(family core.Family) (Socket, error) {
	conn, err := icmp.ListenPacket(family.Network(), family.AnyAddr().String())
	if err != nil {
		return nil, classifyOpenErr(err)
	}
	s := &rawSocket{family: family, conn: conn}
	if family == core.FamilyV6 {
		s.v6 = conn.IPv6PacketConn()
	} else {
		s.v4 = conn.IPv4PacketConn()
	}
	return s, nil
}

func (s *rawSocket) SetHopLimit(ttl int) error {
	if s.family == core.FamilyV6 {
		return s.v6.SetHopLimit(ttl)
	}
	return s.v4.SetTTL(ttl)
}

func (s *rawSocket) WriteTo(b []byte, dst net.IP) (int, error) {
	n, err := s.conn.WriteTo(b, &net.IPAddr{IP: dst})
	return n, classifySendErr(err)
}

func (s *rawSocket) ReadFrom(b []byte) (int, net.IP, error) {
	n, peer, err := s.conn.ReadFrom(b)
	if err != nil {
		return 0, nil, err
	}
	var ip net.IP
	if ipa, ok := peer.(*net.IPAddr); ok {
		ip = ipa.IP
	}
	return n, ip, nil
}

func (s *rawSocket) Close() error {
	return s.conn.Close()
}

// classifyOpenErr maps a raw-socket-open failure onto the boundary error
// set; a permission failure here aborts the whole trace.
func classifyOpenErr(err error) error {
	if isPermissionErr(err) {
		return core.ErrPermissionDenied
	}
	return err
}
