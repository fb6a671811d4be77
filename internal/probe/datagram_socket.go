package probe

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// udpSocket is the real DatagramSocket, bound to (any, 0) so the kernel
// assigns the ephemeral source port that doubles as the probe's
// correlation identifier.
type udpSocket struct {
	family core.Family
	conn   *net.UDPConn
	v4     *ipv4.Conn
	v6     *ipv6.Conn
}

// OpenDatagramSocket is the default DatagramFactory for family.
func OpenDatagramSocket(family core.Family) (DatagramSocket, error) {
	network := "udp4"
	if family == core.FamilyV6 {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, &net.UDPAddr{IP: family.AnyAddr(), Port: 0})
	if err != nil {
		return nil, classifySocketErr(err)
	}
	s := &udpSocket{family: family, conn: conn}
	if family == core.FamilyV6 {
		s.v6 = ipv6.NewConn(conn)
	} else {
		s.v4 = ipv4.NewConn(conn)
	}
	return s, nil
}

func (s *udpSocket) LocalPort() uint16 {
	return uint16(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

func (s *udpSocket) SetHopLimit(ttl int) error {
	if s.family == core.FamilyV6 {
		return s.v6.SetHopLimit(ttl)
	}
	return s.v4.SetTTL(ttl)
}

func (s *udpSocket) SendTo(payload []byte, dest net.IP, port uint16) error {
	_, err := s.conn.WriteToUDP(payload, &net.UDPAddr{IP: dest, Port: int(port)})
	return classifySocketErr(err)
}

func (s *udpSocket) Close() error {
	return s.conn.Close()
}
