package probe

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// tcpSocket is the real StreamSocket. It drives the kernel's connect
// primitive directly through golang.org/x/sys/unix rather than net.Dialer:
// the kernel-assigned ephemeral port must be read back and registered with
// the receiver before the handshake starts, and the connect outcome must be
// observed via readiness rather than a blocking Dial.
type tcpSocket struct {
	family    core.Family
	fd        int
	localPort uint16
}

// OpenStreamSocket is the default StreamFactory for family.
func OpenStreamSocket(family core.Family) (StreamSocket, error) {
	domain := unix.AF_INET
	if family == core.FamilyV6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, classifySocketErr(err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, classifySocketErr(err)
	}

	var bindAddr unix.Sockaddr
	if family == core.FamilyV6 {
		bindAddr = &unix.SockaddrInet6{}
	} else {
		bindAddr = &unix.SockaddrInet4{}
	}
	if err := unix.Bind(fd, bindAddr); err != nil {
		unix.Close(fd)
		return nil, classifySocketErr(err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, classifySocketErr(err)
	}
	port, ok := portFromSockaddr(sa)
	if !ok {
		unix.Close(fd)
		return nil, fmt.Errorf("pathtrace/probe: unexpected sockaddr type %T", sa)
	}

	return &tcpSocket{family: family, fd: fd, localPort: port}, nil
}

func (s *tcpSocket) LocalPort() uint16 { return s.localPort }

func (s *tcpSocket) SetHopLimit(ttl int) error {
	if s.family == core.FamilyV6 {
		return classifySocketErr(unix.SetsockoptInt(s.fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, ttl))
	}
	return classifySocketErr(unix.SetsockoptInt(s.fd, unix.IPPROTO_IP, unix.IP_TTL, ttl))
}

func (s *tcpSocket) Connect(dest net.IP, port uint16) <-chan ConnectResult {
	result := make(chan ConnectResult, 1)

	sa, err := sockaddrFor(s.family, dest, port)
	if err != nil {
		result <- ConnectResult{Outcome: ConnectOtherError, Err: err}
		return result
	}

	err = unix.Connect(s.fd, sa)
	if err == nil {
		result <- ConnectResult{Outcome: ConnectSuccess}
		return result
	}
	if err != unix.EINPROGRESS {
		result <- ConnectResult{Outcome: classifyConnectErr(err), Err: err}
		return result
	}

	go s.awaitConnectReady(result)
	return result
}

// awaitConnectReady polls the socket for writability, the non-blocking
// connect's readiness signal, then reads back SO_ERROR to learn the
// outcome.
func (s *tcpSocket) awaitConnectReady(result chan<- ConnectResult) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			result <- ConnectResult{Outcome: ConnectOtherError, Err: err}
			return
		}
		if n == 0 {
			continue
		}
		break
	}

	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		result <- ConnectResult{Outcome: ConnectOtherError, Err: err}
		return
	}
	if errno == 0 {
		result <- ConnectResult{Outcome: ConnectSuccess}
		return
	}
	cerr := unix.Errno(errno)
	result <- ConnectResult{Outcome: classifyConnectErr(cerr), Err: cerr}
}

func (s *tcpSocket) Close() error {
	return unix.Close(s.fd)
}

func sockaddrFor(family core.Family, dest net.IP, port uint16) (unix.Sockaddr, error) {
	if family == core.FamilyV6 {
		var a16 [16]byte
		copy(a16[:], dest.To16())
		return &unix.SockaddrInet6{Port: int(port), Addr: a16}, nil
	}
	var a4 [4]byte
	copy(a4[:], dest.To4())
	return &unix.SockaddrInet4{Port: int(port), Addr: a4}, nil
}

func portFromSockaddr(sa unix.Sockaddr) (uint16, bool) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return uint16(addr.Port), true
	case *unix.SockaddrInet6:
		return uint16(addr.Port), true
	default:
		return 0, false
	}
}

// classifyConnectErr maps a non-blocking connect's SO_ERROR outcome onto
// the recoverable/fatal split sendStream acts on.
func classifyConnectErr(err error) ConnectOutcome {
	switch err {
	case unix.ECONNREFUSED:
		return ConnectRefused
	case unix.ECONNRESET:
		return ConnectReset
	case unix.EHOSTUNREACH:
		return ConnectHostUnreachable
	case unix.ENETUNREACH:
		return ConnectNetworkUnreachable
	case unix.ETIMEDOUT:
		return ConnectTimeout
	default:
		return ConnectOtherError
	}
}
