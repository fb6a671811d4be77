// Package core holds the types shared by the wire codec, the receiver and the
// probe senders: the address family, the probe kind, the correlation key and
// the parsed-message shapes that flow between them. None of this package
// touches a socket; it exists so those three packages can agree on a
// vocabulary without importing one another.
package core

import (
	"fmt"
	"net"
)

// Family is one of the two address families this engine probes over. It
// determines the wire constants used by the codec and the receiver: the
// hop-limit socket option, the ICMP protocol number, and the "any" bind
// address.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// Network returns the net package's name for a raw ICMP socket in this
// family, as accepted by golang.org/x/net/icmp.ListenPacket.
func (f Family) Network() string {
	if f == FamilyV6 {
		return "ip6:ipv6-icmp"
	}
	return "ip4:icmp"
}

// AnyAddr is the wildcard bind address for this family.
func (f Family) AnyAddr() net.IP {
	if f == FamilyV6 {
		return net.IPv6unspecified
	}
	return net.IPv4zero
}

// Kind is one of the three probe flavors.
type Kind int

const (
	KindEcho Kind = iota
	KindDatagram
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindEcho:
		return "echo"
	case KindDatagram:
		return "datagram"
	case KindStream:
		return "stream"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// CorrelationKey identifies a single live probe to the receiver: the probe
// kind plus its 16-bit identifier (an echo identifier for echo probes, the
// kernel-assigned ephemeral source port for datagram/stream probes).
type CorrelationKey struct {
	Kind       Kind
	Identifier uint16
}

func (k CorrelationKey) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.Identifier)
}

// EmbeddedProtocol identifies the protocol of an embedded original packet
// carried inside a time-exceeded or destination-unreachable message.
type EmbeddedProtocol int

const (
	ProtoEcho EmbeddedProtocol = iota
	ProtoDatagram
	ProtoStream
	ProtoNumeric
)

// MessageType is the normalized (v4-namespace) type of a decoded echo/error
// message. v6 types are folded into this namespace by the codec.
type MessageType int

const (
	TypeEchoReply MessageType = iota
	TypeDestinationUnreachable
	TypeTimeExceeded
	TypeOther
)

// EmbeddedTransport is the first 8 guaranteed bytes of the original
// transport header carried inside a time-exceeded/destination-unreachable
// message, decoded just enough to recover identifier/source-port.
type EmbeddedTransport struct {
	Protocol EmbeddedProtocol
	// NumericProtocol carries the raw IP protocol number when Protocol is
	// ProtoNumeric and there is no further parse to do.
	NumericProtocol uint8
	// SourcePort is populated for ProtoDatagram and ProtoStream.
	SourcePort uint16
	// Identifier/Sequence are populated for ProtoEcho.
	Identifier uint16
	Sequence   uint16
}

// Message is the tagged result of decoding one inbound echo/error packet.
type Message struct {
	Type MessageType
	Code uint8

	// Populated when Type == TypeEchoReply.
	Identifier uint16
	Sequence   uint16
	Payload    []byte

	// Populated when Type == TypeTimeExceeded or TypeDestinationUnreachable.
	EmbeddedSourceAddr net.IP
	EmbeddedDestAddr   net.IP
	Embedded           EmbeddedTransport

	// Populated when Type == TypeOther.
	RawType uint8
}

// Key returns the (kind, identifier) correlation key this message should be
// routed on, and whether one could be determined at all.
func (m Message) Key() (CorrelationKey, bool) {
	switch m.Type {
	case TypeEchoReply:
		return CorrelationKey{Kind: KindEcho, Identifier: m.Identifier}, true
	case TypeTimeExceeded, TypeDestinationUnreachable:
		switch m.Embedded.Protocol {
		case ProtoEcho:
			return CorrelationKey{Kind: KindEcho, Identifier: m.Embedded.Identifier}, true
		case ProtoDatagram:
			return CorrelationKey{Kind: KindDatagram, Identifier: m.Embedded.SourcePort}, true
		case ProtoStream:
			return CorrelationKey{Kind: KindStream, Identifier: m.Embedded.SourcePort}, true
		}
	}
	return CorrelationKey{}, false
}
