package wire

import (
	"encoding/binary"
	"net"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// protocolToEmbedded maps an IP protocol number to the EmbeddedProtocol
// tag: 1 -> echo, 6 -> stream, 17 -> datagram, 58 -> echo (v6), anything
// else -> numeric.
func protocolToEmbedded(proto uint8) (core.EmbeddedProtocol, uint8) {
	switch proto {
	case 1, 58:
		return core.ProtoEcho, proto
	case 6:
		return core.ProtoStream, proto
	case 17:
		return core.ProtoDatagram, proto
	default:
		return core.ProtoNumeric, proto
	}
}

// splitEmbeddedIPv4 reads the low nibble of byte 0 as the header length in
// 4-byte units, skips that many bytes, and returns the embedded protocol
// number plus the remaining transport-fragment bytes.
func splitEmbeddedIPv4(b []byte) (proto uint8, src, dst net.IP, rest []byte) {
	if len(b) < 20 {
		return 0, nil, nil, nil
	}
	hlen := int(b[0]&0x0f) * 4
	if hlen < 20 || hlen > len(b) {
		hlen = 20
		if hlen > len(b) {
			return 0, nil, nil, nil
		}
	}
	proto = b[9]
	src = net.IP(append([]byte(nil), b[12:16]...))
	dst = net.IP(append([]byte(nil), b[16:20]...))
	if hlen <= len(b) {
		rest = b[hlen:]
	}
	return proto, src, dst, rest
}

// splitEmbeddedIPv6 reads the fixed 40-byte v6 header; byte 6 is the next
// header (protocol) value. A buffer shorter than 40 bytes yields an
// unknown protocol and the payload is passed through unparsed.
func splitEmbeddedIPv6(b []byte) (proto uint8, src, dst net.IP, rest []byte) {
	const hlen = 40
	if len(b) < hlen {
		return 0, nil, nil, b
	}
	proto = b[6]
	src = net.IP(append([]byte(nil), b[8:24]...))
	dst = net.IP(append([]byte(nil), b[24:40]...))
	rest = b[hlen:]
	return proto, src, dst, rest
}

// parseEmbeddedTransport decodes the first 8 bytes of the original
// transport header, the only part the error-returning node must include.
func parseEmbeddedTransport(protoTag core.EmbeddedProtocol, numeric uint8, b []byte) core.EmbeddedTransport {
	t := core.EmbeddedTransport{Protocol: protoTag, NumericProtocol: numeric}
	switch protoTag {
	case core.ProtoDatagram, core.ProtoStream:
		if len(b) >= 2 {
			t.SourcePort = binary.BigEndian.Uint16(b[0:2])
		}
	case core.ProtoEcho:
		// Re-parse the first 8 bytes as an echo request header:
		// {type, code, checksum, identifier, sequence}.
		if len(b) >= 8 {
			t.Identifier = binary.BigEndian.Uint16(b[4:6])
			t.Sequence = binary.BigEndian.Uint16(b[6:8])
		}
	}
	return t
}

// parseEmbeddedPacket parses the embedded original IP header and transport
// fragment carried inside a time-exceeded/destination-unreachable message,
// returning the embedded source/destination address and the decoded
// transport fields.
func parseEmbeddedPacket(family core.Family, b []byte) (src, dst net.IP, t core.EmbeddedTransport) {
	var proto uint8
	var rest []byte
	if family == core.FamilyV6 {
		proto, src, dst, rest = splitEmbeddedIPv6(b)
	} else {
		proto, src, dst, rest = splitEmbeddedIPv4(b)
	}
	protoTag, numeric := protocolToEmbedded(proto)
	t = parseEmbeddedTransport(protoTag, numeric, rest)
	return src, dst, t
}
