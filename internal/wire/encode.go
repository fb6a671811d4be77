package wire

import (
	"encoding/binary"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// echoRequestType returns the wire type byte for an echo request in the
// given family: 8 for v4, 128 for v6 (ICMPv6).
func echoRequestType(family core.Family) byte {
	if family == core.FamilyV6 {
		return 128
	}
	return 8
}

// EncodeEcho builds an 8-byte echo-request header followed by payload, with
// the Internet checksum folded into bytes 2-3.
func EncodeEcho(family core.Family, identifier, sequence uint16, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	b[0] = echoRequestType(family)
	b[1] = 0 // code
	// b[2:4] checksum, filled below
	binary.BigEndian.PutUint16(b[4:6], identifier)
	binary.BigEndian.PutUint16(b[6:8], sequence)
	copy(b[8:], payload)

	sum := Checksum(b)
	binary.BigEndian.PutUint16(b[2:4], sum)
	return b
}
