package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// normalizeType folds a v6 ICMP type into the v4 namespace:
// 129->0 (echo-reply), 1->3 (destination-unreachable), 2->3
// (packet-too-big mapped to destination-unreachable), 3->11 (time-exceeded).
// Other types, and all v4 types, pass through unchanged.
func normalizeType(family core.Family, t uint8) uint8 {
	if family != core.FamilyV6 {
		return t
	}
	switch t {
	case 129:
		return 0
	case 1:
		return 3
	case 2:
		return 3
	case 3:
		return 11
	default:
		return t
	}
}

// Decode parses one raw echo/error message received on the family's raw
// socket.
func Decode(family core.Family, raw []byte) (core.Message, error) {
	if len(raw) < 4 {
		return core.Message{}, fmt.Errorf("pathtrace/wire: message too short (%d bytes)", len(raw))
	}
	rawType := raw[0]
	code := raw[1]
	normalized := normalizeType(family, rawType)
	body := raw[4:]

	switch normalized {
	case 0: // echo-reply
		if len(body) < 4 {
			return core.Message{}, fmt.Errorf("pathtrace/wire: echo-reply truncated")
		}
		id := binary.BigEndian.Uint16(body[0:2])
		seq := binary.BigEndian.Uint16(body[2:4])
		return core.Message{
			Type:       core.TypeEchoReply,
			Code:       code,
			Identifier: id,
			Sequence:   seq,
			Payload:    append([]byte(nil), body[4:]...),
		}, nil

	case 11: // time-exceeded: skip 4 unused bytes
		if len(body) < 4 {
			return core.Message{}, fmt.Errorf("pathtrace/wire: time-exceeded truncated")
		}
		embedded := body[4:]
		src, dst, t := parseEmbeddedPacket(family, embedded)
		return core.Message{
			Type:               core.TypeTimeExceeded,
			Code:               code,
			EmbeddedSourceAddr: src,
			EmbeddedDestAddr:   dst,
			Embedded:           t,
		}, nil

	case 3: // destination-unreachable: skip 2 unused + 2 next-hop-MTU bytes
		if len(body) < 4 {
			return core.Message{}, fmt.Errorf("pathtrace/wire: destination-unreachable truncated")
		}
		embedded := body[4:]
		src, dst, t := parseEmbeddedPacket(family, embedded)
		return core.Message{
			Type:               core.TypeDestinationUnreachable,
			Code:               code,
			EmbeddedSourceAddr: src,
			EmbeddedDestAddr:   dst,
			Embedded:           t,
		}, nil

	default:
		return core.Message{
			Type:    core.TypeOther,
			Code:    code,
			RawType: rawType,
			Payload: append([]byte(nil), body...),
		}, nil
	}
}
