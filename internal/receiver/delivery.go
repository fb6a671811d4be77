package receiver

import (
	"net"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// Delivery is what the receiver hands to a waiting probe: the peer address
// the message came from and the decoded message itself.
type Delivery struct {
	Peer    net.IP
	Message core.Message
}
