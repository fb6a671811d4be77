package wire

import "net"

// SplitReceivedIPv4 splits the variable-length IPv4 header a v4 raw socket
// read hands back from the front of the buffer, returning the source
// address carried in that header and the remaining transport (ICMP)
// payload. v4 raw reads include the IP header; v6 datagram-mode raw reads
// do not, so the receiver takes the peer address from the socket tuple
// instead of calling this.
func SplitReceivedIPv4(buf []byte) (src net.IP, transport []byte, ok bool) {
	if len(buf) < 20 {
		return nil, nil, false
	}
	hlen := int(buf[0]&0x0f) * 4
	if hlen < 20 || hlen > len(buf) {
		return nil, nil, false
	}
	src = net.IP(append([]byte(nil), buf[12:16]...))
	return src, buf[hlen:], true
}
