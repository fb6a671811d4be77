package receiver

import (
	"io"
	"net"
	"sync"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// fakeSocket is the Socket used by the receiver's own tests: instead of a
// real raw socket, inbound bytes are injected directly, and outbound writes
// are recorded for assertions.
type fakeSocket struct {
	mu       sync.Mutex
	hopLimit []int
	sent     [][]byte
	inbound  chan rawFrame
	closed   bool
}

type rawFrame struct {
	data []byte
	peer net.IP
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbound: make(chan rawFrame, 32)}
}

func newFakeFactory() (Factory, map[core.Family]*fakeSocket) {
	sockets := make(map[core.Family]*fakeSocket)
	var mu sync.Mutex
	factory := func(family core.Family) (Socket, error) {
		mu.Lock()
		defer mu.Unlock()
		s := newFakeSocket()
		sockets[family] = s
		return s, nil
	}
	return factory, sockets
}

func (f *fakeSocket) SetHopLimit(ttl int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hopLimit = append(f.hopLimit, ttl)
	return nil
}

func (f *fakeSocket) WriteTo(b []byte, dst net.IP) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.sent = append(f.sent, cp)
	return len(b), nil
}

func (f *fakeSocket) ReadFrom(b []byte) (int, net.IP, error) {
	frame, ok := <-f.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	n := copy(b, frame.data)
	return n, frame.peer, nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeSocket) inject(data []byte, peer net.IP) {
	f.inbound <- rawFrame{data: data, peer: peer}
}
