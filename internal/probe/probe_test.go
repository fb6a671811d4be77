package probe

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaeon/go-pathtrace/internal/core"
	"github.com/dnaeon/go-pathtrace/internal/receiver"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// fakeWire is the receiver.Socket the probe tests run the shared receiver
// on: sent packets are recorded, inbound frames are injected by the test.
type fakeWire struct {
	mu      sync.Mutex
	sent    [][]byte
	inbound chan wireFrame
	closed  bool
}

type wireFrame struct {
	data []byte
	peer net.IP
}

func newFakeWire() *fakeWire {
	return &fakeWire{inbound: make(chan wireFrame, 16)}
}

func (f *fakeWire) SetHopLimit(int) error { return nil }

func (f *fakeWire) WriteTo(b []byte, dst net.IP) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeWire) ReadFrom(b []byte) (int, net.IP, error) {
	frame, ok := <-f.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	n := copy(b, frame.data)
	return n, frame.peer, nil
}

func (f *fakeWire) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

// waitSent blocks until the shared socket has transmitted at least one
// packet and returns the first one.
func (f *fakeWire) waitSent(t *testing.T) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.sent) > 0 {
			p := f.sent[0]
			f.mu.Unlock()
			return p
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no packet transmitted through the shared socket")
	return nil
}

func newTestManager() (*receiver.Manager, *fakeWire) {
	wire := newFakeWire()
	m := receiver.NewManager(func(core.Family) (receiver.Socket, error) {
		return wire, nil
	}, time.Second, testLogger())
	return m, wire
}

// wrapIPv4 prefixes payload with a minimal 20-byte IPv4 header carrying
// src, the shape a v4 raw socket read hands back.
func wrapIPv4(src net.IP, payload []byte) []byte {
	hdr := make([]byte, 20)
	hdr[0] = 0x45
	hdr[9] = 1
	copy(hdr[12:16], src.To4())
	return append(hdr, payload...)
}

func embeddedIPv4(proto byte, dst net.IP) []byte {
	inner := make([]byte, 20)
	inner[0] = 0x45
	inner[9] = proto
	copy(inner[16:20], dst.To4())
	return inner
}

func timeExceededEmbeddedUDP(srcPort uint16, embeddedDst net.IP) []byte {
	udp := make([]byte, 8)
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	msg := []byte{11, 0, 0, 0, 0, 0, 0, 0}
	msg = append(msg, embeddedIPv4(17, embeddedDst)...)
	return append(msg, udp...)
}

func destUnreachableEmbeddedUDP(srcPort uint16, embeddedDst net.IP) []byte {
	udp := make([]byte, 8)
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	msg := []byte{3, 3, 0, 0, 0, 0, 0, 0}
	msg = append(msg, embeddedIPv4(17, embeddedDst)...)
	return append(msg, udp...)
}

func timeExceededEmbeddedTCP(srcPort uint16, embeddedDst net.IP) []byte {
	tcp := make([]byte, 8)
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	msg := []byte{11, 0, 0, 0, 0, 0, 0, 0}
	msg = append(msg, embeddedIPv4(6, embeddedDst)...)
	return append(msg, tcp...)
}

func timeExceededEmbeddedEcho(id uint16, embeddedDst net.IP) []byte {
	echo := make([]byte, 8)
	echo[0] = 8
	binary.BigEndian.PutUint16(echo[4:6], id)
	msg := []byte{11, 0, 0, 0, 0, 0, 0, 0}
	msg = append(msg, embeddedIPv4(1, embeddedDst)...)
	return append(msg, echo...)
}

// fakeDatagramSocket stands in for the probe's own UDP send-socket.
type fakeDatagramSocket struct {
	mu     sync.Mutex
	port   uint16
	closed bool
	sent   int
}

func (f *fakeDatagramSocket) LocalPort() uint16 { return f.port }

func (f *fakeDatagramSocket) SetHopLimit(int) error { return nil }
func (f *fakeDatagramSocket) SendTo([]byte, net.IP, uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}
func (f *fakeDatagramSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeDatagramSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeStreamSocket stands in for the probe's own TCP send-socket, with a
// scripted connect outcome.
type fakeStreamSocket struct {
	mu      sync.Mutex
	port    uint16
	closed  bool
	outcome ConnectResult
	// hold keeps the connect pending forever when set; the probe then
	// resolves through the receiver or its own timer instead.
	hold bool
}

func (f *fakeStreamSocket) LocalPort() uint16 { return f.port }

func (f *fakeStreamSocket) SetHopLimit(int) error { return nil }
func (f *fakeStreamSocket) Connect(net.IP, uint16) <-chan ConnectResult {
	ch := make(chan ConnectResult, 1)
	if !f.hold {
		ch <- f.outcome
	}
	return ch
}
func (f *fakeStreamSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
func (f *fakeStreamSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// keyIsFree reports whether key can be registered, i.e. no registration
// from a finished probe leaked.
func keyIsFree(t *testing.T, m *receiver.Manager, key core.CorrelationKey) bool {
	t.Helper()
	waiter := make(chan receiver.Delivery, 1)
	err := m.Register(core.FamilyV4, key, waiter)
	if err != nil {
		return false
	}
	m.Unregister(core.FamilyV4, key)
	return true
}

func TestEchoProbeTransmitsViaSharedSocketAndResolvesIntermediate(t *testing.T) {
	m, wire := newTestManager()
	target := net.ParseIP("93.184.216.34")
	router := net.ParseIP("10.0.0.1")

	done := make(chan core.ProbeResult, 1)
	go func() {
		done <- Send(context.Background(), m, core.KindEcho, Request{
			Family:  core.FamilyV4,
			Dest:    target,
			TTL:     2,
			Timeout: 2 * time.Second,
		})
	}()

	// The echo flavor transmits through the shared receiver's socket;
	// recover its randomly drawn identifier from the packet it sent.
	packet := wire.waitSent(t)
	require.GreaterOrEqual(t, len(packet), 8)
	assert.EqualValues(t, 8, packet[0])
	id := binary.BigEndian.Uint16(packet[4:6])

	wire.inbound <- wireFrame{data: wrapIPv4(router, timeExceededEmbeddedEcho(id, target))}

	select {
	case result := <-done:
		require.NoError(t, result.Err)
		assert.False(t, result.TimedOut)
		assert.False(t, result.Reached, "a time-exceeded from an intermediate must not count as reached")
		assert.True(t, router.Equal(result.Peer))
		assert.Greater(t, result.Elapsed, time.Duration(0))
		key := core.CorrelationKey{Kind: core.KindEcho, Identifier: id}
		assert.True(t, keyIsFree(t, m, key), "registration must be removed after the probe exits")
	case <-time.After(3 * time.Second):
		t.Fatal("probe did not resolve")
	}
}

func TestDatagramProbeReachedOnPortUnreachable(t *testing.T) {
	m, wire := newTestManager()
	target := net.ParseIP("93.184.216.34")
	sock := &fakeDatagramSocket{port: 40000}

	done := make(chan core.ProbeResult, 1)
	go func() {
		done <- Send(context.Background(), m, core.KindDatagram, Request{
			Family:          core.FamilyV4,
			Dest:            target,
			TTL:             6,
			Timeout:         2 * time.Second,
			DatagramFactory: func() (DatagramSocket, error) { return sock, nil },
		})
	}()

	// Wait for the probe to register before injecting its reply.
	require.Eventually(t, func() bool { return sockSent(sock) }, 2*time.Second, 5*time.Millisecond)
	wire.inbound <- wireFrame{data: wrapIPv4(target, destUnreachableEmbeddedUDP(40000, target))}

	select {
	case result := <-done:
		require.NoError(t, result.Err)
		assert.True(t, result.Reached)
		assert.True(t, target.Equal(result.Peer))
	case <-time.After(3 * time.Second):
		t.Fatal("probe did not resolve")
	}

	assert.True(t, sock.isClosed())
	key := core.CorrelationKey{Kind: core.KindDatagram, Identifier: 40000}
	assert.True(t, keyIsFree(t, m, key))
}

func sockSent(s *fakeDatagramSocket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent > 0
}

func TestDatagramProbeTimeoutCleansUp(t *testing.T) {
	m, _ := newTestManager()
	sock := &fakeDatagramSocket{port: 40001}

	result := Send(context.Background(), m, core.KindDatagram, Request{
		Family:          core.FamilyV4,
		Dest:            net.ParseIP("93.184.216.34"),
		TTL:             1,
		Timeout:         30 * time.Millisecond,
		DatagramFactory: func() (DatagramSocket, error) { return sock, nil },
	})

	assert.True(t, result.TimedOut)
	assert.NoError(t, result.Err)
	assert.True(t, sock.isClosed())
	key := core.CorrelationKey{Kind: core.KindDatagram, Identifier: 40001}
	assert.True(t, keyIsFree(t, m, key))
}

func TestDatagramProbeCancelCleansUp(t *testing.T) {
	m, _ := newTestManager()
	sock := &fakeDatagramSocket{port: 40002}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := Send(ctx, m, core.KindDatagram, Request{
		Family:          core.FamilyV4,
		Dest:            net.ParseIP("93.184.216.34"),
		TTL:             1,
		Timeout:         5 * time.Second,
		DatagramFactory: func() (DatagramSocket, error) { return sock, nil },
	})

	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.True(t, sock.isClosed())
	key := core.CorrelationKey{Kind: core.KindDatagram, Identifier: 40002}
	assert.True(t, keyIsFree(t, m, key))
}

// A datagram probe whose kernel-assigned port collides with a live
// registration must close that socket and bind a fresh one rather than
// fail.
func TestDatagramProbeRebindsOnPortCollision(t *testing.T) {
	m, wire := newTestManager()
	target := net.ParseIP("93.184.216.34")

	taken := core.CorrelationKey{Kind: core.KindDatagram, Identifier: 43000}
	require.NoError(t, m.Register(core.FamilyV4, taken, make(chan receiver.Delivery, 1)))
	defer m.Unregister(core.FamilyV4, taken)

	first := &fakeDatagramSocket{port: 43000}
	second := &fakeDatagramSocket{port: 43001}
	binds := 0
	factory := func() (DatagramSocket, error) {
		binds++
		if binds == 1 {
			return first, nil
		}
		return second, nil
	}

	done := make(chan core.ProbeResult, 1)
	go func() {
		done <- Send(context.Background(), m, core.KindDatagram, Request{
			Family:          core.FamilyV4,
			Dest:            target,
			TTL:             6,
			Timeout:         2 * time.Second,
			DatagramFactory: factory,
		})
	}()

	require.Eventually(t, func() bool { return sockSent(second) }, 2*time.Second, 5*time.Millisecond)
	wire.inbound <- wireFrame{data: wrapIPv4(target, destUnreachableEmbeddedUDP(43001, target))}

	select {
	case result := <-done:
		require.NoError(t, result.Err)
		assert.True(t, result.Reached)
	case <-time.After(3 * time.Second):
		t.Fatal("probe did not resolve")
	}

	assert.Equal(t, 2, binds)
	assert.True(t, first.isClosed(), "colliding socket must be closed before re-binding")
	assert.True(t, second.isClosed())
	assert.True(t, keyIsFree(t, m, core.CorrelationKey{Kind: core.KindDatagram, Identifier: 43001}))
}

// Two concurrent probes; a reply correlated to the first must resolve only
// the first, leaving the second pending until its own timer fires.
func TestCrossTalkRejection(t *testing.T) {
	m, wire := newTestManager()
	target := net.ParseIP("93.184.216.34")
	router := net.ParseIP("10.0.0.9")

	sockA := &fakeDatagramSocket{port: 41001}
	sockB := &fakeDatagramSocket{port: 41002}

	doneA := make(chan core.ProbeResult, 1)
	doneB := make(chan core.ProbeResult, 1)
	launch := func(sock *fakeDatagramSocket, ttl int, timeout time.Duration, done chan core.ProbeResult) {
		go func() {
			done <- Send(context.Background(), m, core.KindDatagram, Request{
				Family:          core.FamilyV4,
				Dest:            target,
				TTL:             ttl,
				Timeout:         timeout,
				DatagramFactory: func() (DatagramSocket, error) { return sock, nil },
			})
		}()
	}
	launch(sockA, 2, 2*time.Second, doneA)
	launch(sockB, 5, 300*time.Millisecond, doneB)

	require.Eventually(t, func() bool { return sockSent(sockA) && sockSent(sockB) }, 2*time.Second, 5*time.Millisecond)
	wire.inbound <- wireFrame{data: wrapIPv4(router, timeExceededEmbeddedUDP(41001, target))}

	select {
	case result := <-doneA:
		require.NoError(t, result.Err)
		assert.True(t, router.Equal(result.Peer))
		assert.False(t, result.Reached)
	case <-time.After(time.Second):
		t.Fatal("probe A did not resolve")
	}

	select {
	case result := <-doneB:
		assert.True(t, result.TimedOut, "probe B must stay pending until its own timer fires")
	case <-time.After(time.Second):
		t.Fatal("probe B did not time out")
	}
}

func TestStreamConnectRefusedCountsAsReached(t *testing.T) {
	m, _ := newTestManager()
	sock := &fakeStreamSocket{port: 42000, outcome: ConnectResult{Outcome: ConnectRefused}}

	result := Send(context.Background(), m, core.KindStream, Request{
		Family:        core.FamilyV4,
		Dest:          net.ParseIP("93.184.216.34"),
		TTL:           8,
		Timeout:       2 * time.Second,
		StreamFactory: func() (StreamSocket, error) { return sock, nil },
	})

	require.NoError(t, result.Err)
	assert.True(t, result.Reached)
	assert.GreaterOrEqual(t, result.Elapsed, time.Duration(0))
	assert.True(t, sock.isClosed())
	key := core.CorrelationKey{Kind: core.KindStream, Identifier: 42000}
	assert.True(t, keyIsFree(t, m, key))
}

func TestStreamUnreachableKeepsWaitingForErrorMessage(t *testing.T) {
	m, wire := newTestManager()
	target := net.ParseIP("93.184.216.34")
	router := net.ParseIP("10.0.0.3")
	sock := &fakeStreamSocket{port: 42001, outcome: ConnectResult{Outcome: ConnectHostUnreachable}}

	done := make(chan core.ProbeResult, 1)
	go func() {
		done <- Send(context.Background(), m, core.KindStream, Request{
			Family:        core.FamilyV4,
			Dest:          target,
			TTL:           3,
			Timeout:       2 * time.Second,
			StreamFactory: func() (StreamSocket, error) { return sock, nil },
		})
	}()

	// Give the probe time to consume the connect outcome and keep waiting.
	time.Sleep(30 * time.Millisecond)
	wire.inbound <- wireFrame{data: wrapIPv4(router, timeExceededEmbeddedTCP(42001, target))}

	select {
	case result := <-done:
		require.NoError(t, result.Err)
		assert.False(t, result.Reached)
		assert.True(t, router.Equal(result.Peer))
	case <-time.After(3 * time.Second):
		t.Fatal("probe did not resolve")
	}
	assert.True(t, sock.isClosed())
}

func TestStreamTimeoutWhenConnectNeverResolves(t *testing.T) {
	m, _ := newTestManager()
	sock := &fakeStreamSocket{port: 42002, hold: true}

	result := Send(context.Background(), m, core.KindStream, Request{
		Family:        core.FamilyV4,
		Dest:          net.ParseIP("93.184.216.34"),
		TTL:           4,
		Timeout:       40 * time.Millisecond,
		StreamFactory: func() (StreamSocket, error) { return sock, nil },
	})

	assert.True(t, result.TimedOut)
	assert.True(t, sock.isClosed())
	key := core.CorrelationKey{Kind: core.KindStream, Identifier: 42002}
	assert.True(t, keyIsFree(t, m, key))
}
