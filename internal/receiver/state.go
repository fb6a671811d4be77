package receiver

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dnaeon/go-pathtrace/internal/core"
	"github.com/dnaeon/go-pathtrace/internal/wire"
)

// lifecycle: running -> draining -> closed.
type lifecycle int

const (
	stateRunning lifecycle = iota
	stateDraining
	stateClosed
)

type registerReq struct {
	key    core.CorrelationKey
	waiter chan<- Delivery
	result chan error
}

type unregisterReq struct {
	key  core.CorrelationKey
	done chan struct{}
}

type sendReq struct {
	hopLimit int
	packet   []byte
	dest     net.IP
	result   chan error
}

type rawDatagram struct {
	peer net.IP
	data []byte
	err  error
}

// state is the single logical task that owns one family's socket and
// registration map. Every operation on it is serialized through its
// control channels.
type state struct {
	family     core.Family
	sock       Socket
	graceDelay time.Duration
	log        *logrus.Entry

	registerCh   chan registerReq
	unregisterCh chan unregisterReq
	sendCh       chan sendReq
	rawCh        chan rawDatagram
	readerDoneCh chan struct{}
	closedCh     chan struct{}
}

func newState(family core.Family, sock Socket, graceDelay time.Duration, log *logrus.Entry) *state {
	return &state{
		family:       family,
		sock:         sock,
		graceDelay:   graceDelay,
		log:          log,
		registerCh:   make(chan registerReq),
		unregisterCh: make(chan unregisterReq),
		sendCh:       make(chan sendReq),
		rawCh:        make(chan rawDatagram, 8),
		readerDoneCh: make(chan struct{}),
		closedCh:     make(chan struct{}),
	}
}

// run is the receiver's single logical task. It starts the socket-reading
// goroutine and then serializes every register/unregister/send/delivery
// through this one select loop.
func (s *state) run() {
	defer close(s.closedCh)
	go s.readLoop()

	registrations := make(map[core.CorrelationKey]chan<- Delivery)
	lc := stateRunning
	var graceTimer *time.Timer
	var graceC <-chan time.Time

	armGrace := func() {
		lc = stateDraining
		graceTimer = time.NewTimer(s.graceDelay)
		graceC = graceTimer.C
	}
	cancelGrace := func() {
		lc = stateRunning
		if graceTimer != nil {
			graceTimer.Stop()
		}
		graceC = nil
	}
	shutdown := func() {
		lc = stateClosed
		s.sock.Close()
		close(s.readerDoneCh)
	}

	for {
		select {
		case req := <-s.registerCh:
			if _, exists := registrations[req.key]; exists {
				req.result <- core.ErrAlreadyRegistered
				continue
			}
			registrations[req.key] = req.waiter
			if lc == stateDraining {
				cancelGrace()
			}
			req.result <- nil

		case req := <-s.unregisterCh:
			delete(registrations, req.key)
			if len(registrations) == 0 && lc == stateRunning {
				armGrace()
			}
			close(req.done)

		case req := <-s.sendCh:
			err := s.sock.SetHopLimit(req.hopLimit)
			if err == nil {
				_, err = s.sock.WriteTo(req.packet, req.dest)
			}
			req.result <- err

		case raw := <-s.rawCh:
			if raw.err != nil {
				s.log.WithError(raw.err).Warn("receiver: socket read failed, shutting down")
				shutdown()
				return
			}
			s.deliver(registrations, raw)

		case <-graceC:
			if len(registrations) == 0 {
				s.log.Debug("receiver: grace period elapsed with no registrations, closing")
				shutdown()
				return
			}

		case <-s.readerDoneCh:
			return
		}
	}
}

// deliver decodes one raw datagram and routes it to exactly one waiter, or
// drops it silently if no registration matches. Never broadcast.
func (s *state) deliver(registrations map[core.CorrelationKey]chan<- Delivery, raw rawDatagram) {
	var peer net.IP
	var transport []byte

	// A v4 buffer that starts with an IP version field carries its header;
	// otherwise it is the bare message and the peer tuple is the source.
	if s.family == core.FamilyV4 && len(raw.data) > 0 && raw.data[0]>>4 == 4 {
		src, rest, ok := wire.SplitReceivedIPv4(raw.data)
		if !ok {
			s.log.Debug("receiver: dropped malformed v4 datagram")
			return
		}
		peer, transport = src, rest
	} else {
		peer, transport = raw.peer, raw.data
	}

	msg, err := wire.Decode(s.family, transport)
	if err != nil {
		s.log.WithError(err).Debug("receiver: dropped undecodable datagram")
		return
	}

	key, ok := msg.Key()
	if !ok {
		s.log.Debug("receiver: dropped message with no correlation key")
		return
	}

	waiter, ok := registrations[key]
	if !ok {
		s.log.WithField("key", key).Debug("receiver: dropped message for unknown key")
		return
	}

	select {
	case waiter <- Delivery{Peer: peer, Message: msg}:
	default:
		// The waiter's channel is full or nobody is reading it anymore
		// (a dead probe that exited without unregistering). The receive
		// loop must never block on delivery; drop the stale registration
		// instead.
		s.log.WithField("key", key).Debug("receiver: waiter channel full/dead, pruning registration")
		delete(registrations, key)
	}
}

// readLoop continuously drains the socket and hands raw datagrams to the
// owning state's select loop. It never touches the registration map
// itself; only state.run does.
func (s *state) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, peer, err := s.sock.ReadFrom(buf)
		if err != nil {
			select {
			case s.rawCh <- rawDatagram{err: err}:
			case <-s.readerDoneCh:
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case s.rawCh <- rawDatagram{peer: peer, data: cp}:
		case <-s.readerDoneCh:
			return
		}
	}
}
