package receiver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// DefaultGraceDelay is how long a receiver lingers after its last
// unregistration before closing its socket. A new registration inside the
// window cancels the shutdown, avoiding start/stop thrash between hops.
const DefaultGraceDelay = 5 * time.Second

// Manager is the receiver façade. It holds at most one live *state per
// address family and starts one lazily on first need.
//
// Tests construct their own Manager with a fake Factory instead of reaching
// for a package-level global, so each test gets a clean, independently
// restartable receiver.
type Manager struct {
	mu         sync.Mutex
	factory    Factory
	graceDelay time.Duration
	log        *logrus.Logger
	receivers  map[core.Family]*state
}

// NewManager constructs a Manager. factory opens the real or fake socket
// used by each family's receiver; graceDelay overrides DefaultGraceDelay
// when non-zero (tests use a short delay to keep the lifecycle tests fast).
func NewManager(factory Factory, graceDelay time.Duration, log *logrus.Logger) *Manager {
	if graceDelay <= 0 {
		graceDelay = DefaultGraceDelay
	}
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		factory:    factory,
		graceDelay: graceDelay,
		log:        log,
		receivers:  make(map[core.Family]*state),
	}
}

// Default is the process-wide Manager used by the real probe senders.
var Default = NewManager(OpenRawSocket, DefaultGraceDelay, logrus.StandardLogger())

// GetOrStart is idempotent: it starts a receiver for family if none is
// live, and returns once one is.
func (m *Manager) GetOrStart(family core.Family) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrStartLocked(family)
}

func (m *Manager) getOrStartLocked(family core.Family) error {
	if st, ok := m.receivers[family]; ok {
		select {
		case <-st.closedCh:
			// Previous receiver terminated (grace expiry); fall through
			// and start a fresh one.
			delete(m.receivers, family)
		default:
			return nil
		}
	}

	sock, err := m.factory(family)
	if err != nil {
		return err
	}
	log := m.log.WithField("family", family.String())
	st := newState(family, sock, m.graceDelay, log)
	m.receivers[family] = st
	go st.run()
	return nil
}

func (m *Manager) receiverFor(family core.Family) (*state, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.getOrStartLocked(family); err != nil {
		return nil, err
	}
	return m.receivers[family], nil
}

// Register adds a waiter for key, or returns core.ErrAlreadyRegistered if
// the key is already live.
func (m *Manager) Register(family core.Family, key core.CorrelationKey, waiter chan<- Delivery) error {
	st, err := m.receiverFor(family)
	if err != nil {
		return err
	}
	result := make(chan error, 1)
	select {
	case st.registerCh <- registerReq{key: key, waiter: waiter, result: result}:
		return <-result
	case <-st.closedCh:
		return fmt.Errorf("pathtrace/receiver: receiver for %s closed concurrently", family)
	}
}

// Unregister removes key's registration. It never errors and tolerates an
// unknown key.
func (m *Manager) Unregister(family core.Family, key core.CorrelationKey) {
	m.mu.Lock()
	st, ok := m.receivers[family]
	m.mu.Unlock()
	if !ok {
		return
	}
	done := make(chan struct{})
	select {
	case st.unregisterCh <- unregisterReq{key: key, done: done}:
		<-done
	case <-st.closedCh:
	}
}

// Send sets the shared socket's hop limit and transmits packet to dest.
func (m *Manager) Send(family core.Family, hopLimit int, packet []byte, dest net.IP) error {
	st, err := m.receiverFor(family)
	if err != nil {
		return err
	}
	result := make(chan error, 1)
	select {
	case st.sendCh <- sendReq{hopLimit: hopLimit, packet: packet, dest: dest, result: result}:
		return <-result
	case <-st.closedCh:
		return fmt.Errorf("pathtrace/receiver: receiver for %s closed concurrently", family)
	}
}
