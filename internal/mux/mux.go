// Package mux demultiplexes received datagrams by their first byte
// (RFC 7983) and buffers them toward the conn-driven collaborators.
// Unlike a socket mux there is no read loop; the session dispatches
// every received datagram by hand.
package mux

import (
	"net"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/packetio"
)

// The maximum amount of data buffered toward a collaborator before
// writes error. DTLS handshakes stay far below this.
const maxBufferSize = 1000 * 1000 // 1MB

// Mux dispatches datagrams to registered Endpoints.
type Mux struct {
	lock      sync.RWMutex
	endpoints map[*Endpoint]MatchFunc
	local     net.Addr
	remote    net.Addr

	log logging.LeveledLogger
}

// NewMux creates an empty Mux.
func NewMux(log logging.LeveledLogger) *Mux {
	return &Mux{
		endpoints: make(map[*Endpoint]MatchFunc),
		log:       log,
	}
}

// NewEndpoint creates an Endpoint fed by packets matching f. Writes on
// the endpoint invoke onWrite.
func (m *Mux) NewEndpoint(f MatchFunc, onWrite func([]byte)) *Endpoint {
	e := &Endpoint{
		mux:     m,
		buffer:  packetio.NewBuffer(),
		onWrite: onWrite,
	}
	e.buffer.SetLimitSize(maxBufferSize)

	m.lock.Lock()
	m.endpoints[e] = f
	m.lock.Unlock()

	return e
}

// RemoveEndpoint removes an endpoint from the Mux.
func (m *Mux) RemoveEndpoint(e *Endpoint) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.endpoints, e)
}

// SetAddrs records the addresses of the selected candidate pair, used
// as the endpoint's local and remote addr.
func (m *Mux) SetAddrs(local, remote net.Addr) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.local, m.remote = local, remote
}

func (m *Mux) localAddr() net.Addr {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.local
}

func (m *Mux) remoteAddr() net.Addr {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.remote
}

// Dispatch feeds buf to the first matching endpoint. It reports whether
// any endpoint matched.
func (m *Mux) Dispatch(buf []byte) bool {
	var endpoint *Endpoint

	m.lock.RLock()
	for e, f := range m.endpoints {
		if f(buf) {
			endpoint = e
			break
		}
	}
	m.lock.RUnlock()

	if endpoint == nil {
		if len(buf) > 0 {
			m.log.Tracef("no endpoint for packet starting with %d", buf[0])
		}
		return false
	}
	if err := endpoint.Feed(buf); err != nil {
		m.log.Warnf("endpoint buffer full, dropping packet: %v", err)
	}
	return true
}

// Close closes all endpoints.
func (m *Mux) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	for e := range m.endpoints {
		if err := e.buffer.Close(); err != nil {
			return err
		}
		delete(m.endpoints, e)
	}
	return nil
}
