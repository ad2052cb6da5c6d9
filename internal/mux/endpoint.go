package mux

import (
	"net"
	"time"

	"github.com/pion/transport/v3/packetio"
)

// Endpoint implements net.PacketConn over a packet buffer. Reads block
// on packets fed in by the session's demux; writes are handed to the
// session for queueing as transmits. This is how the conn-driven
// collaborators (DTLS, and SCTP through it) attach to the sans-I/O
// session.
type Endpoint struct {
	mux     *Mux
	buffer  *packetio.Buffer
	onWrite func([]byte)
}

// Feed appends one received packet for the next Read.
func (e *Endpoint) Feed(buf []byte) error {
	_, err := e.buffer.Write(buf)
	return err
}

// Close unblocks any readers.
func (e *Endpoint) Close() error {
	return e.buffer.Close()
}

// ReadFrom reads one demuxed packet.
func (e *Endpoint) ReadFrom(p []byte) (int, net.Addr, error) {
	n, err := e.buffer.Read(p)
	return n, e.mux.remoteAddr(), err
}

// WriteTo hands the packet to the session. The destination is ignored;
// the session transmits on the selected candidate pair.
func (e *Endpoint) WriteTo(p []byte, _ net.Addr) (int, error) {
	e.onWrite(append([]byte(nil), p...))
	return len(p), nil
}

// LocalAddr returns the address of the selected local candidate.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.mux.localAddr()
}

// SetDeadline is a no-op; liveness comes from the session timeouts.
func (e *Endpoint) SetDeadline(time.Time) error { return nil }

// SetReadDeadline is a no-op.
func (e *Endpoint) SetReadDeadline(time.Time) error { return nil }

// SetWriteDeadline is a no-op.
func (e *Endpoint) SetWriteDeadline(time.Time) error { return nil }
