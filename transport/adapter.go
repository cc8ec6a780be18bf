// Package transport is the narrow UDP datagram adapter spec.md §6 describes:
// send a record to the simulator's relay address, receive one record at a
// time, no retries or acknowledgments at this layer.
//
// Grounded on the connection lifecycle of the teacher's rpc/manager.go and
// rpc/peer.go (Start / ConnectToPeer / Stop), rewritten against
// net.ListenUDP instead of net/rpc-over-TCP since spec.md targets a
// UDP-like simulator relay rather than direct peer dialing.
package transport

import (
	"fmt"
	"net"

	"raftkv/wire"
)

// Adapter owns the single UDP socket a replica uses to talk to the
// simulator relay. The read loop runs on its own goroutine but only ever
// decodes nothing and forwards raw bytes: all Raft state mutation happens
// on the consumer's single event-loop thread, per spec.md §5.
type Adapter struct {
	conn    *net.UDPConn
	relay   *net.UDPAddr
	inbound chan []byte
	closed  chan struct{}
}

// NewAdapter opens an ephemeral local UDP socket and resolves the
// simulator's relay address at localhost:relayPort.
func NewAdapter(relayPort int) (*Adapter, error) {
	relay, err := net.ResolveUDPAddr("udp", fmt.Sprintf("localhost:%d", relayPort))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve relay: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	a := &Adapter{
		conn:    conn,
		relay:   relay,
		inbound: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
	go a.readLoop()
	return a, nil
}

// LocalAddr reports the ephemeral address this adapter is bound to, mostly
// useful for tests that wire two adapters directly at each other instead of
// through a simulator relay.
func (a *Adapter) LocalAddr() *net.UDPAddr {
	return a.conn.LocalAddr().(*net.UDPAddr)
}

// SetRelayAddr repoints where Send delivers datagrams. Production code never
// needs this (the relay address is fixed at construction); it exists so
// tests can wire two loopback adapters directly at each other without a
// simulator process in between.
func (a *Adapter) SetRelayAddr(addr *net.UDPAddr) {
	a.relay = addr
}

func (a *Adapter) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, _, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-a.closed:
				return
			default:
				// Transient read error on an unreliable channel: spec.md §4
				// has no retry/ack at this layer, so we simply keep reading.
				continue
			}
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case a.inbound <- cp:
		case <-a.closed:
			return
		}
	}
}

// Inbound yields one raw datagram payload at a time, in the order the
// kernel delivered them (FIFO per socket, per spec.md §5). Decoding and
// validation happen one layer up, where the logger lives.
func (a *Adapter) Inbound() <-chan []byte {
	return a.inbound
}

// Send encodes m and fires it at the relay address as a single datagram.
// It does not block waiting for any acknowledgment.
func (a *Adapter) Send(m wire.Message) error {
	b, err := wire.Encode(m)
	if err != nil {
		return err
	}
	_, err = a.conn.WriteToUDP(b, a.relay)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Close shuts down the read loop and the underlying socket.
func (a *Adapter) Close() error {
	close(a.closed)
	return a.conn.Close()
}
