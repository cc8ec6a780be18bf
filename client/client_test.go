package client_test

import (
	"bytes"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"raftkv/client"
	"raftkv/transport"
	"raftkv/wire"
)

// dstRelay is a minimal stand-in for the simulator: every datagram it
// receives teaches it the sender's address under the envelope's src field,
// and it routes by dst (or broadcasts) using whatever it has learned so
// far — the same auto-discovery a real UDP relay gets for free from
// recvfrom, without needing pre-registration.
type dstRelay struct {
	conn  *net.UDPConn
	mu    sync.Mutex
	addrs map[string]*net.UDPAddr
}

func newDstRelay(t *testing.T) *dstRelay {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	require.NoError(t, err)
	r := &dstRelay{conn: conn, addrs: make(map[string]*net.UDPAddr)}
	go r.loop()
	return r
}

func (r *dstRelay) loop() {
	buf := make([]byte, 65535)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var envelope struct {
			Src string `json:"src"`
			Dst string `json:"dst"`
		}
		if json.Unmarshal(buf[:n], &envelope) != nil {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])

		r.mu.Lock()
		if envelope.Src != "" {
			r.addrs[envelope.Src] = from
		}
		var targets []*net.UDPAddr
		if envelope.Dst == wire.Broadcast {
			for id, a := range r.addrs {
				if id != envelope.Src {
					targets = append(targets, a)
				}
			}
		} else if a, ok := r.addrs[envelope.Dst]; ok {
			targets = []*net.UDPAddr{a}
		}
		r.mu.Unlock()

		for _, addr := range targets {
			r.conn.WriteToUDP(cp, addr)
		}
	}
}

func (r *dstRelay) port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func (r *dstRelay) close() {
	r.conn.Close()
}

// fakeNode answers every get/put it receives as if it were the leader,
// standing in for a real replica so Client's redirect-follow and round-trip
// logic can be exercised without starting a full raft.Replica.
type fakeNode struct {
	adapter *transport.Adapter
	store   map[string]string
}

func newFakeNode(t *testing.T, relayPort int) *fakeNode {
	t.Helper()
	adapter, err := transport.NewAdapter(relayPort)
	require.NoError(t, err)
	n := &fakeNode{adapter: adapter, store: make(map[string]string)}
	go n.serve()
	// Announce so the relay learns this node's address before any client
	// request needs to reach it, mirroring the real hello-on-boot broadcast.
	require.NoError(t, adapter.Send(wire.Message{Src: "leader", Dst: wire.Broadcast, Leader: "leader", Type: wire.Hello}))
	return n
}

func (n *fakeNode) serve() {
	for raw := range n.adapter.Inbound() {
		msg, err := wire.Decode(raw)
		if err != nil {
			continue
		}
		switch msg.Type {
		case wire.Get:
			n.adapter.Send(wire.Message{Src: "leader", Dst: msg.Src, Leader: "leader", Type: wire.Ok, MID: msg.MID, Value: n.store[msg.Key]})
		case wire.Put:
			n.store[msg.Key] = msg.Value
			n.adapter.Send(wire.Message{Src: "leader", Dst: msg.Src, Leader: "leader", Type: wire.Ok, MID: msg.MID})
		}
	}
}

func TestClientSetThenGet(t *testing.T) {
	relay := newDstRelay(t)
	defer relay.close()
	node := newFakeNode(t, relay.port())
	defer node.adapter.Close()

	c, err := client.New("C001", []string{"leader"}, relay.port())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("x", "1"))
	val, err := c.Get("x")
	require.NoError(t, err)
	require.Equal(t, "1", val)
}

func TestClientREPL(t *testing.T) {
	relay := newDstRelay(t)
	defer relay.close()
	node := newFakeNode(t, relay.port())
	defer node.adapter.Close()

	c, err := client.New("C001", []string{"leader"}, relay.port())
	require.NoError(t, err)
	defer c.Close()

	in := bytes.NewBufferString("SET x 1\nGET x\n")
	var out bytes.Buffer
	_ = client.RunREPL(c, in, &out)
	require.Contains(t, out.String(), "x = 1, OK")
}
