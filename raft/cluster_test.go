package raft_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"raftkv/clock"
	"raftkv/raft"
	"raftkv/transport"
	"raftkv/wire"
)

// fakeRelay stands in for the simulator process spec.md's transport targets:
// one UDP socket that every participant (replica or test client) points its
// transport.Adapter at, routing by the envelope's dst field (or
// broadcasting on wire.Broadcast).
type fakeRelay struct {
	conn    *net.UDPConn
	mu      sync.Mutex
	addrs   map[string]*net.UDPAddr
	blocked map[string]map[string]bool // blocked[a][b]: a and b cannot exchange datagrams
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	require.NoError(t, err)
	fr := &fakeRelay{conn: conn, addrs: make(map[string]*net.UDPAddr), blocked: make(map[string]map[string]bool)}
	go fr.loop()
	return fr
}

func (fr *fakeRelay) loop() {
	buf := make([]byte, 65535)
	for {
		n, _, err := fr.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var envelope struct {
			Src string `json:"src"`
			Dst string `json:"dst"`
		}
		if err := json.Unmarshal(buf[:n], &envelope); err != nil {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])

		fr.mu.Lock()
		var targets []*net.UDPAddr
		if envelope.Dst == wire.Broadcast {
			for id, a := range fr.addrs {
				if id != envelope.Src && !fr.blockedLocked(envelope.Src, id) {
					targets = append(targets, a)
				}
			}
		} else if a, ok := fr.addrs[envelope.Dst]; ok && !fr.blockedLocked(envelope.Src, envelope.Dst) {
			targets = []*net.UDPAddr{a}
		}
		fr.mu.Unlock()

		for _, addr := range targets {
			fr.conn.WriteToUDP(cp, addr)
		}
	}
}

func (fr *fakeRelay) register(id string, addr *net.UDPAddr) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.addrs[id] = addr
}

// isolate simulates a network partition: id can no longer exchange datagrams
// with any id in peers (in either direction), but remains reachable by any
// other sender (e.g. a test client) not in peers.
func (fr *fakeRelay) isolate(id string, peers []string) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	for _, p := range peers {
		if fr.blocked[id] == nil {
			fr.blocked[id] = make(map[string]bool)
		}
		fr.blocked[id][p] = true
		if fr.blocked[p] == nil {
			fr.blocked[p] = make(map[string]bool)
		}
		fr.blocked[p][id] = true
	}
}

// blockedLocked reports whether a and b are cut off from each other. Caller
// must hold fr.mu.
func (fr *fakeRelay) blockedLocked(a, b string) bool {
	return fr.blocked[a][b]
}

func (fr *fakeRelay) port() int {
	return fr.conn.LocalAddr().(*net.UDPAddr).Port
}

func (fr *fakeRelay) close() {
	fr.conn.Close()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCluster builds n replicas wired to one fakeRelay, each started on
// its own goroutine, and returns a cleanup func.
func newTestCluster(t *testing.T, n int) (*fakeRelay, []string, func()) {
	return newTestClusterTuned(t, n, nil)
}

// newTestClusterTuned is newTestCluster with an optional hook to shrink a
// replica's timers before it starts running — used by tests that need a
// step-down or election to happen inside a reasonable test deadline.
func newTestClusterTuned(t *testing.T, n int, tune func(*clock.Clock)) (*fakeRelay, []string, func()) {
	t.Helper()
	relay := newFakeRelay(t)
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%04d", i+1)
	}

	var replicas []*raft.Replica
	for i, id := range ids {
		var peers []string
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		adapter, err := transport.NewAdapter(relay.port())
		require.NoError(t, err)
		relay.register(id, adapter.LocalAddr())

		c := clock.New(clock.NewRand(int64(i) + 1))
		if tune != nil {
			tune(c)
		}

		r := raft.New(raft.Config{
			ID:        id,
			Peers:     peers,
			Transport: adapter,
			Clock:     c,
			Logger:    discardLogger(),
		})
		replicas = append(replicas, r)
		go r.Run()
	}

	cleanup := func() {
		_ = raft.CloseAll(replicas...)
		relay.close()
	}
	return relay, ids, cleanup
}

// awaitReplyTo reads client's inbound datagrams until one carries mid and
// returns it; ok is false if timeout passes first. Datagrams with another
// MID are not replies to the request and are skipped, notably the hello
// every replica broadcasts when Run starts.
func awaitReplyTo(t *testing.T, client *transport.Adapter, mid string, timeout time.Duration) (raw []byte, ok bool) {
	t.Helper()
	expire := time.After(timeout)
	for {
		select {
		case raw = <-client.Inbound():
			msg, err := wire.Decode(raw)
			require.NoError(t, err)
			if msg.MID == mid {
				return raw, true
			}
		case <-expire:
			return nil, false
		}
	}
}

// sendAndAwaitFinalReply sends msg at dstGuess, following any redirect
// chain, until it gets back a non-redirect reply carrying msg.MID or the
// deadline passes. Mirrors the retry-on-redirect behaviour any client of
// this protocol needs.
func sendAndAwaitFinalReply(t *testing.T, client *transport.Adapter, dstGuess string, msg wire.Message, deadline time.Duration) wire.Message {
	t.Helper()
	current := dstGuess
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		msg.Dst = current
		require.NoError(t, client.Send(msg))

		raw, ok := awaitReplyTo(t, client, msg.MID, 300*time.Millisecond)
		if !ok {
			continue
		}
		resp, err := wire.Decode(raw)
		require.NoError(t, err)
		if resp.Type == wire.Redirect {
			if resp.Leader != "" && resp.Leader != wire.Broadcast {
				current = resp.Leader
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		return resp
	}
	t.Fatalf("no final reply to %s within %s", msg.Type, deadline)
	return wire.Message{}
}
