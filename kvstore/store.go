// Package kvstore is the committed-log state machine: the key-value
// mapping spec.md §3 describes ("Applied state. A mapping from key to
// latest committed value. get for an absent key returns the empty string").
//
// Grounded on the teacher's kvstore/fsm.go (a raft.FSM implementation) and
// kvstore/kv.go's Request shape, but Apply is now called directly by the
// replica's commit path (applyCommitted in raft/replication.go) instead of round-tripping through
// a common.RPCServer.ClientRequest call, since spec.md's client protocol
// has the replica itself terminate get/put over UDP.
package kvstore

import "raftkv/logstore"

// Store is the in-memory key-value state machine. It is only ever touched
// from the replica's single event-loop thread, so it needs no locking.
type Store struct {
	data map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Apply applies a committed log entry to the map. Get-only entries never
// reach here; only put entries are logged (spec.md §4.4 — get is answered
// straight from applied state, it never goes through the log).
func (s *Store) Apply(e logstore.Entry) {
	s.data[e.Key] = e.Value
}

// Get returns the latest committed value for key, or "" if the key was
// never written — not an error, per spec.md §3.
func (s *Store) Get(key string) string {
	return s.data[key]
}
