// Package raft is the consensus replica: the role state machine, election
// and replication subsystems, and the client-facing get/put/redirect
// semantics of spec.md §4. All state lives on Replica and is touched only
// from the single event-loop goroutine started by Run — there is no mutex,
// per the Design Note in spec.md §9 ("make each [mutable collection] a
// field of the replica record with clearly documented ownership by the
// loop thread; no external access").
//
// Grounded on the role/state shape of the teacher's raft/raft.go (state
// struct, convertToFollower/Candidate/Leader), collapsed from a
// goroutine-per-RPC-plus-mutex design into the single cooperative loop
// spec.md §5 requires.
package raft

import (
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"raftkv/clock"
	"raftkv/kvstore"
	"raftkv/logstore"
	"raftkv/transport"
	"raftkv/wire"
)

// Role is one of the three states of spec.md §4.1.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// PeerState is the leader's per-peer replication bookkeeping, spec.md §3.
type PeerState struct {
	NextIndex     int64
	MatchIndex    int64
	LastSendTime  time.Time
	LastHeardTime time.Time
}

// PendingRead is an in-flight get awaiting a read-freshness quorum,
// spec.md §3/§4.4.
type PendingRead struct {
	ClientSrc   string
	Key         string
	MID         string
	ArrivalTime time.Time
}

// Replica is one consensus node. Exported fields are state spec.md §3
// names explicitly; everything here is owned exclusively by the goroutine
// running Run.
type Replica struct {
	ID              string
	Peers           []string
	QuorumThreshold int

	CurrentTerm int64
	VotedFor    string // "" means no vote cast this term
	Log         *logstore.Log

	Role         Role
	CommitIndex  int64
	AppliedIndex int64
	Leader       string // believed leader id, wire.Broadcast if unknown

	PeerStates   map[string]*PeerState
	VotesGranted map[string]bool

	PendingReads []*PendingRead
	appliedMIDs  map[string]struct{} // MIDs already replied-to from the commit path

	Store     *kvstore.Store
	Transport *transport.Adapter
	Clock     *clock.Clock
	Logger    *slog.Logger
	BatchSize int

	electionDeadline time.Time
	stopCh           chan struct{}
}

// Config bundles the construction-time parameters for a Replica.
type Config struct {
	ID        string
	Peers     []string
	Transport *transport.Adapter
	Clock     *clock.Clock
	Logger    *slog.Logger
	// BatchSize caps how many log entries ride in a single append dispatch.
	// Zero means "use DefaultBatchSize".
	BatchSize int
}

// New builds a Replica in its initial Follower state with term 0, per
// spec.md §3.
func New(cfg Config) *Replica {
	clusterSize := len(cfg.Peers) + 1
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	r := &Replica{
		ID:              cfg.ID,
		Peers:           append([]string(nil), cfg.Peers...),
		QuorumThreshold: clusterSize/2 + 1,
		CurrentTerm:     0,
		Log:             logstore.New(),
		Role:            Follower,
		CommitIndex:     0,
		AppliedIndex:    0,
		Leader:          wire.Broadcast,
		PeerStates:      make(map[string]*PeerState),
		VotesGranted:    make(map[string]bool),
		appliedMIDs:     make(map[string]struct{}),
		Store:           kvstore.New(),
		Transport:       cfg.Transport,
		Clock:           cfg.Clock,
		Logger:          cfg.Logger,
		BatchSize:       batchSize,
		stopCh:          make(chan struct{}),
	}
	for _, p := range r.Peers {
		r.PeerStates[p] = &PeerState{NextIndex: r.Log.Length(), MatchIndex: -1}
	}
	return r
}

// Close tears down the replica's transport.
func (r *Replica) Close() error {
	close(r.stopCh)
	return r.Transport.Close()
}

// CloseAll shuts down every replica in replicas, combining any close
// errors into one, grounded on the teacher's RaftServer.Stop which
// combines its log store and state store close errors the same way.
func CloseAll(replicas ...*Replica) error {
	var err error
	for _, r := range replicas {
		err = multierr.Append(err, r.Close())
	}
	return err
}

// send stamps the envelope's src/leader fields and fires it at the relay.
// Send errors are logged, never fatal (spec.md §7: all errors recovered
// locally within the event loop).
func (r *Replica) send(msg wire.Message) {
	msg.Src = r.ID
	msg.Leader = r.Leader
	if err := r.Transport.Send(msg); err != nil {
		r.Logger.Warn("send failed", "dst", msg.Dst, "type", msg.Type, "err", err)
	}
}

// becomeFollower resets role-specific substate, reverts the believed leader
// to broadcast/unknown, and restarts the election timer, per spec.md §4.1
// — grounded on the teacher's convertToFollower, which unconditionally nils
// CurrentLeader on every such transition. It never changes CurrentTerm
// itself; callers stepping down due to a higher observed term update the
// term first.
func (r *Replica) becomeFollower() {
	if r.Role != Follower {
		r.Logger.Info("role transition", "from", r.Role, "to", Follower, "term", r.CurrentTerm)
	}
	r.Role = Follower
	r.Leader = wire.Broadcast
	r.VotesGranted = make(map[string]bool)
	r.resetElectionTimer()
}

// adoptTerm implements "discovery of a higher term via any message forces
// transition to follower, clears voted_for, and adopts the new term"
// (spec.md §3). Returns true if it changed anything.
func (r *Replica) adoptTerm(term int64) bool {
	if term <= r.CurrentTerm {
		return false
	}
	r.Logger.Info("adopting higher term", "from", r.CurrentTerm, "to", term)
	r.CurrentTerm = term
	r.VotedFor = ""
	r.becomeFollower()
	return true
}

// resetElectionTimer arms the election timer with a freshly chosen random
// timeout, per spec.md §4.2.
func (r *Replica) resetElectionTimer() {
	r.electionDeadline = r.Clock.Now().Add(r.Clock.NextElectionTimeout())
}
