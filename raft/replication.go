// Replication subsystem: per-peer next_index/match_index bookkeeping,
// append dispatch, retry on mismatch, commit-index advancement,
// heartbeats, and leader step-down — spec.md §4.3.
//
// Grounded on the teacher's broadcastAppendEntries / AppendEntries /
// commitEntries (raft/raft.go), rewritten to truncate-and-append on a
// follower-log mismatch (spec.md §9's fix for the source's original
// handle_append) and to drive dispatch from the single event loop's
// per-peer due-time check instead of a goroutine per outbound RPC.
package raft

import (
	"sort"
	"time"

	"raftkv/logstore"
	"raftkv/wire"
)

// DefaultBatchSize is the append-dispatch batch size used when no override
// is configured, per spec.md §4.3 ("a batch size of 10 is sufficient").
const DefaultBatchSize = 10

// becomeLeader implements spec.md §4.1 "On becoming Leader": set leader to
// self, reset all peer next_index/match_index, and fire an initial
// heartbeat at every peer.
func (r *Replica) becomeLeader() {
	prevRole := r.Role
	r.Role = Leader
	r.Leader = r.ID
	r.Logger.Info("role transition", "from", prevRole, "to", Leader, "term", r.CurrentTerm)

	for _, p := range r.Peers {
		ps := r.PeerStates[p]
		ps.NextIndex = r.Log.Length()
		ps.MatchIndex = -1
	}
	for _, p := range r.Peers {
		r.dispatchToPeer(p)
	}
}

// dispatchToPeer sends whatever the peer's next_index calls for: a batch
// of log entries if it is behind, otherwise an empty-entries heartbeat —
// spec.md §4.3 "Leader append dispatch".
func (r *Replica) dispatchToPeer(peerID string) {
	ps := r.PeerStates[peerID]
	msg := wire.Message{
		Dst:          peerID,
		Type:         wire.Append,
		Term:         r.CurrentTerm,
		LeaderCommit: r.CommitIndex,
	}

	if ps.NextIndex <= r.Log.LastIndex() {
		end := ps.NextIndex + int64(r.BatchSize)
		if end > r.Log.Length() {
			end = r.Log.Length()
		}
		entries := r.Log.Slice(ps.NextIndex, end)
		prevIndex := ps.NextIndex - 1
		prevTerm := r.Log.TermAt(prevIndex)
		msg.PrevLogIndex, msg.PrevLogTerm = wire.SomePrevLog(prevIndex, prevTerm)
		msg.Entries = toWireEntries(entries)
	} else {
		msg.PrevLogIndex, msg.PrevLogTerm = wire.NoPrevLog()
	}

	r.send(msg)
	ps.LastSendTime = r.Clock.Now()
}

// handleAppend is the follower append-acceptance path, spec.md §4.3.
func (r *Replica) handleAppend(msg wire.Message) {
	if msg.Term < r.CurrentTerm {
		r.send(wire.Message{Dst: msg.Src, Type: wire.AppendResponse, Term: r.CurrentTerm, Success: false})
		return
	}

	r.adoptTerm(msg.Term)
	r.resetElectionTimer()
	r.Role = Follower
	r.Leader = msg.Src

	if msg.PrevLogIndex != nil {
		pi, pt := *msg.PrevLogIndex, *msg.PrevLogTerm
		if pi >= r.Log.Length() || r.Log.TermAt(pi) != pt {
			r.send(wire.Message{Dst: msg.Src, Type: wire.AppendResponse, Term: r.CurrentTerm, Success: false})
			return
		}
		if len(msg.Entries) > 0 {
			r.Log.TruncateAndAppend(pi+1, fromWireEntries(msg.Entries))
		}
	}
	// pi == nil means a heartbeat or the initial post-election append: skip
	// the consistency check entirely, per spec.md §4.3 step 3.

	if newCommit := minInt64(msg.LeaderCommit, r.Log.LastIndex()); newCommit > r.CommitIndex {
		r.CommitIndex = newCommit
		r.applyCommitted()
	}

	r.send(wire.Message{Dst: msg.Src, Type: wire.AppendResponse, Term: r.CurrentTerm, Success: true, MatchIndex: r.Log.LastIndex()})
}

// handleAppendResponse is the leader-side response processing of spec.md
// §4.3.
func (r *Replica) handleAppendResponse(msg wire.Message) {
	if r.adoptTerm(msg.Term) {
		return
	}
	if r.Role != Leader {
		return
	}
	ps, known := r.PeerStates[msg.Src]
	if !known {
		return
	}

	if msg.Success {
		ps.MatchIndex = msg.MatchIndex
		ps.NextIndex = msg.MatchIndex + 1
		r.advanceCommitIndex()
	} else {
		// Floor at 1, not 0: index 0 is the dummy term-0 entry every
		// replica's log is seeded with (see logstore.New), so it always
		// matches and prevLogIndex never needs to go below it.
		if ps.NextIndex > 1 {
			ps.NextIndex--
		}
		r.dispatchToPeer(msg.Src)
	}
}

// advanceCommitIndex recomputes the highest index replicated on a quorum
// (counting self) whose entry was written in the current term, and applies
// any newly committed entries. spec.md §4.3: "never commit entries from
// prior terms directly; they are committed indirectly when a current-term
// entry is committed."
func (r *Replica) advanceCommitIndex() {
	matchIndexes := make([]int64, 0, len(r.PeerStates)+1)
	matchIndexes = append(matchIndexes, r.Log.LastIndex()) // self always matches its own log
	for _, ps := range r.PeerStates {
		matchIndexes = append(matchIndexes, ps.MatchIndex)
	}
	sort.Slice(matchIndexes, func(i, j int) bool { return matchIndexes[i] > matchIndexes[j] })

	// The (quorumThreshold-1)-th largest value (0-indexed) is the highest
	// index a quorum, including self, is known to have replicated.
	n := matchIndexes[r.QuorumThreshold-1]
	if n > r.CommitIndex && r.Log.TermAt(n) == r.CurrentTerm {
		r.CommitIndex = n
		r.applyCommitted()
	}
}

// applyCommitted applies every entry between AppliedIndex and CommitIndex
// to the state machine, replying to any client awaiting a put commit.
func (r *Replica) applyCommitted() {
	for r.AppliedIndex < r.CommitIndex {
		r.AppliedIndex++
		entry, ok := r.Log.Get(r.AppliedIndex)
		if !ok {
			break
		}
		r.Store.Apply(entry)
		r.replyToCommittedPut(entry)
	}
}

// peerHeartbeatDue reports whether peerID's next scheduled send (real
// replication or heartbeat) is due by now, per spec.md §4.3's
// HEARTBEAT_FREQUENCY check.
func (r *Replica) peerHeartbeatDue(peerID string, now time.Time) bool {
	ps := r.PeerStates[peerID]
	return now.Sub(ps.LastSendTime) >= r.Clock.HeartbeatFrequency
}

// stepDownDue implements the leader step-down liveness check of spec.md
// §4.3: if the quorum_threshold-th most recent last_heard_time (counting
// self, which is always current) is older than RESPONSE_TIMEOUT, the
// leader can no longer confirm it holds a live quorum.
func (r *Replica) stepDownDue(now time.Time) bool {
	heard := make([]time.Time, 0, len(r.PeerStates)+1)
	heard = append(heard, now) // self
	for _, ps := range r.PeerStates {
		heard = append(heard, ps.LastHeardTime)
	}
	sort.Slice(heard, func(i, j int) bool { return heard[i].After(heard[j]) })
	if len(heard) < r.QuorumThreshold {
		return false
	}
	nth := heard[r.QuorumThreshold-1]
	return now.Sub(nth) >= r.Clock.ResponseTimeout
}

func toWireEntries(entries []logstore.Entry) []wire.Entry {
	out := make([]wire.Entry, len(entries))
	for i, e := range entries {
		out[i] = wire.Entry{Term: e.Term, Key: e.Key, Value: e.Value, Src: e.ClientSrc, Dst: e.OriginLeader, MID: e.MID}
	}
	return out
}

func fromWireEntries(entries []wire.Entry) []logstore.Entry {
	out := make([]logstore.Entry, len(entries))
	for i, e := range entries {
		out[i] = logstore.Entry{Term: e.Term, Key: e.Key, Value: e.Value, ClientSrc: e.Src, OriginLeader: e.Dst, MID: e.MID}
	}
	return out
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
