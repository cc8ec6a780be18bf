// Client interface: get (with read-freshness quorum), put (with duplicate
// suppression and commit-gated reply), and redirect — spec.md §4.4.
//
// Grounded on the teacher's ClientRequest handler (raft/raft.go) and the
// kvstore FSM library's Request shape (kvstore/fsm.go, kvstore/kv.go), but
// terminated directly on the replica instead of round-tripping through a
// common.RPCServer.ClientRequest call: spec.md has the replica itself
// speak get/put/ok/redirect over the wire to clients.
package raft

import (
	"raftkv/logstore"
	"raftkv/wire"
)

// handlePut implements spec.md §4.4's put semantics.
func (r *Replica) handlePut(msg wire.Message) {
	if r.Role != Leader {
		r.Logger.Info("redirecting", "mid", msg.MID, "believed_leader", r.Leader)
		r.send(wire.Message{Dst: msg.Src, Type: wire.Redirect, MID: msg.MID})
		return
	}

	r.Logger.Info("executing PUT", "mid", msg.MID, "key", msg.Key)

	if _, _, found := r.Log.FindByMID(msg.MID); found {
		// Duplicate suppression: the prior write is already committed or
		// will be; replying again is safe and idempotent.
		r.send(wire.Message{Dst: msg.Src, Type: wire.Ok, MID: msg.MID})
		return
	}

	r.Log.Append(logstore.Entry{
		Term:         r.CurrentTerm,
		Key:          msg.Key,
		Value:        msg.Value,
		ClientSrc:    msg.Src,
		OriginLeader: r.ID,
		MID:          msg.MID,
	})
	for _, p := range r.Peers {
		r.dispatchToPeer(p)
	}
	// A single-node cluster is its own quorum: this lets a lone leader
	// commit without waiting on a peer response that will never arrive.
	r.advanceCommitIndex()
}

// handleGet implements spec.md §4.4's get semantics: enqueue a pending
// read, force a heartbeat round, and answer once a quorum confirms the
// leader is still current as of the read's arrival.
func (r *Replica) handleGet(msg wire.Message) {
	if r.Role != Leader {
		r.Logger.Info("redirecting", "mid", msg.MID, "believed_leader", r.Leader)
		r.send(wire.Message{Dst: msg.Src, Type: wire.Redirect, MID: msg.MID})
		return
	}

	r.Logger.Info("executing GET", "mid", msg.MID, "key", msg.Key)
	now := r.Clock.Now()
	r.PendingReads = append(r.PendingReads, &PendingRead{
		ClientSrc:   msg.Src,
		Key:         msg.Key,
		MID:         msg.MID,
		ArrivalTime: now,
	})
	for _, p := range r.Peers {
		r.dispatchToPeer(p)
	}
	r.checkPendingReads()
}

// replyToCommittedPut emits ok{MID} from the commit path the first time
// entry becomes applied, per spec.md §4.4 ("the reply is emitted from the
// commit path keyed by client_src and mid of the entry").
func (r *Replica) replyToCommittedPut(entry logstore.Entry) {
	if entry.MID == "" || r.Role != Leader {
		return
	}
	if _, alreadyReplied := r.appliedMIDs[entry.MID]; alreadyReplied {
		return
	}
	r.appliedMIDs[entry.MID] = struct{}{}
	r.Logger.Info("completed PUT", "mid", entry.MID, "key", entry.Key)
	r.send(wire.Message{Dst: entry.ClientSrc, Type: wire.Ok, MID: entry.MID})
}

// checkPendingReads answers every pending read that a quorum (including
// self) has confirmed was heard from at or after the read's arrival time —
// the defense against a deposed leader serving a stale read (spec.md §4.4,
// scenario 3 in §8).
func (r *Replica) checkPendingReads() {
	if r.Role != Leader || len(r.PendingReads) == 0 {
		return
	}
	remaining := r.PendingReads[:0]
	for _, pr := range r.PendingReads {
		confirmed := 1 // self is always current as of "now"
		for _, p := range r.Peers {
			if !r.PeerStates[p].LastHeardTime.Before(pr.ArrivalTime) {
				confirmed++
			}
		}
		if confirmed >= r.QuorumThreshold {
			r.Logger.Info("completed GET", "mid", pr.MID, "key", pr.Key)
			r.send(wire.Message{Dst: pr.ClientSrc, Type: wire.Ok, MID: pr.MID, Value: r.Store.Get(pr.Key)})
		} else {
			remaining = append(remaining, pr)
		}
	}
	r.PendingReads = remaining
}
