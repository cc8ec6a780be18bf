// The single cooperative event loop, spec.md §5: one goroutine owns all
// Replica state, woken either by an inbound datagram or by the earliest
// pending timer (election deadline, per-peer heartbeat, leader step-down).
//
// Grounded on the teacher's run loop (raft/raft.go's Start/eventLoop), which
// already picks a single select among {a timer channel, an RPC-inbound
// channel, a shutdown channel} per role; this keeps that shape but folds the
// three per-role loops the teacher keeps into one role-agnostic one, since
// spec.md §5 wants a single wakeup computation shared across roles.
package raft

import (
	"time"

	"raftkv/wire"
)

// Run drives the replica until Close is called or the transport's inbound
// channel closes. It never returns an error: every failure mode below this
// layer is recovered locally and logged, per spec.md §7.
func (r *Replica) Run() {
	r.resetElectionTimer()
	r.send(wire.Message{Dst: wire.Broadcast, Type: wire.Hello})

	for {
		now := r.Clock.Now()
		wait := r.nextWakeup().Sub(now)
		if wait < 0 {
			wait = 0
		}

		select {
		case <-r.stopCh:
			return
		case raw, ok := <-r.Transport.Inbound():
			if !ok {
				return
			}
			r.dispatchRaw(raw)
		case <-time.After(wait):
		}

		r.fireExpiredTimers(r.Clock.Now())
	}
}

// dispatchRaw decodes one inbound datagram and routes it, discarding
// anything malformed per spec.md §7 ("a replica that cannot parse an
// inbound datagram logs and drops it; it never crashes the event loop").
func (r *Replica) dispatchRaw(raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		r.Logger.Warn("discarding malformed datagram", "err", err)
		return
	}
	r.handleMessage(msg)
}

// handleMessage updates liveness bookkeeping for the sender, then dispatches
// by message type. Unknown types are already rejected by wire.Decode (and
// dropped by dispatchRaw); the default branch below logs and drops anything
// else that reaches it.
func (r *Replica) handleMessage(msg wire.Message) {
	if ps, known := r.PeerStates[msg.Src]; known {
		ps.LastHeardTime = r.Clock.Now()
	}

	switch msg.Type {
	case wire.Hello:
		r.Logger.Debug("hello", "src", msg.Src)
	case wire.Get:
		r.handleGet(msg)
	case wire.Put:
		r.handlePut(msg)
	case wire.RequestVote:
		r.handleRequestVote(msg)
	case wire.RequestVoteResponse:
		r.handleRequestVoteResponse(msg)
	case wire.Append:
		r.handleAppend(msg)
	case wire.AppendResponse:
		r.handleAppendResponse(msg)
	case wire.Ok, wire.Redirect:
		// Client-bound types; a replica only ever sends these, never acts
		// on receiving one.
	default:
		r.Logger.Warn("unknown message type", "type", msg.Type, "src", msg.Src)
	}

	r.checkPendingReads()
}

// nextWakeup is the earliest time the loop has anything to do on its own,
// per spec.md §4.5: the election deadline for a follower/candidate, or the
// earliest of the per-peer heartbeat deadlines and the step-down deadline
// for a leader.
func (r *Replica) nextWakeup() time.Time {
	if r.Role != Leader {
		return r.electionDeadline
	}

	next := r.stepDownDeadline()
	for _, p := range r.Peers {
		due := r.PeerStates[p].LastSendTime.Add(r.Clock.HeartbeatFrequency)
		if due.Before(next) {
			next = due
		}
	}
	return next
}

// stepDownDeadline is the instant stepDownDue would next turn true, absent
// any further inbound messages: the quorum_threshold-th freshest
// last_heard_time plus RESPONSE_TIMEOUT.
func (r *Replica) stepDownDeadline() time.Time {
	now := r.Clock.Now()
	heard := make([]time.Time, 0, len(r.PeerStates)+1)
	heard = append(heard, now)
	for _, ps := range r.PeerStates {
		heard = append(heard, ps.LastHeardTime)
	}
	if len(heard) < r.QuorumThreshold {
		return now.Add(r.Clock.ResponseTimeout)
	}
	// insertion sort descending; peer counts are small (single-digit cluster sizes)
	for i := 1; i < len(heard); i++ {
		for j := i; j > 0 && heard[j].After(heard[j-1]); j-- {
			heard[j], heard[j-1] = heard[j-1], heard[j]
		}
	}
	return heard[r.QuorumThreshold-1].Add(r.Clock.ResponseTimeout)
}

// fireExpiredTimers runs whichever role-specific timers have come due as of
// now, per spec.md §4.5.
func (r *Replica) fireExpiredTimers(now time.Time) {
	switch r.Role {
	case Follower, Candidate:
		if !now.Before(r.electionDeadline) {
			r.becomeCandidate()
		}
	case Leader:
		for _, p := range r.Peers {
			if r.peerHeartbeatDue(p, now) {
				r.dispatchToPeer(p)
			}
		}
		if r.stepDownDue(now) {
			r.Logger.Info("stepping down: quorum unresponsive", "term", r.CurrentTerm)
			r.becomeFollower()
		}
	}
}
