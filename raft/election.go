// Election subsystem: vote request/response protocol and majority
// counting, spec.md §4.2.
//
// Grounded on the teacher's RequestVote handler and the vote-counting
// goroutine inside convertToCandidate (raft/raft.go), collapsed onto the
// single event loop instead of a goroutine-per-RPC-call with a channel
// fan-in.
package raft

import "raftkv/wire"

// becomeCandidate implements spec.md §4.1 "On becoming Candidate":
// increment term, vote for self, fresh election timer, clear believed
// leader, broadcast request_vote to every peer.
func (r *Replica) becomeCandidate() {
	prevRole := r.Role
	r.CurrentTerm++
	r.VotedFor = r.ID
	r.Role = Candidate
	r.Leader = wire.Broadcast
	r.VotesGranted = map[string]bool{r.ID: true}
	r.resetElectionTimer()
	r.Logger.Info("role transition", "from", prevRole, "to", Candidate, "term", r.CurrentTerm)

	for _, p := range r.Peers {
		r.send(wire.Message{
			Dst:          p,
			Type:         wire.RequestVote,
			Term:         r.CurrentTerm,
			LastLogIndex: r.Log.LastIndex(),
			LastLogTerm:  r.Log.LastTerm(),
		})
	}
	// A single-node "cluster" (no peers) is trivially its own quorum.
	if len(r.VotesGranted) >= r.QuorumThreshold {
		r.becomeLeader()
	}
}

// handleRequestVote implements the grant rules of spec.md §4.2.
func (r *Replica) handleRequestVote(msg wire.Message) {
	r.adoptTerm(msg.Term)

	if msg.Term < r.CurrentTerm {
		// Stale candidate: silence is the denial, no response required.
		return
	}

	alreadyVotedElsewhere := r.VotedFor != "" && r.VotedFor != msg.Src
	candidateUpToDate := msg.LastLogTerm > r.Log.LastTerm() ||
		(msg.LastLogTerm == r.Log.LastTerm() && msg.LastLogIndex >= r.Log.LastIndex())

	if msg.Term == r.CurrentTerm && !alreadyVotedElsewhere && candidateUpToDate {
		r.VotedFor = msg.Src
		r.becomeFollower()
		r.Logger.Info("granting vote", "candidate", msg.Src, "term", r.CurrentTerm)
		r.send(wire.Message{Dst: msg.Src, Type: wire.RequestVoteResponse, Term: r.CurrentTerm})
	}
}

// handleRequestVoteResponse counts a granted vote. Absence of a response is
// the only denial signal (spec.md §4.2), so every response this handler
// sees was a grant.
func (r *Replica) handleRequestVoteResponse(msg wire.Message) {
	if r.adoptTerm(msg.Term) {
		return
	}
	if r.Role != Candidate || msg.Term != r.CurrentTerm {
		// Late vote for a stale election, or we already moved on.
		return
	}
	r.VotesGranted[msg.Src] = true
	if len(r.VotesGranted) >= r.QuorumThreshold {
		r.becomeLeader()
	}
}
