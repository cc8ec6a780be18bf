// Package wire implements the self-describing record format spec.md §6
// mandates: one JSON object per UDP datagram, with a mandatory envelope
// (src, dst, leader, type) plus type-specific fields.
//
// Grounded on the RPC struct shapes in the teacher's common/rpc.go, folded
// into a single flat, tagged struct the way other pack repos model their
// wire types (other_examples/ArtgtH-kv-db__types.go).
package wire

import (
	"encoding/json"
	"fmt"

	"k8s.io/utils/ptr"
)

// Broadcast is the reserved ID denoting "any/unknown" destination or leader.
const Broadcast = "FFFF"

// Type enumerates the message types of spec.md §6.
type Type string

const (
	Hello               Type = "hello"
	Get                 Type = "get"
	Put                 Type = "put"
	Ok                  Type = "ok"
	Redirect            Type = "redirect"
	RequestVote         Type = "request_vote"
	RequestVoteResponse Type = "request_vote_response"
	Append              Type = "append"
	AppendResponse      Type = "append_response"
)

// Entry is a single replicated log record. src/dst/mid preserve the
// originating client context so any future leader can satisfy duplicate
// checks after a leadership handover (spec.md §9 "Entry identity").
type Entry struct {
	Term  int64  `json:"term"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Src   string `json:"src"`
	Dst   string `json:"dst"`
	MID   string `json:"mid"`
}

// Message is the flat, self-describing record sent over the wire. Only the
// fields relevant to Type are populated; the rest are left at their zero
// value and omitted from the JSON encoding.
type Message struct {
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Leader string `json:"leader"`
	Type   Type   `json:"type"`

	MID   string `json:"MID,omitempty"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	Term         int64 `json:"term,omitempty"`
	LastLogIndex int64 `json:"last_log_index,omitempty"`
	LastLogTerm  int64 `json:"last_log_term,omitempty"`

	PrevLogIndex *int64  `json:"prev_log_index,omitempty"`
	PrevLogTerm  *int64  `json:"prev_log_term,omitempty"`
	Entries      []Entry `json:"entries,omitempty"`
	LeaderCommit int64   `json:"leader_commit,omitempty"`

	Success    bool  `json:"success,omitempty"`
	MatchIndex int64 `json:"match_index,omitempty"`
}

// PrevLogIndex/PrevLogTerm model the "implicit None sentinel" spec.md §9
// flags as a design smell: rather than overload -1, we use *int64 built
// with k8s.io/utils/ptr, the same pattern mihai-cherechesu/raft uses for its
// optional votedFor/leaderId string pointers.

// NoPrevLog builds the (nil, nil) pair used on heartbeats and the initial
// append after an election, per spec.md §4.3.
func NoPrevLog() (index, term *int64) {
	return nil, nil
}

// SomePrevLog wraps a concrete prev-log index/term pair.
func SomePrevLog(index, term int64) (*int64, *int64) {
	return ptr.To(index), ptr.To(term)
}

// Encode serializes m as a single-line JSON record suitable for one
// datagram.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses a single datagram's payload into a Message. It returns an
// error if any mandatory envelope field is missing or the type is unknown,
// per spec.md §7 ("malformed message" / "unknown message type").
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	if m.Src == "" || m.Dst == "" || m.Leader == "" || m.Type == "" {
		return Message{}, fmt.Errorf("wire: malformed message, missing envelope field: %+v", m)
	}
	switch m.Type {
	case Hello, Get, Put, Ok, Redirect, RequestVote, RequestVoteResponse, Append, AppendResponse:
		// known type
	default:
		return Message{}, fmt.Errorf("wire: unknown message type %q", m.Type)
	}
	return m, nil
}
