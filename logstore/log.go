// Package logstore implements the ordered, suffix-truncatable log spec.md
// §3 describes: append-only on the leader, truncate-and-replace on
// followers, committed entries never overwritten.
//
// Grounded on the teacher's persistent/logstore.go (the Store/Get/Length
// shape), but deliberately in-memory: spec.md §1 lists persistent storage
// across restarts as an explicit non-goal, so there is no BoltDB file
// behind this log, and unlike the teacher's Store (which only ever
// appends), TruncateAndAppend can replace a follower's suffix — the
// "improved semantics" spec.md §9 calls for over the original handle_append.
package logstore

// Entry is one replicated log record. ClientSrc/OriginLeader/MID mirror the
// wire.Entry fields and exist so duplicate-suppression and reply routing
// survive a leadership handover (spec.md §9).
type Entry struct {
	Term         int64
	Key          string
	Value        string
	ClientSrc    string
	OriginLeader string
	MID          string
}

// Log holds entries with index 0 reserved as a sentinel (term 0, empty),
// so a real entry's slice index always equals its Raft log index and
// PrevLogIndex=0 always has a defined term to compare against.
type Log struct {
	entries []Entry
}

// New returns an empty log, seeded with the index-0 sentinel entry.
func New() *Log {
	return &Log{entries: []Entry{{Term: 0}}}
}

// Length is the number of slots in the log, including the index-0 sentinel.
func (l *Log) Length() int64 {
	return int64(len(l.entries))
}

// LastIndex is the index of the most recent entry (at least 0).
func (l *Log) LastIndex() int64 {
	return int64(len(l.entries)) - 1
}

// LastTerm is the term of the most recent entry.
func (l *Log) LastTerm() int64 {
	return l.entries[len(l.entries)-1].Term
}

// Get returns the entry at index, or ok=false if index is out of range.
func (l *Log) Get(index int64) (Entry, bool) {
	if index < 0 || index >= int64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[index], true
}

// TermAt reports the term of the entry at index, or -1 if out of range —
// used by the consistency check in spec.md §4.3 ("log[pi].term == pt").
func (l *Log) TermAt(index int64) int64 {
	e, ok := l.Get(index)
	if !ok {
		return -1
	}
	return e.Term
}

// Append adds e as a new last entry (leader append dispatch path) and
// returns its index.
func (l *Log) Append(e Entry) int64 {
	l.entries = append(l.entries, e)
	return l.LastIndex()
}

// TruncateAndAppend drops any existing suffix starting at fromIndex and
// appends entries in its place — spec.md §4.3 step 4: "truncate
// log[pi+1:], append E". Passing fromIndex == Length() is a pure append
// with no truncation.
func (l *Log) TruncateAndAppend(fromIndex int64, entries []Entry) {
	if fromIndex < 0 {
		fromIndex = 0
	}
	if fromIndex < int64(len(l.entries)) {
		l.entries = l.entries[:fromIndex]
	}
	l.entries = append(l.entries, entries...)
}

// Slice returns a copy of entries [from, to), clamped to the log's bounds.
// Used by the leader to batch entries into an append dispatch.
func (l *Log) Slice(from, to int64) []Entry {
	if from < 0 {
		from = 0
	}
	if to > int64(len(l.entries)) {
		to = int64(len(l.entries))
	}
	if from >= to {
		return nil
	}
	out := make([]Entry, to-from)
	copy(out, l.entries[from:to])
	return out
}

// FindByMID scans for an already-appended entry carrying mid, used for
// put duplicate suppression (spec.md §4.4). Index 0 (the sentinel) is
// never a match.
func (l *Log) FindByMID(mid string) (entry Entry, index int64, found bool) {
	for i := 1; i < len(l.entries); i++ {
		if l.entries[i].MID == mid {
			return l.entries[i], int64(i), true
		}
	}
	return Entry{}, -1, false
}
