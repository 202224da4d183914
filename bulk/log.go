package bulk

import (
	"sync"

	"github.com/nblp/dcnet/group"
)

// MessageKind tags the wire message type a log entry carries. It keys the
// per-phase idempotency check: a second message from the same sender of the
// same kind is dropped, not reprocessed (§5).
type MessageKind uint8

const (
	KindBulkData MessageKind = iota
	KindLoggedBulkData
	KindAggregatedBulkData
	KindBlameEntry
)

// Entry is one received message: its sender, kind, raw payload, and the
// error (if any) encountered parsing it.
type Entry struct {
	Sender  group.ID
	Kind    MessageKind
	Payload []byte
	Err     error
}

// Log is an append-only, insertion-ordered buffer of received messages. A
// Round keeps two side by side: an offline log
// for messages that arrive before the relevant phase is entered, and a
// phase log of already-validated current-phase messages, replayed into the
// latter when the phase starts.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLog returns an empty Log.
func NewLog() *Log { return &Log{} }

// LogStore persists a round's message log for post-mortem replay, outside
// the in-memory Log a Round always keeps. A Round accepts one optionally
// before Start (see bulk.Round.SetLogStore); nothing in this package
// depends on persistence succeeding.
type LogStore interface {
	Append(roundID group.ID, entry Entry) error
}

// Append records a new entry.
func (l *Log) Append(sender group.ID, kind MessageKind, payload []byte, parseErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Sender: sender, Kind: kind, Payload: payload, Err: parseErr})
}

// Drain returns every entry and clears the log, so a caller can replay them
// elsewhere without reprocessing them from here too.
func (l *Log) Drain() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.entries
	l.entries = nil
	return out
}

// Entries returns a copy of the log in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Count returns the number of recorded entries.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// BySender returns every entry recorded for sender, in insertion order.
func (l *Log) BySender(id group.ID) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Sender == id {
			out = append(out, e)
		}
	}
	return out
}

// Seen reports whether sender has already logged an entry of kind — the
// idempotency check of §5.
func (l *Log) Seen(sender group.ID, kind MessageKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Sender == sender && e.Kind == kind {
			return true
		}
	}
	return false
}
