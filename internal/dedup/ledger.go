// Package dedup implements the duplicate-prevention ledger: a per-key
// last-sent timestamp store enforcing a minimum resend interval.
package dedup

import (
	"strings"
	"sync"
	"time"
)

const reminderPrefix = "reminder_"

// Key builds the ledger key for a regular notification.
func Key(orderID, messageType string) string {
	return orderID + "_" + messageType
}

// ReminderKey builds the ledger key for a follow-up reminder. Reminders are
// keyed per order, not per status, so at most one reminder lives in the
// window regardless of how the status moves.
func ReminderKey(orderID string) string {
	return reminderPrefix + orderID
}

// Entry is the stored value for one key.
type Entry struct {
	Key        string    `json:"key"`
	LastSentAt time.Time `json:"last_sent_at"`
}

// Ledger is safe for concurrent use. Entries persist for the process
// lifetime unless Reset is called; a Store may rehydrate them on startup.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]time.Time

	// suppressed counts by message-type group.
	suppressed map[string]uint64
}

func New() *Ledger {
	return &Ledger{
		entries:    make(map[string]time.Time),
		suppressed: make(map[string]uint64),
	}
}

// ShouldSuppress reports whether a dispatch for key must be suppressed:
// an entry exists and is younger than minInterval. A suppressed decision is
// counted in the per-type stats.
func (l *Ledger) ShouldSuppress(key string, now time.Time, minInterval time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.entries[key]
	if !ok {
		return false
	}
	if now.Sub(last) >= minInterval {
		return false
	}
	l.suppressed[typeOf(key)]++
	return true
}

// Record writes (or overwrites) the last-sent timestamp for key. It is
// called only after the dispatch was accepted into the queue, not after
// confirmed delivery.
func (l *Ledger) Record(key string, now time.Time) {
	l.mu.Lock()
	l.entries[key] = now
	l.mu.Unlock()
}

// Restore seeds the ledger with persisted entries (startup rehydration).
// Existing in-memory entries win on conflict.
func (l *Ledger) Restore(entries []Entry) {
	l.mu.Lock()
	for _, e := range entries {
		if _, ok := l.entries[e.Key]; !ok {
			l.entries[e.Key] = e.LastSentAt
		}
	}
	l.mu.Unlock()
}

// StatsByType returns suppressed-dispatch counts grouped by message type.
func (l *Ledger) StatsByType() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]uint64, len(l.suppressed))
	for k, v := range l.suppressed {
		out[k] = v
	}
	return out
}

// Entries returns a snapshot of all ledger entries.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for k, at := range l.entries {
		out = append(out, Entry{Key: k, LastSentAt: at})
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset clears all entries and suppression counters. Used to force
// re-notification of every current row.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = make(map[string]time.Time)
	l.suppressed = make(map[string]uint64)
	l.mu.Unlock()
}

// typeOf extracts the stats group from a ledger key: "reminder" for
// reminder keys, otherwise the message-type suffix of orderId_messageType.
func typeOf(key string) string {
	if strings.HasPrefix(key, reminderPrefix) {
		return "reminder"
	}
	if i := strings.LastIndex(key, "_"); i >= 0 && i+1 < len(key) {
		return key[i+1:]
	}
	return key
}
